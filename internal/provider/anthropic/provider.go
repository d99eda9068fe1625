package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider"
)

// ID is the registry key of the adapter.
const ID = config.ProviderAnthropic

const apiVersion = "2023-06-01"

var statusMessages = map[int]string{
	http.StatusTooManyRequests: "[Anthropic] Too many requests. You have hit the rate limit. Please wait a moment and try again.",
	http.StatusUnauthorized:    "[Anthropic] Authentication/permission issue. Please check your API key and ensure your account has access to this model.",
	http.StatusForbidden:       "[Anthropic] Authentication/permission issue. Please check your API key and ensure your account has access to this model.",
	http.StatusBadRequest:      "[Anthropic] Bad request. The selected model may not be enabled for your account or the payload is invalid. Try a different Claude model (e.g., claude-3-5-sonnet-latest).",
}

// Provider implements Anthropic Messages API streaming.
type Provider struct {
	apiKey    string
	headers   map[string]string
	client    *http.Client
	models    []models.ModelInfo
	messages  string
	vendor    provider.Vendor
	mockDelay time.Duration
}

// New constructs an Anthropic provider instance.
func New(cfg config.ProviderConfig, opts provider.Options) (*Provider, error) {
	opts = opts.WithDefaults()

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Provider{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		headers:  cfg.Headers,
		client:   opts.Client,
		models:   provider.StaticCatalog(cfg.Models),
		messages: baseURL + "/v1/messages",
		vendor: provider.Vendor{
			ID:          ID,
			Policy:      opts.Policy,
			Statuses:    statusMessages,
			IncludeBody: true,
		},
		mockDelay: opts.MockDelay,
	}, nil
}

func (p *Provider) ID() string {
	return ID
}

func (p *Provider) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	return provider.CopyCatalog(p.models), nil
}

func (p *Provider) Stream(ctx context.Context, req models.ChatRequest) iter.Seq[models.Event] {
	if p.apiKey == "" {
		slog.Debug("no credential, answering in mock mode", "provider", ID, "model", req.Model)
		return provider.MockStream(ctx, ID, req, p.mockDelay)
	}

	payload := buildMessagePayload(req)
	headers := provider.MergeHeaders(map[string]string{
		"Accept":            "text/event-stream",
		"x-api-key":         p.apiKey,
		"anthropic-version": apiVersion,
	}, p.headers)

	return p.vendor.Run(ctx, func(ctx context.Context, out *provider.Emitter) error {
		resp, err := provider.Do(ctx, p.client, http.MethodPost, p.messages, headers, payload)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		events := provider.NewSSEReader(resp.Body)
		for {
			data, err := events.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read anthropic stream: %w", err)
			}

			var ev streamEvent
			if err := provider.DecodeChunk(data, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type != "text_delta" {
					continue
				}
				if !out.Content(ev.Delta.Text) {
					return context.Canceled
				}
			case "message_delta":
				// Some API versions aggregate text blocks here.
				for _, block := range ev.Delta.Content {
					if block.Type != "text_delta" {
						continue
					}
					if !out.Content(block.Text) {
						return context.Canceled
					}
				}
			case "message_stop":
				return nil
			case "error":
				return fmt.Errorf("anthropic stream error (%s): %s", ev.Error.Type, ev.Error.Message)
			}
		}
	})
}

type messagePayload struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessagePayload trims every turn and lifts system turns into the
// dedicated system field, joined by a blank line.
func buildMessagePayload(req models.ChatRequest) messagePayload {
	var systemParts []string
	msgs := make([]message, 0, len(req.Messages))
	for _, msg := range models.NonEmptyMessages(req.Messages) {
		text := strings.TrimSpace(msg.Content)
		if msg.Role == models.RoleSystem {
			systemParts = append(systemParts, text)
			continue
		}
		msgs = append(msgs, message{Role: msg.Role, Content: text})
	}

	return messagePayload{
		Model:       req.Model,
		Messages:    msgs,
		System:      strings.Join(systemParts, "\n\n"),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
