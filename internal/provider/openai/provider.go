package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	gptLib "github.com/sashabaranov/go-openai"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider"
)

// ID is the registry key of the adapter.
const ID = config.ProviderOpenAI

var statusMessages = map[int]string{
	http.StatusTooManyRequests: "[OpenAI] Too many requests. You have hit the rate limit. Please wait a moment and try again.",
	http.StatusUnauthorized:    "[OpenAI] Authentication/permission issue. Check your API key and model access.",
	http.StatusForbidden:       "[OpenAI] Authentication/permission issue. Check your API key and model access.",
	http.StatusBadRequest:      "[OpenAI] Bad request. Please verify the model id and payload parameters.",
}

// Provider streams chat completions from the OpenAI API.
type Provider struct {
	client    *gptLib.Client
	hasKey    bool
	models    []models.ModelInfo
	vendor    provider.Vendor
	mockDelay time.Duration
}

// New creates a new OpenAI provider. Without an api key it answers in mock mode.
func New(cfg config.ProviderConfig, opts provider.Options) (*Provider, error) {
	opts = opts.WithDefaults()

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	clientCfg := gptLib.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = withHeaders(opts.Client, cfg.Headers)

	return &Provider{
		client: gptLib.NewClientWithConfig(clientCfg),
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
		models: provider.StaticCatalog(cfg.Models),
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
	if !p.hasKey {
		slog.Debug("no credential, answering in mock mode", "provider", ID, "model", req.Model)
		return provider.MockStream(ctx, ID, req, p.mockDelay)
	}

	payload := buildRequest(req)
	return p.vendor.Run(ctx, func(ctx context.Context, out *provider.Emitter) error {
		stream, err := p.client.CreateChatCompletionStream(ctx, payload)
		if err != nil {
			return translateError(err)
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return translateError(err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if !out.Content(chunk.Choices[0].Delta.Content) {
				return context.Canceled
			}
		}
	})
}

func buildRequest(req models.ChatRequest) gptLib.ChatCompletionRequest {
	msgs := models.NonEmptyMessages(req.Messages)
	omsgs := make([]gptLib.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		var role string
		switch msg.Role {
		case models.RoleAssistant:
			role = gptLib.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = gptLib.ChatMessageRoleSystem
		default:
			role = gptLib.ChatMessageRoleUser
		}
		omsgs = append(omsgs, gptLib.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	// The client omits a zero temperature from the payload.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	return gptLib.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    omsgs,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
}

// translateError maps client library errors onto provider.StatusError so
// the shared diagnostics can brand them.
func translateError(err error) error {
	var apiErr *gptLib.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: %s", &provider.StatusError{
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
		}, apiErr.Message)
	}
	var reqErr *gptLib.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &provider.StatusError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	return err
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func withHeaders(client *http.Client, headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &headerTransport{base: base, headers: headers}
	return &wrapped
}
