package openrouter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider"
)

// Mode selects which slice of the aggregator catalog an adapter exposes.
type Mode string

const (
	// ModeAny streams any model and lists none.
	ModeAny Mode = "any"
	// ModeFree lists models whose prompt and completion prices are zero.
	ModeFree Mode = "free"
	// ModePaid lists every other model.
	ModePaid Mode = "paid"
)

const (
	defaultContextLength = 128_000
	freeAliasMarker      = ":free"
)

var statusMessages = map[int]string{
	http.StatusPaymentRequired: "[OpenRouter] Payment required. Add credits or choose a free model.",
	http.StatusTooManyRequests: "[OpenRouter] Too many requests. Please slow down and try again shortly.",
	http.StatusUnauthorized:    "[OpenRouter] Authentication/permission issue. Check your API key and model access.",
	http.StatusForbidden:       "[OpenRouter] Authentication/permission issue. Check your API key and model access.",
	http.StatusBadRequest:      "[OpenRouter] Bad request. Verify model id and parameters.",
}

// Provider talks to the OpenRouter aggregator.
type Provider struct {
	id           string
	mode         Mode
	apiKey       string
	headers      map[string]string
	client       *http.Client
	chatURL      string
	modelsURL    string
	surfaceModel bool
	catalogLimit int
	vendor       provider.Vendor
	mockDelay    time.Duration
}

// New creates an OpenRouter adapter for mode.
func New(mode Mode, cfg config.OpenRouterConfig, opts provider.Options) (*Provider, error) {
	opts = opts.WithDefaults()

	id, err := idFor(mode)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	headers := make(map[string]string, len(cfg.Headers)+2)
	if cfg.HTTPReferer != "" {
		headers["HTTP-Referer"] = cfg.HTTPReferer
	}
	if cfg.AppTitle != "" {
		headers["X-Title"] = cfg.AppTitle
	}
	headers = provider.MergeHeaders(headers, cfg.Headers)

	return &Provider{
		id:           id,
		mode:         mode,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		headers:      headers,
		client:       opts.Client,
		chatURL:      baseURL + "/chat/completions",
		modelsURL:    baseURL + "/models",
		surfaceModel: cfg.SurfaceModel,
		catalogLimit: cfg.CatalogLimit,
		vendor: provider.Vendor{
			ID:          id,
			Policy:      opts.Policy,
			Statuses:    statusMessages,
			IncludeBody: true,
		},
		mockDelay: opts.MockDelay,
	}, nil
}

func idFor(mode Mode) (string, error) {
	switch mode {
	case ModeAny:
		return config.ProviderOpenRouter, nil
	case ModeFree:
		return config.ProviderOpenRouterFree, nil
	case ModePaid:
		return config.ProviderOpenRouterPaid, nil
	default:
		return "", fmt.Errorf("unknown openrouter mode %q", mode)
	}
}

func (p *Provider) ID() string {
	return p.id
}

// ListModels fetches the live catalog for the free and paid variants. The
// plain aggregator lists nothing.
func (p *Provider) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	if p.mode == ModeAny {
		return []models.ModelInfo{}, nil
	}

	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}

	var catalog catalogResponse
	if err := provider.DoJSON(ctx, p.client, http.MethodGet, p.modelsURL, headers, nil, &catalog); err != nil {
		return nil, fmt.Errorf("fetch openrouter catalog: %w", err)
	}

	out := make([]models.ModelInfo, 0, len(catalog.Data))
	for _, entry := range catalog.Data {
		if entry.isFree() != (p.mode == ModeFree) {
			continue
		}
		id := entry.ID
		if id == "" {
			id = entry.Slug
		}
		name := entry.Name
		if name == "" {
			name = id
		}
		out = append(out, models.ModelInfo{ID: id, Name: name, ContextLength: entry.contextLength()})
		if p.catalogLimit > 0 && len(out) == p.catalogLimit {
			break
		}
	}
	return out, nil
}

func (p *Provider) Stream(ctx context.Context, req models.ChatRequest) iter.Seq[models.Event] {
	if p.apiKey == "" {
		slog.Debug("no credential, answering in mock mode", "provider", p.id, "model", req.Model)
		return provider.MockStream(ctx, p.id, req, p.mockDelay)
	}

	payload := buildChatPayload(req)
	headers := provider.MergeHeaders(map[string]string{"Authorization": "Bearer " + p.apiKey}, p.headers)

	return p.vendor.Run(ctx, func(ctx context.Context, out *provider.Emitter) error {
		surfaced := false
		onChunk := func(chunk provider.CompatChunk) bool {
			if !p.surfaceModel || surfaced || chunk.Model == "" {
				return true
			}
			surfaced = true
			return out.Banner(chunk.Model)
		}

		if err := provider.StreamCompat(ctx, p.client, p.chatURL, headers, payload, out, onChunk); err != nil {
			return err
		}
		if out.Emitted() {
			return nil
		}

		whole := payload
		whole.Stream = false
		var answer provider.CompatChunk
		// The fallback runs once per turn; its failure ends the answer empty.
		if err := provider.DoJSON(ctx, p.client, http.MethodPost, p.chatURL, headers, whole, &answer); err != nil {
			slog.Warn("non-streaming fallback failed", "provider", p.id, "model", req.Model, "err", err)
			return nil
		}
		out.Content(answer.Text())
		return nil
	})
}

type chatPayload struct {
	Model       string                   `json:"model"`
	Models      []string                 `json:"models,omitempty"`
	Provider    routingPreferences       `json:"provider"`
	Messages    []provider.CompatMessage `json:"messages"`
	Temperature float64                  `json:"temperature"`
	MaxTokens   int                      `json:"max_tokens"`
	Stream      bool                     `json:"stream"`
}

type routingPreferences struct {
	AllowFallbacks bool `json:"allow_fallbacks"`
}

// buildChatPayload pins non-free selections to the requested model; ":free"
// aliases may fall back within the free pool.
func buildChatPayload(req models.ChatRequest) chatPayload {
	freeAlias := strings.Contains(req.Model, freeAliasMarker)
	payload := chatPayload{
		Model:       req.Model,
		Provider:    routingPreferences{AllowFallbacks: freeAlias},
		Messages:    provider.CompatMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if !freeAlias {
		payload.Models = []string{req.Model}
	}
	return payload
}

type catalogResponse struct {
	Data []catalogEntry `json:"data"`
}

type catalogEntry struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	ContextLength any    `json:"context_length"`
	Pricing       struct {
		Prompt     any `json:"prompt"`
		Completion any `json:"completion"`
	} `json:"pricing"`
	TopProvider struct {
		ContextLength any `json:"context_length"`
	} `json:"top_provider"`
}

func (e catalogEntry) isFree() bool {
	return priceString(e.Pricing.Prompt) == "0" && priceString(e.Pricing.Completion) == "0"
}

func (e catalogEntry) contextLength() int {
	if n, ok := positiveInt(e.ContextLength); ok {
		return n
	}
	if n, ok := positiveInt(e.TopProvider.ContextLength); ok {
		return n
	}
	return defaultContextLength
}

func priceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func positiveInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		if val > 0 {
			return int(val), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
