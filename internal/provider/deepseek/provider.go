package deepseek

import (
	"context"
	"errors"
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
const ID = config.ProviderDeepSeek

var statusMessages = map[int]string{
	http.StatusPaymentRequired: "[DeepSeek] Payment required. Please enable billing on your DeepSeek account or use a model available to your plan.",
	http.StatusTooManyRequests: "[DeepSeek] Too many requests. You have hit the rate limit. Please wait a moment and try again.",
}

// Provider streams from the OpenAI-compatible DeepSeek API.
type Provider struct {
	apiKey    string
	headers   map[string]string
	client    *http.Client
	models    []models.ModelInfo
	chatURL   string
	vendor    provider.Vendor
	mockDelay time.Duration
}

// New creates a DeepSeek provider.
func New(cfg config.ProviderConfig, opts provider.Options) (*Provider, error) {
	opts = opts.WithDefaults()

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Provider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		headers: cfg.Headers,
		client:  opts.Client,
		models:  provider.StaticCatalog(cfg.Models),
		chatURL: baseURL + "/chat/completions",
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

	payload := chatPayload{
		Model:       req.Model,
		Messages:    provider.CompatMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	headers := provider.MergeHeaders(map[string]string{"Authorization": "Bearer " + p.apiKey}, p.headers)

	return p.vendor.Run(ctx, func(ctx context.Context, out *provider.Emitter) error {
		return provider.StreamCompat(ctx, p.client, p.chatURL, headers, payload, out, nil)
	})
}

type chatPayload struct {
	Model       string                   `json:"model"`
	Messages    []provider.CompatMessage `json:"messages"`
	Temperature float64                  `json:"temperature"`
	MaxTokens   int                      `json:"max_tokens"`
	Stream      bool                     `json:"stream"`
}
