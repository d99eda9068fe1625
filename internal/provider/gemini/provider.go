package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider"
)

// ID is the registry key of the adapter.
const ID = config.ProviderGemini

const (
	roleUser  = "user"
	roleModel = "model"
)

// Provider streams from the Google Generative Language API.
type Provider struct {
	apiKey    string
	baseURL   string
	headers   map[string]string
	client    *http.Client
	models    []models.ModelInfo
	vendor    provider.Vendor
	mockDelay time.Duration
}

// New creates a Gemini provider.
func New(cfg config.ProviderConfig, opts provider.Options) (*Provider, error) {
	opts = opts.WithDefaults()

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Provider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		headers: cfg.Headers,
		client:  opts.Client,
		models:  provider.StaticCatalog(cfg.Models),
		vendor: provider.Vendor{
			ID:     ID,
			Policy: opts.Policy,
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

	payload := buildPayload(req)
	streamURL := p.endpoint(req.Model, "streamGenerateContent", url.Values{"alt": {"sse"}})
	wholeURL := p.endpoint(req.Model, "generateContent", nil)

	return p.vendor.Run(ctx, func(ctx context.Context, out *provider.Emitter) error {
		if err := p.stream(ctx, streamURL, payload, out); err != nil {
			return scrubURL(err)
		}
		if out.Emitted() {
			return nil
		}

		var whole generateResponse
		// The fallback runs once per turn; its failure ends the answer empty.
		if err := provider.DoJSON(ctx, p.client, http.MethodPost, wholeURL, p.headers, payload, &whole); err != nil {
			slog.Warn("non-streaming fallback failed", "provider", ID, "model", req.Model, "err", scrubURL(err))
			return nil
		}
		out.Content(whole.text())
		return nil
	})
}

func (p *Provider) stream(ctx context.Context, endpoint string, payload generatePayload, out *provider.Emitter) error {
	headers := provider.MergeHeaders(map[string]string{"Accept": "text/event-stream"}, p.headers)
	resp, err := provider.Do(ctx, p.client, http.MethodPost, endpoint, headers, payload)
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
			return fmt.Errorf("read gemini stream: %w", err)
		}

		var chunk generateResponse
		if err := provider.DecodeChunk(data, &chunk); err != nil {
			continue
		}
		if !out.Content(chunk.text()) {
			return context.Canceled
		}
	}
}

func (p *Provider) endpoint(model, method string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", p.apiKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", p.baseURL, url.PathEscape(model), method, query.Encode())
}

// scrubURL drops the request URL from transport errors; it carries the key.
func scrubURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

type generatePayload struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// buildPayload maps assistant turns to the model role and every other role
// to user.
func buildPayload(req models.ChatRequest) generatePayload {
	msgs := models.NonEmptyMessages(req.Messages)
	contents := make([]content, 0, len(msgs))
	for _, msg := range msgs {
		role := roleUser
		if msg.Role == models.RoleAssistant {
			role = roleModel
		}
		contents = append(contents, content{
			Role:  role,
			Parts: []part{{Text: strings.TrimSpace(msg.Content)}},
		})
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = models.DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}

	return generatePayload{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	}
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
