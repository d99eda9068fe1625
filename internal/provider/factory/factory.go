package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"polychat/internal/config"
	"polychat/internal/provider"
	anthropicProvider "polychat/internal/provider/anthropic"
	deepseekProvider "polychat/internal/provider/deepseek"
	geminiProvider "polychat/internal/provider/gemini"
	openaiProvider "polychat/internal/provider/openai"
	openrouterProvider "polychat/internal/provider/openrouter"
	"polychat/internal/retry"
)

const (
	defaultHeaderTimeout   = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewRegistry constructs every adapter from configuration. API keys must
// already be resolved into cfg; adapters without one answer in mock mode.
func NewRegistry(cfg config.Config) (*provider.Registry, error) {
	opts := Options(cfg)

	gemini, err := geminiProvider.New(cfg.Providers.Gemini, opts)
	if err != nil {
		return nil, fmt.Errorf("initialise gemini provider: %w", err)
	}
	openai, err := openaiProvider.New(cfg.Providers.OpenAI, opts)
	if err != nil {
		return nil, fmt.Errorf("initialise openai provider: %w", err)
	}
	anthropic, err := anthropicProvider.New(cfg.Providers.Anthropic, opts)
	if err != nil {
		return nil, fmt.Errorf("initialise anthropic provider: %w", err)
	}
	deepseek, err := deepseekProvider.New(cfg.Providers.DeepSeek, opts)
	if err != nil {
		return nil, fmt.Errorf("initialise deepseek provider: %w", err)
	}

	adapters := []provider.Provider{gemini, openai, anthropic, deepseek}
	for _, mode := range []openrouterProvider.Mode{openrouterProvider.ModeAny, openrouterProvider.ModeFree, openrouterProvider.ModePaid} {
		p, err := openrouterProvider.New(mode, cfg.Providers.OpenRouter, opts)
		if err != nil {
			return nil, fmt.Errorf("initialise openrouter %s provider: %w", mode, err)
		}
		adapters = append(adapters, p)
	}

	registry, err := provider.NewRegistry(adapters...)
	if err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	return registry, nil
}

// Options derives the shared adapter options from configuration.
func Options(cfg config.Config) provider.Options {
	return provider.Options{
		Client: newHTTPClient(defaultHeaderTimeout),
		Policy: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			Multiplier:     cfg.Retry.Multiplier,
		},
		MockDelay: cfg.Mock.TokenDelay,
	}
}

// newHTTPClient bounds the wait for response headers only; streamed bodies
// may legitimately stay open for minutes and are bounded by the request
// context instead.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
	}
}
