package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider ids known to the gateway.
const (
	ProviderOpenAI         = "openai"
	ProviderAnthropic      = "anthropic"
	ProviderDeepSeek       = "deepseek"
	ProviderGemini         = "gemini"
	ProviderOpenRouter     = "openrouter"
	ProviderOpenRouterFree = "openrouter_free"
	ProviderOpenRouterPaid = "openrouter_paid"
)

// ProviderIDs lists every adapter id in registration order.
var ProviderIDs = []string{
	ProviderGemini,
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderDeepSeek,
	ProviderOpenRouter,
	ProviderOpenRouterFree,
	ProviderOpenRouterPaid,
}

const (
	StorageMemory   = "memory"
	StorageBolt     = "bolt"
	StorageDynamoDB = "dynamodb"

	CredentialsEnv = "env"
	CredentialsSSM = "ssm"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Auth        AuthConfig        `yaml:"auth"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Routing     RoutingConfig     `yaml:"routing"`
	Retry       RetryConfig       `yaml:"retry"`
	Mock        MockConfig        `yaml:"mock"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds chat requests per client IP. Zero requests disables it.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the conversation store backend.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Bolt     BoltConfig     `yaml:"bolt"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type DynamoDBConfig struct {
	Table      string `yaml:"table"`
	OwnerIndex string `yaml:"owner_index"`
	Region     string `yaml:"region"`
}

// CredentialsConfig selects where vendor API keys come from when the
// provider block does not carry one.
type CredentialsConfig struct {
	Source string    `yaml:"source"`
	DotEnv []string  `yaml:"dotenv"`
	SSM    SSMConfig `yaml:"ssm"`
}

type SSMConfig struct {
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// AuthConfig configures owner resolution.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	GuestHeader string `yaml:"guest_header"`
}

// ProvidersConfig catalogues configured upstream providers.
type ProvidersConfig struct {
	OpenAI     ProviderConfig   `yaml:"openai"`
	Anthropic  ProviderConfig   `yaml:"anthropic"`
	DeepSeek   ProviderConfig   `yaml:"deepseek"`
	Gemini     ProviderConfig   `yaml:"gemini"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// ProviderConfig captures authentication and catalog info for a provider.
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Headers Headers       `yaml:"headers"`
	Models  []ModelConfig `yaml:"models"`
}

// OpenRouterConfig adds the aggregator specific settings.
type OpenRouterConfig struct {
	ProviderConfig `yaml:",inline"`
	HTTPReferer    string `yaml:"http_referer"`
	AppTitle       string `yaml:"app_title"`
	SurfaceModel   bool   `yaml:"surface_model"`
	CatalogLimit   int    `yaml:"catalog_limit"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ModelConfig describes a model exposed by a provider catalog.
type ModelConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	ContextLength int    `yaml:"context_length"`
}

// RoutingConfig is the ordered prefix table plus its fallbacks.
type RoutingConfig struct {
	Rules      []RouteRule `yaml:"rules"`
	Default    string      `yaml:"default"`
	Namespaced string      `yaml:"namespaced"`
	Separator  string      `yaml:"separator"`
}

type RouteRule struct {
	Prefix   string `yaml:"prefix"`
	Provider string `yaml:"provider"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type MockConfig struct {
	TokenDelay time.Duration `yaml:"token_delay"`
}

// Default returns a complete configuration that runs without a file and
// without any credential (every vendor then answers in mock mode).
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
			RateLimit: RateLimitConfig{Requests: 30, Window: time.Minute},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver: StorageMemory,
			Bolt:   BoltConfig{Path: "polychat.db"},
			DynamoDB: DynamoDBConfig{
				Table:      "polychat",
				OwnerIndex: "owner-updated-index",
			},
		},
		Credentials: CredentialsConfig{
			Source: CredentialsEnv,
			DotEnv: []string{"../.env", ".env"},
			SSM:    SSMConfig{Prefix: "/polychat"},
		},
		Auth: AuthConfig{GuestHeader: "X-Guest-Id"},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				BaseURL: "https://api.openai.com/v1",
				Models: []ModelConfig{
					{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextLength: 128_000},
					{ID: "gpt-4o", Name: "GPT-4o", ContextLength: 128_000},
					{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextLength: 16_385},
				},
			},
			Anthropic: ProviderConfig{
				BaseURL: "https://api.anthropic.com",
				Models: []ModelConfig{
					{ID: "claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet", ContextLength: 200_000},
					{ID: "claude-3-opus-latest", Name: "Claude 3 Opus", ContextLength: 200_000},
				},
			},
			DeepSeek: ProviderConfig{
				BaseURL: "https://api.deepseek.com/v1",
				Models: []ModelConfig{
					{ID: "deepseek-chat", Name: "DeepSeek Chat", ContextLength: 128_000},
					{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", ContextLength: 128_000},
				},
			},
			Gemini: ProviderConfig{
				BaseURL: "https://generativelanguage.googleapis.com/v1beta",
				Models: []ModelConfig{
					{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextLength: 1_000_000},
					{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextLength: 1_000_000},
				},
			},
			OpenRouter: OpenRouterConfig{
				ProviderConfig: ProviderConfig{BaseURL: "https://openrouter.ai/api/v1"},
				SurfaceModel:   true,
				CatalogLimit:   100,
			},
		},
		Routing: RoutingConfig{
			Rules: []RouteRule{
				{Prefix: "gpt-", Provider: ProviderOpenAI},
				{Prefix: "claude-", Provider: ProviderAnthropic},
				{Prefix: "deepseek-", Provider: ProviderDeepSeek},
				{Prefix: "gemini-2.5", Provider: ProviderGemini},
				{Prefix: "gemini-", Provider: ProviderGemini},
				{Prefix: "gemini", Provider: ProviderGemini},
			},
			Default:    ProviderOpenAI,
			Namespaced: ProviderOpenRouter,
			Separator:  "/",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 800 * time.Millisecond,
			Multiplier:     2,
		},
		Mock: MockConfig{TokenDelay: 50 * time.Millisecond},
	}
}

// Load reads YAML configuration from disk over the defaults and validates
// the result. An empty path yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit.Requests < 0 {
		return fmt.Errorf("server.rate_limit.requests must not be negative, got %d", c.Server.RateLimit.Requests)
	}
	if c.Server.RateLimit.Requests > 0 && c.Server.RateLimit.Window <= 0 {
		return fmt.Errorf("server.rate_limit.window must be positive when requests are limited")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be one of %q or %q", c.Logging.Format, "text", "json")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Credentials.validate(); err != nil {
		return err
	}

	for name, provider := range c.Providers.byID() {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}
	if c.Providers.OpenRouter.CatalogLimit < 0 {
		return fmt.Errorf("provider openrouter: catalog_limit must not be negative")
	}

	if err := c.Routing.validate(); err != nil {
		return err
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff < 0 {
		return fmt.Errorf("retry.initial_backoff must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	if c.Mock.TokenDelay < 0 {
		return fmt.Errorf("mock.token_delay must not be negative")
	}

	return nil
}

func (p ProvidersConfig) byID() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderOpenAI:     p.OpenAI,
		ProviderAnthropic:  p.Anthropic,
		ProviderDeepSeek:   p.DeepSeek,
		ProviderGemini:     p.Gemini,
		ProviderOpenRouter: p.OpenRouter.ProviderConfig,
	}
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case StorageMemory:
	case StorageBolt:
		if strings.TrimSpace(s.Bolt.Path) == "" {
			return fmt.Errorf("storage.bolt.path must be provided for the bolt driver")
		}
	case StorageDynamoDB:
		if strings.TrimSpace(s.DynamoDB.Table) == "" {
			return fmt.Errorf("storage.dynamodb.table must be provided for the dynamodb driver")
		}
		if strings.TrimSpace(s.DynamoDB.OwnerIndex) == "" {
			return fmt.Errorf("storage.dynamodb.owner_index must be provided for the dynamodb driver")
		}
	default:
		return fmt.Errorf("storage.driver %q must be one of %q, %q or %q", s.Driver, StorageMemory, StorageBolt, StorageDynamoDB)
	}
	return nil
}

func (c CredentialsConfig) validate() error {
	switch c.Source {
	case CredentialsEnv:
	case CredentialsSSM:
		if strings.TrimSpace(c.SSM.Prefix) == "" {
			return fmt.Errorf("credentials.ssm.prefix must be provided for the ssm source")
		}
	default:
		return fmt.Errorf("credentials.source %q must be one of %q or %q", c.Source, CredentialsEnv, CredentialsSSM)
	}
	return nil
}

func (r RoutingConfig) validate() error {
	for i, rule := range r.Rules {
		if rule.Prefix == "" {
			return fmt.Errorf("routing.rules[%d]: prefix must not be empty", i)
		}
		if !knownProvider(rule.Provider) {
			return fmt.Errorf("routing.rules[%d]: unknown provider %q", i, rule.Provider)
		}
	}
	if !knownProvider(r.Default) {
		return fmt.Errorf("routing.default: unknown provider %q", r.Default)
	}
	if !knownProvider(r.Namespaced) {
		return fmt.Errorf("routing.namespaced: unknown provider %q", r.Namespaced)
	}
	if r.Separator == "" {
		return fmt.Errorf("routing.separator must not be empty")
	}
	return nil
}

func knownProvider(id string) bool {
	for _, known := range ProviderIDs {
		if id == known {
			return true
		}
	}
	return false
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}

	for _, model := range provider.Models {
		if strings.TrimSpace(model.ID) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
		if model.ContextLength < 0 {
			return fmt.Errorf("provider %s: model %q context_length must not be negative", name, model.ID)
		}
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	return nil
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", level, err)
	}
	return l, nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
