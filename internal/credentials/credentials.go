// Package credentials resolves vendor API keys.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"polychat/internal/config"
)

// Source looks up the API key of a vendor. An empty key with a nil error
// means the vendor has no credential and its adapter runs in mock mode.
type Source interface {
	Lookup(ctx context.Context, vendor string) (string, error)
}

// Vendors whose keys are resolved. The openrouter variants share one key.
var Vendors = []string{
	config.ProviderOpenAI,
	config.ProviderAnthropic,
	config.ProviderDeepSeek,
	config.ProviderGemini,
	config.ProviderOpenRouter,
}

var envNames = map[string][]string{
	config.ProviderOpenAI:     {"OPENAI_API_KEY"},
	config.ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	config.ProviderDeepSeek:   {"DEEPSEEK_API_KEY"},
	config.ProviderGemini:     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	config.ProviderOpenRouter: {"OPENROUTER_API_KEY"},
}

// Env reads keys from environment variables.
type Env struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (e Env) Lookup(_ context.Context, vendor string) (string, error) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, name := range envNames[vendor] {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", nil
}

// ssmAPI is the minimal AWS SSM interface required by SSM.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM reads keys from Parameter Store at <prefix>/<vendor>-api-key.
type SSM struct {
	api    ssmAPI
	prefix string
}

// NewSSM creates an SSM source.
func NewSSM(api ssmAPI, prefix string) (*SSM, error) {
	if api == nil {
		return nil, errors.New("credentials: ssm api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("credentials: ssm prefix must not be empty")
	}
	return &SSM{api: api, prefix: prefix}, nil
}

// ParameterName returns the parameter holding vendor's key.
func (s *SSM) ParameterName(vendor string) string {
	return s.prefix + "/" + vendor + "-api-key"
}

func (s *SSM) Lookup(ctx context.Context, vendor string) (string, error) {
	name := s.ParameterName(vendor)
	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", nil
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}

// Apply fills every provider block that has no api_key from src. Keys set in
// configuration win.
func Apply(ctx context.Context, src Source, providers *config.ProvidersConfig) error {
	targets := map[string]*config.ProviderConfig{
		config.ProviderOpenAI:     &providers.OpenAI,
		config.ProviderAnthropic:  &providers.Anthropic,
		config.ProviderDeepSeek:   &providers.DeepSeek,
		config.ProviderGemini:     &providers.Gemini,
		config.ProviderOpenRouter: &providers.OpenRouter.ProviderConfig,
	}

	for _, vendor := range Vendors {
		target := targets[vendor]
		if strings.TrimSpace(target.APIKey) != "" {
			slog.Debug("api key from configuration", "provider", vendor)
			continue
		}
		key, err := src.Lookup(ctx, vendor)
		if err != nil {
			return err
		}
		target.APIKey = key
		if key == "" {
			slog.Info("no api key, provider runs in mock mode", "provider", vendor)
		}
	}
	return nil
}
