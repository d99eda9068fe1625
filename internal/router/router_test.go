package router

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider"
)

type fakeProvider struct {
	id     string
	models []models.ModelInfo
	err    error
}

func (f fakeProvider) ID() string { return f.id }

func (f fakeProvider) ListModels(context.Context) ([]models.ModelInfo, error) {
	return f.models, f.err
}

func (f fakeProvider) Stream(ctx context.Context, req models.ChatRequest) iter.Seq[models.Event] {
	return provider.MockStream(ctx, f.id, req, 0)
}

func newTestRouter(t *testing.T, providers ...provider.Provider) *Router {
	t.Helper()
	if len(providers) == 0 {
		for _, id := range config.ProviderIDs {
			providers = append(providers, fakeProvider{id: id})
		}
	}
	reg, err := provider.NewRegistry(providers...)
	require.NoError(t, err)
	r, err := New(reg, config.Default().Routing)
	require.NoError(t, err)
	return r
}

func TestResolveDefaults(t *testing.T) {
	r := newTestRouter(t)

	cases := map[string]string{
		"gpt-4o-mini":                 "openai",
		"claude-3-opus-latest":        "anthropic",
		"deepseek-chat":               "deepseek",
		"gemini-2.5-pro":              "gemini",
		"gemini-1.5-flash":            "gemini",
		"gemini":                      "gemini",
		"mistral-large":               "openai",
		"":                            "openai",
		"meta-llama/llama-3-8b:free":  "openrouter",
		"anthropic/claude-3.5-sonnet": "openrouter",
		"gpt-4o/variant":              "openrouter",
		"GPT-4o":                      "openai",
		"Claude-3":                    "openai",
	}
	for model, want := range cases {
		require.Equal(t, want, r.ResolveID(model), model)
	}
}

func TestResolveFirstRuleWins(t *testing.T) {
	reg, err := provider.NewRegistry(fakeProvider{id: "a"}, fakeProvider{id: "b"}, fakeProvider{id: "c"})
	require.NoError(t, err)

	r, err := New(reg, config.RoutingConfig{
		Rules: []config.RouteRule{
			{Prefix: "gemini-2.5", Provider: "b"},
			{Prefix: "gemini", Provider: "c"},
		},
		Default:    "a",
		Namespaced: "c",
		Separator:  "/",
	})
	require.NoError(t, err)

	require.Equal(t, "b", r.ResolveID("gemini-2.5-pro"))
	require.Equal(t, "c", r.ResolveID("gemini-1.0"))
	require.Equal(t, "a", r.ResolveID("other"))
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	reg, err := provider.NewRegistry(fakeProvider{id: "openai"})
	require.NoError(t, err)

	_, err = New(reg, config.Default().Routing)
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New(reg, config.RoutingConfig{Default: "openai", Namespaced: "openai"})
	require.Error(t, err)
}

func TestListAllCatalogsIsolatesFailures(t *testing.T) {
	providers := []provider.Provider{
		fakeProvider{id: "gemini", models: []models.ModelInfo{{ID: "gemini-1.5-flash"}}},
		fakeProvider{id: "openai", models: []models.ModelInfo{{ID: "gpt-4o"}}},
		fakeProvider{id: "anthropic"},
		fakeProvider{id: "deepseek"},
		fakeProvider{id: "openrouter"},
		fakeProvider{id: "openrouter_free", err: errors.New("catalog down")},
		fakeProvider{id: "openrouter_paid", models: []models.ModelInfo{{ID: "x/y"}}},
	}
	r := newTestRouter(t, providers...)

	catalogs := r.ListAllCatalogs(context.Background())

	require.Len(t, catalogs, len(providers))
	for i, c := range catalogs {
		require.Equal(t, providers[i].ID(), c.ProviderID)
		require.NotNil(t, c.Models)
	}
	require.Equal(t, "gpt-4o", catalogs[1].Models[0].ID)
	require.Empty(t, catalogs[5].Models)
	require.Equal(t, "x/y", catalogs[6].Models[0].ID)
}
