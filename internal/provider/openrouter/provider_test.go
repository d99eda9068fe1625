package openrouter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/provider/providertest"
)

func testConfig(baseURL, key string) config.OpenRouterConfig {
	return config.OpenRouterConfig{
		ProviderConfig: config.ProviderConfig{APIKey: key, BaseURL: baseURL},
		HTTPReferer:    "https://chat.example",
		AppTitle:       "Polychat",
		SurfaceModel:   true,
		CatalogLimit:   2,
	}
}

func newTestProvider(t *testing.T, mode Mode, cfg config.OpenRouterConfig) *Provider {
	t.Helper()
	p, err := New(mode, cfg, providertest.Options(http.DefaultClient))
	require.NoError(t, err)
	return p
}

func TestIDsPerMode(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "")
	require.Equal(t, "openrouter", newTestProvider(t, ModeAny, cfg).ID())
	require.Equal(t, "openrouter_free", newTestProvider(t, ModeFree, cfg).ID())
	require.Equal(t, "openrouter_paid", newTestProvider(t, ModePaid, cfg).ID())

	_, err := New("cheap", cfg, providertest.Options(nil))
	require.Error(t, err)
}

func TestBuildChatPayloadFreeAlias(t *testing.T) {
	free := buildChatPayload(providertest.UserRequest("meta-llama/llama-3-8b:free", "hi"))
	require.True(t, free.Provider.AllowFallbacks)
	require.Nil(t, free.Models)

	paid := buildChatPayload(providertest.UserRequest("openai/gpt-4o", "hi"))
	require.False(t, paid.Provider.AllowFallbacks)
	require.Equal(t, []string{"openai/gpt-4o"}, paid.Models)
}

func TestListModelsFiltersByPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[
			{"id":"a/free-1","name":"Free One","context_length":8192,"pricing":{"prompt":"0","completion":"0"}},
			{"id":"b/paid-1","pricing":{"prompt":"0.000001","completion":"0.000002"},"top_provider":{"context_length":32000}},
			{"id":"c/free-2","name":"Free Two","context_length":null,"pricing":{"prompt":"0","completion":"0"}},
			{"id":"d/half","pricing":{"prompt":"0","completion":"0.1"}},
			{"id":"e/free-3","pricing":{"prompt":0,"completion":0}}
		]}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "")

	free, err := newTestProvider(t, ModeFree, cfg).ListModels(t.Context())
	require.NoError(t, err)
	require.Equal(t, []models.ModelInfo{
		{ID: "a/free-1", Name: "Free One", ContextLength: 8192},
		{ID: "c/free-2", Name: "Free Two", ContextLength: defaultContextLength},
	}, free)

	paid, err := newTestProvider(t, ModePaid, cfg).ListModels(t.Context())
	require.NoError(t, err)
	require.Equal(t, []models.ModelInfo{
		{ID: "b/paid-1", Name: "b/paid-1", ContextLength: 32000},
		{ID: "d/half", Name: "d/half", ContextLength: defaultContextLength},
	}, paid)

	anyList, err := newTestProvider(t, ModeAny, cfg).ListModels(t.Context())
	require.NoError(t, err)
	require.Empty(t, anyList)
}

func TestListModelsReportsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, ModeFree, testConfig(srv.URL, "")).ListModels(t.Context())
	require.Error(t, err)
}

func TestStreamSurfacesModelOnce(t *testing.T) {
	var referer, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		fmt.Fprint(w, "data: {\"model\":\"mistral/mistral-7b\",\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"model\":\"mistral/mistral-7b\",\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, ModeAny, testConfig(srv.URL, "sk-or"))
	events := providertest.Stream(p, providertest.UserRequest("mistral/mistral-7b", "hello"))

	require.Equal(t, []models.Event{
		models.Content("[model: mistral/mistral-7b]\n"),
		models.Content("Hi"),
		models.Content("!"),
		models.Done(),
	}, events)
	require.Equal(t, "https://chat.example", referer)
	require.Equal(t, "Polychat", title)
}

func TestStreamWithoutSurfacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"model\":\"x/y\",\"choices\":[{\"delta\":{\"content\":\"plain\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, "sk-or")
	cfg.SurfaceModel = false
	events := providertest.Stream(newTestProvider(t, ModeAny, cfg), providertest.UserRequest("x/y", "hello"))

	require.Equal(t, []models.Event{models.Content("plain"), models.Done()}, events)
}

func TestStreamFallsBackWhenEmpty(t *testing.T) {
	var streamed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Stream {
			streamed.Store(true)
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, `{"model":"x/y","choices":[{"message":{"role":"assistant","content":"whole"}}]}`)
	}))
	defer srv.Close()

	events := providertest.Stream(newTestProvider(t, ModeFree, testConfig(srv.URL, "sk-or")), providertest.UserRequest("x/y:free", "hello"))

	require.True(t, streamed.Load())
	require.Equal(t, []models.Event{models.Content("whole"), models.Done()}, events)
}

func TestStreamFallbackFailureIsNotRetried(t *testing.T) {
	var streams, wholes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Stream {
			streams.Add(1)
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		wholes.Add(1)
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	events := providertest.Stream(newTestProvider(t, ModeFree, testConfig(srv.URL, "sk-or")), providertest.UserRequest("x/y:free", "hello"))

	require.Equal(t, []models.Event{models.Done()}, events)
	require.EqualValues(t, 1, streams.Load())
	require.EqualValues(t, 1, wholes.Load())
}

func TestStreamExplainsPaymentRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"no credits"}}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	events := providertest.Stream(newTestProvider(t, ModePaid, testConfig(srv.URL, "sk-or")), providertest.UserRequest("openai/gpt-4o", "hi"))
	require.Equal(t, []models.Event{models.Content(statusMessages[http.StatusPaymentRequired]), models.Done()}, events)
}

func TestStreamMockUsesAdapterID(t *testing.T) {
	events := providertest.Stream(newTestProvider(t, ModeFree, testConfig("http://127.0.0.1:1", "")), providertest.UserRequest("x/y", "hello"))
	require.Equal(t, "[openrouter_free-mock] You said: 'hello'", providertest.Text(events))
}
