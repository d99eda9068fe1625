package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"polychat/internal/auth"
	"polychat/internal/chat"
	"polychat/internal/config"
	"polychat/internal/provider/factory"
	"polychat/internal/router"
	"polychat/internal/store"
	"polychat/internal/store/memory"
	"polychat/internal/translator"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, store.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.Mock.TokenDelay = 0
	cfg.Server.RateLimit.Requests = 0
	if mutate != nil {
		mutate(&cfg)
	}

	registry, err := factory.NewRegistry(cfg)
	require.NoError(t, err)
	rt, err := router.New(registry, cfg.Routing)
	require.NoError(t, err)

	st := memory.New(nil)
	svc, err := chat.NewService(rt, st)
	require.NoError(t, err)

	srv, err := New(cfg, rt, svc, st, auth.NewResolver("", cfg.Auth.GuestHeader))
	require.NoError(t, err)
	return srv, st
}

func do(t *testing.T, srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type frame struct {
	Meta *struct {
		ConversationID string `json:"conversationId"`
	} `json:"meta"`
	Content *string `json:"content"`
	Done    bool    `json:"done"`
}

func parseFrames(t *testing.T, body string) []frame {
	t.Helper()

	var frames []frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		require.True(t, ok, "unexpected line %q", line)
		var f frame
		require.NoError(t, json.Unmarshal([]byte(data), &f))
		frames = append(frames, f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Type
}

func TestHealthAndRoot(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"service":"polychat","version":"`+Version+`"}`, rec.Body.String())
}

func TestChatStreamMockMode(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	guest := map[string]string{"X-Guest-Id": "guest-1"}

	rec := do(t, srv, http.MethodPost, "/api/v1/chat/stream",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hello"}]}`, guest)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)
	require.NotNil(t, frames[0].Meta)
	conversationID := frames[0].Meta.ConversationID
	require.NotEmpty(t, conversationID)

	last := frames[len(frames)-1]
	require.True(t, last.Done)

	var text strings.Builder
	done := 0
	for _, f := range frames[1:] {
		if f.Done {
			done++
		}
		if f.Content != nil {
			text.WriteString(*f.Content)
		}
	}
	require.Equal(t, 1, done)
	require.Equal(t, "[openai-mock] You said: 'hello'", text.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/conversations", "", guest)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, conversationID, list[0].ID)
	require.Equal(t, "hello", list[0].Title)

	rec = do(t, srv, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", "", guest)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	require.Equal(t, "assistant", msgs[0].Role)
	require.Equal(t, "[openai-mock] You said: 'hello'", msgs[0].Content)
	require.Equal(t, "user", msgs[1].Role)
}

func TestChatStreamValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	cases := map[string]string{
		"empty body":    "",
		"missing model": `{"messages":[{"role":"user","content":"hi"}]}`,
		"bad role":      `{"model":"m","messages":[{"role":"robot","content":"hi"}]}`,
		"max tokens":    `{"model":"m","messages":[{"role":"user","content":"hi"}],"maxTokens":0}`,
		"two objects":   `{"model":"m","messages":[{"role":"user","content":"hi"}]}{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/chat/stream", body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "invalid_request_error", errorType(t, rec))
		})
	}
}

func TestChatStreamUnknownConversation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/chat/stream",
		`{"conversationId":"nope","model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found_error", errorType(t, rec))
}

func TestChatStreamRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimitConfig{Requests: 1, Window: time.Minute}
	})
	body := `{"model":"claude-3-haiku","messages":[{"role":"user","content":"hi"}]}`

	rec := do(t, srv, http.MethodPost, "/api/v1/chat/stream", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/chat/stream", body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Equal(t, "rate_limit_error", errorType(t, rec))

	// Other routes are not limited.
	rec = do(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	alice := map[string]string{"X-Guest-Id": "alice"}
	bob := map[string]string{"X-Guest-Id": "bob"}

	rec := do(t, srv, http.MethodPost, "/api/v1/conversations", "", alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Equal(t, store.DefaultTitle, conv.Title)
	require.Equal(t, "alice", conv.OwnerID)

	rec = do(t, srv, http.MethodGet, "/api/v1/conversations/"+conv.ID, "", bob)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPatch, "/api/v1/conversations/"+conv.ID, `{"title":"Renamed"}`, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Equal(t, "Renamed", conv.Title)

	rec = do(t, srv, http.MethodPatch, "/api/v1/conversations/"+conv.ID, `{"title":"  "}`, alice)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/conversations", "", bob)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, srv, http.MethodDelete, "/api/v1/conversations/"+conv.ID, "", bob)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/conversations/"+conv.ID, "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"deleted","id":"`+conv.ID+`"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/conversations/"+conv.ID, "", alice)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConversationTitle(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/conversations?title=Trip", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Equal(t, "Trip", conv.Title)
	require.Equal(t, auth.Anonymous, conv.OwnerID)

	rec = do(t, srv, http.MethodPost, "/api/v1/conversations?title="+strings.Repeat("x", translator.MaxTitleLength+1), "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsCatalog(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":"meta/llama:free","name":"Llama Free","context_length":8192,"pricing":{"prompt":"0","completion":"0"}},
			{"id":"openai/gpt-4o","name":"GPT-4o","pricing":{"prompt":"0.000005","completion":"0.000015"},"top_provider":{"context_length":128000}}
		]}`))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Providers.OpenRouter.BaseURL = upstream.URL
	})

	rec := do(t, srv, http.MethodGet, "/api/v1/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp translator.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, len(config.ProviderIDs))

	require.Equal(t, "Openai", resp.Providers["openai"].Name)
	require.NotEmpty(t, resp.Providers["openai"].Models)
	require.Empty(t, resp.Providers["openrouter"].Models)

	free := resp.Providers["openrouter_free"].Models
	require.Len(t, free, 1)
	require.Equal(t, "meta/llama:free", free[0].ID)
	require.Equal(t, 8192, free[0].ContextLength)

	paid := resp.Providers["openrouter_paid"].Models
	require.Len(t, paid, 1)
	require.Equal(t, "openai/gpt-4o", paid[0].ID)
	require.Equal(t, 128000, paid[0].ContextLength)
}

func TestNotFoundRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found_error", errorType(t, rec))
}
