package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moxie_companion/internal/auth"
	"moxie_companion/internal/chat"
	"moxie_companion/internal/config"
	"moxie_companion/internal/docker"
	"moxie_companion/internal/games"
	"moxie_companion/internal/gateway"
	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/logging"
	"moxie_companion/internal/models"
	"moxie_companion/internal/providers"
	"moxie_companion/internal/queue"
	"moxie_companion/internal/robot"
	"moxie_companion/internal/usage"
)

const okReply = `{"choices":[{"message":{"content":"Hi there!"}}],"usage":{"prompt_tokens":12,"completion_tokens":8}}`

// fakeLLM answers OpenAI-style chat completions. When hold is set every
// request waits until it is closed.
type fakeLLM struct {
	mu    sync.Mutex
	calls int
	hold  chan struct{}
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.calls++
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(okReply))
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	cfg     *config.Config
	deps    *Dependencies
	handler http.Handler
	llm     *fakeLLM
	repo    *usage.MemoryRepository
	mqtt    *fakeMQTT
	runner  *fakeRunner
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = "httpapi-test-secret"

	env := &testEnv{
		cfg:    cfg,
		llm:    &fakeLLM{},
		repo:   usage.NewMemoryRepository(),
		mqtt:   &fakeMQTT{},
		runner: newFakeRunner(),
	}
	srv := httptest.NewServer(env.llm)
	t.Cleanup(srv.Close)

	store, err := jsonstore.Open(t.TempDir(), jsonstore.Options{})
	require.NoError(t, err)
	hash, err := auth.HashPIN("2468")
	require.NoError(t, err)
	require.NoError(t, store.SetPINHash(hash))

	gw := gateway.New(gateway.Config{
		Transport:       gateway.NewHTTPTransport(5 * time.Second),
		BaseURLs:        map[providers.ID]string{providers.OpenAI: srv.URL},
		InitialProvider: providers.OpenAI,
	})

	qcfg := queue.DefaultConfig("httpapi_test")
	qcfg.BatchTimeout = 10 * time.Millisecond
	q := queue.NewMemoryQueue[models.UsageRecord](qcfg)
	worker := usage.NewWorker(q, nil, env.repo, qcfg)
	worker.Start(context.Background())

	recorder := usage.NewRecorder(q, nil)
	session := chat.NewSession(chat.Config{
		Gateway:  gw,
		Recorder: recorder,
		Store:    store,
		ChildID:  "child_1",
	})

	env.deps = &Dependencies{
		Gateway:   gw,
		Keys:      NewKeyRing(nil),
		Chat:      session,
		Store:     store,
		Recorder:  recorder,
		Dashboard: usage.NewDashboard(env.repo, 3),
		Games:     games.NewService(store),
		Robot:     robot.NewController(env.mqtt, time.Hour),
		Docker: docker.NewManager(env.runner, docker.Config{
			Container: "openmoxie-server",
			Image:     "openmoxie/openmoxie-server:latest",
		}),
		Repository: env.repo,
	}
	env.handler = NewRouter(cfg, env.deps)

	env.token, _, err = auth.GenerateParentJWT(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		gw.Close()
		worker.Stop()
		if env.deps.Robot != nil {
			env.deps.Robot.Disconnect()
		}
	})
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	return e.request(method, path, body, "")
}

func (e *testEnv) parent(method, path, body string) *httptest.ResponseRecorder {
	return e.request(method, path, body, e.token)
}

func (e *testEnv) request(method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rr)["error"]
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ok", body["status"])
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/v1/providers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]ProviderResponse](t, rr)
	require.Len(t, list, 6)
	assert.Equal(t, providers.Ollama, list[0].ID)
	assert.False(t, list[0].RequiresAPIKey)
	for _, p := range list {
		assert.Equal(t, p.ID == providers.OpenAI, p.Current, p.ID)
	}

	rr = env.do(http.MethodGet, "/v1/providers/openai", "")
	require.Equal(t, http.StatusOK, rr.Code)
	openai := decode[ProviderResponse](t, rr)
	assert.Equal(t, "gpt-4o", openai.DefaultModel)
	assert.False(t, openai.HasAPIKey)

	rr = env.do(http.MethodGet, "/v1/providers/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSelectProviderAndKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPut, "/v1/provider", `{"provider":"anthropic","model":"claude-3-haiku-20240307"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	state := decode[StateResponse](t, rr)
	assert.Equal(t, providers.Anthropic, state.CurrentProvider)
	assert.False(t, state.HasAPIKey)
	assert.True(t, state.RequiresAPIKey)
	assert.Equal(t, "claude-3-haiku-20240307", state.Model)

	settings, err := env.deps.Store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", settings.Provider)

	rr = env.do(http.MethodPut, "/v1/provider/key", `{"api_key":" sk-ant-secret "}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "sk-ant-secret")
	assert.True(t, decode[ProviderResponse](t, rr).HasAPIKey)
	assert.True(t, env.deps.Gateway.HasAPIKey())

	// Keys follow the provider they belong to
	env.do(http.MethodPut, "/v1/provider", `{"provider":"openai"}`)
	assert.False(t, env.deps.Gateway.HasAPIKey())
	env.do(http.MethodPut, "/v1/provider", `{"provider":"anthropic"}`)
	assert.True(t, env.deps.Gateway.HasAPIKey())

	// Keys are never written to disk
	settings, err = env.deps.Store.LoadSettings()
	require.NoError(t, err)
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-ant-secret")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/v1/provider", `{"provider":"mystery"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/v1/provider", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/v1/provider/key", `{"provider":"mystery","api_key":"x"}`).Code)
}

func TestState(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/v1/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	state := decode[StateResponse](t, rr)
	assert.False(t, state.IsProcessing)
	assert.Equal(t, "idle", state.State)
	assert.Equal(t, providers.OpenAI, state.CurrentProvider)
	assert.Equal(t, providers.Models(providers.OpenAI), state.Models)
	assert.NotEmpty(t, state.ProviderInfo)
}

func TestChat_MissingKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/chat/messages", `{"text":"Hello"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Equal(t, "API key not configured for openai", errorMessage(t, rr))
	assert.Empty(t, env.deps.Chat.Conversation().Messages)
	assert.Equal(t, 0, env.llm.count())
}

func TestChat_SendAndRecordUsage(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPut, "/v1/provider/key", `{"api_key":"sk-test"}`)

	rr := env.do(http.MethodPost, "/v1/chat/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, env.deps.Chat.Conversation().ID, decode[acceptedResponse](t, rr).ConversationID)

	var conv ConversationResponse
	require.Eventually(t, func() bool {
		conv = decode[ConversationResponse](t, env.do(http.MethodGet, "/v1/chat", ""))
		return len(conv.Conversation.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Hello", conv.Conversation.Messages[0].Content)
	assert.Equal(t, "Hi there!", conv.Conversation.Messages[1].Content)
	assert.Empty(t, conv.LastError)

	require.Eventually(t, func() bool {
		records, _ := env.repo.List(context.Background(), usage.Filter{})
		return len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
	records, _ := env.repo.List(context.Background(), usage.Filter{})
	assert.Equal(t, "child_1", records[0].ChildProfileID)
	assert.Equal(t, models.FeatureChat, records[0].Feature)
	assert.Equal(t, 20, records[0].TokensUsed)
}

func TestChat_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPut, "/v1/provider/key", `{"api_key":"sk-test"}`)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/chat/messages", `{"text":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/chat/messages", `nope`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/chat/regenerate", "").Code)

	hold := make(chan struct{})
	env.llm.mu.Lock()
	env.llm.hold = hold
	env.llm.mu.Unlock()

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/v1/chat/messages", `{"text":"First"}`).Code)
	rr := env.do(http.MethodPost, "/v1/chat/messages", `{"text":"Second"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Already processing a request", errorMessage(t, rr))
	assert.True(t, decode[StateResponse](t, env.do(http.MethodGet, "/v1/state", "")).IsProcessing)
	close(hold)

	require.Eventually(t, func() bool {
		return len(env.deps.Chat.Conversation().Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "First", env.deps.Chat.Conversation().Messages[0].Content)
}

func TestChat_RegenerateClearExport(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPut, "/v1/provider/key", `{"api_key":"sk-test"}`)

	env.do(http.MethodPost, "/v1/chat/messages", `{"text":"Tell me a joke"}`)
	require.Eventually(t, func() bool {
		return len(env.deps.Chat.Conversation().Messages) == 2 && !env.deps.Chat.IsProcessing()
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/v1/chat/regenerate", "").Code)
	require.Eventually(t, func() bool {
		return env.llm.count() == 2 && len(env.deps.Chat.Conversation().Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rr := env.do(http.MethodGet, "/v1/chat/export", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "conversation_")
	var exported models.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &exported))
	assert.Equal(t, "Tell me a joke", exported.Title)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/v1/chat", "").Code)
	assert.Empty(t, env.deps.Chat.Conversation().Messages)
}

func TestChat_SaveListLoad(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPut, "/v1/provider/key", `{"api_key":"sk-test"}`)

	env.do(http.MethodPost, "/v1/chat/messages", `{"text":"Remember me"}`)
	require.Eventually(t, func() bool {
		return len(env.deps.Chat.Conversation().Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rr := env.do(http.MethodPost, "/v1/chat/save", "")
	require.Equal(t, http.StatusOK, rr.Code)
	id := decode[map[string]string](t, rr)["id"]
	require.NotEmpty(t, id)

	env.do(http.MethodDelete, "/v1/chat", "")

	rr = env.do(http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode[map[string][]string](t, rr)["conversations"], id)

	rr = env.do(http.MethodPost, "/v1/conversations/"+id+"/load", "")
	require.Equal(t, http.StatusOK, rr.Code)
	conv := decode[ConversationResponse](t, rr)
	assert.Equal(t, id, conv.Conversation.ID)
	assert.Len(t, conv.Conversation.Messages, 2)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/v1/conversations/missing/load", "").Code)
}

func TestChatSettings(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/v1/chat/settings", `{"temperature":3}`).Code)

	rr := env.do(http.MethodPut, "/v1/chat/settings", `{"temperature":0.4,"model":"gpt-4"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	state := decode[StateResponse](t, rr)
	require.NotNil(t, state.Temperature)
	assert.Equal(t, 0.4, *state.Temperature)
	assert.Equal(t, "gpt-4", state.Model)

	rr = env.do(http.MethodPut, "/v1/chat/settings", `{"temperature":null}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decode[StateResponse](t, rr).Temperature)
}

func TestPINLogin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/auth/pin", `{"pin":"2468"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	token, _ := decode[map[string]any](t, rr)["token"].(string)
	require.NotEmpty(t, token)

	rr = env.request(http.MethodGet, "/v1/usage/stats", "", token)
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/v1/auth/pin", `{"pin":"1111"}`).Code)
}

func TestParentRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/v1/usage/stats"},
		{http.MethodGet, "/v1/usage/records"},
		{http.MethodGet, "/v1/usage/export"},
		{http.MethodPost, "/v1/usage/cleanup"},
		{http.MethodGet, "/v1/robot/status"},
		{http.MethodPost, "/v1/robot/volume"},
		{http.MethodGet, "/v1/server/status"},
		{http.MethodPost, "/v1/server/start"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, env.do(route.method, route.path, "").Code)
			assert.Equal(t, http.StatusUnauthorized, env.request(route.method, route.path, "", "garbage").Code)
		})
	}
	assert.Empty(t, env.runner.commands())
}

type bufferCloser struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufferCloser) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferCloser) Close() error { return nil }

func (b *bufferCloser) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRouter_AccessLog(t *testing.T) {
	env := newTestEnv(t)
	out := &bufferCloser{}
	env.deps.RequestLogger = logging.NewRequestLogger(out, 10, time.Hour)
	handler := NewRouter(env.cfg, env.deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/pin", strings.NewReader(`{"pin":"2468"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	env.deps.RequestLogger.Shutdown()

	assert.Contains(t, out.String(), `"path":"/v1/auth/pin"`)
	assert.NotContains(t, out.String(), "2468")
}
