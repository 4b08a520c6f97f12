package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moxie_companion/internal/providers"
	"moxie_companion/internal/utils"
)

type reply struct {
	resp *Response
	err  error
}

type call struct {
	ctx   context.Context
	env   *providers.Envelope
	reply chan reply
}

func (c *call) respond(status int, body string) {
	c.reply <- reply{resp: &Response{StatusCode: status, Body: []byte(body)}}
}

func (c *call) fail(err error) {
	c.reply <- reply{err: err}
}

// fakeTransport hands every call to the test, which decides when and how it
// completes. With honourCancel the call also returns once its context ends.
type fakeTransport struct {
	calls        chan *call
	honourCancel bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(chan *call, 8)}
}

func (f *fakeTransport) RoundTrip(ctx context.Context, env *providers.Envelope) (*Response, error) {
	c := &call{ctx: ctx, env: env, reply: make(chan reply, 1)}
	f.calls <- c
	if f.honourCancel {
		select {
		case r := <-c.reply:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r := <-c.reply
	return r.resp, r.err
}

func (f *fakeTransport) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport call")
		return nil
	}
}

func (f *fakeTransport) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected transport call to %s", c.env.URL)
	case <-time.After(50 * time.Millisecond):
	}
}

type recorder struct {
	events chan Event
}

func record(g *Gateway) *recorder {
	r := &recorder{events: make(chan Event, 64)}
	g.Subscribe(func(e Event) { r.events <- e })
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected event %s %q", e.Kind, e.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func (r *recorder) expectProcessing(t *testing.T, want bool) {
	t.Helper()
	e := r.next(t)
	require.Equal(t, ProcessingChanged, e.Kind, "got %s %q", e.Kind, e.Text)
	require.Equal(t, want, e.Processing)
}

func newTestGateway(t *testing.T) (*Gateway, *fakeTransport, *recorder) {
	t.Helper()
	tr := newFakeTransport()
	g := New(Config{Transport: tr})
	rec := record(g)
	return g, tr, rec
}

func TestInitialState(t *testing.T) {
	g, _, _ := newTestGateway(t)
	defer g.Close()

	assert.Equal(t, providers.Ollama, g.CurrentProvider())
	assert.False(t, g.IsProcessing())
	assert.Equal(t, Idle, g.State())
	assert.False(t, g.HasAPIKey())
	assert.Equal(t, providers.Models(providers.Ollama), g.AvailableModels())
	assert.Equal(t, providers.ListProviders(), g.AvailableProviders())
	assert.False(t, g.ProviderRequiresAPIKey(providers.Ollama))
	assert.True(t, g.ProviderRequiresAPIKey(providers.OpenAI))
	assert.Equal(t, providers.Describe(providers.Gemini), g.ProviderInfo(providers.Gemini))
}

func TestSendOllamaDefault(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "Hi", Temperature: utils.Float64Ptr(0.7)}))
	rec.expectProcessing(t, true)
	assert.True(t, g.IsProcessing())

	c := tr.next(t)
	assert.Equal(t, "http://localhost:11434/api/chat", c.env.URL)
	assert.Equal(t, "POST", c.env.Method)
	assert.Equal(t,
		`{"model":"llama3.2","messages":[{"role":"user","content":"Hi"}],"stream":false,"options":{"temperature":0.7}}`,
		string(c.env.Body))

	c.respond(200, `{"message":{"role":"assistant","content":"Hello!"},"done":true}`)

	rec.expectProcessing(t, false)
	e := rec.next(t)
	assert.Equal(t, ResponseReceived, e.Kind)
	assert.Equal(t, "Hello!", e.Text)
	assert.Equal(t, providers.Ollama, e.Provider)
	assert.Equal(t, "llama3.2", e.Model)
	rec.expectNone(t)
	assert.False(t, g.IsProcessing())
}

func TestSendMissingKey(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider(providers.OpenAI)
	e := rec.next(t)
	assert.Equal(t, ProviderChanged, e.Kind)
	assert.Equal(t, providers.OpenAI, e.Provider)

	err := g.Send(ChatRequest{Prompt: "X"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrNotConfigured))

	e = rec.next(t)
	assert.Equal(t, ErrorOccurred, e.Kind)
	assert.Equal(t, "API key not configured for openai", e.Text)
	assert.False(t, g.IsProcessing())
	tr.expectNoCall(t)
	rec.expectNone(t)
}

func TestConcurrentSendRejected(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "first"}))
	rec.expectProcessing(t, true)
	c := tr.next(t)

	err := g.Send(ChatRequest{Prompt: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrBusy))
	e := rec.next(t)
	assert.Equal(t, ErrorOccurred, e.Kind)
	assert.Equal(t, "Already processing a request", e.Text)
	assert.True(t, g.IsProcessing())
	assert.NoError(t, c.ctx.Err(), "in-flight request must not be cancelled")
	tr.expectNoCall(t)

	c.respond(200, `{"message":{"content":"first reply"}}`)
	rec.expectProcessing(t, false)
	e = rec.next(t)
	assert.Equal(t, ResponseReceived, e.Kind)
	assert.Equal(t, "first reply", e.Text)
}

func TestSendGeminiURL(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider(providers.Gemini)
	g.SetAPIKey("K")
	rec.next(t)

	require.NoError(t, g.Send(ChatRequest{Prompt: "hello", Model: "gemini-1.5-flash"}))
	c := tr.next(t)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent?key=K", c.env.URL)
	assert.Contains(t, string(c.env.Body), `"contents":[{"role":"user","parts":[{"text":"hello"}]}]`)
	c.respond(200, `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)
	assert.Equal(t, "hi", rec.next(t).Text)
}

func TestTokenAccountingOrder(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider(providers.OpenAI)
	g.SetAPIKey("sk")
	rec.next(t)

	require.NoError(t, g.Send(ChatRequest{Prompt: "count"}))
	c := tr.next(t)
	assert.Equal(t, "Bearer sk", c.env.Header.Get("Authorization"))
	c.respond(200, `{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`)

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)

	e := rec.next(t)
	require.Equal(t, ResponseReceived, e.Kind)
	assert.Equal(t, "ok", e.Text)

	e = rec.next(t)
	require.Equal(t, TokensUsed, e.Kind)
	assert.Equal(t, 12, e.InputTokens)
	assert.Equal(t, 7, e.OutputTokens)
	assert.Equal(t, "gpt-4o", e.Model)
	assert.Equal(t, providers.OpenAI, e.Provider)
}

func TestOllamaOfflineMessage(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "Hi"}))
	tr.next(t).fail(&TransportError{Category: CategoryConnectionRefused})

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)
	e := rec.next(t)
	assert.Equal(t, ErrorOccurred, e.Kind)
	assert.Equal(t, providers.OllamaOfflineMessage, e.Text)
	assert.True(t, errors.Is(e.Err, providers.ErrTransportFailure))
}

func TestConnectionRefusedOtherProvider(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider(providers.DeepSeek)
	g.SetAPIKey("k")
	rec.next(t)

	require.NoError(t, g.Send(ChatRequest{Prompt: "Hi"}))
	tr.next(t).fail(&TransportError{Category: CategoryConnectionRefused})

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)
	assert.Equal(t, "Network error: Connection refused", rec.next(t).Text)
}

func TestStaleCompletionDiscarded(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "A"}))
	a := tr.next(t)
	rec.expectProcessing(t, true)

	g.abort()
	rec.expectProcessing(t, false)
	assert.Error(t, a.ctx.Err())

	require.NoError(t, g.Send(ChatRequest{Prompt: "B"}))
	b := tr.next(t)
	rec.expectProcessing(t, true)

	a.respond(200, `{"message":{"content":"late A"}}`)
	rec.expectNone(t)
	assert.True(t, g.IsProcessing())

	b.respond(200, `{"message":{"content":"B"}}`)
	rec.expectProcessing(t, false)
	e := rec.next(t)
	assert.Equal(t, ResponseReceived, e.Kind)
	assert.Equal(t, "B", e.Text)
	rec.expectNone(t)
}

func TestProcessingTimelineAlternates(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	var timeline []bool
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Send(ChatRequest{Prompt: "x"}))
		_ = g.Send(ChatRequest{Prompt: "rejected"})
		if i%2 == 0 {
			tr.next(t).respond(200, `{"message":{"content":"ok"}}`)
		} else {
			tr.next(t).respond(200, `garbage`)
		}

		for j := 0; j < 4; j++ {
			e := rec.next(t)
			if e.Kind == ProcessingChanged {
				timeline = append(timeline, e.Processing)
			}
		}
	}
	assert.Equal(t, []bool{true, false, true, false, true, false}, timeline)
}

func TestProviderErrorResponse(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider(providers.Anthropic)
	g.SetAPIKey("ak")
	rec.next(t)

	require.NoError(t, g.Send(ChatRequest{Prompt: "x"}))
	tr.next(t).respond(401, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)
	e := rec.next(t)
	assert.Equal(t, "API Error: invalid x-api-key", e.Text)
	assert.True(t, errors.Is(e.Err, providers.ErrProviderError))
}

func TestNonJSONErrorStatus(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "x"}))
	c := tr.next(t)
	c.reply <- reply{resp: &Response{StatusCode: 502, Status: "502 Bad Gateway", Body: []byte("<html>bad gateway</html>")}}

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)
	e := rec.next(t)
	assert.Equal(t, "Network error: HTTP 502 Bad Gateway", e.Text)
}

func TestMalformedSuccessResponse(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "x"}))
	tr.next(t).respond(200, `{"unexpected":true}`)

	rec.expectProcessing(t, true)
	rec.expectProcessing(t, false)
	assert.Equal(t, "Invalid response format from Ollama", rec.next(t).Text)
}

func TestUnsupportedProvider(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider("mistral")
	rec.next(t)

	err := g.Send(ChatRequest{Prompt: "x"})
	assert.True(t, errors.Is(err, providers.ErrNotConfigured), "key check precedes provider check")
	rec.next(t)

	g.SetAPIKey("k")
	err = g.Send(ChatRequest{Prompt: "x"})
	assert.True(t, errors.Is(err, providers.ErrUnsupportedProvider))
	assert.Equal(t, "Unsupported provider: mistral", rec.next(t).Text)
	assert.False(t, g.IsProcessing())
	tr.expectNoCall(t)
	assert.Empty(t, g.AvailableModels())
}

func TestTemperatureClamped(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want string
	}{
		{"default", nil, `"temperature":0.7`},
		{"too hot", utils.Float64Ptr(5), `"temperature":2`},
		{"negative", utils.Float64Ptr(-1), `"temperature":0`},
		{"in range", utils.Float64Ptr(1.25), `"temperature":1.25`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, tr, _ := newTestGateway(t)
			defer g.Close()

			require.NoError(t, g.Send(ChatRequest{Prompt: "x", Temperature: tt.in}))
			c := tr.next(t)
			assert.Contains(t, string(c.env.Body), tt.want)
			c.respond(200, `{"message":{"content":"ok"}}`)
		})
	}
}

func TestMultiTurnRequest(t *testing.T) {
	g, tr, _ := newTestGateway(t)
	defer g.Close()

	msgs := []providers.Message{
		{Role: providers.RoleSystem, Content: "You are Moxie."},
		{Role: providers.RoleUser, Content: "hi"},
		{Role: providers.RoleAssistant, Content: "hello"},
		{Role: providers.RoleUser, Content: "tell me a joke"},
	}
	require.NoError(t, g.Send(ChatRequest{Prompt: "ignored", Messages: msgs, Model: "mistral"}))
	c := tr.next(t)
	assert.JSONEq(t, `{
		"model": "mistral",
		"messages": [
			{"role":"system","content":"You are Moxie."},
			{"role":"user","content":"hi"},
			{"role":"assistant","content":"hello"},
			{"role":"user","content":"tell me a joke"}
		],
		"stream": false,
		"options": {"temperature": 0.7}
	}`, string(c.env.Body))
	c.respond(200, `{"message":{"content":"ok"}}`)
}

func TestSetProviderSameIsSilent(t *testing.T) {
	g, _, rec := newTestGateway(t)
	defer g.Close()

	g.SetProvider(providers.Ollama)
	rec.expectNone(t)

	g.SetProvider(providers.Groq)
	e := rec.next(t)
	assert.Equal(t, ProviderChanged, e.Kind)
	assert.Equal(t, providers.Groq, g.CurrentProvider())
}

func TestSetProviderKeepsInflightRequest(t *testing.T) {
	g, tr, rec := newTestGateway(t)
	defer g.Close()

	require.NoError(t, g.Send(ChatRequest{Prompt: "x"}))
	c := tr.next(t)
	rec.expectProcessing(t, true)

	g.SetProvider(providers.OpenAI)
	assert.Equal(t, ProviderChanged, rec.next(t).Kind)
	assert.True(t, g.IsProcessing())

	c.respond(200, `{"message":{"content":"from ollama"}}`)
	rec.expectProcessing(t, false)
	e := rec.next(t)
	assert.Equal(t, "from ollama", e.Text)
	assert.Equal(t, providers.Ollama, e.Provider)
}

func TestCloseCancelsInflight(t *testing.T) {
	tr := newFakeTransport()
	tr.honourCancel = true
	g := New(Config{Transport: tr})
	rec := record(g)

	require.NoError(t, g.Send(ChatRequest{Prompt: "x"}))
	c := tr.next(t)

	require.NoError(t, g.Close())
	assert.Error(t, c.ctx.Err())
	assert.False(t, g.IsProcessing())

	assert.True(t, errors.Is(g.Send(ChatRequest{Prompt: "y"}), ErrClosed))

	var kinds []EventKind
	for len(rec.events) > 0 {
		kinds = append(kinds, (<-rec.events).Kind)
	}
	assert.Equal(t, []EventKind{ProcessingChanged, ProcessingChanged}, kinds)
}

func TestUnsubscribe(t *testing.T) {
	g, _, rec := newTestGateway(t)
	defer g.Close()

	other := make(chan Event, 8)
	unsubscribe := g.Subscribe(func(e Event) { other <- e })
	unsubscribe()

	g.SetProvider(providers.Groq)
	rec.next(t)
	assert.Len(t, other, 0)
}

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, DefaultTemperature, clampTemperature(nil))
	assert.Equal(t, 0.0, clampTemperature(utils.Float64Ptr(-0.5)))
	assert.Equal(t, 2.0, clampTemperature(utils.Float64Ptr(2.5)))
	assert.Equal(t, 0.3, clampTemperature(utils.Float64Ptr(0.3)))
}
