package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"moxie_companion/internal/providers"
	"moxie_companion/internal/utils"
)

// DefaultTemperature is used when a request does not set one.
const DefaultTemperature = 0.7

const (
	minTemperature = 0.0
	maxTemperature = 2.0
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("gateway closed")

// State is the single-flight state.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// ChatRequest is either a single prompt or a full conversation. When
// Messages is non-empty Prompt is ignored.
type ChatRequest struct {
	Prompt      string
	Messages    []providers.Message
	Model       string
	Temperature *float64
}

func (r ChatRequest) messages() []providers.Message {
	if len(r.Messages) > 0 {
		return append([]providers.Message(nil), r.Messages...)
	}
	return []providers.Message{{Role: providers.RoleUser, Content: r.Prompt}}
}

// clampTemperature resolves the effective sampling temperature.
func clampTemperature(t *float64) float64 {
	if t == nil || math.IsNaN(*t) {
		return DefaultTemperature
	}
	return math.Max(minTemperature, math.Min(maxTemperature, *t))
}

// flight is the request currently owned by the gateway.
type flight struct {
	handle   uuid.UUID
	cancel   context.CancelFunc
	provider providers.ID
	model    string
}

// Config configures a Gateway.
type Config struct {
	Transport Transport

	// BaseURLs overrides provider endpoint roots, e.g. a remote Ollama host
	BaseURLs map[providers.ID]string

	// InitialProvider defaults to ollama, the only provider without a key
	InitialProvider providers.ID

	Logger *utils.Logger
}

// Gateway routes chat requests to the selected provider, one at a time.
type Gateway struct {
	mu       sync.Mutex
	provider providers.ID
	apiKey   string
	inflight *flight
	closed   bool

	transport Transport
	baseURLs  map[providers.ID]string
	bus       *eventBus
	logger    *utils.Logger
	wg        sync.WaitGroup
}

// New creates a gateway in the Idle state.
func New(cfg Config) *Gateway {
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(defaultRequestTimeout)
	}
	if cfg.InitialProvider == "" {
		cfg.InitialProvider = providers.Ollama
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewLogger("gateway")
	}
	baseURLs := make(map[providers.ID]string, len(cfg.BaseURLs))
	for id, u := range cfg.BaseURLs {
		baseURLs[id] = u
	}

	return &Gateway{
		provider:  cfg.InitialProvider,
		transport: cfg.Transport,
		baseURLs:  baseURLs,
		bus:       newEventBus(),
		logger:    cfg.Logger,
	}
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it.
func (g *Gateway) Subscribe(fn Listener) func() {
	return g.bus.subscribe(fn)
}

// SetProvider selects the provider for the next Send. An in-flight request
// keeps running against the provider it was sent to.
func (g *Gateway) SetProvider(id providers.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.provider == id {
		return
	}
	g.provider = id
	g.logger.Info("provider changed", "provider", id)
	g.bus.publish(Event{Kind: ProviderChanged, Provider: id})
}

// CurrentProvider returns the selected provider.
func (g *Gateway) CurrentProvider() providers.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.provider
}

// SetAPIKey stores the key in memory only.
func (g *Gateway) SetAPIKey(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apiKey = key
}

// HasAPIKey reports whether a key is set, without exposing it.
func (g *Gateway) HasAPIKey() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apiKey != ""
}

// IsProcessing reports whether a request is in flight.
func (g *Gateway) IsProcessing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight != nil
}

// State returns Idle or Pending.
func (g *Gateway) State() State {
	if g.IsProcessing() {
		return Pending
	}
	return Idle
}

// AvailableModels lists the curated models of the selected provider.
func (g *Gateway) AvailableModels() []string {
	return providers.Models(g.CurrentProvider())
}

// AvailableProviders lists every provider in display order.
func (g *Gateway) AvailableProviders() []providers.ID {
	return providers.ListProviders()
}

// ProviderInfo returns the user-facing description of id.
func (g *Gateway) ProviderInfo(id providers.ID) string {
	return providers.Describe(id)
}

// ProviderRequiresAPIKey reports whether id needs a key.
func (g *Gateway) ProviderRequiresAPIKey(id providers.ID) bool {
	return providers.RequiresAPIKey(id)
}

// Send issues req against the selected provider. Rejections (not
// configured, busy, unsupported provider) are returned and also published
// as ErrorOccurred; the gateway stays in its current state. An accepted
// request returns nil and completes asynchronously through events.
func (g *Gateway) Send(req ChatRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if g.inflight != nil {
		return g.reject(providers.NewBusyError())
	}

	id := g.provider
	if providers.RequiresAPIKey(id) && g.apiKey == "" {
		return g.reject(providers.NewNotConfiguredError(id))
	}
	dialect, err := providers.NewDialect(id, g.baseURLs[id])
	if err != nil {
		return g.reject(err)
	}

	model := req.Model
	if model == "" {
		model = providers.DefaultModel(id)
	}
	env, err := dialect.BuildEnvelope(g.apiKey, model, clampTemperature(req.Temperature), req.messages())
	if err != nil {
		return g.reject(providers.NewTransportError(id, fmt.Sprintf("failed to build request: %v", err), false))
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{handle: uuid.New(), cancel: cancel, provider: id, model: model}
	g.inflight = f
	g.bus.publish(Event{Kind: ProcessingChanged, Processing: true})
	g.logger.Debug("request issued", "provider", id, "model", model, "handle", f.handle)

	g.wg.Add(1)
	go g.roundTrip(ctx, f, dialect, env)
	return nil
}

func (g *Gateway) reject(err error) error {
	g.logger.Debug("request rejected", "error", err)
	g.bus.publish(Event{Kind: ErrorOccurred, Text: err.Error(), Err: err})
	return err
}

func (g *Gateway) roundTrip(ctx context.Context, f *flight, dialect providers.Dialect, env *providers.Envelope) {
	defer g.wg.Done()
	resp, err := g.transport.RoundTrip(ctx, env)
	g.complete(f, dialect, resp, err)
}

// complete delivers the outcome of f unless f is no longer the current
// flight, in which case the completion is stale and dropped.
func (g *Gateway) complete(f *flight, dialect providers.Dialect, resp *Response, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight == nil || g.inflight.handle != f.handle {
		g.logger.Debug("discarding stale completion", "handle", f.handle)
		return
	}
	g.inflight.cancel()
	g.inflight = nil
	g.bus.publish(Event{Kind: ProcessingChanged, Processing: false})

	if err == nil && resp == nil {
		err = &TransportError{Err: errors.New("empty response")}
	}
	if err != nil {
		te := classifyError(err)
		g.fail(f, providers.NewTransportError(f.provider, te.Error(), te.Category == CategoryConnectionRefused))
		return
	}

	result, perr := dialect.ParseResponse(resp.Body)
	if perr != nil {
		if !resp.OK() && errors.Is(perr, providers.ErrMalformedResponse) {
			perr = providers.NewTransportError(f.provider, resp.statusText(), false)
		}
		g.fail(f, perr)
		return
	}

	g.logger.Debug("response received", "provider", f.provider, "model", f.model, "latency", resp.Latency)
	g.bus.publish(Event{Kind: ResponseReceived, Text: result.Text, Provider: f.provider, Model: f.model})
	if result.HasUsage() {
		g.bus.publish(Event{
			Kind:         TokensUsed,
			InputTokens:  utils.IntValue(result.InputTokens),
			OutputTokens: utils.IntValue(result.OutputTokens),
			Provider:     f.provider,
			Model:        f.model,
		})
	}
}

func (g *Gateway) fail(f *flight, err error) {
	g.logger.Warn("request failed", "provider", f.provider, "model", f.model, "error", err)
	g.bus.publish(Event{Kind: ErrorOccurred, Text: err.Error(), Err: err, Provider: f.provider, Model: f.model})
}

// abort cancels the in-flight request and returns to Idle. Its eventual
// completion is discarded.
func (g *Gateway) abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == nil {
		return
	}
	g.logger.Debug("aborting request", "handle", g.inflight.handle)
	g.inflight.cancel()
	g.inflight = nil
	g.bus.publish(Event{Kind: ProcessingChanged, Processing: false})
}

// Close aborts any in-flight request, waits for transport goroutines and
// flushes pending events. It must not be called from a listener.
func (g *Gateway) Close() error {
	g.abort()

	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.wg.Wait()
	g.bus.close()
	return nil
}

func (r *Response) statusText() string {
	if r.Status != "" {
		return "HTTP " + r.Status
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}
