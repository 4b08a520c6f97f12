package gateway

import (
	"sync"

	"moxie_companion/internal/providers"
)

// EventKind names an observable gateway event.
type EventKind int

const (
	ResponseReceived EventKind = iota + 1
	ErrorOccurred
	ProcessingChanged
	ProviderChanged
	TokensUsed
)

func (k EventKind) String() string {
	switch k {
	case ResponseReceived:
		return "responseReceived"
	case ErrorOccurred:
		return "errorOccurred"
	case ProcessingChanged:
		return "isProcessingChanged"
	case ProviderChanged:
		return "currentProviderChanged"
	case TokensUsed:
		return "tokensUsed"
	}
	return "unknown"
}

// Event is a tagged variant; only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// ResponseReceived and ErrorOccurred
	Text string
	Err  error

	// TokensUsed
	InputTokens  int
	OutputTokens int

	// ProcessingChanged
	Processing bool

	// ProviderChanged, and the provider that served a result
	Provider providers.ID
	Model    string
}

// Listener receives events on the gateway's dispatch goroutine. Listeners
// must not block for long; they may call back into the gateway.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// eventBus delivers events in publish order from a single goroutine.
type eventBus struct {
	mu        sync.Mutex
	cond      *sync.Cond
	pending   []Event
	listeners []subscription
	nextID    int
	closed    bool
	done      chan struct{}
}

func newEventBus() *eventBus {
	b := &eventBus{done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

func (b *eventBus) subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.listeners {
			if s.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = append(b.pending, e)
	b.cond.Signal()
}

func (b *eventBus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		e := b.pending[0]
		b.pending = b.pending[1:]
		listeners := append([]subscription(nil), b.listeners...)
		b.mu.Unlock()

		for _, s := range listeners {
			s.fn(e)
		}
	}
}

// close stops accepting events, delivers what is queued and waits for the
// dispatcher to exit. It must not be called from a listener.
func (b *eventBus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}
