package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"moxie_companion/internal/providers"
)

const defaultRequestTimeout = 120 * time.Second

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
	Latency    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport issues a single provider call. Implementations must honour ctx
// cancellation.
type Transport interface {
	RoundTrip(ctx context.Context, env *providers.Envelope) (*Response, error)
}

// ErrorCategory classifies transport failures.
type ErrorCategory int

const (
	CategoryOther ErrorCategory = iota
	CategoryConnectionRefused
	CategoryTimeout
	CategoryCanceled
)

// TransportError is returned by transports for failed exchanges.
type TransportError struct {
	Category ErrorCategory
	Err      error
}

func (e *TransportError) Error() string {
	switch e.Category {
	case CategoryConnectionRefused:
		return "Connection refused"
	case CategoryTimeout:
		return "Operation timed out"
	case CategoryCanceled:
		return "Operation canceled"
	}
	if e.Err == nil {
		return "unknown transport error"
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyError maps an arbitrary client error onto a TransportError. The
// request URL is stripped from *url.Error so query-string keys never reach
// user-visible messages.
func classifyError(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	inner := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		inner = urlErr.Err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &TransportError{Category: CategoryConnectionRefused, Err: inner}
	case errors.Is(err, context.Canceled):
		return &TransportError{Category: CategoryCanceled, Err: inner}
	case errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Category: CategoryTimeout, Err: inner}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &TransportError{Category: CategoryTimeout, Err: inner}
	}
	return &TransportError{Category: CategoryOther, Err: inner}
}

// HTTPTransport sends envelopes with net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport whose requests time out after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// RoundTrip sends env and reads the whole response body.
func (t *HTTPTransport) RoundTrip(ctx context.Context, env *providers.Envelope) (*Response, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, env.Method, env.URL, bytes.NewReader(env.Body))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to create request: %w", stripURL(err))}
	}
	for name, values := range env.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
		Latency:    time.Since(start),
	}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
