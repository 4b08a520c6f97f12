package providers

import "fmt"

// OllamaOfflineMessage replaces the raw transport error when the local
// Ollama daemon refuses the connection.
const OllamaOfflineMessage = "Cannot connect to Ollama. Please ensure Ollama is installed and running."

// ErrorKind classifies gateway failures.
type ErrorKind int

const (
	NotConfigured ErrorKind = iota + 1
	Busy
	UnsupportedProvider
	TransportFailure
	ProviderError
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case NotConfigured:
		return "not_configured"
	case Busy:
		return "busy"
	case UnsupportedProvider:
		return "unsupported_provider"
	case TransportFailure:
		return "transport_failure"
	case ProviderError:
		return "provider_error"
	case MalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Error is a classified gateway failure. Error() yields the message shown
// to the user.
type Error struct {
	Kind     ErrorKind
	Provider ID
	Detail   string

	// message, when set, replaces the rendered text
	message string
}

// Sentinels for errors.Is; only the kind is compared.
var (
	ErrNotConfigured       = &Error{Kind: NotConfigured}
	ErrBusy                = &Error{Kind: Busy}
	ErrUnsupportedProvider = &Error{Kind: UnsupportedProvider}
	ErrTransportFailure    = &Error{Kind: TransportFailure}
	ErrProviderError       = &Error{Kind: ProviderError}
	ErrMalformedResponse   = &Error{Kind: MalformedResponse}
)

func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	switch e.Kind {
	case NotConfigured:
		return fmt.Sprintf("API key not configured for %s", e.Provider)
	case Busy:
		return "Already processing a request"
	case UnsupportedProvider:
		return fmt.Sprintf("Unsupported provider: %s", e.Provider)
	case TransportFailure:
		return "Network error: " + e.Detail
	case ProviderError:
		if e.Provider == Ollama {
			return "Ollama Error: " + e.Detail
		}
		return "API Error: " + e.Detail
	case MalformedResponse:
		if e.Provider == Ollama {
			return "Invalid response format from Ollama"
		}
		return "Invalid response format"
	}
	return "Unknown error"
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func NewNotConfiguredError(id ID) *Error {
	return &Error{Kind: NotConfigured, Provider: id}
}

func NewBusyError() *Error {
	return &Error{Kind: Busy}
}

func NewUnsupportedProviderError(id ID) *Error {
	return &Error{Kind: UnsupportedProvider, Provider: id}
}

// NewTransportError wraps a network failure. When the local Ollama daemon
// refused the connection the canonical offline message is used instead.
func NewTransportError(id ID, detail string, refused bool) *Error {
	e := &Error{Kind: TransportFailure, Provider: id, Detail: detail}
	if id == Ollama && refused {
		e.message = OllamaOfflineMessage
	}
	return e
}

func NewProviderError(id ID, message string) *Error {
	return &Error{Kind: ProviderError, Provider: id, Detail: message}
}

func NewMalformedResponseError(id ID) *Error {
	return &Error{Kind: MalformedResponse, Provider: id}
}
