package providers

import (
	"fmt"
	"net/url"
	"strings"
)

// Authenticator applies provider credentials to an envelope.
type Authenticator interface {
	Apply(env *Envelope) error
}

// HeaderKeyAuth puts the API key in a request header (OpenAI, Anthropic).
type HeaderKeyAuth struct {
	apiKey     string
	headerName string // e.g., "Authorization"
	prefix     string // e.g., "Bearer "
}

// NewBearerAuth creates an Authorization: Bearer authenticator
func NewBearerAuth(apiKey string) *HeaderKeyAuth {
	return &HeaderKeyAuth{apiKey: apiKey, headerName: "Authorization", prefix: "Bearer "}
}

// NewHeaderKeyAuth creates an authenticator for a raw key header such as x-api-key
func NewHeaderKeyAuth(apiKey, headerName string) *HeaderKeyAuth {
	return &HeaderKeyAuth{apiKey: apiKey, headerName: headerName}
}

// Apply sets the key header
func (a *HeaderKeyAuth) Apply(env *Envelope) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	env.Header.Set(a.headerName, a.prefix+a.apiKey)
	return nil
}

// QueryKeyAuth appends the API key as a query parameter (Gemini).
type QueryKeyAuth struct {
	apiKey string
	param  string
}

// NewQueryKeyAuth creates a query-string authenticator
func NewQueryKeyAuth(apiKey, param string) *QueryKeyAuth {
	return &QueryKeyAuth{apiKey: apiKey, param: param}
}

// Apply appends param=key to the envelope URL
func (a *QueryKeyAuth) Apply(env *Envelope) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	sep := "?"
	if strings.Contains(env.URL, "?") {
		sep = "&"
	}
	env.URL += sep + a.param + "=" + url.QueryEscape(a.apiKey)
	return nil
}

// NoAuth is used by local providers.
type NoAuth struct{}

// Apply does nothing
func (NoAuth) Apply(*Envelope) error { return nil }
