package providers

import (
	"encoding/json"
	"net/http"
)

// ID identifies one of the supported chat providers.
type ID string

const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	Gemini    ID = "gemini"
	DeepSeek  ID = "deepseek"
	Ollama    ID = "ollama"
	Groq      ID = "groq"
)

// Role is the author of a neutral chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a provider-independent chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Envelope is everything needed to issue one HTTP call to a provider.
type Envelope struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func newEnvelope(url string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &Envelope{
		Method: http.MethodPost,
		URL:    url,
		Header: header,
		Body:   body,
	}, nil
}

// Result is a parsed assistant reply. Token counts are nil when the
// provider did not report usage.
type Result struct {
	Text         string
	InputTokens  *int
	OutputTokens *int
}

// HasUsage reports whether both token counts are known.
func (r *Result) HasUsage() bool {
	return r.InputTokens != nil && r.OutputTokens != nil
}

// Dialect converts neutral requests to a provider's wire format and parses
// the provider's replies.
type Dialect interface {
	// Provider returns the provider this dialect speaks for
	Provider() ID

	// BuildEnvelope produces the HTTP call for a chat request
	BuildEnvelope(apiKey, model string, temperature float64, messages []Message) (*Envelope, error)

	// ParseResponse converts a raw response body into a Result or an *Error
	ParseResponse(body []byte) (*Result, error)
}
