package providers

import "encoding/json"

const ollamaBaseURL = "http://localhost:11434"

type ollamaDialect struct {
	baseURL string
}

func newOllamaDialect(baseURL string) *ollamaDialect {
	return &ollamaDialect{baseURL: baseURL}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	Error json.RawMessage `json:"error"`
}

func (d *ollamaDialect) Provider() ID {
	return Ollama
}

// BuildEnvelope builds an unauthenticated /api/chat call
func (d *ollamaDialect) BuildEnvelope(_ string, model string, temperature float64, messages []Message) (*Envelope, error) {
	env, err := newEnvelope(d.baseURL+"/api/chat", ollamaRequest{
		Model:    model,
		Messages: nonNil(messages),
		Stream:   false,
		Options:  ollamaOptions{Temperature: temperature},
	})
	if err != nil {
		return nil, err
	}
	if err := (NoAuth{}).Apply(env); err != nil {
		return nil, err
	}
	return env, nil
}

// ParseResponse extracts message.content. Ollama reports errors as a bare
// string in the error member.
func (d *ollamaDialect) ParseResponse(body []byte) (*Result, error) {
	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedResponseError(Ollama)
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return nil, NewProviderError(Ollama, msg)
	}
	if resp.Message == nil || resp.Message.Content == nil {
		return nil, NewMalformedResponseError(Ollama)
	}
	return &Result{Text: *resp.Message.Content}, nil
}
