package providers

import (
	"encoding/json"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	// maxOutputTokens caps replies for providers that require a limit.
	maxOutputTokens = 4096
)

type anthropicDialect struct {
	baseURL string
}

func newAnthropicDialect(baseURL string) *anthropicDialect {
	return &anthropicDialect{baseURL: baseURL}
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
	Error json.RawMessage `json:"error"`
}

func (d *anthropicDialect) Provider() ID {
	return Anthropic
}

// BuildEnvelope builds a /messages call. The Messages API rejects a system
// role inside messages, so system turns are joined into the top-level
// system field.
func (d *anthropicDialect) BuildEnvelope(apiKey, model string, temperature float64, messages []Message) (*Envelope, error) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	env, err := newEnvelope(d.baseURL+"/messages", anthropicRequest{
		Model:       model,
		Messages:    turns,
		MaxTokens:   maxOutputTokens,
		Temperature: temperature,
		System:      strings.Join(system, "\n\n"),
	})
	if err != nil {
		return nil, err
	}
	env.Header.Set("anthropic-version", anthropicVersion)
	if err := NewHeaderKeyAuth(apiKey, "x-api-key").Apply(env); err != nil {
		return nil, err
	}
	return env, nil
}

// ParseResponse extracts content[0].text and usage
func (d *anthropicDialect) ParseResponse(body []byte) (*Result, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedResponseError(Anthropic)
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return nil, NewProviderError(Anthropic, msg)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return nil, NewMalformedResponseError(Anthropic)
	}

	result := &Result{Text: *resp.Content[0].Text}
	if resp.Usage != nil {
		result.InputTokens = resp.Usage.InputTokens
		result.OutputTokens = resp.Usage.OutputTokens
	}
	return result, nil
}
