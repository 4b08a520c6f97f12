package providers

import (
	"encoding/json"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"
	groqBaseURL     = "https://api.groq.com/openai/v1"
)

// openAICompatible speaks the chat-completions dialect shared by OpenAI,
// DeepSeek and Groq. Only the endpoint root differs.
type openAICompatible struct {
	id      ID
	baseURL string
}

func newOpenAICompatible(id ID, baseURL string) *openAICompatible {
	return &openAICompatible{id: id, baseURL: baseURL}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
	} `json:"usage"`
	Error json.RawMessage `json:"error"`
}

// Provider returns the provider ID
func (d *openAICompatible) Provider() ID {
	return d.id
}

// BuildEnvelope builds a /chat/completions call
func (d *openAICompatible) BuildEnvelope(apiKey, model string, temperature float64, messages []Message) (*Envelope, error) {
	env, err := newEnvelope(d.baseURL+"/chat/completions", openAIRequest{
		Model:       model,
		Messages:    nonNil(messages),
		Temperature: temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, err
	}
	if err := NewBearerAuth(apiKey).Apply(env); err != nil {
		return nil, err
	}
	return env, nil
}

// ParseResponse extracts choices[0].message.content and usage
func (d *openAICompatible) ParseResponse(body []byte) (*Result, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedResponseError(d.id)
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return nil, NewProviderError(d.id, msg)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return nil, NewMalformedResponseError(d.id)
	}

	result := &Result{Text: *resp.Choices[0].Message.Content}
	if resp.Usage != nil {
		result.InputTokens = resp.Usage.PromptTokens
		result.OutputTokens = resp.Usage.CompletionTokens
	}
	return result, nil
}

// errorMessage reports the message of a top-level error member. Objects
// yield their "message" field; bare strings are returned as is.
func errorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message, true
	}
	return string(raw), true
}

// nonNil keeps empty histories encoding as [] rather than null.
func nonNil(messages []Message) []Message {
	if messages == nil {
		return []Message{}
	}
	return messages
}
