package providers

import (
	"encoding/json"
	"net/url"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiDialect struct {
	baseURL string
}

func newGeminiDialect(baseURL string) *geminiDialect {
	return &geminiDialect{baseURL: baseURL}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error json.RawMessage `json:"error"`
}

func (d *geminiDialect) Provider() ID {
	return Gemini
}

// geminiRole maps neutral roles onto the two roles generateContent accepts.
// System turns are sent as user turns.
func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

// BuildEnvelope builds a models/<model>:generateContent call with the key
// in the query string.
func (d *geminiDialect) BuildEnvelope(apiKey, model string, temperature float64, messages []Message) (*Envelope, error) {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, geminiContent{
			Role:  geminiRole(m.Role),
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	endpoint := d.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	env, err := newEnvelope(endpoint, geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := NewQueryKeyAuth(apiKey, "key").Apply(env); err != nil {
		return nil, err
	}
	return env, nil
}

// ParseResponse extracts candidates[0].content.parts[0].text. Gemini usage
// metadata is not reported.
func (d *geminiDialect) ParseResponse(body []byte) (*Result, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedResponseError(Gemini)
	}
	if msg, ok := errorMessage(resp.Error); ok {
		return nil, NewProviderError(Gemini, msg)
	}
	if len(resp.Candidates) == 0 ||
		len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == nil {
		return nil, NewMalformedResponseError(Gemini)
	}
	return &Result{Text: *resp.Candidates[0].Content.Parts[0].Text}, nil
}
