package providers

// DialectCreator builds a dialect for the given base URL. An empty base URL
// selects the provider's public endpoint.
type DialectCreator func(baseURL string) Dialect

var creators = map[ID]DialectCreator{
	OpenAI: func(baseURL string) Dialect {
		return newOpenAICompatible(OpenAI, orDefault(baseURL, openAIBaseURL))
	},
	DeepSeek: func(baseURL string) Dialect {
		return newOpenAICompatible(DeepSeek, orDefault(baseURL, deepSeekBaseURL))
	},
	Groq: func(baseURL string) Dialect {
		return newOpenAICompatible(Groq, orDefault(baseURL, groqBaseURL))
	},
	Anthropic: func(baseURL string) Dialect {
		return newAnthropicDialect(orDefault(baseURL, anthropicBaseURL))
	},
	Gemini: func(baseURL string) Dialect {
		return newGeminiDialect(orDefault(baseURL, geminiBaseURL))
	},
	Ollama: func(baseURL string) Dialect {
		return newOllamaDialect(orDefault(baseURL, ollamaBaseURL))
	},
}

// NewDialect returns the wire dialect for id. Unknown ids yield an
// UnsupportedProvider error.
func NewDialect(id ID, baseURL string) (Dialect, error) {
	creator, ok := creators[id]
	if !ok {
		return nil, NewUnsupportedProviderError(id)
	}
	return creator(baseURL), nil
}

// DefaultBaseURL returns the public endpoint root for id, or "" when unknown.
func DefaultBaseURL(id ID) string {
	switch id {
	case OpenAI:
		return openAIBaseURL
	case DeepSeek:
		return deepSeekBaseURL
	case Groq:
		return groqBaseURL
	case Anthropic:
		return anthropicBaseURL
	case Gemini:
		return geminiBaseURL
	case Ollama:
		return ollamaBaseURL
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
