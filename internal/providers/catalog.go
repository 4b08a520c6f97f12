package providers

// Info is an immutable catalog entry.
type Info struct {
	ID             ID
	DisplayName    string
	RequiresAPIKey bool
	DefaultModel   string
	Models         []string
	Description    string
}

var catalog = map[ID]Info{
	Ollama: {
		ID:             Ollama,
		DisplayName:    "Ollama",
		RequiresAPIKey: false,
		DefaultModel:   "llama3.2",
		Models:         []string{"llama3.2", "llama3.1", "mistral", "phi3", "gemma2", "qwen2.5"},
		Description:    "100% FREE - Runs locally on your computer. Install from https://ollama.ai",
	},
	Groq: {
		ID:             Groq,
		DisplayName:    "GroqCloud",
		RequiresAPIKey: true,
		DefaultModel:   "llama-3.3-70b-versatile",
		Models:         []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768", "gemma2-9b-it"},
		Description:    "FREE tier: 14,400 requests/day. Ultra-fast inference. Get key at https://console.groq.com",
	},
	Gemini: {
		ID:             Gemini,
		DisplayName:    "Gemini",
		RequiresAPIKey: true,
		DefaultModel:   "gemini-1.5-flash",
		Models:         []string{"gemini-2.0-flash-exp", "gemini-1.5-pro", "gemini-1.5-flash"},
		Description:    "FREE tier: 15 requests/minute. Get key at https://aistudio.google.com/apikey",
	},
	DeepSeek: {
		ID:             DeepSeek,
		DisplayName:    "DeepSeek",
		RequiresAPIKey: true,
		DefaultModel:   "deepseek-chat",
		Models:         []string{"deepseek-chat", "deepseek-coder", "deepseek-reasoner"},
		Description:    "Very affordable pricing. Get key at https://platform.deepseek.com",
	},
	OpenAI: {
		ID:             OpenAI,
		DisplayName:    "OpenAI",
		RequiresAPIKey: true,
		DefaultModel:   "gpt-4o",
		Models:         []string{"gpt-4o", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"},
		Description:    "Industry standard. Pay-as-you-go. Get key at https://platform.openai.com/api-keys",
	},
	Anthropic: {
		ID:             Anthropic,
		DisplayName:    "Anthropic",
		RequiresAPIKey: true,
		DefaultModel:   "claude-3-5-sonnet-20241022",
		Models:         []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
		Description:    "Claude models. Pay-as-you-go. Get key at https://console.anthropic.com",
	},
}

// Free options first, then paid.
var order = []ID{Ollama, Groq, Gemini, DeepSeek, OpenAI, Anthropic}

// ListProviders returns every provider id in display order.
func ListProviders() []ID {
	out := make([]ID, len(order))
	copy(out, order)
	return out
}

// Lookup returns the catalog entry for id.
func Lookup(id ID) (Info, bool) {
	info, ok := catalog[id]
	if !ok {
		return Info{}, false
	}
	info.Models = append([]string(nil), info.Models...)
	return info, true
}

// Known reports whether id is in the catalog.
func Known(id ID) bool {
	_, ok := catalog[id]
	return ok
}

// RequiresAPIKey is true for every id except ollama.
func RequiresAPIKey(id ID) bool {
	return id != Ollama
}

// DefaultModel returns the default model for id, or "" when unknown.
func DefaultModel(id ID) string {
	return catalog[id].DefaultModel
}

// Describe returns the user-facing info string for id.
func Describe(id ID) string {
	if info, ok := catalog[id]; ok {
		return info.Description
	}
	return "Unknown provider"
}

// Models returns the curated model list for id.
func Models(id ID) []string {
	return append([]string(nil), catalog[id].Models...)
}

// DisplayName returns the human-readable provider name.
func DisplayName(id ID) string {
	if info, ok := catalog[id]; ok {
		return info.DisplayName
	}
	return string(id)
}
