package cost

import "strings"

// rate is one row of the pricing table. A row matches when the lowercased
// model identifier contains any of its substrings.
type rate struct {
	substrings []string
	usdPer1K   float64
}

// pricing is evaluated top to bottom; the first matching row wins.
var pricing = []rate{
	{substrings: []string{"gpt-4"}, usdPer1K: 0.030},
	{substrings: []string{"gpt-3.5"}, usdPer1K: 0.002},
	{substrings: []string{"claude-3-opus"}, usdPer1K: 0.015},
	{substrings: []string{"claude-3-sonnet", "claude-3-5"}, usdPer1K: 0.003},
	{substrings: []string{"deepseek"}, usdPer1K: 0.0002},
	{substrings: []string{"llama", "ollama", "groq"}, usdPer1K: 0.0},
	{substrings: []string{"gemini"}, usdPer1K: 0.0},
}

// RatePer1K returns the USD price per 1000 tokens for model.
// Unknown models are free.
func RatePer1K(model string) float64 {
	m := strings.ToLower(model)
	for _, r := range pricing {
		for _, s := range r.substrings {
			if strings.Contains(m, s) {
				return r.usdPer1K
			}
		}
	}
	return 0.0
}

// Estimate returns the estimated cost in USD of tokens for model.
func Estimate(tokens int, model string) float64 {
	if tokens <= 0 {
		return 0.0
	}
	return RatePer1K(model) * float64(tokens) / 1000.0
}
