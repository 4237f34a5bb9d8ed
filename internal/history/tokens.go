package history

import "strings"

// TokenCounter computes the token cost of a piece of text. It must be pure
// and deterministic; budgets and eviction depend on stable answers.
type TokenCounter func(string) int

// EstimateTokens approximates a GPT-style tokenizer without calling one:
// words run about 1.33 tokens each, and no text is cheaper than one token
// per four bytes.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	est := int(float64(words) * 1.33)
	if min := len(text) / 4; est < min {
		est = min
	}
	if est < 1 {
		est = 1
	}
	return est
}
