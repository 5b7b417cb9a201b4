// Package tokenbudget estimates and enforces the token budget an embedding
// model's context window imposes on input text.
//
// A proper tokenizer (tiktoken, sentencepiece) isn't in the dependency pack
// for any provider this module talks to; see DESIGN.md for why this stays a
// deliberately simple chars-per-token estimator (4 bytes per token) rather
// than reaching for a
// standalone tokenizer library.
package tokenbudget

import "strings"

// charsPerToken approximates English prose/code at ~4 characters per token,
// the commonly cited rule of thumb for GPT-family tokenizers.
const charsPerToken = 4

// Estimate returns the approximate token count of text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Truncate shortens text so Estimate(result) <= maxTokens, cutting on a
// whitespace boundary where possible to avoid splitting a word mid-token.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return cut
}

// Budget returns the usable token count for a context window of size
// contextWindow, reserving (1-factor) of it for the model's response and
// system overhead.
func Budget(contextWindow int, factor float64) int {
	if factor <= 0 || factor > 1 {
		factor = 0.95
	}
	return int(float64(contextWindow) * factor)
}
