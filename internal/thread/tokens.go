package thread

import "unicode/utf8"

// Token estimation for the cache-anchor policy. The heuristic is calibrated
// for Claude's tokenizer (~4 characters per token); an exact count from an
// upstream tokenizer can be installed with SetTokenCount.

const charsPerToken = 4

// EstimateTokens estimates the token count of a string.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return utf8.RuneCountInString(s) / charsPerToken
}

// CountTokens re-estimates the document's token count from its current text
// and returns it.
func (t *Thread) CountTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokenCount = EstimateTokens(t.buffer.Text())
	return t.tokenCount
}

// SetTokenCount overrides the estimated count with an exact one.
func (t *Thread) SetTokenCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokenCount = count
}

// TokenCount returns the current token count.
func (t *Thread) TokenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokenCount
}
