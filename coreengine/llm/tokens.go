package llm

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting backed by a tiktoken codec. It is
// used by the context builders for prompt budgeting and by read_code's
// per-file token cap, instead of a rune/byte heuristic.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter. Claude tokenization is
// approximated with the GPT-4 encoding; the bound tables leave headroom for
// the approximation error.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, err
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text. Falls back to a 4-chars-per-
// token estimate if the codec fails.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// WithinLimit checks if text fits in the given token budget.
func (tc *TokenCounter) WithinLimit(text string, limit int) bool {
	return tc.Count(text) <= limit
}
