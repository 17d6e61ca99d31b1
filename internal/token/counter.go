// Package token counts model tokens for text spans using a fixed BPE
// encoding. Counts are memoized because the same document bodies recur
// across many context-assembly calls.
package token

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kailas-cloud/raglet/internal/cache"
)

// DefaultEncoding matches the tokenizer of current OpenAI chat and
// embedding models.
const DefaultEncoding = "cl100k_base"

const defaultMemoSize = 4096

// Counter reports deterministic token counts for arbitrary text.
type Counter struct {
	encode func(string) []int
	memo   *cache.LRU
}

// NewCounter builds a Counter for the named encoding. An empty encoding
// name selects DefaultEncoding.
func NewCounter(encoding string, memoSize int) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return newCounter(func(s string) []int {
		return enc.Encode(s, nil, nil)
	}, memoSize), nil
}

func newCounter(encode func(string) []int, memoSize int) *Counter {
	if memoSize <= 0 {
		memoSize = defaultMemoSize
	}
	return &Counter{
		encode: encode,
		memo:   cache.NewLRU(memoSize, 0),
	}
}

// Count returns the number of tokens in text. Empty input counts as zero.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if v, ok := c.memo.Get(text); ok {
		return v.(int)
	}
	n := len(c.encode(text))
	c.memo.Set(text, n)
	return n
}
