package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fieldEncoder approximates tokenization by whitespace splitting so tests
// do not depend on BPE vocabulary files.
func fieldEncoder(calls *int) func(string) []int {
	return func(s string) []int {
		*calls++
		fields := strings.Fields(s)
		out := make([]int, len(fields))
		return out
	}
}

func TestCount_Empty(t *testing.T) {
	var calls int
	c := newCounter(fieldEncoder(&calls), 16)

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 0, calls, "empty input should not hit the encoder")
}

func TestCount_Basic(t *testing.T) {
	var calls int
	c := newCounter(fieldEncoder(&calls), 16)

	assert.Equal(t, 3, c.Count("one two three"))
}

func TestCount_Memoized(t *testing.T) {
	var calls int
	c := newCounter(fieldEncoder(&calls), 16)

	first := c.Count("the same span")
	second := c.Count("the same span")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "repeat counts should come from the memo")
}

func TestCount_UnicodeSafe(t *testing.T) {
	var calls int
	c := newCounter(fieldEncoder(&calls), 16)

	inputs := []string{
		"héllo wörld",
		"日本語のテキスト",
		"emoji \U0001F600 input",
		strings.Repeat("a", 10_000),
	}
	for _, in := range inputs {
		assert.GreaterOrEqual(t, c.Count(in), 0, "count for %q", in)
	}
}
