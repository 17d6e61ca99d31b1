// Package expand produces paraphrased variants of a search query through a
// single generative call. Retrieval over several phrasings of the same
// question compensates for embedding sensitivity to wording.
package expand

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
)

const instruction = "Produce %d alternative phrasings of the user's search query. " +
	"Keep the same language as the query. " +
	"Output one phrasing per line with no numbering and no commentary."

// chatModel is the consumer interface for the generative backend (ISP).
type chatModel interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// Expander paraphrases queries.
type Expander struct {
	model  chatModel
	n      int
	tier   domain.Tier
	logger *zap.Logger
}

// New creates an expander that requests n variants per query using the
// given capability tier. Expansion quality matters less than latency, so
// the fast tier is the usual choice.
func New(model chatModel, n int, tier domain.Tier, logger *zap.Logger) *Expander {
	return &Expander{model: model, n: n, tier: tier, logger: logger}
}

// Expand returns the original query followed by up to n paraphrases. The
// original is always first. A model that returns fewer lines, or junk,
// shrinks the result rather than failing it. The generative call itself
// failing returns domain.ErrExpansion; the caller chooses the fallback.
func (e *Expander) Expand(ctx context.Context, query string) ([]string, error) {
	if e.n <= 0 {
		return []string{query}, nil
	}

	resp, err := e.model.Chat(ctx, domain.ChatRequest{
		System: fmt.Sprintf(instruction, e.n),
		Prompt: query,
		Tier:   e.tier,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExpansion, err)
	}

	variants := parseVariants(resp.Text, query, e.n)
	e.logger.Debug("Query expanded",
		zap.String("query", query),
		zap.Int("variants", len(variants)),
	)

	return append([]string{query}, variants...), nil
}

// parseVariants extracts up to n usable paraphrases from the model output:
// non-empty trimmed lines, minus any that collapse to the original query.
func parseVariants(text, original string, n int) []string {
	var variants []string
	lower := strings.ToLower(strings.TrimSpace(original))

	for _, line := range strings.Split(text, "\n") {
		line = stripListMarker(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if strings.ToLower(line) == lower {
			continue
		}
		variants = append(variants, line)
		if len(variants) == n {
			break
		}
	}
	return variants
}

// stripListMarker removes leading numbering or bullets the model may emit
// despite the instruction ("1. ", "2)", "- ", "* ").
func stripListMarker(line string) string {
	s := line
	i := 0
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		s = s[i+1:]
	} else if len(s) > 1 && (s[0] == '-' || s[0] == '*') && s[1] == ' ' {
		s = s[1:]
	}
	return strings.TrimSpace(s)
}
