// Package assemble packs ranked documents into a context block bounded by
// a token budget. Inclusion is a strict prefix of the ranked order: the
// first document that would overflow the budget stops packing, even when a
// later, smaller document would still fit. Rank order wins over packing
// efficiency.
package assemble

import (
	"strings"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// counter is the consumer interface for token counting (ISP).
type counter interface {
	Count(text string) int
}

// Assembler joins document bodies under a token budget.
type Assembler struct {
	counter   counter
	budget    int
	separator string
	sepTokens int
}

// New creates an assembler. The separator's token cost is charged between
// every pair of included documents, not before the first.
func New(c counter, budget int, separator string) *Assembler {
	return &Assembler{
		counter:   c,
		budget:    budget,
		separator: separator,
		sepTokens: c.Count(separator),
	}
}

// Assemble returns the joined context text and the documents it includes.
// Empty input yields an empty string. Documents are never truncated;
// partial inclusion would break mid-sentence and mislead the model.
func (a *Assembler) Assemble(docs domain.RankedList) (string, domain.RankedList) {
	if len(docs) == 0 {
		return "", nil
	}

	var (
		parts    []string
		included domain.RankedList
		running  int
	)

	for _, doc := range docs {
		cost := a.counter.Count(doc.Content)
		if len(parts) > 0 {
			cost += a.sepTokens
		}
		if running+cost > a.budget {
			break
		}
		running += cost
		parts = append(parts, doc.Content)
		included = append(included, doc)
	}

	return strings.Join(parts, a.separator), included
}
