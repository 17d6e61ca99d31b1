// Package rerank re-scores a fused document list with a keyword overlap
// boost. The heuristic is deterministic and makes no external calls, so it
// is cheap enough to run on every request when enabled.
package rerank

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// Reranker boosts documents that literally mention the query's keywords.
// Disabled by default; when disabled the input passes through unchanged.
type Reranker struct {
	weight  float64
	enabled bool
}

// New creates a reranker. weight is the score boost per keyword occurrence.
func New(weight float64, enabled bool) *Reranker {
	return &Reranker{weight: weight, enabled: enabled}
}

// Rerank re-sorts the list by boosted score, capped at 1.0. Each re-scored
// document carries its new score as a metadata annotation. Ties keep their
// incoming order.
func (r *Reranker) Rerank(docs domain.RankedList, query string) domain.RankedList {
	if !r.enabled || len(docs) == 0 {
		return docs
	}

	keywords := tokenize(query)
	if len(keywords) == 0 {
		return docs
	}

	out := make(domain.RankedList, len(docs))
	for i, doc := range docs {
		boost := float64(countOccurrences(doc.Content, keywords)) * r.weight
		score := doc.Score + boost
		if score > 1.0 {
			score = 1.0
		}
		out[i] = doc.WithScore(score).WithMeta(domain.MetaRerankedScore, score)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// tokenize splits text into lowercase keywords, dropping punctuation.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c)
	})
}

func countOccurrences(content string, keywords []string) int {
	words := tokenize(content)
	count := 0
	for _, w := range words {
		for _, k := range keywords {
			if w == k {
				count++
				break
			}
		}
	}
	return count
}
