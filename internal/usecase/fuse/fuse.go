// Package fuse merges independently ranked retrieval lists into one global
// ranking via Reciprocal Rank Fusion. Raw similarity scores are never
// compared across lists; only ranks matter, which makes fusion safe across
// sources with incomparable score scales.
package fuse

import (
	"sort"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// Engine fuses ranked lists.
type Engine struct {
	k int
}

// New creates a fusion engine with the standard smoothing constant.
func New() *Engine {
	return &Engine{k: rrfK}
}

// Fuse merges the lists by document identity.
// score(d) = sum of 1/(k + rank_i(d)) for each list where d appears, rank 1-based.
// Output is sorted by descending fused score; ties keep first-seen order.
// Every document carries its fused rank and score as metadata annotations.
func (e *Engine) Fuse(lists []domain.RankedList) domain.RankedList {
	type scored struct {
		doc   domain.Document
		score float64
		seen  int
	}

	merged := make(map[string]*scored)
	order := 0

	for _, list := range lists {
		for i, doc := range list {
			rank := i + 1
			s := 1.0 / float64(e.k+rank)
			if existing, ok := merged[doc.ID]; ok {
				existing.score += s
				// The kept instance is the first seen; duplicates only
				// contribute score.
			} else {
				merged[doc.ID] = &scored{doc: doc, score: s, seen: order}
				order++
			}
		}
	}

	if len(merged) == 0 {
		return nil
	}

	entries := make([]*scored, 0, len(merged))
	for _, s := range merged {
		entries = append(entries, s)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].seen < entries[j].seen
	})

	fused := make(domain.RankedList, 0, len(entries))
	for i, s := range entries {
		doc := s.doc.
			WithScore(s.score).
			WithMeta(domain.MetaFusedRank, i+1)
		doc = doc.WithMeta(domain.MetaFusedScore, s.score)
		fused = append(fused, doc)
	}
	return fused
}
