package domain

// Document is a retrieved knowledge snippet. The base fields are set once by
// the search client; pipeline stages annotate copies via WithScore/WithMeta
// instead of mutating shared state.
type Document struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
	// Source records which expanded query produced this document.
	Source string
}

// Annotation keys written by pipeline stages.
const (
	MetaFusedRank     = "fused_rank"
	MetaFusedScore    = "fused_score"
	MetaRerankedScore = "reranked_score"
)

// WithScore returns a copy of the document with a replaced score.
func (d Document) WithScore(score float64) Document {
	d.Score = score
	return d
}

// WithMeta returns a copy of the document with an added metadata entry.
// The metadata map is cloned so stages never share mutable state.
func (d Document) WithMeta(key string, value any) Document {
	meta := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta[key] = value
	d.Metadata = meta
	return d
}

// RankedList is an ordered sequence of documents; rank is the 1-based position.
type RankedList []Document
