package request

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/kailas-cloud/raglet/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultTopK    = 10
	MaxTopK        = 100
)

// Request is a validated similarity search query. It doubles as the result
// cache key via Normalized/CacheKey.
type Request struct {
	query    string
	topK     int
	minScore float64
	filters  filter.Expression
}

// New validates and normalizes search parameters.
// Defaults: topK=10. minScore is the similarity floor in [0,1].
func New(query string, topK int, minScore float64, filters filter.Expression) (Request, error) {
	if strings.TrimSpace(query) == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if minScore < 0 || minScore > 1 {
		return Request{}, fmt.Errorf("min_score must be between 0 and 1")
	}

	return Request{query: query, topK: topK, minScore: minScore, filters: filters}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// TopK returns the number of KNN candidates to retrieve.
func (r *Request) TopK() int { return r.topK }

// MinScore returns the similarity floor.
func (r *Request) MinScore() float64 { return r.minScore }

// Filters returns the pre-filter expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// Normalized returns the query lower-cased with punctuation stripped and
// whitespace collapsed, so paraphrases that differ only in formatting share
// a cache key. Semantically different queries are NOT deduplicated; locale
// casing beyond unicode.ToLower is a known limitation.
func (r *Request) Normalized() string {
	var b strings.Builder
	b.Grow(len(r.query))
	space := false
	for _, c := range r.query {
		switch {
		case unicode.IsSpace(c):
			space = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			// skip
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(c))
		}
	}
	return b.String()
}

// CacheKey hashes the normalized query plus every parameter that changes
// the result set.
func (r *Request) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%g|%s", r.Normalized(), r.topK, r.minScore, r.filters.Signature())
	return hex.EncodeToString(h.Sum(nil))
}
