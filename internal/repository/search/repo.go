// Package search executes similarity searches against the external vector
// index. One call is exactly one index round-trip; retries, if any, belong
// to the caller.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/raglet/internal/db"
	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/request"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Repo turns a search request into a ranked document list: it vectorizes
// the query, runs KNN, applies the similarity floor, and tags provenance.
type Repo struct {
	store     store
	embedder  domain.Embedder
	indexName string
	keyPrefix string
}

// New creates a search repository over the named FT index. The index is
// maintained by the ingestion subsystem; docPrefix is the key prefix its
// documents are stored under.
func New(s store, embedder domain.Embedder, indexName, docPrefix string) *Repo {
	return &Repo{
		store:     s,
		embedder:  embedder,
		indexName: indexName,
		keyPrefix: docPrefix,
	}
}

// Search performs one KNN round-trip for the request. Index failures are
// wrapped in domain.ErrRetrieval so callers can tell them apart from
// generation failures.
func (r *Repo) Search(ctx context.Context, req request.Request) (domain.RankedList, error) {
	emb, err := r.embedder.Embed(ctx, req.Query())
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrRetrieval, err)
	}

	q := &db.KNNQuery{
		IndexName:    r.indexName,
		Filters:      req.Filters(),
		Vector:       emb.Embedding,
		K:            req.TopK(),
		ReturnFields: []string{"__content", "__vector_score", "source_uri"},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: knn %s: %w", domain.ErrRetrieval, r.indexName, err)
	}

	return r.toRankedList(sr, req), nil
}

// toRankedList converts index hits into documents, dropping entries below
// the similarity floor. Hits arrive sorted by distance, so rank order is
// preserved.
func (r *Repo) toRankedList(sr *db.SearchResult, req request.Request) domain.RankedList {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	list := make(domain.RankedList, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		if entry.Score < req.MinScore() {
			continue
		}
		list = append(list, r.toDocument(entry, req.Query()))
	}
	return list
}

func (r *Repo) toDocument(entry db.SearchEntry, query string) domain.Document {
	doc := domain.Document{
		ID:     strings.TrimPrefix(entry.Key, r.keyPrefix),
		Score:  entry.Score,
		Source: query,
	}

	var meta map[string]any
	for k, v := range entry.Fields {
		if k == "__content" {
			doc.Content = v
			continue
		}
		if meta == nil {
			meta = make(map[string]any)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			meta[k] = f
		} else {
			meta[k] = v
		}
	}
	doc.Metadata = meta
	return doc
}
