package search

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/raglet/internal/db"
	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/filter"
	"github.com/kailas-cloud/raglet/internal/domain/search/request"
)

func mustRequest(t *testing.T, query string, topK int, minScore float64) request.Request {
	t.Helper()
	req, err := request.New(query, topK, minScore, filter.Expression{})
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return req
}

func TestSearch_HappyPath(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ctx := context.Background()

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "raglet:docs:idx" {
			t.Errorf("unexpected index: %s", q.IndexName)
		}
		if q.K != 10 {
			t.Errorf("unexpected K: %d", q.K)
		}
		if len(q.Vector) != 4 {
			t.Errorf("expected embedded query vector, got %v", q.Vector)
		}
		return &db.SearchResult{
			Total: 2,
			Entries: []db.SearchEntry{
				{
					Key:   "raglet:docs:doc-1",
					Score: 0.877,
					Fields: map[string]string{
						"__content":  "hello world",
						"source_uri": "kb://notes/1",
						"priority":   "1.5",
					},
				},
				{
					Key:    "raglet:docs:doc-2",
					Score:  0.544,
					Fields: map[string]string{"__content": "goodbye world"},
				},
			},
		}, nil
	}

	list, err := repo.Search(ctx, mustRequest(t, "hello", 10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(list))
	}
	if list[0].ID != "doc-1" {
		t.Errorf("expected ID doc-1, got %s", list[0].ID)
	}
	if list[0].Score != 0.877 {
		t.Errorf("expected score 0.877, got %f", list[0].Score)
	}
	if list[0].Content != "hello world" {
		t.Errorf("unexpected content %q", list[0].Content)
	}
	if list[0].Source != "hello" {
		t.Errorf("expected provenance tag, got %q", list[0].Source)
	}
	if list[0].Metadata["source_uri"] != "kb://notes/1" {
		t.Errorf("unexpected metadata: %v", list[0].Metadata)
	}
	if list[0].Metadata["priority"] != 1.5 {
		t.Errorf("expected numeric metadata 1.5, got %v", list[0].Metadata["priority"])
	}
}

func TestSearch_SimilarityFloor(t *testing.T) {
	repo, ms, _ := newTestRepo(t)

	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return &db.SearchResult{
			Total: 3,
			Entries: []db.SearchEntry{
				{Key: "raglet:docs:a", Score: 0.9},
				{Key: "raglet:docs:b", Score: 0.6},
				{Key: "raglet:docs:c", Score: 0.3},
			},
		}, nil
	}

	list, err := repo.Search(context.Background(), mustRequest(t, "q", 10, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 documents above the floor, got %d", len(list))
	}
	for _, d := range list {
		if d.Score < 0.5 {
			t.Errorf("document %s below floor: %f", d.ID, d.Score)
		}
	}
}

func TestSearch_Empty(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	list, err := repo.Search(context.Background(), mustRequest(t, "nothing here", 10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}

func TestSearch_IndexError(t *testing.T) {
	repo, ms, _ := newTestRepo(t)

	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, errors.New("index down")
	}

	_, err := repo.Search(context.Background(), mustRequest(t, "q", 10, 0))
	if !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}

func TestSearch_EmbedError(t *testing.T) {
	repo, ms, me := newTestRepo(t)

	me.embedFn = func(_ context.Context, _ string) (domain.EmbeddingResult, error) {
		return domain.EmbeddingResult{}, errors.New("provider unavailable")
	}
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		t.Fatal("index must not be called when embedding fails")
		return nil, nil
	}

	_, err := repo.Search(context.Background(), mustRequest(t, "q", 10, 0))
	if !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}
