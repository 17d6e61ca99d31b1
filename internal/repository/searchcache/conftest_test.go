package searchcache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/db"
	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/request"
)

// mockSearcher implements the consumer interface for tests.
type mockSearcher struct {
	list  domain.RankedList
	err   error
	calls int
}

func (m *mockSearcher) Search(_ context.Context, _ request.Request) (domain.RankedList, error) {
	m.calls++
	return m.list, m.err
}

// mockKVStore implements the consumer interface for tests. It defaults to
// an empty in-memory store so cache flows behave realistically.
type mockKVStore struct {
	getFn  func(ctx context.Context, key string) ([]byte, error)
	setFn  func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	incrFn func(ctx context.Context, key string) (int64, error)

	data map[string][]byte
	gen  int64
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func (m *mockKVStore) Incr(ctx context.Context, key string) (int64, error) {
	if m.incrFn != nil {
		return m.incrFn(ctx, key)
	}
	m.gen++
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = []byte(strconv.FormatInt(m.gen, 10))
	return m.gen, nil
}

func newTestCachedSearcher(t *testing.T, inner *mockSearcher) (*CachedSearcher, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	cs := New(inner, ms, time.Minute, nil, zap.NewNop())
	return cs, ms
}
