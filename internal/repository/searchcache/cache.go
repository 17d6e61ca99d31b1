// Package searchcache memoizes vector search responses in the key-value
// store. Keys hash the normalized request, so paraphrases that differ only
// in formatting share an entry. Corpus mutations invalidate the whole
// namespace at once via a generation counter: bumping the counter changes
// every key prefix, and orphaned entries age out through their TTL.
package searchcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/db"
	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/request"
)

var (
	entryKeyPrefix = domain.KeyPrefix + "search_cache:"
	generationKey  = domain.KeyPrefix + "search_cache:gen"
)

// searcher is the consumer interface for the wrapped search client (ISP).
type searcher interface {
	Search(ctx context.Context, req request.Request) (domain.RankedList, error)
}

// store is the consumer interface for cache storage (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CachedSearcher caches ranked lists from the inner searcher. Storage
// failures degrade to a pass-through call, never to a request failure.
type CachedSearcher struct {
	inner      searcher
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner searcher,
	s store,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedSearcher {
	return &CachedSearcher{
		inner:      inner,
		store:      s,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Search returns a cached ranked list or calls the inner searcher and
// stores the result.
func (c *CachedSearcher) Search(ctx context.Context, req request.Request) (domain.RankedList, error) {
	key := c.entryKey(ctx, req)

	if list, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return list, nil
	}

	c.incCache("miss")

	list, err := c.inner.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	c.putToCache(ctx, key, list)
	return list, nil
}

// InvalidateAll evicts the entire cache namespace. The ingestion subsystem
// calls this after every successful index write. Safe to run concurrently
// with in-flight reads: a reader sees either the old or the new generation,
// never a torn entry.
func (c *CachedSearcher) InvalidateAll(ctx context.Context) error {
	gen, err := c.store.Incr(ctx, generationKey)
	if err != nil {
		return fmt.Errorf("bump search cache generation: %w", err)
	}
	c.logger.Info("Search cache invalidated", zap.Int64("generation", gen))
	return nil
}

// entryKey scopes the request hash to the current generation. A missing
// counter reads as generation zero.
func (c *CachedSearcher) entryKey(ctx context.Context, req request.Request) string {
	gen := "0"
	data, err := c.store.Get(ctx, generationKey)
	switch {
	case err == nil:
		gen = string(data)
	case !errors.Is(err, db.ErrKeyNotFound):
		c.logger.Warn("Failed to read search cache generation", zap.Error(err))
	}
	return fmt.Sprintf("%s%s:%s", entryKeyPrefix, gen, req.CacheKey())
}

func (c *CachedSearcher) getFromCache(ctx context.Context, key string) (domain.RankedList, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached search result", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var list domain.RankedList
	if err := json.Unmarshal(data, &list); err != nil {
		c.logger.Warn("Failed to decode cached search result", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return list, true
}

func (c *CachedSearcher) putToCache(ctx context.Context, key string, list domain.RankedList) {
	data, err := json.Marshal(list)
	if err != nil {
		c.logger.Warn("Failed to encode search result", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache search result", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedSearcher) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
