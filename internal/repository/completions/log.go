// Package completions persists finished answers, including the partial
// text of streams the caller abandoned mid-flight. The log is best effort:
// a storage failure is logged and swallowed, never surfaced to the request.
package completions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "completions:"

// store is the consumer interface for log storage (ISP).
type store interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Entry is one persisted answer.
type Entry struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
}

// Log writes completed answers to the key-value store.
type Log struct {
	store  store
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New creates a completion log. Entries expire after ttl.
func New(s store, ttl time.Duration, logger *zap.Logger) *Log {
	return &Log{
		store:  s,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Persist stores one answer. Keys are sequence numbered so concurrent
// writes never collide.
func (l *Log) Persist(ctx context.Context, question, answer string, complete bool) {
	seq, err := l.store.Incr(ctx, keyPrefix+"seq")
	if err != nil {
		l.logger.Warn("Completion log sequence failed", zap.Error(err))
		return
	}

	entry := Entry{
		Question:  question,
		Answer:    answer,
		Complete:  complete,
		CreatedAt: l.now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Warn("Completion log marshal failed", zap.Error(err))
		return
	}

	key := fmt.Sprintf("%s%d", keyPrefix, seq)
	if err := l.store.SetWithTTL(ctx, key, data, l.ttl); err != nil {
		l.logger.Warn("Completion log write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
