package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// Policy bundles the resilience settings for one logical endpoint.
type Policy struct {
	// MaxAttempts bounds retry attempts, including the first call.
	MaxAttempts uint
	// Backoff is the base delay between retry attempts.
	Backoff time.Duration
	// Timeout is the per-attempt deadline. For streams it bounds the time
	// to the first chunk.
	Timeout time.Duration
	// Breaker is the endpoint's shared circuit breaker.
	Breaker *Breaker
}

// PolicyConfig is the declarative form of a Policy.
type PolicyConfig struct {
	MaxAttempts uint
	Backoff     time.Duration
	Timeout     time.Duration
	Breaker     BreakerConfig
}

// ApplyDefaults fills zero fields with production defaults.
func (c *PolicyConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.Breaker.ApplyDefaults()
}

// Registry owns the per-endpoint resilience state for the process. It is
// constructed once in the composition root and injected by reference;
// there are no ambient singletons.
type Registry struct {
	policies map[string]*Policy
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		policies: make(map[string]*Policy),
		logger:   logger,
	}
}

// Register installs a policy for the named endpoint, replacing any
// previous one. Not safe to call concurrently with Get; registration
// happens at startup.
func (r *Registry) Register(endpoint string, cfg PolicyConfig) {
	cfg.ApplyDefaults()
	r.policies[endpoint] = &Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Timeout:     cfg.Timeout,
		Breaker:     NewBreaker(endpoint, cfg.Breaker, r.logger),
	}
}

// Get returns the policy for the endpoint, registering a default policy on
// first use of an unknown name.
func (r *Registry) Get(endpoint string) *Policy {
	if p, ok := r.policies[endpoint]; ok {
		return p
	}
	r.Register(endpoint, PolicyConfig{})
	return r.policies[endpoint]
}

// IsTransient reports whether err belongs to a failure class worth
// retrying. Circuit rejections, deadline expiries, and cancellations are
// deliberate outcomes, not transient faults.
func IsTransient(err error) bool {
	if errors.Is(err, domain.ErrCircuitOpen) || errors.Is(err, domain.ErrGenerationTimeout) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, domain.ErrGenerationProviderError)
}
