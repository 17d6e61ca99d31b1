// Package resilience provides the shared retry, circuit-breaking, and
// time-limiting policy state for remote generative endpoints. Policies are
// keyed by logical endpoint name and owned by an injected Registry, so
// failures against one backend never trip calls routed to another.
package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/metrics"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// BreakerConfig configures one endpoint's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMaxProbes bounds concurrent half-open probe calls.
	HalfOpenMaxProbes int
}

// ApplyDefaults fills zero fields with production defaults.
func (c *BreakerConfig) ApplyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = 1
	}
}

// Breaker is a circuit breaker for one logical endpoint. It is admission
// based rather than call wrapping: callers ask Allow before dialing and
// Record the outcome when the call (or stream) finishes, which lets the
// same breaker cover both call shapes.
type Breaker struct {
	endpoint string
	cfg      BreakerConfig
	logger   *zap.Logger

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	halfOpenProbes       int
}

// NewBreaker creates a closed breaker for the named endpoint.
func NewBreaker(endpoint string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	cfg.ApplyDefaults()
	b := &Breaker{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   logger,
		state:    StateClosed,
	}
	metrics.BreakerState.WithLabelValues(endpoint).Set(float64(StateClosed))
	return b
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns domain.ErrCircuitOpen without touching the backend; after the
// cooldown it admits a bounded number of half-open probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.Cooldown {
			return domain.ErrCircuitOpen
		}
		b.transitionTo(StateHalfOpen)
		b.halfOpenProbes = 1
		return nil

	case StateHalfOpen:
		if b.halfOpenProbes >= b.cfg.HalfOpenMaxProbes {
			return domain.ErrCircuitOpen
		}
		b.halfOpenProbes++
		return nil

	default:
		return nil
	}
}

// Record feeds a call outcome into the breaker. A nil err counts as
// success. Calls rejected by Allow must not be recorded.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A finished probe frees its admission slot so the next sequential
	// probe can run; SuccessThreshold may exceed HalfOpenMaxProbes.
	if b.state == StateHalfOpen && b.halfOpenProbes > 0 {
		b.halfOpenProbes--
	}

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) recordFailure() {
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Any probe failure reopens the circuit.
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.consecutiveSuccesses++
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
		b.transitionTo(StateClosed)
	}
}

// transitionTo changes state under b.mu.
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}
	b.logger.Warn("Circuit breaker state change",
		zap.String("endpoint", b.endpoint),
		zap.String("from", b.state.String()),
		zap.String("to", next.String()),
	)
	b.state = next
	metrics.BreakerState.WithLabelValues(b.endpoint).Set(float64(next))
	metrics.BreakerTransitionsTotal.WithLabelValues(b.endpoint, next.String()).Inc()
}
