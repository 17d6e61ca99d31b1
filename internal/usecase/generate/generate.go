// Package generate wraps the generative backend with the per-endpoint
// resilience policies: bounded retry with backoff for transient failures,
// circuit breaking, and a per-attempt deadline. Policy state is shared
// process-wide through the injected registry, keyed by capability tier, so
// a failing backend only affects calls routed to it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/resilience"
)

// Client is the resilient generation client.
type Client struct {
	model    domain.ChatModel
	registry *resilience.Registry
	logger   *zap.Logger
}

// New creates a client over the raw backend.
func New(model domain.ChatModel, registry *resilience.Registry, logger *zap.Logger) *Client {
	return &Client{model: model, registry: registry, logger: logger}
}

// EndpointFor maps a capability tier to its logical endpoint name in the
// resilience registry.
func EndpointFor(tier domain.Tier) string {
	return "generation:" + string(tier)
}

// Generate runs a single-answer call under the endpoint's policies. Retry
// wraps breaker admission and the per-attempt deadline: an open circuit
// fails fast without dialing, and a deadline expiry surfaces as
// domain.ErrGenerationTimeout, distinct from backend failures.
func (c *Client) Generate(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	p := c.registry.Get(EndpointFor(req.Tier))

	var resp domain.ChatResponse
	err := retry.Do(
		func() error {
			if err := p.Breaker.Allow(); err != nil {
				return err
			}

			attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()

			r, err := c.model.Chat(attemptCtx, req)
			err = classifyDeadline(ctx, attemptCtx, err)
			if ctx.Err() == nil {
				// A caller that walked away says nothing about backend health.
				p.Breaker.Record(err)
			}
			if err != nil {
				c.logger.Warn("Generation attempt failed",
					zap.String("tier", string(req.Tier)),
					zap.Error(err),
				)
				return err
			}
			resp = r
			return nil
		},
		retry.Attempts(p.MaxAttempts),
		retry.Delay(p.Backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(resilience.IsTransient),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return domain.ChatResponse{}, wrapGenerationError(err)
	}
	return resp, nil
}

// GenerateStream opens a streaming call under the same policies. The
// breaker admits the dial; the per-attempt deadline bounds the time to the
// first chunk only; the stream outcome is recorded when it terminates.
// Caller cancellation propagates as stream termination, never silent
// truncation.
func (c *Client) GenerateStream(ctx context.Context, req domain.ChatRequest) (domain.ChatStream, error) {
	p := c.registry.Get(EndpointFor(req.Tier))

	var out domain.ChatStream
	err := retry.Do(
		func() error {
			if err := p.Breaker.Allow(); err != nil {
				return err
			}

			streamCtx, cancel := context.WithCancel(ctx)
			inner, err := c.model.ChatStream(streamCtx, req)
			if err != nil {
				cancel()
				p.Breaker.Record(err)
				c.logger.Warn("Stream dial failed",
					zap.String("tier", string(req.Tier)),
					zap.Error(err),
				)
				return err
			}

			gs := &guardedStream{
				inner:   inner,
				breaker: p.Breaker,
				cancel:  cancel,
			}
			// The first chunk must arrive within the attempt deadline;
			// after that the stream may run as long as the caller wants.
			gs.timer = time.AfterFunc(p.Timeout, func() {
				gs.timedOut.Store(true)
				cancel()
			})
			out = gs
			return nil
		},
		retry.Attempts(p.MaxAttempts),
		retry.Delay(p.Backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(resilience.IsTransient),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, wrapGenerationError(err)
	}
	return out, nil
}

// classifyDeadline rewrites a deadline expiry of the attempt context as a
// generation timeout, leaving caller cancellation untouched.
func classifyDeadline(parent, attempt context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrGenerationTimeout, err)
	}
	return err
}

// wrapGenerationError tags terminal failures with the generation-layer
// sentinel, keeping the circuit-open and timeout sub-kinds distinguishable.
func wrapGenerationError(err error) error {
	if errors.Is(err, domain.ErrCircuitOpen) || errors.Is(err, domain.ErrGenerationTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGeneration, err)
}

// guardedStream composes the resilience policies over the stream
// lifecycle: it enforces the first-chunk deadline and feeds the terminal
// outcome into the circuit breaker exactly once.
type guardedStream struct {
	inner   domain.ChatStream
	breaker *resilience.Breaker
	cancel  context.CancelFunc
	timer   *time.Timer

	timedOut atomic.Bool
	gotFirst bool
	recorded sync.Once
}

func (s *guardedStream) Recv() (domain.Chunk, error) {
	chunk, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.record(nil)
			return chunk, io.EOF
		}
		if s.timedOut.Load() {
			err = fmt.Errorf("%w: no chunk before deadline", domain.ErrGenerationTimeout)
			s.record(err)
			return domain.Chunk{}, err
		}
		s.record(err)
		return domain.Chunk{}, wrapGenerationError(err)
	}

	if !s.gotFirst {
		s.gotFirst = true
		s.timer.Stop()
	}
	return chunk, nil
}

// Close terminates the stream. Cancellation after the first chunk counts
// as a successful backend interaction for breaker purposes.
func (s *guardedStream) Close() {
	if s.gotFirst {
		s.record(nil)
	}
	s.timer.Stop()
	s.cancel()
	s.inner.Close()
}

func (s *guardedStream) record(err error) {
	s.recorded.Do(func() {
		s.timer.Stop()
		s.breaker.Record(err)
	})
}
