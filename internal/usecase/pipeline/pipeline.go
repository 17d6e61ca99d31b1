// Package pipeline sequences the full answer flow: expand the question,
// retrieve per expanded query in parallel, fuse, optionally rerank,
// assemble a budgeted context, build the prompt, and generate. Failures
// before generation surface as retrieval-layer errors; generation failures
// keep their own taxonomy so callers can tell the layers apart.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/filter"
	"github.com/kailas-cloud/raglet/internal/domain/search/request"
	"github.com/kailas-cloud/raglet/internal/metrics"
)

// Stage interfaces are defined here, on the consumer side (ISP).
type (
	// Expander produces the query variants, original first.
	Expander interface {
		Expand(ctx context.Context, query string) ([]string, error)
	}

	// Searcher retrieves one ranked list per request.
	Searcher interface {
		Search(ctx context.Context, req request.Request) (domain.RankedList, error)
	}

	// Fuser merges ranked lists into one global ranking.
	Fuser interface {
		Fuse(lists []domain.RankedList) domain.RankedList
	}

	// Reranker re-scores a fused list.
	Reranker interface {
		Rerank(docs domain.RankedList, query string) domain.RankedList
	}

	// Assembler packs documents under the token budget.
	Assembler interface {
		Assemble(docs domain.RankedList) (string, domain.RankedList)
	}

	// PromptBuilder renders the instruction text.
	PromptBuilder interface {
		System() string
		Build(contextText, question string, history []domain.Turn) (string, error)
	}

	// Generator is the resilient generation client.
	Generator interface {
		Generate(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
		GenerateStream(ctx context.Context, req domain.ChatRequest) (domain.ChatStream, error)
	}

	// CompletionSink persists finished answers, including the partial text
	// accumulated before a stream was cancelled. It runs on every terminal
	// path, not only the happy one.
	CompletionSink interface {
		Persist(ctx context.Context, question, answer string, complete bool)
	}
)

// Config holds the orchestrator's own knobs; stage behavior lives in the
// injected stages.
type Config struct {
	TopK     int
	MinScore float64
	// NoResultsAnswer is returned verbatim when retrieval yields nothing.
	// Kept configurable: some deployments prefer a model-generated
	// refusal, and route this text accordingly.
	NoResultsAnswer string
	// MaxConcurrentRetrievals bounds the retrieval fan-out.
	MaxConcurrentRetrievals int
}

// ApplyDefaults fills zero fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.NoResultsAnswer == "" {
		c.NoResultsAnswer = "I could not find relevant information to answer this question."
	}
	if c.MaxConcurrentRetrievals <= 0 {
		c.MaxConcurrentRetrievals = 4
	}
}

// AskRequest is one end-to-end pipeline run.
type AskRequest struct {
	Question string
	Tier     domain.Tier
	Filters  filter.Expression
	History  []domain.Turn
}

// Answer is the pipeline result for the single-answer path.
type Answer struct {
	Text    string
	Sources domain.RankedList
	// NoResults marks the fixed fallback answer for empty retrieval.
	NoResults bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg       Config
	expander  Expander
	searcher  Searcher
	fuser     Fuser
	reranker  Reranker
	assembler Assembler
	prompts   PromptBuilder
	generator Generator
	sink      CompletionSink
	logger    *zap.Logger
}

// New creates a pipeline. sink may be nil when completion persistence is
// not wired.
func New(
	cfg Config,
	expander Expander,
	searcher Searcher,
	fuser Fuser,
	reranker Reranker,
	assembler Assembler,
	prompts PromptBuilder,
	generator Generator,
	sink CompletionSink,
	logger *zap.Logger,
) *Pipeline {
	cfg.ApplyDefaults()
	return &Pipeline{
		cfg:       cfg,
		expander:  expander,
		searcher:  searcher,
		fuser:     fuser,
		reranker:  reranker,
		assembler: assembler,
		prompts:   prompts,
		generator: generator,
		sink:      sink,
		logger:    logger,
	}
}

// Answer runs the single-answer path.
func (p *Pipeline) Answer(ctx context.Context, req AskRequest) (Answer, error) {
	prompt, sources, short, err := p.prepare(ctx, req)
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues("answer", "error").Inc()
		return Answer{}, err
	}
	if short {
		metrics.PipelineRequestsTotal.WithLabelValues("answer", "no_results").Inc()
		p.persist(ctx, req.Question, p.cfg.NoResultsAnswer, true)
		return Answer{Text: p.cfg.NoResultsAnswer, NoResults: true}, nil
	}

	start := time.Now()
	resp, err := p.generator.Generate(ctx, domain.ChatRequest{
		System: p.prompts.System(),
		Prompt: prompt,
		Tier:   req.Tier,
	})
	metrics.PipelineStageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues("answer", "error").Inc()
		return Answer{}, err
	}

	metrics.PipelineRequestsTotal.WithLabelValues("answer", "success").Inc()
	p.persist(ctx, req.Question, resp.Text, true)
	return Answer{Text: resp.Text, Sources: sources}, nil
}

// AnswerStream runs the streaming path. The returned stream owns the
// accumulated text: the completion sink fires exactly once when the stream
// terminates, whether by completion, failure, or caller cancellation, so
// partial answers are never silently discarded.
func (p *Pipeline) AnswerStream(ctx context.Context, req AskRequest) (domain.ChatStream, domain.RankedList, error) {
	prompt, sources, short, err := p.prepare(ctx, req)
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, nil, err
	}
	if short {
		metrics.PipelineRequestsTotal.WithLabelValues("stream", "no_results").Inc()
		p.persist(ctx, req.Question, p.cfg.NoResultsAnswer, true)
		return newFixedStream(p.cfg.NoResultsAnswer), nil, nil
	}

	inner, err := p.generator.GenerateStream(ctx, domain.ChatRequest{
		System: p.prompts.System(),
		Prompt: prompt,
		Tier:   req.Tier,
	})
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues("stream", "error").Inc()
		return nil, nil, err
	}

	return &persistingStream{
		inner:    inner,
		pipeline: p,
		question: req.Question,
	}, sources, nil
}

// prepare runs every stage before generation. short reports the
// zero-results short circuit.
func (p *Pipeline) prepare(ctx context.Context, req AskRequest) (prompt string, sources domain.RankedList, short bool, err error) {
	queries := p.expand(ctx, req.Question)

	lists, err := p.retrieve(ctx, queries, req.Filters)
	if err != nil {
		return "", nil, false, err
	}

	start := time.Now()
	fused := p.fuser.Fuse(lists)
	metrics.PipelineStageDuration.WithLabelValues("fuse").Observe(time.Since(start).Seconds())

	if len(fused) == 0 {
		p.logger.Info("No documents retrieved", zap.String("question", req.Question))
		return "", nil, true, nil
	}

	start = time.Now()
	ranked := p.reranker.Rerank(fused, req.Question)
	metrics.PipelineStageDuration.WithLabelValues("rerank").Observe(time.Since(start).Seconds())

	start = time.Now()
	contextText, included := p.assembler.Assemble(ranked)
	metrics.PipelineStageDuration.WithLabelValues("assemble").Observe(time.Since(start).Seconds())

	if contextText == "" {
		// Documents exist but none fit the budget; answering without
		// context would be fabrication.
		p.logger.Warn("No document fits the context budget",
			zap.String("question", req.Question),
			zap.Int("fused", len(fused)),
		)
		return "", nil, true, nil
	}

	prompt, err = p.prompts.Build(contextText, req.Question, req.History)
	if err != nil {
		return "", nil, false, fmt.Errorf("%w: build prompt: %w", domain.ErrRetrieval, err)
	}
	return prompt, included, false, nil
}

// expand produces the query list, falling back to the original-only list
// when expansion fails. Expansion trouble never fails the request.
func (p *Pipeline) expand(ctx context.Context, question string) []string {
	start := time.Now()
	queries, err := p.expander.Expand(ctx, question)
	metrics.PipelineStageDuration.WithLabelValues("expand").Observe(time.Since(start).Seconds())

	if err != nil {
		p.logger.Warn("Query expansion failed, using original only", zap.Error(err))
		return []string{question}
	}
	return queries
}

// retrieve fans out one search per query and awaits all of them. A source
// that fails is dropped; the request only fails when every retrieval
// failed.
func (p *Pipeline) retrieve(ctx context.Context, queries []string, filters filter.Expression) ([]domain.RankedList, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	}()

	lists := make([]domain.RankedList, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentRetrievals)

	for i, q := range queries {
		g.Go(func() error {
			req, err := request.New(q, p.cfg.TopK, p.cfg.MinScore, filters)
			if err != nil {
				errs[i] = fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
				return nil
			}
			lists[i], errs[i] = p.searcher.Search(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	var ok int
	var lastErr error
	results := make([]domain.RankedList, 0, len(queries))
	for i := range queries {
		if errs[i] != nil {
			p.logger.Warn("Retrieval source failed",
				zap.String("query", queries[i]),
				zap.Error(errs[i]),
			)
			lastErr = errs[i]
			continue
		}
		results = append(results, lists[i])
		ok++
	}

	if ok == 0 {
		return nil, fmt.Errorf("%w: all %d retrievals failed: %w",
			domain.ErrRetrieval, len(queries), lastErr)
	}
	return results, nil
}

func (p *Pipeline) persist(ctx context.Context, question, answer string, complete bool) {
	if p.sink == nil {
		return
	}
	p.sink.Persist(ctx, question, answer, complete)
}

// persistingStream buffers streamed text and fires the completion sink
// once on any terminal path.
type persistingStream struct {
	inner    domain.ChatStream
	pipeline *Pipeline
	question string

	mu   sync.Mutex
	text string
	done bool
}

func (s *persistingStream) Recv() (domain.Chunk, error) {
	chunk, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finish(true, "success")
			return chunk, io.EOF
		}
		s.finish(false, "error")
		return domain.Chunk{}, err
	}

	s.mu.Lock()
	s.text += chunk.Text
	s.mu.Unlock()
	return chunk, nil
}

func (s *persistingStream) Close() {
	s.finish(false, "cancelled")
	s.inner.Close()
}

// finish persists accumulated text exactly once. It uses a fresh context:
// the request context is typically already cancelled on this path, and the
// side effect must still run.
func (s *persistingStream) finish(complete bool, status string) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	text := s.text
	s.mu.Unlock()

	metrics.PipelineRequestsTotal.WithLabelValues("stream", status).Inc()
	s.pipeline.persist(context.Background(), s.question, text, complete)
}

// fixedStream replays one fixed answer as a single chunk.
type fixedStream struct {
	text string
	sent bool
}

func newFixedStream(text string) *fixedStream {
	return &fixedStream{text: text}
}

func (s *fixedStream) Recv() (domain.Chunk, error) {
	if s.sent {
		return domain.Chunk{Final: true}, io.EOF
	}
	s.sent = true
	return domain.Chunk{Text: s.text}, nil
}

func (s *fixedStream) Close() {}
