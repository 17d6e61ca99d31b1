// Package raglet is a retrieval-augmented answer pipeline over a Redis or
// Valkey vector index and OpenAI-compatible model providers.
package raglet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kailas-cloud/raglet/internal/db"
	dbRedis "github.com/kailas-cloud/raglet/internal/db/redis"
	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/metrics"
	"github.com/kailas-cloud/raglet/internal/repository/embcache"
	searchrepo "github.com/kailas-cloud/raglet/internal/repository/search"
	"github.com/kailas-cloud/raglet/internal/repository/searchcache"
	"github.com/kailas-cloud/raglet/internal/resilience"
	"github.com/kailas-cloud/raglet/internal/token"
	openaiTransport "github.com/kailas-cloud/raglet/internal/transport/openai"
	"github.com/kailas-cloud/raglet/internal/usecase/assemble"
	"github.com/kailas-cloud/raglet/internal/usecase/expand"
	"github.com/kailas-cloud/raglet/internal/usecase/fuse"
	"github.com/kailas-cloud/raglet/internal/usecase/generate"
	"github.com/kailas-cloud/raglet/internal/usecase/pipeline"
	"github.com/kailas-cloud/raglet/internal/usecase/prompt"
	"github.com/kailas-cloud/raglet/internal/usecase/rerank"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultSearchCacheTTL   = 5 * time.Minute
)

// Tier selects the generative model capability tier.
type Tier string

const (
	// TierFast favors latency over answer quality.
	TierFast Tier = Tier(domain.TierFast)
	// TierBalanced is the default quality/latency trade-off.
	TierBalanced Tier = Tier(domain.TierBalanced)
)

// Turn is a prior conversation exchange passed back with a question.
type Turn struct {
	Question string
	Answer   string
}

// Source is one document that contributed to an answer.
type Source struct {
	ID      string
	Content string
	Score   float64
	// Query records which expanded query retrieved this document.
	Query string
}

// Answer is a complete pipeline result.
type Answer struct {
	Text    string
	Sources []Source
	// NoResults marks the fixed fallback answer for empty retrieval.
	NoResults bool
}

// Chunk is one streamed answer fragment.
type Chunk struct {
	Text  string
	Final bool
}

// Client is the raglet SDK entry point.
type Client struct {
	store db.Store
	pipe  *pipeline.Pipeline
	cache *searchcache.CachedSearcher
}

// New creates a raglet Client and connects to the database.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("raglet: database address required (use WithValkey or WithRedis)")
	}
	if cfg.embedModel == "" {
		return nil, errors.New("raglet: embedding model required (use WithEmbedding)")
	}
	if len(cfg.models) == 0 {
		return nil, errors.New("raglet: generation models required (use WithGeneration)")
	}
	cfg.applyDefaults()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("raglet: create store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("raglet: database not ready: %w", err)
	}

	return wireClient(store, cfg)
}

func wireClient(store db.Store, cfg *clientConfig) (*Client, error) {
	logger := cfg.logger

	embedder := embcache.New(openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.embedAPIKey,
		BaseURL:    cfg.embedBaseURL,
		Model:      cfg.embedModel,
		Dimensions: cfg.embedDims,
		Provider:   "openai",
		Logger:     logger,
	}), store, metrics.EmbeddingCacheTotal, logger)

	repo := searchrepo.New(store, embedder, cfg.indexName, cfg.docPrefix)
	cache := searchcache.New(repo, store, defaultSearchCacheTTL, metrics.SearchCacheTotal, logger)

	chatModel := openaiTransport.NewChatModel(&openaiTransport.ChatConfig{
		APIKey:  cfg.genAPIKey,
		BaseURL: cfg.genBaseURL,
		Models:  cfg.models,
		Logger:  logger,
	})
	generator := generate.New(chatModel, resilience.NewRegistry(logger), logger)

	counter, err := token.NewCounter(token.DefaultEncoding, 0)
	if err != nil {
		return nil, fmt.Errorf("raglet: load token encoding: %w", err)
	}
	prompts, err := prompt.New("", "")
	if err != nil {
		return nil, fmt.Errorf("raglet: parse prompt templates: %w", err)
	}

	pipe := pipeline.New(
		pipeline.Config{
			TopK:            cfg.topK,
			MinScore:        cfg.minScore,
			NoResultsAnswer: cfg.noResultsAnswer,
		},
		expand.New(chatModel, cfg.expansionN, domain.TierFast, logger),
		cache,
		fuse.New(),
		rerank.New(cfg.rerankWeight, cfg.rerankEnabled),
		assemble.New(counter, cfg.tokenBudget, defaultSeparator),
		prompts,
		generator,
		nil,
		logger,
	)

	return &Client{store: store, pipe: pipe, cache: cache}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// askConfig collects per-question options.
type askConfig struct {
	tier    domain.Tier
	history []domain.Turn
}

// AskOption configures a single question.
type AskOption func(*askConfig)

// WithTier selects the generative tier for this question.
func WithTier(tier Tier) AskOption {
	return func(c *askConfig) { c.tier = domain.Tier(tier) }
}

// WithHistory supplies prior conversation turns for this question.
func WithHistory(turns []Turn) AskOption {
	return func(c *askConfig) {
		c.history = make([]domain.Turn, len(turns))
		for i, t := range turns {
			c.history[i] = domain.Turn{Question: t.Question, Answer: t.Answer}
		}
	}
}

func buildAskRequest(question string, opts []AskOption) pipeline.AskRequest {
	cfg := &askConfig{tier: domain.TierBalanced}
	for _, o := range opts {
		o(cfg)
	}
	return pipeline.AskRequest{
		Question: question,
		Tier:     cfg.tier,
		History:  cfg.history,
	}
}

// Ask runs the full pipeline and returns a complete answer.
func (c *Client) Ask(ctx context.Context, question string, opts ...AskOption) (Answer, error) {
	answer, err := c.pipe.Answer(ctx, buildAskRequest(question, opts))
	if err != nil {
		return Answer{}, err
	}
	return toAnswer(answer), nil
}

// AskStream runs the pipeline and streams the answer. The caller must
// drain or Close the returned stream.
func (c *Client) AskStream(ctx context.Context, question string, opts ...AskOption) (*AnswerStream, error) {
	stream, sources, err := c.pipe.AnswerStream(ctx, buildAskRequest(question, opts))
	if err != nil {
		return nil, err
	}
	return &AnswerStream{inner: stream, sources: toSources(sources)}, nil
}

// InvalidateCache drops all cached search results. Call it after the
// document corpus changes.
func (c *Client) InvalidateCache(ctx context.Context) error {
	return c.cache.InvalidateAll(ctx)
}

// AnswerStream yields answer chunks until io.EOF.
type AnswerStream struct {
	inner   domain.ChatStream
	sources []Source
}

// Sources returns the documents backing the streamed answer.
func (s *AnswerStream) Sources() []Source { return s.sources }

// Recv returns the next chunk. It returns io.EOF after the final chunk.
func (s *AnswerStream) Recv() (Chunk, error) {
	chunk, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Chunk{Final: chunk.Final}, io.EOF
		}
		return Chunk{}, err
	}
	return Chunk{Text: chunk.Text, Final: chunk.Final}, nil
}

// Close abandons the stream. Text received so far still reaches the
// completion log when one is wired.
func (s *AnswerStream) Close() { s.inner.Close() }

func toAnswer(a pipeline.Answer) Answer {
	return Answer{
		Text:      a.Text,
		Sources:   toSources(a.Sources),
		NoResults: a.NoResults,
	}
}

func toSources(docs domain.RankedList) []Source {
	if len(docs) == 0 {
		return nil
	}
	out := make([]Source, len(docs))
	for i, d := range docs {
		out[i] = Source{
			ID:      d.ID,
			Content: d.Content,
			Score:   d.Score,
			Query:   d.Source,
		}
	}
	return out
}
