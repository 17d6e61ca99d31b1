package raglet

import (
	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// Wiring defaults, matching the server's config defaults.
const (
	defaultIndexName   = "raglet:docs:idx"
	defaultDocPrefix   = "raglet:docs:"
	defaultTokenBudget = 3000
	defaultSeparator   = "\n\n---\n\n"
)

// clientConfig collects options before wiring.
type clientConfig struct {
	driver   string
	addrs    []string
	password string

	embedAPIKey  string
	embedBaseURL string
	embedModel   string
	embedDims    int

	genAPIKey  string
	genBaseURL string
	models     map[domain.Tier]string

	indexName string
	docPrefix string

	topK            int
	minScore        float64
	expansionN      int
	tokenBudget     int
	rerankWeight    float64
	rerankEnabled   bool
	noResultsAnswer string

	logger *zap.Logger
}

// applyDefaults fills unset fields so a Client built with only the
// required options still retrieves and assembles context.
func (c *clientConfig) applyDefaults() {
	if c.indexName == "" {
		c.indexName = defaultIndexName
	}
	if c.docPrefix == "" {
		c.docPrefix = defaultDocPrefix
	}
	if c.tokenBudget <= 0 {
		c.tokenBudget = defaultTokenBudget
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithValkey connects to a Valkey server.
func WithValkey(addrs ...string) Option {
	return func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = addrs
	}
}

// WithRedis connects to a Redis server.
func WithRedis(addrs ...string) Option {
	return func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = addrs
	}
}

// WithPassword sets the database password.
func WithPassword(password string) Option {
	return func(c *clientConfig) { c.password = password }
}

// WithEmbedding configures the embedding provider. baseURL may be empty
// for the provider default.
func WithEmbedding(apiKey, baseURL, model string, dimensions int) Option {
	return func(c *clientConfig) {
		c.embedAPIKey = apiKey
		c.embedBaseURL = baseURL
		c.embedModel = model
		c.embedDims = dimensions
	}
}

// WithGeneration configures the generative provider with one model per
// capability tier.
func WithGeneration(apiKey, baseURL, fastModel, balancedModel string) Option {
	return func(c *clientConfig) {
		c.genAPIKey = apiKey
		c.genBaseURL = baseURL
		c.models = map[domain.Tier]string{
			domain.TierFast:     fastModel,
			domain.TierBalanced: balancedModel,
		}
	}
}

// WithIndex overrides the vector index name and document key prefix.
func WithIndex(indexName, docPrefix string) Option {
	return func(c *clientConfig) {
		c.indexName = indexName
		c.docPrefix = docPrefix
	}
}

// WithTopK sets the per-query retrieval depth.
func WithTopK(k int) Option {
	return func(c *clientConfig) { c.topK = k }
}

// WithMinScore sets the similarity floor in [0,1].
func WithMinScore(score float64) Option {
	return func(c *clientConfig) { c.minScore = score }
}

// WithExpansion sets the number of alternative query phrasings fanned out
// per question. Zero disables expansion.
func WithExpansion(n int) Option {
	return func(c *clientConfig) { c.expansionN = n }
}

// WithTokenBudget caps the assembled context size in tokens.
func WithTokenBudget(budget int) Option {
	return func(c *clientConfig) { c.tokenBudget = budget }
}

// WithRerank enables keyword-overlap reranking with the given boost weight.
func WithRerank(weight float64) Option {
	return func(c *clientConfig) {
		c.rerankEnabled = true
		c.rerankWeight = weight
	}
}

// WithNoResultsAnswer overrides the fixed answer returned when retrieval
// finds nothing.
func WithNoResultsAnswer(answer string) Option {
	return func(c *clientConfig) { c.noResultsAnswer = answer }
}

// WithLogger sets a custom zap logger; default is zap.NewNop.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}
