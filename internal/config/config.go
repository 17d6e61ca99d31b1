package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the raglet API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Context    ContextConfig    `yaml:"context"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Cache      CacheConfig      `yaml:"cache"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Provider   string `yaml:"provider"` // metrics label (default: openai)
}

// GenerationConfig holds the generative provider settings. Models maps
// capability tiers (fast, balanced) to provider model names; Policies maps
// the same tiers to their resilience settings.
type GenerationConfig struct {
	APIKey   string                  `yaml:"api_key"`
	BaseURL  string                  `yaml:"base_url"`
	Models   map[string]string       `yaml:"models"`
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig holds per-tier retry and circuit breaker settings.
type PolicyConfig struct {
	MaxAttempts uint          `yaml:"max_attempts"`
	BackoffMs   int           `yaml:"backoff_ms"`
	TimeoutSec  int           `yaml:"timeout_sec"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold"`
	SuccessThreshold  int `yaml:"success_threshold"`
	CooldownSec       int `yaml:"cooldown_sec"`
	HalfOpenMaxProbes int `yaml:"half_open_max_probes"`
}

// RetrievalConfig holds search and query expansion settings.
type RetrievalConfig struct {
	IndexName string  `yaml:"index_name"`
	DocPrefix string  `yaml:"doc_prefix"`
	TopK      int     `yaml:"top_k"`
	MinScore  float64 `yaml:"min_score"`
	// ExpansionVariants is the number of alternative query phrasings;
	// 0 disables expansion.
	ExpansionVariants int    `yaml:"expansion_variants"`
	ExpansionTier     string `yaml:"expansion_tier"`
	NoResultsAnswer   string `yaml:"no_results_answer"`
	MaxConcurrent     int    `yaml:"max_concurrent"`
}

// ContextConfig holds context assembly settings.
type ContextConfig struct {
	TokenBudget int    `yaml:"token_budget"`
	Separator   string `yaml:"separator"`
	Encoding    string `yaml:"encoding"` // tiktoken encoding name
	MemoSize    int    `yaml:"memo_size"`
}

// RerankConfig holds lexical rerank settings.
type RerankConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`
}

// CacheConfig holds cache TTL settings.
type CacheConfig struct {
	EmbeddingTTLSec int `yaml:"embedding_ttl_sec"`
	SearchTTLSec    int `yaml:"search_ttl_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the deployment environment from RAGLET_ENV, falling back
// to the generic ENV variable and then to "local".
func GetEnv() string {
	if env := os.Getenv("RAGLET_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Streaming responses hold the connection well past a typical
		// request timeout.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Retrieval.IndexName == "" {
		c.Retrieval.IndexName = "raglet:docs:idx"
	}
	if c.Retrieval.DocPrefix == "" {
		c.Retrieval.DocPrefix = "raglet:docs:"
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.ExpansionTier == "" {
		c.Retrieval.ExpansionTier = "fast"
	}
	if c.Retrieval.MaxConcurrent <= 0 {
		c.Retrieval.MaxConcurrent = 4
	}
	if c.Context.TokenBudget <= 0 {
		c.Context.TokenBudget = 3000
	}
	if c.Context.Separator == "" {
		c.Context.Separator = "\n\n---\n\n"
	}
	if c.Context.MemoSize <= 0 {
		c.Context.MemoSize = 4096
	}
	if c.Rerank.Weight <= 0 {
		c.Rerank.Weight = 0.05
	}
	if c.Cache.EmbeddingTTLSec <= 0 {
		c.Cache.EmbeddingTTLSec = 86400
	}
	if c.Cache.SearchTTLSec <= 0 {
		c.Cache.SearchTTLSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	for _, tier := range []string{"fast", "balanced"} {
		if c.Generation.Models[tier] == "" {
			return fmt.Errorf("generation.models.%s is required", tier)
		}
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be between 0 and 1, got %g", c.Retrieval.MinScore)
	}
	if c.Retrieval.ExpansionVariants < 0 {
		return fmt.Errorf("retrieval.expansion_variants must not be negative, got %d", c.Retrieval.ExpansionVariants)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
