package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testYAML = `
http:
  port: 8080
database:
  addrs:
    - localhost:6379
embedding:
  api_key: ${TEST_EMBED_KEY}
  model: text-embedding-3-small
  dimensions: 1536
generation:
  api_key: ${TEST_GEN_KEY:-fallback-key}
  models:
    fast: gpt-4o-mini
    balanced: gpt-4o
  policies:
    balanced:
      max_attempts: 5
      backoff_ms: 250
      timeout_sec: 60
      breaker:
        failure_threshold: 10
retrieval:
  top_k: 15
  min_score: 0.25
  expansion_variants: 3
rerank:
  enabled: true
  weight: 0.1
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "test.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "secret-embed")
	writeConfig(t, testYAML)

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Embedding.APIKey != "secret-embed" {
		t.Errorf("expected expanded env var, got %q", cfg.Embedding.APIKey)
	}
	if cfg.Generation.APIKey != "fallback-key" {
		t.Errorf("expected default value for unset env var, got %q", cfg.Generation.APIKey)
	}
	if cfg.Generation.Models["balanced"] != "gpt-4o" {
		t.Errorf("unexpected balanced model: %q", cfg.Generation.Models["balanced"])
	}
	if got := cfg.Generation.Policies["balanced"]; got.MaxAttempts != 5 || got.Breaker.FailureThreshold != 10 {
		t.Errorf("unexpected balanced policy: %+v", got)
	}
	if cfg.Retrieval.TopK != 15 || cfg.Retrieval.MinScore != 0.25 {
		t.Errorf("unexpected retrieval settings: %+v", cfg.Retrieval)
	}
	if !cfg.Rerank.Enabled || cfg.Rerank.Weight != 0.1 {
		t.Errorf("unexpected rerank settings: %+v", cfg.Rerank)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	writeConfig(t, testYAML)

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "valkey" {
		t.Errorf("expected default driver valkey, got %q", cfg.Database.Driver)
	}
	if cfg.Retrieval.IndexName != "raglet:docs:idx" {
		t.Errorf("expected default index name, got %q", cfg.Retrieval.IndexName)
	}
	if cfg.Retrieval.DocPrefix != "raglet:docs:" {
		t.Errorf("expected default doc prefix, got %q", cfg.Retrieval.DocPrefix)
	}
	if cfg.Context.TokenBudget != 3000 {
		t.Errorf("expected default token budget, got %d", cfg.Context.TokenBudget)
	}
	if cfg.Context.Separator != "\n\n---\n\n" {
		t.Errorf("expected default separator, got %q", cfg.Context.Separator)
	}
	if cfg.Cache.SearchTTLSec != 300 {
		t.Errorf("expected default search cache TTL, got %d", cfg.Cache.SearchTTLSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 120 {
		t.Errorf("expected streaming-friendly write timeout, got %d", cfg.HTTP.WriteTimeoutSec)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load("does-not-exist"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var cfg Config
		cfg.HTTP.Port = 8080
		cfg.Database.Addrs = []string{"localhost:6379"}
		cfg.Embedding.Model = "text-embedding-3-small"
		cfg.Generation.Models = map[string]string{"fast": "a", "balanced": "b"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, true},
		{"no database addrs", func(c *Config) { c.Database.Addrs = nil }, true},
		{"no embedding model", func(c *Config) { c.Embedding.Model = "" }, true},
		{"missing tier model", func(c *Config) { delete(c.Generation.Models, "balanced") }, true},
		{"min score above one", func(c *Config) { c.Retrieval.MinScore = 1.5 }, true},
		{"negative expansion variants", func(c *Config) { c.Retrieval.ExpansionVariants = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MY_VAR", "hello")

	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"${MY_VAR}", "hello"},
		{"${UNSET_VAR}", ""},
		{"${UNSET_VAR:-default}", "default"},
		{"${MY_VAR:-default}", "hello"},
		{"prefix ${MY_VAR} suffix", "prefix hello suffix"},
	}

	for _, tt := range tests {
		if got := string(expandEnvVars([]byte(tt.in))); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
