package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/config"
	dbRedis "github.com/kailas-cloud/raglet/internal/db/redis"
	"github.com/kailas-cloud/raglet/internal/domain"
	logpkg "github.com/kailas-cloud/raglet/internal/logger"
	"github.com/kailas-cloud/raglet/internal/metrics"
	"github.com/kailas-cloud/raglet/internal/repository/completions"
	"github.com/kailas-cloud/raglet/internal/repository/embcache"
	searchrepo "github.com/kailas-cloud/raglet/internal/repository/search"
	"github.com/kailas-cloud/raglet/internal/repository/searchcache"
	"github.com/kailas-cloud/raglet/internal/resilience"
	"github.com/kailas-cloud/raglet/internal/token"
	chiTransport "github.com/kailas-cloud/raglet/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/raglet/internal/transport/openai"
	"github.com/kailas-cloud/raglet/internal/usecase/assemble"
	"github.com/kailas-cloud/raglet/internal/usecase/expand"
	"github.com/kailas-cloud/raglet/internal/usecase/fuse"
	"github.com/kailas-cloud/raglet/internal/usecase/generate"
	healthuc "github.com/kailas-cloud/raglet/internal/usecase/health"
	"github.com/kailas-cloud/raglet/internal/usecase/pipeline"
	"github.com/kailas-cloud/raglet/internal/usecase/prompt"
	"github.com/kailas-cloud/raglet/internal/usecase/rerank"
	"github.com/kailas-cloud/raglet/internal/version"
)

func main() {
	// Load configuration for the current deployment environment
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting raglet API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Both valkey and redis speak RESP, one store covers them
	switch cfg.Database.Driver {
	case "valkey", "redis":
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterGenerationMetrics()
	metrics.RegisterPipelineMetrics()

	// Embedder chain: OpenAI -> Cached
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	embedder := embcache.New(baseEmbedder, store, metrics.EmbeddingCacheTotal, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Search chain: vector index -> generation-counter cache
	repo := searchrepo.New(store, embedder, cfg.Retrieval.IndexName, cfg.Retrieval.DocPrefix)
	searcher := searchcache.New(
		repo, store,
		time.Duration(cfg.Cache.SearchTTLSec)*time.Second,
		metrics.SearchCacheTotal, logger,
	)

	// Generative backend with per-tier resilience policies
	chatModel := openaiTransport.NewChatModel(&openaiTransport.ChatConfig{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Models:  tierModels(cfg.Generation.Models),
		Logger:  logger,
	})

	registry := resilience.NewRegistry(logger)
	for tier, p := range cfg.Generation.Policies {
		registry.Register(generate.EndpointFor(domain.Tier(tier)), resilience.PolicyConfig{
			MaxAttempts: p.MaxAttempts,
			Backoff:     time.Duration(p.BackoffMs) * time.Millisecond,
			Timeout:     time.Duration(p.TimeoutSec) * time.Second,
			Breaker: resilience.BreakerConfig{
				FailureThreshold:  p.Breaker.FailureThreshold,
				SuccessThreshold:  p.Breaker.SuccessThreshold,
				Cooldown:          time.Duration(p.Breaker.CooldownSec) * time.Second,
				HalfOpenMaxProbes: p.Breaker.HalfOpenMaxProbes,
			},
		})
	}
	generator := generate.New(chatModel, registry, logger)

	// Pipeline stages
	counter, err := token.NewCounter(cfg.Context.Encoding, cfg.Context.MemoSize)
	if err != nil {
		logger.Fatal("Failed to load token encoding", zap.Error(err))
	}
	prompts, err := prompt.New("", "")
	if err != nil {
		logger.Fatal("Failed to parse prompt templates", zap.Error(err))
	}

	expander := expand.New(chatModel, cfg.Retrieval.ExpansionVariants,
		domain.Tier(cfg.Retrieval.ExpansionTier), logger)
	assembler := assemble.New(counter, cfg.Context.TokenBudget, cfg.Context.Separator)
	reranker := rerank.New(cfg.Rerank.Weight, cfg.Rerank.Enabled)
	sink := completions.New(store, 7*24*time.Hour, logger)

	pipe := pipeline.New(
		pipeline.Config{
			TopK:                    cfg.Retrieval.TopK,
			MinScore:                cfg.Retrieval.MinScore,
			NoResultsAnswer:         cfg.Retrieval.NoResultsAnswer,
			MaxConcurrentRetrievals: cfg.Retrieval.MaxConcurrent,
		},
		expander, searcher, fuse.New(), reranker, assembler, prompts, generator, sink, logger,
	)

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder))

	server := chiTransport.NewServer(pipe, searcher, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func tierModels(models map[string]string) map[domain.Tier]string {
	out := make(map[domain.Tier]string, len(models))
	for tier, model := range models {
		out[domain.Tier(tier)] = model
	}
	return out
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
