package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	chirouter "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/usecase/health"
	"github.com/kailas-cloud/raglet/internal/usecase/pipeline"
)

// Consumed slices of the pipeline and the result cache.
type (
	answerer interface {
		Answer(ctx context.Context, req pipeline.AskRequest) (pipeline.Answer, error)
		AnswerStream(ctx context.Context, req pipeline.AskRequest) (domain.ChatStream, domain.RankedList, error)
	}

	cacheInvalidator interface {
		InvalidateAll(ctx context.Context) error
	}
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API for the answer pipeline.
type Server struct {
	pipeline      answerer
	cache         cacheInvalidator
	health        *health.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. cache may be nil when the result
// cache is not wired.
func NewServer(p answerer, cache cacheInvalidator, h *health.Service, logger *zap.Logger) *Server {
	s := &Server{
		pipeline: p,
		cache:    cache,
		health:   h,
		logger:   logger,
	}
	// Circuit-open and timeout are sub-kinds of generation failure and
	// must match before the generic sentinel.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrCircuitOpen, http.StatusServiceUnavailable, CodeCircuitOpen),
		sentinelHandler(domain.ErrGenerationTimeout, http.StatusGatewayTimeout, CodeGenerationTimeout),
		sentinelHandler(domain.ErrGeneration, http.StatusBadGateway, CodeGenerationFailed),
		sentinelHandler(domain.ErrGenerationProviderError, http.StatusBadGateway, CodeGenerationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProvider),
		sentinelHandler(domain.ErrRetrieval, http.StatusBadGateway, CodeRetrievalFailed),
	}
	return s
}

// Routes mounts all API routes on the router.
func (s *Server) Routes(r chirouter.Router) {
	r.Post("/api/v1/answers", s.CreateAnswer)
	r.Post("/api/v1/answers/stream", s.StreamAnswer)
	r.Post("/api/v1/cache/invalidate", s.InvalidateCache)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// CreateAnswer handles POST /api/v1/answers.
func (s *Server) CreateAnswer(w http.ResponseWriter, r *http.Request) {
	askReq, ok := s.decodeAskRequest(w, r)
	if !ok {
		return
	}

	answer, err := s.pipeline.Answer(r.Context(), askReq)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AnswerResponse{
		Answer:    answer.Text,
		NoResults: answer.NoResults,
		Sources:   sourcesToResponse(answer.Sources),
	})
}

// StreamAnswer handles POST /api/v1/answers/stream. The response is a
// server-sent event stream: a "sources" event, "chunk" events with answer
// fragments, and a terminal "done" or "error" event.
func (s *Server) StreamAnswer(w http.ResponseWriter, r *http.Request) {
	askReq, ok := s.decodeAskRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "streaming unsupported")
		return
	}

	stream, sources, err := s.pipeline.AnswerStream(r.Context(), askReq)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "sources", sourcesToResponse(sources))
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			writeSSE(w, "done", map[string]any{})
			flusher.Flush()
			return
		}
		if err != nil {
			// Headers are already sent; the failure travels in-band.
			s.logger.Warn("answer stream failed", zap.Error(err))
			writeSSE(w, "error", ErrorResponse{
				Code:    errorCodeFor(err),
				Message: safeDomainMessage(err),
			})
			flusher.Flush()
			return
		}
		writeSSE(w, "chunk", map[string]string{"text": chunk.Text})
		flusher.Flush()
	}
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (s *Server) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.cache.InvalidateAll(r.Context()); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != health.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decodeAskRequest(w http.ResponseWriter, r *http.Request) (pipeline.AskRequest, bool) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return pipeline.AskRequest{}, false
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "Question is required")
		return pipeline.AskRequest{}, false
	}

	tier, err := tierFromRequest(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return pipeline.AskRequest{}, false
	}

	filters, err := filtersFromRequest(req.Filters)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return pipeline.AskRequest{}, false
	}

	return pipeline.AskRequest{
		Question: req.Question,
		Tier:     tier,
		Filters:  filters,
		History:  historyFromRequest(req.History),
	}, true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeSSE(w io.Writer, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrCircuitOpen,
		domain.ErrGenerationTimeout,
		domain.ErrGeneration,
		domain.ErrGenerationProviderError,
		domain.ErrEmbeddingProviderError,
		domain.ErrRetrieval,
		domain.ErrExpansion,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func errorCodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, domain.ErrGenerationTimeout):
		return CodeGenerationTimeout
	case domain.IsGenerationError(err), errors.Is(err, domain.ErrGenerationProviderError):
		return CodeGenerationFailed
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		return CodeEmbeddingProvider
	case domain.IsRetrievalError(err):
		return CodeRetrievalFailed
	default:
		return CodeInternalError
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}
