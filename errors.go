package raglet

import "github.com/kailas-cloud/raglet/internal/domain"

// Sentinel errors surfaced by Ask and AskStream. Match with errors.Is.
var (
	// ErrRetrieval marks a vector index failure covering every expanded query.
	ErrRetrieval = domain.ErrRetrieval
	// ErrGeneration marks a generative backend failure after exhausting retries.
	ErrGeneration = domain.ErrGeneration
	// ErrCircuitOpen marks a call rejected by the endpoint's circuit breaker.
	ErrCircuitOpen = domain.ErrCircuitOpen
	// ErrGenerationTimeout marks a generative call that exceeded its deadline.
	ErrGenerationTimeout = domain.ErrGenerationTimeout
)
