package domain

import "errors"

// Error taxonomy for the answer pipeline. Callers branch on these kinds to
// decide retry-ability and user-facing wording.
var (
	// ErrExpansion signals that the paraphrasing call failed. Recoverable:
	// the pipeline falls back to the original-only query list.
	ErrExpansion = errors.New("query expansion failed")
	// ErrRetrieval signals that the vector index call failed or timed out.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration signals a non-retryable generative failure: a permanent
	// provider rejection (bad request, bad credentials) or retry exhaustion.
	ErrGeneration = errors.New("generation failed")
	// ErrCircuitOpen signals that the endpoint's breaker rejected the call
	// without reaching the backend.
	ErrCircuitOpen = errors.New("generation circuit open")
	// ErrGenerationTimeout signals that the generative call exceeded its deadline.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationProviderError signals a generative backend failure
	// considered transient (retryable by policy).
	ErrGenerationProviderError = errors.New("generation provider error")
)

// IsRetrievalError reports whether err belongs to the retrieval layer.
func IsRetrievalError(err error) bool {
	return errors.Is(err, ErrRetrieval)
}

// IsGenerationError reports whether err belongs to the generation layer,
// including the circuit-open and timeout sub-kinds.
func IsGenerationError(err error) bool {
	return errors.Is(err, ErrGeneration) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrGenerationTimeout)
}
