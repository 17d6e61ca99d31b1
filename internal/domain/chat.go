package domain

import "context"

// Tier is the capability tier of the generative backend. It is supplied by
// the caller and selects the logical endpoint (and its resilience policies).
type Tier string

const (
	// TierFast favors latency over answer quality.
	TierFast Tier = "fast"
	// TierBalanced is the default quality/latency trade-off.
	TierBalanced Tier = "balanced"
)

// IsValid reports whether the tier is a known capability tier.
func (t Tier) IsValid() bool { return t == TierFast || t == TierBalanced }

// Turn is a prior conversation turn included in chat-style prompts.
type Turn struct {
	Question string
	Answer   string
}

// ChatRequest is a single generative call.
type ChatRequest struct {
	System string
	Prompt string
	Tier   Tier
}

// ChatResponse is the backend's complete answer with token usage.
type ChatResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Chunk is one streamed fragment of an answer.
type Chunk struct {
	Text string
	// Final marks the last chunk of a successful stream.
	Final bool
}

// ChatStream yields answer chunks until the stream ends or fails.
type ChatStream interface {
	// Recv returns the next chunk. It returns io.EOF after the final chunk
	// and any other error on stream failure.
	Recv() (Chunk, error)
	Close()
}

// ChatModel is the consumed interface of the generative backend.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error)
}
