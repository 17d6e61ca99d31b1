package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/metrics"
)

// ChatModel is a generative backend using the OpenAI-compatible API.
// Each capability tier maps to its own model name; resilience policies are
// layered on top by the caller, not here.
type ChatModel struct {
	client *openai.Client
	models map[domain.Tier]string
	user   string
	logger *zap.Logger
}

// ChatConfig holds the generative provider settings.
type ChatConfig struct {
	APIKey  string
	BaseURL string
	// Models maps capability tiers to provider model names.
	Models map[domain.Tier]string
	User   string
	Logger *zap.Logger
}

var _ domain.ChatModel = (*ChatModel)(nil)

// NewChatModel creates an OpenAI-compatible generative provider.
func NewChatModel(cfg *ChatConfig) *ChatModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &ChatModel{
		client: openai.NewClientWithConfig(clientCfg),
		models: cfg.Models,
		user:   cfg.User,
		logger: cfg.Logger,
	}
}

// Chat implements domain.ChatModel for the single-answer shape.
func (m *ChatModel) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	model, err := m.modelFor(req.Tier)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	tier := string(req.Tier)

	start := time.Now()

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toMessages(req),
		User:     m.user,
	})

	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(tier, model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(tier, model, "api_error").Inc()
		return domain.ChatResponse{}, parseAPIError("chat", err, domain.ErrGenerationProviderError, domain.ErrGeneration)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(tier, model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(tier, model, "empty_response").Inc()
		return domain.ChatResponse{}, fmt.Errorf("empty chat response: %w", domain.ErrGenerationProviderError)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(tier, model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(tier, model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(tier, model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.GenerationTokensTotal.WithLabelValues(tier, model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}

	return domain.ChatResponse{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// ChatStream implements domain.ChatModel for the streaming shape. The
// returned stream yields chunks until io.EOF; Close releases the underlying
// connection.
func (m *ChatModel) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.ChatStream, error) {
	model, err := m.modelFor(req.Tier)
	if err != nil {
		return nil, err
	}
	tier := string(req.Tier)

	stream, err := m.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toMessages(req),
		User:     m.user,
		Stream:   true,
	})
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(tier, model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(tier, model, "api_error").Inc()
		return nil, parseAPIError("chat stream", err, domain.ErrGenerationProviderError, domain.ErrGeneration)
	}

	return &chatStream{
		inner:   stream,
		tier:    tier,
		model:   model,
		started: time.Now(),
	}, nil
}

func (m *ChatModel) modelFor(tier domain.Tier) (string, error) {
	if !tier.IsValid() {
		return "", fmt.Errorf("unknown capability tier %q", tier)
	}
	model, ok := m.models[tier]
	if !ok {
		return "", fmt.Errorf("no model configured for tier %q", tier)
	}
	return model, nil
}

func toMessages(req domain.ChatRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return msgs
}

// chatStream adapts the provider's SSE stream to domain.ChatStream and
// records first-chunk latency and total duration.
type chatStream struct {
	inner    *openai.ChatCompletionStream
	tier     string
	model    string
	started  time.Time
	gotFirst bool
	done     bool
}

func (s *chatStream) Recv() (domain.Chunk, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish("success")
				return domain.Chunk{Final: true}, io.EOF
			}
			s.finish("error")
			metrics.GenerationErrorsTotal.WithLabelValues(s.tier, s.model, "stream_error").Inc()
			return domain.Chunk{}, parseAPIError("chat stream", err, domain.ErrGenerationProviderError, domain.ErrGeneration)
		}

		if !s.gotFirst {
			s.gotFirst = true
			metrics.GenerationFirstChunkDuration.WithLabelValues(s.tier, s.model).
				Observe(time.Since(s.started).Seconds())
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" && resp.Choices[0].FinishReason == "" {
			continue
		}
		return domain.Chunk{Text: delta}, nil
	}
}

func (s *chatStream) Close() {
	s.finish("cancelled")
	_ = s.inner.Close()
}

// finish records terminal metrics exactly once per stream.
func (s *chatStream) finish(status string) {
	if s.done {
		return
	}
	s.done = true
	metrics.GenerationRequestsTotal.WithLabelValues(s.tier, s.model, status).Inc()
	metrics.GenerationRequestDuration.WithLabelValues(s.tier, s.model).
		Observe(time.Since(s.started).Seconds())
}
