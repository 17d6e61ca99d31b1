package chi

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/usecase/health"
	"github.com/kailas-cloud/raglet/internal/usecase/pipeline"
)

type mockAnswerer struct {
	answerFn func(ctx context.Context, req pipeline.AskRequest) (pipeline.Answer, error)
	streamFn func(ctx context.Context, req pipeline.AskRequest) (domain.ChatStream, domain.RankedList, error)
}

func (m *mockAnswerer) Answer(ctx context.Context, req pipeline.AskRequest) (pipeline.Answer, error) {
	return m.answerFn(ctx, req)
}

func (m *mockAnswerer) AnswerStream(ctx context.Context, req pipeline.AskRequest) (domain.ChatStream, domain.RankedList, error) {
	return m.streamFn(ctx, req)
}

type mockInvalidator struct {
	err   error
	calls int
}

func (m *mockInvalidator) InvalidateAll(ctx context.Context) error {
	m.calls++
	return m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func newTestServer(p answerer, cache cacheInvalidator) *Server {
	return NewServer(p, cache, health.New(&mockPinger{}, nil), zap.NewNop())
}
