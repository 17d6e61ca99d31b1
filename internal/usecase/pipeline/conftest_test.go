package pipeline

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/request"
)

type mockExpander struct {
	expandFn func(ctx context.Context, query string) ([]string, error)
}

func (m *mockExpander) Expand(ctx context.Context, query string) ([]string, error) {
	return m.expandFn(ctx, query)
}

type mockSearcher struct {
	mu       sync.Mutex
	searchFn func(ctx context.Context, req request.Request) (domain.RankedList, error)
	queries  []string
}

func (m *mockSearcher) Search(ctx context.Context, req request.Request) (domain.RankedList, error) {
	m.mu.Lock()
	m.queries = append(m.queries, req.Query())
	m.mu.Unlock()
	return m.searchFn(ctx, req)
}

func (m *mockSearcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

type mockFuser struct {
	fuseFn func(lists []domain.RankedList) domain.RankedList
}

func (m *mockFuser) Fuse(lists []domain.RankedList) domain.RankedList {
	return m.fuseFn(lists)
}

type mockReranker struct{}

func (m *mockReranker) Rerank(docs domain.RankedList, query string) domain.RankedList {
	return docs
}

type mockAssembler struct {
	assembleFn func(docs domain.RankedList) (string, domain.RankedList)
}

func (m *mockAssembler) Assemble(docs domain.RankedList) (string, domain.RankedList) {
	return m.assembleFn(docs)
}

type mockPrompts struct{}

func (m *mockPrompts) System() string { return "system" }

func (m *mockPrompts) Build(contextText, question string, history []domain.Turn) (string, error) {
	return "CTX:" + contextText + "\nQ:" + question, nil
}

type mockGenerator struct {
	generateFn func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	streamFn   func(ctx context.Context, req domain.ChatRequest) (domain.ChatStream, error)

	generateCalls int
	streamCalls   int
}

func (m *mockGenerator) Generate(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	m.generateCalls++
	return m.generateFn(ctx, req)
}

func (m *mockGenerator) GenerateStream(ctx context.Context, req domain.ChatRequest) (domain.ChatStream, error) {
	m.streamCalls++
	return m.streamFn(ctx, req)
}

type sinkCall struct {
	question string
	answer   string
	complete bool
}

type mockSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (m *mockSink) Persist(ctx context.Context, question, answer string, complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sinkCall{question: question, answer: answer, complete: complete})
}

func (m *mockSink) snapshot() []sinkCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sinkCall(nil), m.calls...)
}

// scriptedStream replays fixed chunks then io.EOF.
type scriptedStream struct {
	chunks []string
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (domain.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return domain.Chunk{Final: true}, io.EOF
	}
	c := domain.Chunk{Text: s.chunks[s.pos]}
	s.pos++
	return c, nil
}

func (s *scriptedStream) Close() { s.closed = true }

func doc(id, content string) domain.Document {
	return domain.Document{ID: id, Content: content}
}

// passFuse concatenates lists in order, good enough for orchestration tests.
func passFuse(lists []domain.RankedList) domain.RankedList {
	var out domain.RankedList
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

type fixture struct {
	expander  *mockExpander
	searcher  *mockSearcher
	fuser     *mockFuser
	assembler *mockAssembler
	generator *mockGenerator
	sink      *mockSink
}

func newFixture() *fixture {
	return &fixture{
		expander: &mockExpander{
			expandFn: func(_ context.Context, query string) ([]string, error) {
				return []string{query}, nil
			},
		},
		searcher: &mockSearcher{
			searchFn: func(_ context.Context, _ request.Request) (domain.RankedList, error) {
				return domain.RankedList{doc("d1", "alpha")}, nil
			},
		},
		fuser: &mockFuser{fuseFn: passFuse},
		assembler: &mockAssembler{
			assembleFn: func(docs domain.RankedList) (string, domain.RankedList) {
				var text string
				for i, d := range docs {
					if i > 0 {
						text += "\n"
					}
					text += d.Content
				}
				return text, docs
			},
		},
		generator: &mockGenerator{
			generateFn: func(_ context.Context, _ domain.ChatRequest) (domain.ChatResponse, error) {
				return domain.ChatResponse{Text: "the answer"}, nil
			},
			streamFn: func(_ context.Context, _ domain.ChatRequest) (domain.ChatStream, error) {
				return &scriptedStream{chunks: []string{"the ", "answer"}}, nil
			},
		},
		sink: &mockSink{},
	}
}

func (f *fixture) build(cfg Config) *Pipeline {
	return New(cfg, f.expander, f.searcher, f.fuser, &mockReranker{},
		f.assembler, &mockPrompts{}, f.generator, f.sink, zap.NewNop())
}
