package conversation_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/evolve-chat/internal/adapters/storage/memory"
	"github.com/PabloGalante/evolve-chat/internal/app/conversation"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// fakeInference answers batch chats with "r<n>:<last user content>" unless
// reply is set.
type fakeInference struct {
	mu    sync.Mutex
	calls []domain.ChatRequest
	reply func(domain.ChatRequest) (*domain.ChatResponse, error)
}

func (f *fakeInference) SendChat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	if f.reply != nil {
		return f.reply(req)
	}
	last := req.Messages[len(req.Messages)-1].Content
	return &domain.ChatResponse{Message: fmt.Sprintf("r%d:%s", n, last)}, nil
}

func (f *fakeInference) requests() []domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChatRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeStreamer hands out a channel the test controls.
type fakeStreamer struct {
	fakeInference
	ch  chan domain.StreamEvent
	err error
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{ch: make(chan domain.StreamEvent, 16)}
}

func (f *fakeStreamer) StreamChat(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

type fakeMedia struct {
	mu    sync.Mutex
	calls []domain.MediaSearchRequest
	err   error
}

func (f *fakeMedia) Search(_ context.Context, req domain.MediaSearchRequest) (*domain.MediaSearchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.MediaSearchResponse{
		Images: []domain.ImageResult{{ID: 1, Thumb: "t.jpg", Full: "f.jpg", Photographer: "p"}},
	}, nil
}

type fakeResearch struct {
	mu    sync.Mutex
	calls []domain.ResearchRequest
	err   error
	// gate, when set, blocks Research until it is closed or ctx ends.
	gate chan struct{}
}

func (f *fakeResearch) Research(ctx context.Context, req domain.ResearchRequest) (*domain.ResearchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ResearchResponse{
		Query:     req.Query,
		Answer:    "answer to " + req.Query,
		Citations: []domain.Citation{{ID: 1, URL: "https://example.org", Title: "src"}},
		Sources:   []string{"https://example.org"},
	}, nil
}

type panicMedia struct{}

func (panicMedia) Search(context.Context, domain.MediaSearchRequest) (*domain.MediaSearchResponse, error) {
	panic("boom")
}

func newEngine(caps conversation.Capabilities, stream bool) *conversation.Engine {
	return conversation.NewEngine(memory.NewTurnStore(), caps, conversation.EngineConfig{
		SessionID: "test",
		Stream:    stream,
	})
}
