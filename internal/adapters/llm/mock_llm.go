package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// MockLLM answers locally without a provider. Streaming splits the reply
// into words.
type MockLLM struct {
	// Delay is waited between streamed fragments.
	Delay time.Duration
	now   func() time.Time
}

var _ domain.StreamingInferenceClient = (*MockLLM)(nil)

func NewMockLLM() *MockLLM {
	return &MockLLM{Delay: 30 * time.Millisecond, now: time.Now}
}

func (m *MockLLM) SendChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Message: m.reply(req), Timestamp: m.now()}, nil
}

func (m *MockLLM) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	words := strings.SplitAfter(m.reply(req), " ")
	ch := make(chan domain.StreamEvent, 1)
	go func() {
		defer close(ch)
		for _, w := range words {
			select {
			case ch <- domain.StreamEvent{Chunk: w}:
			case <-ctx.Done():
				return
			}
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- domain.StreamEvent{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (m *MockLLM) reply(req domain.ChatRequest) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if req.Mode == domain.ModeSocratic {
		return fmt.Sprintf("Before I answer: what do you already know about %q?", last)
	}
	style := string(req.LearningMode)
	if style == "" {
		style = "tutor"
	}
	return fmt.Sprintf("(%s) Let's learn about %q step by step.", style, last)
}
