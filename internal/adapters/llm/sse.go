package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// parseSSEStream reads SSE "data: ..." lines from body and converts each
// payload into a StreamEvent using parseLine. The returned channel is closed
// when the stream ends, the body fails, or ctx is cancelled.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamEvent, error)) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(ev domain.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			if bytes.Equal(data, []byte("[DONE]")) {
				send(domain.StreamEvent{Done: true})
				return
			}

			ev, err := parseLine(data)
			if err != nil {
				// Unparseable lines are skipped.
				continue
			}
			if ev == nil {
				continue
			}
			if !send(*ev) || ev.Done || ev.Err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(domain.StreamEvent{Err: &domain.CapabilityError{
				Capability: capabilityInference,
				Message:    fmt.Sprintf("stream read: %v", err),
				Err:        domain.ErrCapability,
			}})
		}
	}()
	return ch
}
