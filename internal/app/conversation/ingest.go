package conversation

import (
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

// ingest appends streamed fragments to req's placeholder in arrival order.
// It returns when the stream ends, fails or req is cancelled. A stream that
// ends without a single fragment is an ErrEmptyResponse.
func (e *Engine) ingest(req *activeRequest, ch <-chan domain.StreamEvent) error {
	received := false
	for {
		select {
		case <-req.ctx.Done():
			return req.ctx.Err()

		case ev, ok := <-ch:
			if !ok || ev.Done {
				if !received {
					return &domain.CapabilityError{Capability: capInference, Err: domain.ErrEmptyResponse}
				}
				return nil
			}
			if ev.Err != nil {
				observability.CapabilityErrors.WithLabelValues(capInference).Inc()
				return ev.Err
			}
			if ev.Chunk == "" {
				continue
			}

			err := e.apply(req, func() error {
				if err := e.store.MutateMessage(req.turnIndex, req.messageID, domain.AppendContent(ev.Chunk)); err != nil {
					return err
				}
				req.committed = true
				return nil
			})
			if err != nil {
				return err
			}
			received = true
			observability.StreamFragments.Inc()
		}
	}
}

// BuildContext flattens the turns before active into the prior-context list
// sent to the inference capability: every user message followed by the most
// recent response of its turn, if any.
func BuildContext(turns []domain.ConversationTurn, active int) []domain.ChatMessage {
	if active > len(turns) {
		active = len(turns)
	}
	out := make([]domain.ChatMessage, 0, 2*active)
	for _, t := range turns[:max(active, 0)] {
		out = append(out, domain.ChatMessage{Role: domain.RoleUser, Content: t.UserMessage.Content})
		if r, ok := t.LatestResponse(); ok && r.Content != "" {
			out = append(out, domain.ChatMessage{Role: domain.RoleAssistant, Content: r.Content})
		}
	}
	return out
}
