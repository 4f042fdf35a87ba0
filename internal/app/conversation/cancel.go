package conversation

import (
	"context"
	"errors"

	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

// errStale is returned when a request tries to write after it stopped being
// the active one. It is handled like a cancellation.
var errStale = errors.New("request is no longer active")

// activeRequest is the single in-flight request of an engine.
type activeRequest struct {
	ctx    context.Context
	cancel context.CancelFunc

	turnIndex int
	turnID    domain.TurnID

	// messageID is the placeholder a stop must remove; empty when the
	// request has no placeholder yet.
	messageID domain.MessageID

	// committed is set once real content reached the transcript.
	committed bool

	// regenerate marks retry/edit requests, whose turn survives failure.
	regenerate bool
}

// begin records a fresh cancellation token for turnIndex. Caller holds e.mu.
func (e *Engine) begin(ctx context.Context, turnIndex int, regenerate bool) *activeRequest {
	turn, _ := e.store.Turn(turnIndex)
	rctx, cancel := context.WithCancel(ctx)
	req := &activeRequest{
		ctx:        rctx,
		cancel:     cancel,
		turnIndex:  turnIndex,
		turnID:     turn.ID,
		regenerate: regenerate,
	}
	e.active = req
	e.loading = true
	e.notify()
	return req
}

// StopGeneration aborts the in-flight request. Visible state is rolled back
// before the cancellation signal is sent: the loading flag drops, the
// placeholder is removed, then the token is cancelled.
func (e *Engine) StopGeneration() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		e.loading = false
		return
	}
	e.abortLocked(e.active)
	observability.Cancellations.Inc()
}

// abortLocked rolls back req's placeholder and cancels it. Caller holds e.mu.
func (e *Engine) abortLocked(req *activeRequest) {
	e.loading = false
	if req.messageID != "" {
		if err := e.store.RemoveMessage(req.turnIndex, req.messageID); err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
			e.log.Warn("failed to remove placeholder on stop", "turn_index", req.turnIndex, "error", err)
		}
	}
	req.cancel()
	e.active = nil
	e.notify()
	e.log.Info("generation stopped", "turn_index", req.turnIndex)
}

// end releases req after normal completion or a handled failure. It has no
// effect on the transcript.
func (e *Engine) end(req *activeRequest) {
	e.mu.Lock()
	if e.active == req {
		e.active = nil
		e.loading = false
		e.notify()
	}
	e.mu.Unlock()
	req.cancel()
}

// apply runs fn under the engine lock if req is still active and not
// cancelled. A cancelled parent context leaves req active until run rolls it
// back, so nothing may land in between.
func (e *Engine) apply(req *activeRequest, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != req {
		return errStale
	}
	if err := req.ctx.Err(); err != nil {
		return err
	}
	return fn()
}

func (r *activeRequest) cancelled(err error) bool {
	return errors.Is(err, errStale) || errors.Is(err, context.Canceled) || r.ctx.Err() != nil
}
