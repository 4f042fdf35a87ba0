package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PabloGalante/evolve-chat/internal/app/directive"
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

// DefaultResearchMaxResults is used when EngineConfig leaves it unset.
const DefaultResearchMaxResults = 10

// Capabilities are the external collaborators an engine routes to.
// Media and Research may be nil; directives that need them then fail the turn.
type Capabilities struct {
	Inference domain.InferenceClient
	Media     domain.MediaSearchClient
	Research  domain.ResearchClient
}

type EngineConfig struct {
	SessionID domain.SessionID

	// Stream selects the streaming inference path when the client supports it.
	Stream bool

	// ResearchMaxResults is sent with every research request (1..20).
	ResearchMaxResults int
}

// Engine orchestrates one conversation: it parses submissions, owns the
// transcript through a TurnStore, routes turns to capabilities and keeps at
// most one request in flight.
type Engine struct {
	store domain.TurnStore
	caps  Capabilities
	cfg   EngineConfig
	log   *slog.Logger

	mu          sync.Mutex
	loading     bool
	err         string
	mode        domain.SessionMode
	lastContent string
	active      *activeRequest

	watchMu  sync.Mutex
	watchers map[int]func()
	nextWatch int
}

func NewEngine(store domain.TurnStore, caps Capabilities, cfg EngineConfig) *Engine {
	if cfg.ResearchMaxResults <= 0 || cfg.ResearchMaxResults > 20 {
		cfg.ResearchMaxResults = DefaultResearchMaxResults
	}
	return &Engine{
		store:    store,
		caps:     caps,
		cfg:      cfg,
		log:      observability.WithFields("session_id", cfg.SessionID),
		mode:     domain.ModeStandard,
		watchers: make(map[int]func()),
	}
}

// SendMessage submits text as a new turn and blocks until the turn settles.
//
// Blank input is ignored. A call made while another request is in flight
// returns domain.ErrRequestInFlight without touching the transcript. A
// stopped request returns nil. Capability failures are recorded in Error
// and also returned.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	e.err = ""
	e.lastContent = content
	idx, err := e.store.AppendTurn(content)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("append turn: %w", err)
	}
	req := e.begin(ctx, idx, false)
	e.mu.Unlock()

	return e.run(ctx, req, directive.Parse(content))
}

// Retry resubmits the last submitted user content as a new turn. It is a
// no-op before the first submission and returns domain.ErrRequestInFlight
// while a request is running.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	last, busy := e.lastContent, e.loading
	e.mu.Unlock()

	if busy {
		return domain.ErrRequestInFlight
	}
	if last == "" {
		return nil
	}
	return e.SendMessage(ctx, last)
}

// HandleRetry regenerates the responses of one turn in place. Other turns
// are left untouched; the prior context is every turn before turnIndex.
func (e *Engine) HandleRetry(ctx context.Context, turnIndex int) error {
	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	turn, err := e.store.Turn(turnIndex)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.err = ""
	if err := e.store.ClearResponses(turnIndex); err != nil {
		e.mu.Unlock()
		return err
	}
	req := e.begin(ctx, turnIndex, true)
	e.mu.Unlock()

	return e.run(ctx, req, directive.Parse(turn.UserMessage.Content))
}

// HandleEditAndResubmit replaces the user message of turnIndex, drops every
// later turn and regenerates the edited turn.
func (e *Engine) HandleEditAndResubmit(ctx context.Context, turnIndex int, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	if err := e.store.TruncateFrom(turnIndex, content); err != nil {
		e.mu.Unlock()
		return err
	}
	e.err = ""
	e.lastContent = content
	req := e.begin(ctx, turnIndex, true)
	e.mu.Unlock()

	return e.run(ctx, req, directive.Parse(content))
}

// ClearMessages stops any in-flight request and empties the transcript. The
// session mode returns to standard.
func (e *Engine) ClearMessages() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		e.abortLocked(e.active)
	}
	e.loading = false
	e.store.Clear()
	e.err = ""
	e.mode = domain.ModeStandard
	e.log.Info("transcript cleared")
	e.notify()
}

// EndSocraticMode leaves the sticky Socratic mode.
func (e *Engine) EndSocraticMode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = domain.ModeStandard
	e.notify()
}

// DismissError clears the error indicator.
func (e *Engine) DismissError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = ""
	e.notify()
}

func (e *Engine) Turns() []domain.ConversationTurn { return e.store.Turns() }

// Subscribe forwards every transcript transition to fn. fn runs while the
// engine may hold its lock and must not call back into the engine.
func (e *Engine) Subscribe(fn domain.TurnObserver) func() { return e.store.Subscribe(fn) }

// Watch calls fn whenever IsLoading, Error or Mode may have changed. Like
// Subscribe observers, fn runs under the engine lock: it must not block or
// call back into the engine.
func (e *Engine) Watch(fn func()) (unwatch func()) {
	e.watchMu.Lock()
	id := e.nextWatch
	e.nextWatch++
	e.watchers[id] = fn
	e.watchMu.Unlock()

	return func() {
		e.watchMu.Lock()
		delete(e.watchers, id)
		e.watchMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for _, fn := range e.watchers {
		fn()
	}
}

func (e *Engine) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

func (e *Engine) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) Mode() domain.SessionMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// run routes req and settles the turn: success ends the request, a
// cancellation rolls back silently and a failure removes or keeps the turn
// depending on whether content was produced.
func (e *Engine) run(ctx context.Context, req *activeRequest, d domain.Directive) error {
	log := observability.LoggerFromContext(ctx).With(
		"session_id", e.cfg.SessionID,
		"turn_index", req.turnIndex,
		"directive", d.Label(),
	)
	log.Info("routing turn")
	observability.TurnsTotal.WithLabelValues(string(d.Kind)).Inc()

	err := e.route(req, d)

	switch {
	case err == nil:
		e.end(req)
		log.Info("turn completed")
		return nil
	case req.cancelled(err):
		e.mu.Lock()
		if e.active == req {
			e.abortLocked(req)
		}
		e.mu.Unlock()
		req.cancel()
		log.Info("turn cancelled")
		return nil
	default:
		e.fail(req, err)
		e.end(req)
		log.Error("turn failed", "error", err, "committed", req.committed)
		return err
	}
}

// fail surfaces err and drops the turn (or just the placeholder) when the
// request produced no content.
func (e *Engine) fail(req *activeRequest, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != req {
		return
	}
	e.err = err.Error()
	e.notify()
	if req.committed {
		return
	}

	switch {
	case !req.regenerate:
		if rmErr := e.store.RemoveTurn(req.turnID); rmErr != nil && !errors.Is(rmErr, domain.ErrTurnNotFound) {
			e.log.Warn("failed to remove empty turn", "turn_index", req.turnIndex, "error", rmErr)
		}
	case req.messageID != "":
		if rmErr := e.store.RemoveMessage(req.turnIndex, req.messageID); rmErr != nil && !errors.Is(rmErr, domain.ErrMessageNotFound) {
			e.log.Warn("failed to remove placeholder", "turn_index", req.turnIndex, "error", rmErr)
		}
	}
	req.messageID = ""
}
