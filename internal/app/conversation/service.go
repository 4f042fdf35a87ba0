package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

// ServiceConfig holds the defaults applied to new sessions.
type ServiceConfig struct {
	Stream             bool
	ResearchMaxResults int
}

// Service is the registry of live sessions. Each session owns one Engine
// and one transcript for the lifetime of the process.
type Service struct {
	sessionStore domain.SessionStore
	newTurnStore func() domain.TurnStore
	caps         Capabilities
	cfg          ServiceConfig
	now          func() time.Time

	mu      sync.RWMutex
	engines map[domain.SessionID]*Engine
}

func NewService(
	sessionStore domain.SessionStore,
	newTurnStore func() domain.TurnStore,
	caps Capabilities,
	cfg ServiceConfig,
) *Service {
	return &Service{
		sessionStore: sessionStore,
		newTurnStore: newTurnStore,
		caps:         caps,
		cfg:          cfg,
		now:          time.Now,
		engines:      make(map[domain.SessionID]*Engine),
	}
}

type StartSessionInput struct {
	Title string
	// Stream overrides the service default when set.
	Stream *bool
}

type StartSessionOutput struct {
	Session *domain.Session
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionOutput, error) {
	now := s.now()
	stream := s.cfg.Stream
	if in.Stream != nil {
		stream = *in.Stream
	}

	log := observability.LoggerFromContext(ctx).With("stream", stream)
	log.Info("starting new session")

	session := &domain.Session{
		ID:        domain.SessionID(generateID()),
		Title:     in.Title,
		Stream:    stream,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessionStore.CreateSession(session); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	engine := NewEngine(s.newTurnStore(), s.caps, EngineConfig{
		SessionID:          session.ID,
		Stream:             stream,
		ResearchMaxResults: s.cfg.ResearchMaxResults,
	})

	s.mu.Lock()
	s.engines[session.ID] = engine
	s.mu.Unlock()

	log.Info("session started", "session_id", session.ID)
	return &StartSessionOutput{Session: session}, nil
}

// SessionView is a point-in-time rendering of a session.
type SessionView struct {
	Session *domain.Session           `json:"session"`
	Turns   []domain.ConversationTurn `json:"turns"`
	Loading bool                      `json:"loading"`
	Error   string                    `json:"error,omitempty"`
	Mode    domain.SessionMode        `json:"mode"`
}

func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	session, engine, err := s.lookup(id)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("session lookup failed", "session_id", id, "error", err)
		return nil, err
	}
	return view(session, engine), nil
}

func (s *Service) ListSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	sessions, err := s.sessionStore.ListSessions(limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list sessions", "error", err)
		return nil, err
	}
	return sessions, nil
}

// DeleteSession stops the session's engine and forgets it.
func (s *Service) DeleteSession(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	engine, ok := s.engines[id]
	delete(s.engines, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}

	engine.ClearMessages()
	if err := s.sessionStore.DeleteSession(id); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to delete session", "session_id", id, "error", err)
		return err
	}
	observability.LoggerFromContext(ctx).Info("session deleted", "session_id", id)
	return nil
}

// Engine returns the live engine of a session.
func (s *Service) Engine(id domain.SessionID) (*Engine, error) {
	_, engine, err := s.lookup(id)
	return engine, err
}

type SendMessageInput struct {
	SessionID domain.SessionID
	Text      string
}

// SendMessage submits text and returns the session once the turn settled.
// A capability failure is returned together with the view.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SessionView, error) {
	return s.do(ctx, in.SessionID, "send message", func(e *Engine) error {
		return e.SendMessage(ctx, in.Text)
	})
}

func (s *Service) Retry(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	return s.do(ctx, id, "retry", func(e *Engine) error {
		return e.Retry(ctx)
	})
}

func (s *Service) RetryTurn(ctx context.Context, id domain.SessionID, turnIndex int) (*SessionView, error) {
	return s.do(ctx, id, "retry turn", func(e *Engine) error {
		return e.HandleRetry(ctx, turnIndex)
	})
}

func (s *Service) EditTurn(ctx context.Context, id domain.SessionID, turnIndex int, text string) (*SessionView, error) {
	return s.do(ctx, id, "edit turn", func(e *Engine) error {
		return e.HandleEditAndResubmit(ctx, turnIndex, text)
	})
}

func (s *Service) Stop(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	return s.do(ctx, id, "stop generation", func(e *Engine) error {
		e.StopGeneration()
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	return s.do(ctx, id, "clear messages", func(e *Engine) error {
		e.ClearMessages()
		return nil
	})
}

func (s *Service) EndSocraticMode(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	return s.do(ctx, id, "end socratic mode", func(e *Engine) error {
		e.EndSocraticMode()
		return nil
	})
}

func (s *Service) DismissError(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	return s.do(ctx, id, "dismiss error", func(e *Engine) error {
		e.DismissError()
		return nil
	})
}

func (s *Service) do(ctx context.Context, id domain.SessionID, op string, fn func(*Engine) error) (*SessionView, error) {
	session, engine, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With("session_id", id, "op", op)
	log.Debug("session operation")

	opErr := fn(engine)
	if opErr != nil {
		log.Warn("session operation failed", "error", opErr)
	}

	session.UpdatedAt = s.now()
	if err := s.sessionStore.UpdateSession(session); err != nil {
		log.Error("failed to update session", "error", err)
		return nil, err
	}
	return view(session, engine), opErr
}

func (s *Service) lookup(id domain.SessionID) (*domain.Session, *Engine, error) {
	s.mu.RLock()
	engine, ok := s.engines[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	session, err := s.sessionStore.GetSession(id)
	if err != nil {
		return nil, nil, err
	}
	return session, engine, nil
}

func view(session *domain.Session, e *Engine) *SessionView {
	return &SessionView{
		Session: session,
		Turns:   e.Turns(),
		Loading: e.IsLoading(),
		Error:   e.Error(),
		Mode:    e.Mode(),
	}
}

func generateID() string {
	return ulid.Make().String()
}
