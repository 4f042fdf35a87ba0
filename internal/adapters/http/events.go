package httpadapter

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/PabloGalante/evolve-chat/internal/app/conversation"
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

const eventWriteTimeout = 5 * time.Second

// sessionEvent is one websocket frame: the full transcript plus the
// engine's indicators at send time.
type sessionEvent struct {
	Type    string                    `json:"type"` // snapshot, update
	Turns   []domain.ConversationTurn `json:"turns"`
	Loading bool                      `json:"loading"`
	Error   string                    `json:"error,omitempty"`
	Mode    domain.SessionMode        `json:"mode"`
}

// handleEvents pushes a snapshot on connect and then a fresh one after
// every transcript or indicator change. Changes that arrive while a frame is
// being written collapse into one, so a slow client only sees the newest
// state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	engine, err := s.svc.Engine(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	log := observability.LoggerFromContext(r.Context()).With("session_id", id)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.AllowedOrigins),
	})
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	changed := make(chan struct{}, 1)
	poke := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	unsubscribe := engine.Subscribe(func([]domain.ConversationTurn) { poke() })
	defer unsubscribe()
	unwatch := engine.Watch(poke)
	defer unwatch()

	// Incoming frames are not expected; CloseRead handles control frames and
	// cancels ctx once the client goes away.
	ctx := ws.CloseRead(r.Context())

	log.Info("event stream opened")
	defer log.Info("event stream closed")

	if err := writeEvent(ctx, ws, snapshot("snapshot", engine)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if err := writeEvent(ctx, ws, snapshot("update", engine)); err != nil {
				log.Debug("event write failed", "error", err)
				return
			}
		}
	}
}

func snapshot(typ string, e *conversation.Engine) sessionEvent {
	return sessionEvent{
		Type:    typ,
		Turns:   e.Turns(),
		Loading: e.IsLoading(),
		Error:   e.Error(),
		Mode:    e.Mode(),
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev sessionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}

// originPatterns turns configured origins into the host patterns the
// websocket handshake checks. No restriction maps to "*".
func originPatterns(allowed []string) []string {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return []string{"*"}
	}
	out := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
