package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/PabloGalante/evolve-chat/internal/app/conversation"
	"github.com/PabloGalante/evolve-chat/internal/app/directive"
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

// Options wires the capability endpoints and the middleware chain.
// Nil capabilities answer 503.
type Options struct {
	Inference domain.InferenceClient
	Media     domain.MediaSearchClient
	Research  domain.ResearchClient

	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

type Server struct {
	svc  *conversation.Service
	opts Options
}

func NewServer(svc *conversation.Service, opts Options) http.Handler {
	s := &Server{svc: svc, opts: opts}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	// Sessions
	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/events", s.handleEvents).Methods(http.MethodGet)

	// Session-scoped engine operations
	r.HandleFunc("/sessions/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/turns", s.handleClear).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/turns/{index:[0-9]+}", s.handleEditTurn).Methods(http.MethodPut)
	r.HandleFunc("/sessions/{id}/turns/{index:[0-9]+}/retry", s.handleRetryTurn).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/mode", s.handleEndSocraticMode).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/error", s.handleDismissError).Methods(http.MethodDelete)

	// Direct capability access
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost)
	api.HandleFunc("/media-search", s.handleMediaSearch).Methods(http.MethodPost)
	api.HandleFunc("/research", s.handleResearch).Methods(http.MethodPost)
	api.HandleFunc("/llm-status", s.handleLLMStatus).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		methodNotAllowed(w)
	})

	return chainMiddlewares(r,
		withRateLimit(opts.RateLimit, opts.RateBurst),
		withCORS(opts.AllowedOrigins),
		withLogging,
		withRequestID,
	)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createSessionRequest struct {
	Title  string `json:"title,omitempty"`
	Stream *bool  `json:"stream,omitempty"`
}

type createSessionResponse struct {
	Session *domain.Session `json:"session"`
}

type listSessionsResponse struct {
	Sessions []*domain.Session `json:"sessions"`
}

type textRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}

	if h, ok := s.opts.Research.(interface{ Health(context.Context) error }); ok {
		if err := h.Health(r.Context()); err != nil {
			resp["research"] = err.Error()
		} else {
			resp["research"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	}

	out, err := s.svc.StartSession(r.Context(), conversation.StartSessionInput{
		Title:  req.Title,
		Stream: req.Stream,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{Session: out.Session})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := s.svc.ListSessions(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetSession(r.Context(), sessionID(r))
	s.respondView(w, r, view, err)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), sessionID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage blocks until the turn settles. Closing the connection
// stops the request.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	if directive.IsLearningModeTag(text) {
		observability.LoggerFromContext(r.Context()).Warn("learning-mode tag without a research or media tag is sent as plain text",
			"session_id", sessionID(r))
	}
	view, err := s.svc.SendMessage(r.Context(), conversation.SendMessageInput{
		SessionID: sessionID(r),
		Text:      text,
	})
	s.respondView(w, r, view, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Stop(r.Context(), sessionID(r))
	s.respondView(w, r, view, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Retry(r.Context(), sessionID(r))
	s.respondView(w, r, view, err)
}

func (s *Server) handleRetryTurn(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.RetryTurn(r.Context(), sessionID(r), turnIndex(r))
	s.respondView(w, r, view, err)
}

func (s *Server) handleEditTurn(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	view, err := s.svc.EditTurn(r.Context(), sessionID(r), turnIndex(r), text)
	s.respondView(w, r, view, err)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Clear(r.Context(), sessionID(r))
	s.respondView(w, r, view, err)
}

func (s *Server) handleEndSocraticMode(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.EndSocraticMode(r.Context(), sessionID(r))
	s.respondView(w, r, view, err)
}

func (s *Server) handleDismissError(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.DismissError(r.Context(), sessionID(r))
	s.respondView(w, r, view, err)
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func sessionID(r *http.Request) domain.SessionID {
	return domain.SessionID(mux.Vars(r)["id"])
}

// turnIndex is guarded by the route pattern; overflow falls to -1, which
// the store rejects as not found.
func turnIndex(r *http.Request) int {
	n, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		return -1
	}
	return n
}

func decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return "", false
	}
	return req.Text, true
}

// respondView writes the session view. A failed turn still returns the view,
// with the status of its error, so the caller sees what was kept.
func (s *Server) respondView(w http.ResponseWriter, r *http.Request, view *conversation.SessionView, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}
	status := statusFor(err)
	if view == nil || status == http.StatusConflict || status == http.StatusNotFound {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, view)
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func statusFor(err error) int {
	var ce *domain.CapabilityError
	switch {
	case errors.Is(err, domain.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrTurnNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ce), errors.Is(err, domain.ErrCapability), errors.Is(err, domain.ErrEmptyResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		internalError(w, r, err)
		return
	}

	resp := errorResponse{Error: err.Error()}
	var ce *domain.CapabilityError
	if errors.As(err, &ce) {
		resp.Error = ce.Message
		if resp.Error == "" {
			resp.Error = ce.Err.Error()
		}
		resp.Details = ce.Details
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context()).Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func unavailable(w http.ResponseWriter, capability string) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{
		Error: capability + " is not configured",
	})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}
