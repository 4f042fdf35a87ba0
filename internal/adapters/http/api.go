package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/PabloGalante/evolve-chat/internal/adapters/llm"
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

// chatRequest is the body of /api/chat and /api/chat/stream. Client system
// messages are dropped; the inference adapter owns the system prompt.
type chatRequest struct {
	Messages     *[]chatMessage      `json:"messages"`
	Mode         domain.SessionMode  `json:"mode,omitempty"`
	LearningMode domain.LearningMode `json:"learning_mode,omitempty"`
}

type chatMessage struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

type chatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type llmStatusResponse struct {
	Status    string      `json:"status"`
	Inference *llm.Status `json:"inference,omitempty"`
	Provider  string      `json:"provider,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.opts.Inference == nil {
		unavailable(w, "inference")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	resp, err := s.opts.Inference.SendChat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ts := resp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	writeJSON(w, http.StatusOK, chatResponse{Message: resp.Message, Timestamp: ts})
}

// handleChatStream answers with an event stream of `data: {"chunk"}` frames
// ended by `data: [DONE]`, or by one `data: {"error"}` frame. Clients that
// cannot stream get their batch reply as a single chunk.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Inference == nil {
		unavailable(w, "inference")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	ch, err := openChatStream(r, s.opts.Inference, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	log := observability.LoggerFromContext(r.Context())
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(v any) bool {
		var data []byte
		if raw, ok := v.(string); ok {
			data = []byte(raw)
		} else {
			data, _ = json.Marshal(v)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	for {
		select {
		case <-r.Context().Done():
			log.Info("chat stream cancelled by client")
			return
		case ev, open := <-ch:
			switch {
			case !open || ev.Done:
				send("[DONE]")
				return
			case ev.Err != nil:
				log.Warn("chat stream failed", "error", ev.Err)
				send(llm.ChatAPIEvent{Error: ev.Err.Error()})
				return
			case ev.Chunk != "":
				if !send(llm.ChatAPIEvent{Chunk: ev.Chunk}) {
					return
				}
				observability.StreamFragments.Inc()
			}
		}
	}
}

func openChatStream(r *http.Request, c domain.InferenceClient, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	if sc, ok := c.(domain.StreamingInferenceClient); ok {
		return sc.StreamChat(r.Context(), req)
	}
	resp, err := c.SendChat(r.Context(), req)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.StreamEvent, 1)
	ch <- domain.StreamEvent{Chunk: resp.Message}
	close(ch)
	return ch, nil
}

func decodeChat(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, bool) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Messages == nil {
		badRequest(w, "Invalid request: messages array is required")
		return domain.ChatRequest{}, false
	}

	req := domain.ChatRequest{Mode: body.Mode, LearningMode: body.LearningMode}
	if req.Mode == "" {
		req.Mode = domain.ModeStandard
	}
	for _, m := range *body.Messages {
		if m.Role == nil || m.Content == nil {
			badRequest(w, "Invalid message format")
			return domain.ChatRequest{}, false
		}
		switch role := domain.Role(*m.Role); role {
		case domain.RoleSystem:
			continue
		case domain.RoleUser, domain.RoleAssistant:
			req.Messages = append(req.Messages, domain.ChatMessage{Role: role, Content: *m.Content})
		default:
			badRequest(w, "Invalid message format")
			return domain.ChatRequest{}, false
		}
	}
	return req, true
}

func (s *Server) handleMediaSearch(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	if s.opts.Media == nil {
		unavailable(w, "media search")
		return
	}
	var req domain.MediaSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request")
		return
	}
	if req.Type == "" {
		req.Type = domain.MediaBoth
	}

	res, err := s.opts.Media.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	if s.opts.Research == nil {
		unavailable(w, "research")
		return
	}
	var req domain.ResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request format")
		return
	}

	res, err := s.opts.Research.Research(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Inference == nil {
		unavailable(w, "inference")
		return
	}
	resp := llmStatusResponse{Status: "success"}
	switch c := s.opts.Inference.(type) {
	case interface{ Status() llm.Status }:
		st := c.Status()
		resp.Inference = &st
	case llm.Named:
		resp.Provider = c.Name()
	default:
		resp.Provider = fmt.Sprintf("%T", c)
	}
	writeJSON(w, http.StatusOK, resp)
}
