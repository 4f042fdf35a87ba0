package httpadapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	httpadapter "github.com/PabloGalante/evolve-chat/internal/adapters/http"
	"github.com/PabloGalante/evolve-chat/internal/adapters/llm"
	"github.com/PabloGalante/evolve-chat/internal/adapters/search"
	"github.com/PabloGalante/evolve-chat/internal/adapters/storage/memory"
	"github.com/PabloGalante/evolve-chat/internal/app/conversation"
	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

func newTestServer(t *testing.T, opts httpadapter.Options) http.Handler {
	t.Helper()

	mock := llm.NewMockLLM()
	mock.Delay = 0

	if opts.Inference == nil {
		opts.Inference = mock
	}
	if opts.Media == nil {
		opts.Media = search.MockMedia{}
	}
	if opts.Research == nil {
		opts.Research = search.MockResearch{}
	}

	svc := conversation.NewService(
		memory.NewSessionStore(),
		func() domain.TurnStore { return memory.NewTurnStore() },
		conversation.Capabilities{Inference: opts.Inference, Media: opts.Media, Research: opts.Research},
		conversation.ServiceConfig{},
	)
	return httpadapter.NewServer(svc, opts)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, h http.Handler, body string) domain.SessionID {
	t.Helper()
	w := do(t, h, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Session domain.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Session.ID)
	return resp.Session.ID
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) conversation.SessionView {
	t.Helper()
	var v conversation.SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evolve_cancellations_total")
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})
	id := createSession(t, srv, `{"title":"Biology"}`)
	base := "/sessions/" + string(id)

	// Send
	w := do(t, srv, http.MethodPost, base+"/messages", `{"text":"what is a cell?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decodeView(t, w)
	require.Len(t, v.Turns, 1)
	assert.Equal(t, "what is a cell?", v.Turns[0].UserMessage.Content)
	require.Len(t, v.Turns[0].AIResponses, 1)
	assert.Contains(t, v.Turns[0].AIResponses[0].Content, "what is a cell?")
	assert.False(t, v.Loading)

	w = do(t, srv, http.MethodPost, base+"/messages", `{"text":"and an atom?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeView(t, w).Turns, 2)

	// Edit the first turn: the second one is dropped.
	w = do(t, srv, http.MethodPut, base+"/turns/0", `{"text":"what is a nucleus?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = decodeView(t, w)
	require.Len(t, v.Turns, 1)
	assert.Equal(t, "what is a nucleus?", v.Turns[0].UserMessage.Content)
	assert.Contains(t, v.Turns[0].AIResponses[0].Content, "nucleus")

	// Retry it in place.
	w = do(t, srv, http.MethodPost, base+"/turns/0/retry", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeView(t, w).Turns, 1)

	// Retry resubmits the last content as a new turn.
	w = do(t, srv, http.MethodPost, base+"/retry", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeView(t, w).Turns, 2)

	w = do(t, srv, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Biology", decodeView(t, w).Session.Title)

	// Clear
	w = do(t, srv, http.MethodDelete, base+"/turns", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeView(t, w).Turns)

	// Delete
	w = do(t, srv, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})
	createSession(t, srv, "")
	createSession(t, srv, `{"stream":true}`)

	w := do(t, srv, http.MethodGet, "/sessions?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []domain.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 1)

	w = do(t, srv, http.MethodGet, "/sessions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSocraticModeAndEnd(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})
	base := "/sessions/" + string(createSession(t, srv, ""))

	w := do(t, srv, http.MethodPost, base+"/messages", `{"text":"[MODE:Socratic] why is the sky blue?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	v := decodeView(t, w)
	assert.Equal(t, domain.ModeSocratic, v.Mode)
	assert.Contains(t, v.Turns[0].AIResponses[0].Content, "what do you already know")

	w = do(t, srv, http.MethodDelete, base+"/mode", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ModeStandard, decodeView(t, w).Mode)
}

func TestSendMessage_CapabilityFailureReturnsView(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})
	base := "/sessions/" + string(createSession(t, srv, ""))

	w := do(t, srv, http.MethodPost, base+"/messages", `{"text":"[SEARCH:Images] ab"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	v := decodeView(t, w)
	assert.Empty(t, v.Turns, "empty turn is removed")
	assert.Contains(t, v.Error, "at least 3 characters")

	w = do(t, srv, http.MethodDelete, base+"/error", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeView(t, w).Error)
}

func TestSendMessage_Errors(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})
	base := "/sessions/" + string(createSession(t, srv, ""))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown session", http.MethodPost, "/sessions/nope/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"invalid json", http.MethodPost, base + "/messages", `{`, http.StatusBadRequest},
		{"unknown turn", http.MethodPut, base + "/turns/7", `{"text":"hi"}`, http.StatusNotFound},
		{"retry unknown turn", http.MethodPost, base + "/turns/3/retry", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, base, "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/nothing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestSendMessage_InFlightConflict(t *testing.T) {
	gate := make(chan struct{})
	slow := &blockingInference{release: gate}
	srv := newTestServer(t, httpadapter.Options{Inference: slow})
	base := "/sessions/" + string(createSession(t, srv, ""))

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- do(t, srv, http.MethodPost, base+"/messages", `{"text":"one"}`) }()

	require.Eventually(t, func() bool {
		w := do(t, srv, http.MethodGet, base, "")
		var v conversation.SessionView
		return json.Unmarshal(w.Body.Bytes(), &v) == nil && v.Loading
	}, time.Second, 5*time.Millisecond)

	w := do(t, srv, http.MethodPost, base+"/messages", `{"text":"two"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, srv, http.MethodPost, base+"/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Stopping releases the first request with the turn kept and no reply.
	w = do(t, srv, http.MethodPost, base+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeView(t, w).Loading)
	close(gate)

	res := <-first
	require.Equal(t, http.StatusOK, res.Code)
	v := decodeView(t, res)
	require.Len(t, v.Turns, 1)
	assert.Empty(t, v.Turns[0].AIResponses)
}

type blockingInference struct {
	release chan struct{}
}

func (b *blockingInference) SendChat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	select {
	case <-b.release:
		return &domain.ChatResponse{Message: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestChatAPI(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodPost, "/api/chat",
		`{"messages":[{"role":"system","content":"ignored"},{"role":"user","content":"fractions"}],"learning_mode":"study-buddy"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, `(study-buddy) Let's learn about "fractions" step by step.`, resp.Message)
	assert.False(t, resp.Timestamp.IsZero())

	w = do(t, srv, http.MethodPost, "/api/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "messages array is required")

	w = do(t, srv, http.MethodPost, "/api/chat", `{"messages":[{"role":"robot","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid message format")
}

func TestChatStreamAPI(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodPost, "/api/chat/stream", `{"messages":[{"role":"user","content":"gravity"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, `data: {"chunk":"(tutor) "}`), body)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), body)

	var text strings.Builder
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var ev llm.ChatAPIEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		text.WriteString(ev.Chunk)
	}
	assert.Equal(t, `(tutor) Let's learn about "gravity" step by step.`, text.String())
}

func TestChatStreamAPI_RoundTripsThroughChatAPIClient(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, httpadapter.Options{}))
	defer ts.Close()

	client := llm.NewChatAPIClient(config.ProviderConfig{BaseURL: ts.URL})
	ch, err := client.StreamChat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "tides"}},
		Mode:     domain.ModeSocratic,
	})
	require.NoError(t, err)

	var text strings.Builder
	for ev := range ch {
		require.NoError(t, ev.Err)
		text.WriteString(ev.Chunk)
	}
	assert.Equal(t, `Before I answer: what do you already know about "tides"?`, text.String())

	resp, err := client.SendChat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "tides"}},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "tides")
}

func TestMediaSearchAPI(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodPost, "/api/media-search", `{"query":"volcano","type":"videos"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var res domain.MediaSearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Images)
	assert.Len(t, res.Videos, 1)

	w = do(t, srv, http.MethodPost, "/api/media-search", `{"query":"  a "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Query must be at least 3 characters")
}

func TestResearchAPI(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodPost, "/api/research", `{"query":"plate tectonics"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res domain.ResearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, res.Answer, "plate tectonics")
	assert.Len(t, res.Citations, 1)

	w = do(t, srv, http.MethodPost, "/api/research", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLLMStatus(t *testing.T) {
	mock := llm.NewMockLLM()
	f := llm.NewFailoverClient(mock, nil, config.BudgetConfig{PerDay: 100}, slogDiscard())
	srv := newTestServer(t, httpadapter.Options{Inference: f})

	w := do(t, srv, http.MethodGet, "/api/llm-status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status    string     `json:"status"`
		Inference llm.Status `json:"inference"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Inference.DayRemaining)
	assert.Equal(t, 100, *resp.Inference.DayRemaining)
	assert.Nil(t, resp.Inference.Fallback)
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddleware_RateLimit(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{RateLimit: 0.001, RateBurst: 2})

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)

	w := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many requests")
}

func TestMiddleware_RequestIDPropagates(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

type eventFrame struct {
	Type    string                    `json:"type"`
	Turns   []domain.ConversationTurn `json:"turns"`
	Loading bool                      `json:"loading"`
	Mode    domain.SessionMode        `json:"mode"`
}

func TestEvents_PushesTranscriptUpdates(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, httpadapter.Options{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sessions", "application/json", strings.NewReader(`{"stream":true}`))
	require.NoError(t, err)
	var created struct {
		Session domain.Session `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	id := string(created.Session.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	var first eventFrame
	require.NoError(t, wsjson.Read(ctx, ws, &first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Empty(t, first.Turns)

	go func() {
		r, err := http.Post(ts.URL+"/sessions/"+id+"/messages", "application/json", strings.NewReader(`{"text":"magnets"}`))
		if err == nil {
			r.Body.Close()
		}
	}()

	const want = `(tutor) Let's learn about "magnets" step by step.`
	for {
		var ev eventFrame
		require.NoError(t, wsjson.Read(ctx, ws, &ev))
		assert.Equal(t, "update", ev.Type)
		if !ev.Loading && len(ev.Turns) == 1 && len(ev.Turns[0].AIResponses) == 1 &&
			ev.Turns[0].AIResponses[0].Content == want {
			break
		}
	}
}

func TestEvents_UnknownSession(t *testing.T) {
	srv := newTestServer(t, httpadapter.Options{})

	w := do(t, srv, http.MethodGet, "/sessions/missing/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
