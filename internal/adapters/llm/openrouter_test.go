package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/evolve-chat/internal/adapters/llm"
	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, ch <-chan domain.StreamEvent) (string, error) {
	t.Helper()
	var sb strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			return sb.String(), ev.Err
		}
		if ev.Done {
			break
		}
		sb.WriteString(ev.Chunk)
	}
	return sb.String(), nil
}

func TestOpenRouterClient_SendChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "evolve-chat", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`)
	}))
	defer srv.Close()

	c := llm.NewOpenRouterClient(config.ProviderConfig{
		Name: config.ProviderOpenRouter, Model: "m", APIKey: "key", BaseURL: srv.URL,
	}, discardLogger())

	resp, err := c.SendChat(context.Background(), domain.ChatRequest{
		Messages:     []domain.ChatMessage{{Role: domain.RoleUser, Content: "hello"}},
		LearningMode: domain.LearningPractical,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Message)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "practical learning")
}

func TestOpenRouterClient_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := llm.NewOpenRouterClient(config.ProviderConfig{Name: config.ProviderGroq, APIKey: "k", BaseURL: srv.URL}, discardLogger())
	ch, err := c.StreamChat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}},
	})
	require.NoError(t, err)

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestOpenRouterClient_StatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
		message  string
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, domain.ErrRateLimited, "slow down"},
		{http.StatusBadRequest, `{"error":"bad input","details":"messages empty"}`, domain.ErrInvalidRequest, "messages empty"},
		{http.StatusBadGateway, `oops`, domain.ErrCapability, "HTTP error! status: 502"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := llm.NewOpenRouterClient(config.ProviderConfig{Name: config.ProviderGroq, APIKey: "k", BaseURL: srv.URL}, discardLogger())
			_, err := c.SendChat(context.Background(), domain.ChatRequest{})
			require.ErrorIs(t, err, tt.sentinel)
			assert.Contains(t, err.Error(), tt.message)

			var capErr *domain.CapabilityError
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, tt.status, capErr.Status)
		})
	}
}

func TestChatAPIClient_StreamProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "socratic", body["mode"])

		fmt.Fprint(w, "data: {\"chunk\":\"Why \"}\n\n")
		fmt.Fprint(w, "data: {\"chunk\":\"do you think so?\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := llm.NewChatAPIClient(config.ProviderConfig{BaseURL: srv.URL})
	ch, err := c.StreamChat(context.Background(), domain.ChatRequest{Mode: domain.ModeSocratic})
	require.NoError(t, err)

	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Why do you think so?", text)
}

func TestChatAPIClient_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"chunk\":\"par\"}\n\n")
		fmt.Fprint(w, "data: {\"error\":\"model overloaded\"}\n\n")
	}))
	defer srv.Close()

	c := llm.NewChatAPIClient(config.ProviderConfig{BaseURL: srv.URL})
	ch, err := c.StreamChat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)

	text, err := collect(t, ch)
	assert.Equal(t, "par", text)
	require.ErrorIs(t, err, domain.ErrCapability)
	assert.Contains(t, err.Error(), "model overloaded")
}
