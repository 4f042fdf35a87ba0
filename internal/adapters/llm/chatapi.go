package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

var _ domain.StreamingInferenceClient = (*ChatAPIClient)(nil)

// ChatAPIClient calls a remote chat endpoint that speaks the same protocol
// as this server's /api/chat: a JSON request {messages, mode, learning_mode},
// a {message, timestamp} batch reply, and on /api/chat/stream an event
// stream of `data: {"chunk": ...}`, `data: {"error": ...}` and `data: [DONE]`.
type ChatAPIClient struct {
	url       string
	streamURL string
	client    *http.Client
}

func NewChatAPIClient(cfg config.ProviderConfig) *ChatAPIClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &ChatAPIClient{
		url:       base + "/api/chat",
		streamURL: base + "/api/chat/stream",
		client:    NewHTTPClient(cfg),
	}
}

// ChatAPIEvent is one data frame of the chat event stream.
type ChatAPIEvent struct {
	Chunk string `json:"chunk,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *ChatAPIClient) SendChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	respBody, err := doJSONRequest(ctx, c.client, c.url, body, nil)
	if err != nil {
		return nil, err
	}

	var resp domain.ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Message == "" {
		return nil, &domain.CapabilityError{Capability: capabilityInference, Err: domain.ErrEmptyResponse}
	}
	return &resp, nil
}

func (c *ChatAPIClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := doStreamRequest(ctx, c.client, c.streamURL, body, nil)
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, resp.Body, func(data []byte) (*domain.StreamEvent, error) {
		var ev ChatAPIEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		switch {
		case ev.Chunk != "":
			return &domain.StreamEvent{Chunk: ev.Chunk}, nil
		case ev.Error != "":
			return &domain.StreamEvent{Err: &domain.CapabilityError{
				Capability: capabilityInference,
				Message:    ev.Error,
				Err:        domain.ErrCapability,
			}}, nil
		default:
			return nil, nil
		}
	}), nil
}
