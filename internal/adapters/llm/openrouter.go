package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

var _ domain.StreamingInferenceClient = (*OpenRouterClient)(nil)

// OpenRouterClient speaks the OpenAI chat-completions protocol. It serves
// OpenRouter and Groq, which differ only in base URL and headers.
type OpenRouterClient struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// openrouterTransport adds the attribution headers OpenRouter asks for.
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", "https://github.com/PabloGalante/evolve-chat")
	clone.Header.Set("X-Title", "evolve-chat")
	return t.base.RoundTrip(clone)
}

func NewOpenRouterClient(cfg config.ProviderConfig, logger *slog.Logger) *OpenRouterClient {
	client := NewHTTPClient(cfg)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	switch {
	case baseURL != "":
	case cfg.Name == config.ProviderGroq:
		baseURL = "https://api.groq.com/openai/v1"
	default:
		baseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Name == config.ProviderOpenRouter {
		client.Transport = &openrouterTransport{base: client.Transport}
	}

	name := cfg.Name
	if name == "" {
		name = config.ProviderOpenRouter
	}
	return &OpenRouterClient{
		name:    name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

func (c *OpenRouterClient) Name() string { return c.name }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenRouterClient) toRequest(req domain.ChatRequest, stream bool) openaiRequest {
	prompt := BuildPrompt(req)
	msgs := make([]openaiMessage, 0, len(prompt.Messages)+1)
	msgs = append(msgs, openaiMessage{Role: string(domain.RoleSystem), Content: prompt.System})
	for _, m := range prompt.Messages {
		msgs = append(msgs, openaiMessage{Role: string(m.Role), Content: m.Content})
	}
	return openaiRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   2048,
		Stream:      stream,
	}
}

// SendChat implements domain.InferenceClient.
func (c *OpenRouterClient) SendChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body, err := json.Marshal(c.toRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, bearer(c.apiKey))
	if err != nil {
		return nil, err
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &domain.CapabilityError{Capability: capabilityInference, Message: c.name + " returned no choices", Err: domain.ErrEmptyResponse}
	}

	c.logger.Debug("chat completed", "provider", c.name, "model", c.model)
	return &domain.ChatResponse{Message: resp.Choices[0].Message.Content}, nil
}

// StreamChat implements domain.StreamingInferenceClient.
func (c *OpenRouterClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	body, err := json.Marshal(c.toRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doStreamRequest(ctx, c.client, c.baseURL+"/chat/completions", body, bearer(c.apiKey))
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, resp.Body, func(data []byte) (*domain.StreamEvent, error) {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return nil, nil
		}
		return &domain.StreamEvent{Chunk: chunk.Choices[0].Delta.Content}, nil
	}), nil
}
