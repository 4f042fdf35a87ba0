package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

const capabilityInference = "inference"

// VertexClient talks to Gemini, either through Vertex AI (project/location)
// or the Gemini API (api key).
type VertexClient struct {
	client    *genai.Client
	name      string
	modelName string
}

var _ domain.StreamingInferenceClient = (*VertexClient)(nil)

// NewVertexClient creates a Gemini-backed inference client.
func NewVertexClient(ctx context.Context, cfg config.ProviderConfig) (*VertexClient, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash-lite"
	}

	cc := &genai.ClientConfig{}
	switch {
	case cfg.Name == config.ProviderVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("vertex provider requires project and location")
		}
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	default:
		return nil, fmt.Errorf("gemini provider requires an api key")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = config.ProviderGemini
	}
	return &VertexClient{client: client, name: name, modelName: modelName}, nil
}

func (v *VertexClient) Name() string { return v.name }

// SendChat implements domain.InferenceClient.
func (v *VertexClient) SendChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	contents, cfg := v.request(req)

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return nil, v.wrap(err)
	}

	text := res.Text()
	if text == "" {
		return nil, &domain.CapabilityError{Capability: capabilityInference, Message: v.name + " returned empty text", Err: domain.ErrEmptyResponse}
	}
	return &domain.ChatResponse{Message: text}, nil
}

// StreamChat implements domain.StreamingInferenceClient.
func (v *VertexClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	contents, cfg := v.request(req)

	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		for res, err := range v.client.Models.GenerateContentStream(ctx, v.modelName, contents, cfg) {
			ev := domain.StreamEvent{}
			if err != nil {
				ev.Err = v.wrap(err)
			} else {
				ev.Chunk = res.Text()
				if ev.Chunk == "" {
					continue
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Err != nil {
				return
			}
		}
		select {
		case ch <- domain.StreamEvent{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (v *VertexClient) request(req domain.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	prompt := BuildPrompt(req)

	contents := make([]*genai.Content, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temp := float32(0.7)
	topP := float32(0.9)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   int32(2048),
	}
	return contents, cfg
}

func (v *VertexClient) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewStatusError(capabilityInference, apiErr.Code, v.name+": "+apiErr.Message, apiErr.Status)
	}
	return &domain.CapabilityError{Capability: capabilityInference, Message: v.name + " generate content: " + err.Error(), Err: domain.ErrCapability}
}
