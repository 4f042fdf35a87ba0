package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

// NewProvider builds one inference client from its config.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (domain.InferenceClient, error) {
	switch cfg.Name {
	case config.ProviderVertex, config.ProviderGemini:
		return NewVertexClient(ctx, cfg)
	case config.ProviderOpenRouter, config.ProviderGroq:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %q requires an api key", cfg.Name)
		}
		return NewOpenRouterClient(cfg, logger), nil
	case config.ProviderChatAPI:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %q requires a base url", cfg.Name)
		}
		return NewChatAPIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Name)
	}
}

// NewInferenceClient assembles the configured primary and fallback
// providers, each behind its own circuit breaker. A fallback that cannot be
// built is logged and skipped; a primary that cannot be built is skipped in
// favour of the fallback.
func NewInferenceClient(ctx context.Context, cfg config.InferenceConfig, logger *slog.Logger) (domain.StreamingInferenceClient, error) {
	var primary, fallback domain.InferenceClient

	if p, err := NewProvider(ctx, cfg.Primary, logger); err != nil {
		logger.Warn("primary inference provider unavailable", "provider", cfg.Primary.Name, "error", err)
	} else {
		primary = NewCircuitBreakerClient(p, cfg.Breaker, logger)
	}

	if cfg.Fallback.Name != "" {
		if p, err := NewProvider(ctx, cfg.Fallback, logger); err != nil {
			logger.Warn("fallback inference provider unavailable", "provider", cfg.Fallback.Name, "error", err)
		} else {
			fallback = NewCircuitBreakerClient(p, cfg.Breaker, logger)
		}
	}

	switch {
	case primary == nil && fallback == nil:
		return nil, fmt.Errorf("no inference provider could be initialized")
	case primary == nil:
		return NewFailoverClient(fallback, nil, config.BudgetConfig{}, logger), nil
	default:
		return NewFailoverClient(primary, fallback, cfg.Budget, logger), nil
	}
}
