package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Named is implemented by clients that can report a provider name.
type Named interface {
	Name() string
}

// CircuitBreakerClient fails fast once a provider keeps failing, until the
// breaker's timeout lets a probe through.
type CircuitBreakerClient struct {
	inner   domain.InferenceClient
	name    string
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

var _ domain.StreamingInferenceClient = (*CircuitBreakerClient)(nil)

func NewCircuitBreakerClient(inner domain.InferenceClient, cfg config.BreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	name := providerName(inner)
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "inference:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller mistakes and cancellations say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, domain.ErrInvalidRequest)
		},
	})

	return &CircuitBreakerClient{inner: inner, name: name, breaker: cb, logger: logger}
}

func (c *CircuitBreakerClient) SendChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := c.breaker.Execute(func() (*domain.ChatResponse, error) {
		return c.inner.SendChat(ctx, req)
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	return resp, nil
}

// StreamChat guards only the opening of the stream; errors delivered on the
// channel afterwards do not count against the breaker.
func (c *CircuitBreakerClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	var ch <-chan domain.StreamEvent
	_, err := c.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		ch, streamErr = openStream(ctx, c.inner, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	return ch, nil
}

func (c *CircuitBreakerClient) Name() string { return c.name }

func (c *CircuitBreakerClient) State() gobreaker.State { return c.breaker.State() }

func (c *CircuitBreakerClient) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.CapabilityError{
			Capability: capabilityInference,
			Message:    fmt.Sprintf("provider %q circuit open", c.name),
			Details:    err.Error(),
			Err:        domain.ErrCapability,
		}
	}
	return err
}

// openStream streams from c when it can, otherwise turns a batch reply into a
// one-fragment stream.
func openStream(ctx context.Context, c domain.InferenceClient, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	if sc, ok := c.(domain.StreamingInferenceClient); ok {
		return sc.StreamChat(ctx, req)
	}
	resp, err := c.SendChat(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.StreamEvent, 2)
	ch <- domain.StreamEvent{Chunk: resp.Message}
	ch <- domain.StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

func providerName(c domain.InferenceClient) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}
