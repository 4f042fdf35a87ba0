package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
)

var _ domain.StreamingInferenceClient = (*FailoverClient)(nil)

// FailoverClient prefers the primary provider while it stays within its
// request budget and falls back when the budget is spent or the primary
// fails.
type FailoverClient struct {
	primary  domain.InferenceClient
	fallback domain.InferenceClient // may be nil
	logger   *slog.Logger

	budgetMu sync.Mutex    // serializes check-and-consume across both limiters
	minute   *rate.Limiter // nil = unlimited
	day      *rate.Limiter // nil = unlimited
}

func NewFailoverClient(primary, fallback domain.InferenceClient, budget config.BudgetConfig, logger *slog.Logger) *FailoverClient {
	f := &FailoverClient{primary: primary, fallback: fallback, logger: logger}
	if budget.PerMinute > 0 {
		f.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(budget.PerMinute)), budget.PerMinute)
	}
	if budget.PerDay > 0 {
		f.day = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(budget.PerDay)), budget.PerDay)
	}
	return f
}

func (f *FailoverClient) Name() string {
	if f.fallback == nil {
		return providerName(f.primary)
	}
	return providerName(f.primary) + "+" + providerName(f.fallback)
}

func (f *FailoverClient) SendChat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var primaryErr error
	if f.withinBudget() {
		resp, err := f.primary.SendChat(ctx, req)
		if err == nil || !f.shouldFallBack(ctx, err) {
			return resp, err
		}
		primaryErr = err
		f.logger.Warn("primary provider failed, trying fallback", "primary", providerName(f.primary), "error", err)
	}

	if f.fallback == nil {
		return nil, f.exhausted(primaryErr)
	}
	resp, err := f.fallback.SendChat(ctx, req)
	if err != nil {
		return nil, f.joined(primaryErr, err)
	}
	f.logger.Info("fallback provider answered", "provider", providerName(f.fallback))
	return resp, nil
}

func (f *FailoverClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	var primaryErr error
	if f.withinBudget() {
		ch, err := openStream(ctx, f.primary, req)
		if err == nil || !f.shouldFallBack(ctx, err) {
			return ch, err
		}
		primaryErr = err
		f.logger.Warn("primary streaming provider failed, trying fallback", "primary", providerName(f.primary), "error", err)
	}

	if f.fallback == nil {
		return nil, f.exhausted(primaryErr)
	}
	ch, err := openStream(ctx, f.fallback, req)
	if err != nil {
		return nil, f.joined(primaryErr, err)
	}
	return ch, nil
}

// withinBudget consumes one request from each budget. Both must allow it.
func (f *FailoverClient) withinBudget() bool {
	f.budgetMu.Lock()
	defer f.budgetMu.Unlock()

	now := time.Now()
	if f.minute != nil && f.minute.TokensAt(now) < 1 {
		f.logger.Info("primary provider minute budget exhausted")
		return false
	}
	if f.day != nil && f.day.TokensAt(now) < 1 {
		f.logger.Info("primary provider daily budget exhausted")
		return false
	}
	if f.minute != nil {
		f.minute.AllowN(now, 1)
	}
	if f.day != nil {
		f.day.AllowN(now, 1)
	}
	return true
}

// shouldFallBack is false for cancellations and for requests the primary
// rejected as invalid, which another provider would reject too.
func (f *FailoverClient) shouldFallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, domain.ErrInvalidRequest)
}

func (f *FailoverClient) exhausted(primaryErr error) error {
	if primaryErr != nil {
		return primaryErr
	}
	return &domain.CapabilityError{
		Capability: capabilityInference,
		Message:    fmt.Sprintf("provider %q request budget exhausted", providerName(f.primary)),
		Err:        domain.ErrRateLimited,
	}
}

func (f *FailoverClient) joined(primaryErr, fallbackErr error) error {
	if primaryErr == nil {
		return fallbackErr
	}
	return fmt.Errorf("all providers failed: %w", errors.Join(primaryErr, fallbackErr))
}

// ProviderStatus describes one configured provider.
type ProviderStatus struct {
	Name    string `json:"name"`
	Circuit string `json:"circuit,omitempty"`
}

// Status is a point-in-time view of the failover chain. The remaining
// budgets are nil when unlimited.
type Status struct {
	Primary         ProviderStatus  `json:"primary"`
	Fallback        *ProviderStatus `json:"fallback,omitempty"`
	MinuteRemaining *int            `json:"minute_remaining,omitempty"`
	DayRemaining    *int            `json:"day_remaining,omitempty"`
}

func (f *FailoverClient) Status() Status {
	now := time.Now()
	st := Status{Primary: providerStatus(f.primary)}
	if f.fallback != nil {
		fb := providerStatus(f.fallback)
		st.Fallback = &fb
	}
	if f.minute != nil {
		n := int(f.minute.TokensAt(now))
		st.MinuteRemaining = &n
	}
	if f.day != nil {
		n := int(f.day.TokensAt(now))
		st.DayRemaining = &n
	}
	return st
}

func providerStatus(c domain.InferenceClient) ProviderStatus {
	ps := ProviderStatus{Name: providerName(c)}
	if cb, ok := c.(*CircuitBreakerClient); ok {
		ps.Circuit = cb.State().String()
	}
	return ps
}
