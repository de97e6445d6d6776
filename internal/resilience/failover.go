package resilience

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider is anything the failover manager can attempt a call against,
// identified by a static priority-ordered key.
type Provider[T any] interface {
	Key() string
	Call(ctx context.Context, req T) (string, error)
}

// FailoverManager attempts a requested provider first, then falls through
// the remaining providers in static priority order, skipping any whose
// circuit is open. A provider failure opens only its own breaker — failover
// never penalizes a provider for its neighbor's outage.
type FailoverManager[T any] struct {
	resilience *Registry
	providers  []Provider[T]
	byKey      map[string]Provider[T]
}

// NewFailoverManager builds a manager over providers in priority order
// (providers[0] is tried first absent an explicit preferred key).
func NewFailoverManager[T any](resilience *Registry, providers []Provider[T]) *FailoverManager[T] {
	byKey := make(map[string]Provider[T], len(providers))
	for _, p := range providers {
		byKey[p.Key()] = p
	}
	return &FailoverManager[T]{resilience: resilience, providers: providers, byKey: byKey}
}

// Call attempts preferredKey first (if non-empty and known), then falls
// through the remaining providers in priority order. Returns
// ErrAllProvidersUnavailable if every provider failed or was open.
func (m *FailoverManager[T]) Call(ctx context.Context, preferredKey string, req T) (string, string, error) {
	order := m.order(preferredKey)

	var lastErr error
	for _, p := range order {
		serviceKey := "llm:" + p.Key()
		result, err := Execute(ctx, m.resilience, serviceKey, func(ctx context.Context) (string, error) {
			return p.Call(ctx, req)
		})
		if err == nil {
			return p.Key(), result, nil
		}
		lastErr = err
		slog.Warn("llm provider call failed, trying next", "provider", p.Key(), "error", err)
	}

	if lastErr == nil {
		lastErr = ErrAllProvidersUnavailable
	}
	return "", "", fmt.Errorf("%w: %v", ErrAllProvidersUnavailable, lastErr)
}

func (m *FailoverManager[T]) order(preferredKey string) []Provider[T] {
	if preferredKey == "" {
		return m.providers
	}
	preferred, ok := m.byKey[preferredKey]
	if !ok {
		return m.providers
	}
	order := make([]Provider[T], 0, len(m.providers))
	order = append(order, preferred)
	for _, p := range m.providers {
		if p.Key() != preferredKey {
			order = append(order, p)
		}
	}
	return order
}
