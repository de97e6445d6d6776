package llmprovider

import (
	"context"

	"github.com/kbserve/retrieval-core/internal/resilience"
)

// resilienceAdapter satisfies resilience.Provider[Request] by delegating
// to a Provider's Generate method, so FailoverManager[Request] can drive
// provider selection, circuit breaking, and retry uniformly.
type resilienceAdapter struct {
	provider Provider
}

func (a resilienceAdapter) Key() string { return a.provider.Key() }

func (a resilienceAdapter) Call(ctx context.Context, req Request) (string, error) {
	return a.provider.Generate(ctx, req)
}

// FailoverProvider fronts a static-priority list of providers with the
// resilience layer's circuit breaker, retry, and failover.
type FailoverProvider struct {
	manager   *resilience.FailoverManager[Request]
	providers map[string]Provider
}

// NewFailoverProvider builds a FailoverProvider trying providers in the
// given priority order.
func NewFailoverProvider(resilienceRegistry *resilience.Registry, providers []Provider) *FailoverProvider {
	adapters := make([]resilience.Provider[Request], len(providers))
	byKey := make(map[string]Provider, len(providers))
	for i, p := range providers {
		adapters[i] = resilienceAdapter{provider: p}
		byKey[p.Key()] = p
	}
	return &FailoverProvider{
		manager:   resilience.NewFailoverManager(resilienceRegistry, adapters),
		providers: byKey,
	}
}

// Generate tries providers in priority order (preferredKey first if set
// and known), returning the first successful completion.
func (f *FailoverProvider) Generate(ctx context.Context, preferredKey string, req Request) (providerKey, text string, err error) {
	return f.manager.Call(ctx, preferredKey, req)
}

// GenerateStream streams from a single named provider: streaming doesn't
// compose with transparent failover mid-stream, so callers that need
// streamed output pick a provider explicitly.
func (f *FailoverProvider) GenerateStream(ctx context.Context, providerKey string, req Request, onChunk func(StreamChunk) error) error {
	p, ok := f.providers[providerKey]
	if !ok {
		return errUnknownProvider(providerKey)
	}
	return p.GenerateStream(ctx, req, onChunk)
}

type errUnknownProvider string

func (e errUnknownProvider) Error() string {
	return "llmprovider: unknown provider " + string(e)
}
