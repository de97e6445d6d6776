package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry owns one CircuitBreaker per service key and wraps calls with the
// composed timeout -> retry -> circuit-breaker policy described in spec §4.5.
// Mutations to the key map are protected by a mutex; the breakers themselves
// manage their own internal locking so concurrent calls against different
// keys never contend.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	retry    map[string]*Retryer
	timeout  map[string]time.Duration

	defaultBreaker BreakerConfig
	defaultRetry   RetryConfig
	defaultTimeout time.Duration
}

// NewRegistry creates a resilience Registry with the given process-wide
// defaults; per-key overrides are set with Configure.
func NewRegistry(defaultBreaker BreakerConfig, defaultRetry RetryConfig, defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Registry{
		breakers:       make(map[string]*CircuitBreaker),
		retry:          make(map[string]*Retryer),
		timeout:        make(map[string]time.Duration),
		defaultBreaker: defaultBreaker,
		defaultRetry:   defaultRetry,
		defaultTimeout: defaultTimeout,
	}
}

// Configure installs a per-key override for breaker config, retry config,
// and call timeout. Call before the key is first used; safe to call
// concurrently with Execute on other keys.
func (r *Registry) Configure(key string, breaker BreakerConfig, retry RetryConfig, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	breaker.setDefaults()
	r.breakers[key] = NewCircuitBreaker(key, breaker)
	r.retry[key] = NewRetryer(retry)
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	r.timeout[key] = timeout
}

func (r *Registry) breakerFor(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := NewCircuitBreaker(key, r.defaultBreaker)
	r.breakers[key] = b
	return b
}

func (r *Registry) retryerFor(key string) *Retryer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.retry[key]; ok {
		return rt
	}
	rt := NewRetryer(r.defaultRetry)
	r.retry[key] = rt
	return rt
}

func (r *Registry) timeoutFor(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.timeout[key]; ok {
		return d
	}
	return r.defaultTimeout
}

// Execute runs fn under the composed policy for serviceKey: attach a
// deadline, run the retry loop, and report the retry sequence's aggregate
// outcome to the circuit breaker as a single call.
func Execute[T any](ctx context.Context, r *Registry, serviceKey string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	breaker := r.breakerFor(serviceKey)
	allowed, release := breaker.Admit()
	if !allowed {
		return zero, &CircuitOpenError{ServiceKey: serviceKey}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(serviceKey))
	defer cancel()

	retryer := r.retryerFor(serviceKey)
	result, err := DoWithResult(callCtx, retryer, serviceKey, func() (T, error) {
		return fn(callCtx)
	})

	breaker.RecordOutcome(release, err)

	if err != nil {
		return zero, fmt.Errorf("%s: %w", serviceKey, err)
	}
	return result, nil
}

// Snapshot returns the current state of every configured/used breaker, for
// operator status endpoints (get_registry_status).
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.Snapshot()
	}
	return out
}

// IsOpen reports whether serviceKey's circuit is currently open, for
// callers that need to skip an optional call (e.g. rerank, attribution)
// rather than pay a guaranteed-reject Execute call.
func (r *Registry) IsOpen(serviceKey string) bool {
	if r == nil {
		return false
	}
	snap, ok := r.Snapshot()[serviceKey]
	return ok && snap.State == StateOpen
}

// ResetCircuit resets the named circuit to closed with zeroed counters.
// Unknown keys are a no-op (nothing to reset).
func (r *Registry) ResetCircuit(serviceKey string) {
	r.mu.Lock()
	b, ok := r.breakers[serviceKey]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
}

// ForceOpen manually opens the named circuit for operator use.
func (r *Registry) ForceOpen(serviceKey string) {
	r.breakerFor(serviceKey).ForceOpen()
}
