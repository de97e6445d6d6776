package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	key      string
	failures int
	calls    int
}

func (p *fakeProvider) Key() string { return p.key }

func (p *fakeProvider) Call(ctx context.Context, req string) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("upstream unavailable")
	}
	return "ok:" + p.key, nil
}

func TestFailoverManager_FallsThroughToNextProvider(t *testing.T) {
	reg := NewRegistry(
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond},
		time.Second,
	)
	a := &fakeProvider{key: "A", failures: 3}
	b := &fakeProvider{key: "B", failures: 0}
	mgr := NewFailoverManager[string](reg, []Provider[string]{a, b})

	key, result, err := mgr.Call(context.Background(), "", "prompt")
	require.NoError(t, err)
	require.Equal(t, "B", key)
	require.Equal(t, "ok:B", result)

	snap := reg.Snapshot()
	require.GreaterOrEqual(t, snap["llm:A"].ConsecutiveFailures, 1)
	require.Equal(t, StateClosed, snap["llm:B"].State)
}

func TestFailoverManager_AllProvidersFail(t *testing.T) {
	reg := NewRegistry(
		BreakerConfig{FailureThreshold: 100, RecoveryTimeout: time.Hour},
		RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond},
		time.Second,
	)
	a := &fakeProvider{key: "A", failures: 100}
	mgr := NewFailoverManager[string](reg, []Provider[string]{a})

	_, _, err := mgr.Call(context.Background(), "", "prompt")
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)
}

func TestFailoverManager_PreferredProviderTriedFirst(t *testing.T) {
	reg := NewRegistry(DefaultBreakerConfig(), RetryConfig{MaxRetries: 0}, time.Second)
	a := &fakeProvider{key: "A"}
	b := &fakeProvider{key: "B"}
	mgr := NewFailoverManager[string](reg, []Provider[string]{a, b})

	key, _, err := mgr.Call(context.Background(), "B", "prompt")
	require.NoError(t, err)
	require.Equal(t, "B", key)
	require.Equal(t, 0, a.calls)
}
