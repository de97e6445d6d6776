package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func TestRetryer_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	r := NewRetryer(DefaultRetryConfig())
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryer_ExhaustsAfterMaxRetries(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.1,
	})
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	require.True(t, IsRetryExhausted(err))
	require.Equal(t, 4, calls, "max_retries=3 means 4 total attempts including the initial call")
}

func TestRetryer_NonRetryableErrorPropagatesImmediately(t *testing.T) {
	errPermanent := errors.New("permanent")
	r := NewRetryer(RetryConfig{
		MaxRetries:   5,
		BaseDelay:    time.Millisecond,
		IsRetryable:  func(err error) bool { return !errors.Is(err, errPermanent) },
	})
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errPermanent
	})
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, 1, calls)
}

func TestRetryer_DelaysFitExponentialJitterRange(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	})

	for i := 0; i < 3; i++ {
		d := r.calculateDelay(i)
		base := float64(uint64(1) << uint(i)) // 2^i seconds, base=1s
		lo := time.Duration(base * 0.9 * float64(time.Second))
		hi := time.Duration(base * 1.1 * float64(time.Second))
		require.GreaterOrEqualf(t, d, lo, "attempt %d delay %v below jitter floor %v", i, d, lo)
		require.LessOrEqualf(t, d, hi, "attempt %d delay %v above jitter ceiling %v", i, d, hi)
	}
}

func TestRetryer_RespectsContextCancellation(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxRetries: 5, BaseDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, "op", func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
}
