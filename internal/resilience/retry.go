package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"log/slog"
)

// RetryConfig configures exponential-backoff retry with full jitter.
//
// delay_i = min(MaxDelay, BaseDelay * 2^i), then jittered by
// uniform(-JitterFactor*d, +JitterFactor*d).
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the initial call;
	// 0 means a single attempt with no retry (DefaultRetryConfig uses 3).
	// Total attempts = MaxRetries + 1.
	MaxRetries int

	// BaseDelay is the delay before the first retry (default 1s).
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay (default 30s).
	MaxDelay time.Duration

	// JitterFactor scales the +/- jitter applied to each delay (default 0.1).
	JitterFactor float64

	// IsRetryable classifies an error as retryable. Errors for which this
	// returns false propagate immediately without consuming an attempt.
	// Defaults to DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultRetryConfig returns the teacher's defaults for upstream RPC calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
		IsRetryable:  DefaultIsRetryable,
	}
}

// DefaultIsRetryable treats everything except context cancellation and
// already-exhausted retries as retryable. Callers wrapping a specific
// upstream (embedding, vector store, rerank, LLM) should supply a narrower
// classifier that distinguishes transient (5xx/timeout) from permanent
// (4xx/auth) failures per spec §7.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRetryExhausted(err) {
		return false
	}
	return true
}

// Retryer executes an operation with exponential-backoff retry.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a Retryer, filling in defaults for zero-valued fields
// other than MaxRetries, where zero means no retries; a negative MaxRetries
// is treated as zero.
func NewRetryer(cfg RetryConfig) *Retryer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = 0.1
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return &Retryer{config: cfg}
}

// Do executes fn, retrying on retryable errors until MaxRetries is exhausted
// or ctx is cancelled.
func (r *Retryer) Do(ctx context.Context, operation string, fn func() error) error {
	_, err := DoWithResult(ctx, r, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn, retrying on retryable errors, and returns its
// result value alongside any final error.
func DoWithResult[T any](ctx context.Context, r *Retryer, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !r.config.IsRetryable(err) {
			return result, err
		}

		if attempt >= r.config.MaxRetries {
			return result, &RetryError{
				Operation:   operation,
				Attempts:    attempt + 1,
				LastErr:     err,
				IsExhausted: true,
			}
		}

		delay := r.calculateDelay(attempt)
		slog.Debug("retrying operation",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", r.config.MaxRetries+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * r.config.BaseDelay
	jitter := time.Duration(rand.Float64() * float64(delay) * r.config.JitterFactor)
	if rand.Float64() < 0.5 {
		delay -= jitter
	} else {
		delay += jitter
	}
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
