package resilience

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig configures a single circuit breaker key.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive counted failures that
	// trips closed -> open (default 5).
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half_open
	// required to close the circuit (default 3).
	SuccessThreshold int

	// RecoveryTimeout is how long an open circuit waits before allowing a
	// half_open probe (default 60s). The open -> half_open transition is
	// lazy: it is evaluated on the next call, not by a background timer.
	RecoveryTimeout time.Duration

	// HalfOpenMaxConcurrent bounds in-flight probe calls while half_open
	// (default 3). Calls beyond the cap are rejected with ErrCircuitOpen.
	HalfOpenMaxConcurrent int

	// IsCountedFailure classifies an error as one that should count toward
	// FailureThreshold. Errors for which this returns false (programmer
	// errors, excluded exception kinds) pass through without affecting the
	// circuit. Defaults to "every non-nil error counts".
	IsCountedFailure func(error) bool

	// OnTransition, if set, is called with the new state every time a
	// breaker changes state (including Reset and ForceOpen). Used to feed
	// the service's metrics; nil is a safe no-op.
	OnTransition func(key string, state State)
}

// DefaultBreakerConfig returns the spec's default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:      5,
		SuccessThreshold:      3,
		RecoveryTimeout:       60 * time.Second,
		HalfOpenMaxConcurrent: 3,
		IsCountedFailure:      func(err error) bool { return err != nil },
	}
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxConcurrent <= 0 {
		c.HalfOpenMaxConcurrent = 3
	}
	if c.IsCountedFailure == nil {
		c.IsCountedFailure = func(err error) bool { return err != nil }
	}
}

// Snapshot is a point-in-time, lock-free-read view of a breaker's counters.
type Snapshot struct {
	ServiceKey          string
	State               State
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	LastFailureTS       time.Time
}

// CircuitBreaker is a single per-service-key state machine. Mutations are
// protected by a per-key mutex; Snapshot reads take the same lock (the
// teacher's pkg/ratelimit favors read-write locks per resource, but a
// breaker's hot path mutates on every call, so a plain mutex avoids
// write-starving readers without adding complexity).
type CircuitBreaker struct {
	key    string
	config BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	lastFailureTS       time.Time
	halfOpenInFlight    int
}

// NewCircuitBreaker creates a closed circuit breaker for the given key.
func NewCircuitBreaker(key string, cfg BreakerConfig) *CircuitBreaker {
	cfg.setDefaults()
	return &CircuitBreaker{key: key, config: cfg, state: StateClosed}
}

// notify reports a state transition via the configured callback, if any.
// Callers hold cb.mu; the callback must not call back into cb.
func (cb *CircuitBreaker) notify(state State) {
	if cb.config.OnTransition != nil {
		cb.config.OnTransition(cb.key, state)
	}
}

// Admit decides whether a call may proceed. It returns a release function
// that MUST be called exactly once with the call's outcome. The lazy
// open -> half_open transition happens here.
func (cb *CircuitBreaker) Admit() (allowed bool, release func(success bool)) {
	cb.mu.Lock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureTS) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.consecutiveSuccess = 0
			cb.halfOpenInFlight = 0
			cb.notify(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return false, func(bool) {}
		}
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxConcurrent {
			cb.mu.Unlock()
			return false, func(bool) {}
		}
		cb.halfOpenInFlight++
	}

	releasedHalfOpen := cb.state == StateHalfOpen
	cb.mu.Unlock()

	return true, func(success bool) {
		cb.record(success, releasedHalfOpen)
	}
}

// record applies the outcome of an admitted call. wasHalfOpen captures
// whether the call was admitted while half_open, since the state may have
// changed by the time the outcome is recorded.
func (cb *CircuitBreaker) record(success bool, wasHalfOpen bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if wasHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if success {
		cb.consecutiveFailures = 0
		switch cb.state {
		case StateHalfOpen:
			cb.consecutiveSuccess++
			if cb.consecutiveSuccess >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.consecutiveSuccess = 0
				cb.notify(StateClosed)
			}
		case StateOpen:
			// A success landing after the state already moved on (race
			// between Admit's lazy transition and a late outcome) is ignored.
		}
		return
	}

	cb.lastFailureTS = time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.consecutiveSuccess = 0
		cb.notify(StateOpen)
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.notify(StateOpen)
		}
	case StateOpen:
		// Already open; nothing to do besides refreshing last-failure time,
		// which happened above.
	}
}

// RecordOutcome classifies err via IsCountedFailure and feeds the result to
// release. Excluded error kinds pass through as neither success nor failure
// by simply not being counted — callers should call this only when release
// came from Admit(true); an excluded error still releases the half-open slot
// as if the call had never affected the circuit.
func (cb *CircuitBreaker) RecordOutcome(release func(success bool), err error) {
	if err == nil {
		release(true)
		return
	}
	if !cb.config.IsCountedFailure(err) {
		// Not counted: release the half-open slot without flipping state.
		cb.releaseUncounted()
		return
	}
	release(false)
}

// releaseUncounted decrements the half-open in-flight counter without
// touching consecutive failure/success counts or the state.
func (cb *CircuitBreaker) releaseUncounted() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// Snapshot returns the current counters and state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		ServiceKey:          cb.key,
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		ConsecutiveSuccess:  cb.consecutiveSuccess,
		LastFailureTS:       cb.lastFailureTS,
	}
}

// Reset returns the circuit to closed with zeroed counters. Idempotent: a
// reset on an already-closed circuit is a no-op observationally.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccess = 0
	cb.halfOpenInFlight = 0
	cb.notify(StateClosed)
}

// ForceOpen manually opens the circuit, for operator use.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateOpen
	cb.lastFailureTS = time.Now()
	cb.notify(StateOpen)
}
