package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means operations proceed normally.
	StateClosed State = iota
	// StateOpen means operations are blocked.
	StateOpen
	// StateHalfOpen means one trial operation is permitted to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the uniform circuit breaker interface consumed by the query
// package. CircuitBreaker is the real implementation; Disabled returns a
// variant that never breaks.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Fail/Success never return errors; classification happens via
//   the configured ShouldFail/ShouldFailForever functions.
type Breaker interface {
	// Fail records a failed operation. Classified non-breaking errors are
	// ignored; fail-forever errors trip a terminal open state.
	Fail(err error)

	// Success records a successful operation, resetting the failure count.
	Success()

	// TripHalfOpen forces an immediate half-open trial, bypassing the
	// recovery timeout. This is the manual-reload escape hatch and also
	// clears a terminal (fail-forever) open state.
	TripHalfOpen()

	// State returns the current state.
	State() State

	// IsOpen reports whether operations are currently blocked.
	IsOpen() bool

	// IsClosed reports whether the breaker is fully closed.
	IsClosed() bool

	// Reset returns the breaker to pristine closed state, clearing any
	// terminal open state.
	Reset()

	// Destroy cancels the pending recovery timer. Idempotent.
	Destroy()
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of counted failures before opening.
	// Default: 5
	Threshold int

	// Timeout is how long an open breaker waits before automatically
	// permitting a half-open trial.
	// Default: 30 seconds
	Timeout time.Duration

	// ShouldFail classifies whether an error counts toward the threshold.
	// Default: all non-nil errors except context cancellation/deadline.
	ShouldFail func(err error) bool

	// ShouldFailForever classifies unrecoverable errors that trip a
	// terminal open state with no automatic recovery.
	// Default: no error is terminal.
	ShouldFailForever func(err error) bool

	// OnStateChange is called when the state changes.
	OnStateChange func(from, to State)
}

// CircuitBreaker implements failure-counting circuit breaking with an
// automatic half-open trial after Timeout.
type CircuitBreaker struct {
	config BreakerConfig

	mu         sync.Mutex
	failures   int
	halfOpen   bool
	permanent  bool
	destroyed  bool
	trialBusy  bool
	retryTimer *time.Timer
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ShouldFail == nil {
		config.ShouldFail = func(err error) bool {
			if err == nil {
				return false
			}
			// Cancellations are the caller's doing, not the backend's.
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	if config.ShouldFailForever == nil {
		config.ShouldFailForever = func(error) bool { return false }
	}

	return &CircuitBreaker{config: config}
}

// Fail records a failed operation.
func (cb *CircuitBreaker) Fail(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.destroyed || cb.permanent {
		return
	}

	if cb.config.ShouldFailForever(err) {
		old := cb.stateLocked()
		cb.permanent = true
		cb.halfOpen = false
		cb.stopTimerLocked()
		cb.notifyLocked(old)
		return
	}

	if !cb.config.ShouldFail(err) {
		return
	}

	old := cb.stateLocked()
	cb.failures++
	cb.halfOpen = false
	cb.trialBusy = false
	if old != StateOpen && cb.stateLocked() == StateOpen {
		// Re-arm the recovery timer on every open transition, including
		// a failed half-open trial.
		cb.armTimerLocked()
	}
	cb.notifyLocked(old)
}

// Success records a successful operation.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.destroyed || cb.permanent {
		return
	}

	old := cb.stateLocked()
	cb.failures = 0
	cb.halfOpen = false
	cb.trialBusy = false
	cb.stopTimerLocked()
	cb.notifyLocked(old)
}

// TripHalfOpen forces an immediate half-open trial.
func (cb *CircuitBreaker) TripHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.destroyed {
		return
	}
	cb.stopTimerLocked()
	cb.enterHalfOpenLocked()
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// IsOpen reports whether operations are currently blocked.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// IsClosed reports whether the breaker is fully closed.
func (cb *CircuitBreaker) IsClosed() bool {
	return cb.State() == StateClosed
}

// Reset returns the breaker to pristine closed state. Unlike Success, it
// also clears a terminal fail-forever state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.destroyed {
		return
	}
	old := cb.stateLocked()
	cb.failures = 0
	cb.halfOpen = false
	cb.permanent = false
	cb.trialBusy = false
	cb.stopTimerLocked()
	cb.notifyLocked(old)
}

// Destroy cancels the pending recovery timer. Idempotent.
func (cb *CircuitBreaker) Destroy() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.destroyed = true
	cb.stopTimerLocked()
}

// Execute runs the operation through the breaker: blocked when open,
// reported via Fail/Success otherwise. In half-open state only one trial
// may be in flight at a time.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	cb.mu.Lock()
	switch cb.stateLocked() {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.trialBusy {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.trialBusy = true
	}
	cb.mu.Unlock()

	err := op(ctx)
	if err != nil {
		cb.Fail(err)
	} else {
		cb.Success()
	}
	return err
}

// Metrics returns current circuit breaker counters.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerMetrics{
		State:     cb.stateLocked(),
		Failures:  cb.failures,
		Permanent: cb.permanent,
	}
}

// BreakerMetrics contains circuit breaker statistics.
type BreakerMetrics struct {
	State     State
	Failures  int
	Permanent bool
}

// stateLocked derives the state: open iff the failure count reached the
// threshold (or a fail-forever error occurred); half-open iff flagged and
// not open; closed otherwise.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.permanent || cb.failures >= cb.config.Threshold {
		return StateOpen
	}
	if cb.halfOpen {
		return StateHalfOpen
	}
	return StateClosed
}

// enterHalfOpenLocked permits one trial by backing the failure count off to
// threshold-1 and flagging the half-open bit. Clears a terminal state.
func (cb *CircuitBreaker) enterHalfOpenLocked() {
	old := cb.stateLocked()
	cb.permanent = false
	cb.failures = cb.config.Threshold - 1
	cb.halfOpen = true
	cb.trialBusy = false
	cb.notifyLocked(old)
}

func (cb *CircuitBreaker) armTimerLocked() {
	cb.stopTimerLocked()
	cb.retryTimer = time.AfterFunc(cb.config.Timeout, func() {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.destroyed || cb.permanent || cb.stateLocked() != StateOpen {
			return
		}
		cb.enterHalfOpenLocked()
	})
}

func (cb *CircuitBreaker) stopTimerLocked() {
	if cb.retryTimer != nil {
		cb.retryTimer.Stop()
		cb.retryTimer = nil
	}
}

func (cb *CircuitBreaker) notifyLocked(old State) {
	if cb.config.OnStateChange == nil {
		return
	}
	if now := cb.stateLocked(); now != old {
		cb.config.OnStateChange(old, now)
	}
}

// Ensure CircuitBreaker implements Breaker
var _ Breaker = (*CircuitBreaker)(nil)
