package resilience

import (
	"context"
	"time"
)

// Executor composes multiple resilience patterns around a fetch operation.
type Executor struct {
	breaker     Breaker
	retry       *Retry
	rateLimiter *RateLimiter
	bulkhead    *Bulkhead
	timeout     *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithBreaker adds a circuit breaker to the executor.
func WithBreaker(b Breaker) ExecutorOption {
	return func(e *Executor) {
		e.breaker = b
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds a per-attempt timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// Execute runs the operation through all configured resilience patterns.
//
// The execution order is:
//  1. Rate Limiter (if configured) - limits operation rate
//  2. Bulkhead (if configured) - limits concurrency
//  3. Circuit Breaker (if configured) - blocks while the backend is failing;
//     the breaker counts one terminal outcome per Execute call, not one per
//     retry attempt
//  4. Retry (if configured) - retries transient failures
//  5. Timeout (if configured) - limits each attempt's duration
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	// Wrap with timeout (innermost, per attempt)
	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	// Wrap with retry
	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	// Wrap with circuit breaker
	if e.breaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			if e.breaker.IsOpen() {
				return ErrCircuitOpen
			}
			err := inner(ctx)
			if err != nil {
				e.breaker.Fail(err)
			} else {
				e.breaker.Success()
			}
			return err
		}
	}

	// Wrap with bulkhead
	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	// Wrap with rate limiter (outermost)
	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// ExecuteWith runs an operation that produces a result through the executor.
// Standalone generic function because Go does not support generic methods.
func ExecuteWith[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
