// Package resilience provides resilience patterns for remote data access.
//
// This package implements the failure-handling policy for the query layer:
// a circuit breaker stops hammering a failing backend, retry smooths over
// transient transport errors, and rate limiter/bulkhead bound best-effort
// work such as prefetching. The patterns can be composed with an Executor.
//
// # Circuit Breaker
//
// The breaker derives its state from a failure count: it opens once the
// count reaches the threshold, automatically permits one half-open trial
// after the recovery timeout, and closes again on a successful trial.
// Errors are classified by two caller-supplied functions: ShouldFail
// decides whether an error counts at all (a 404 that is a legitimate empty
// result should not), and ShouldFailForever marks unrecoverable errors that
// trip a terminal open state which only TripHalfOpen or Reset can leave.
//
//	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
//	    Threshold: 5,
//	    Timeout:   30 * time.Second,
//	    ShouldFailForever: func(err error) bool {
//	        return errors.Is(err, ErrPermissionDenied)
//	    },
//	})
//
// A breaker may be shared across several resources that should fail
// together, for example multiple endpoints on the same backend. When
// breaking is turned off entirely, Disabled() provides a breaker that never
// opens, so orchestration code keeps a uniform interface.
//
// # Composition
//
//	executor := resilience.NewExecutor(
//	    resilience.WithBreaker(cb),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  3,
//	        InitialDelay: 100 * time.Millisecond,
//	    })),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return fetchFromBackend(ctx)
//	})
package resilience
