package query

import (
	"time"

	"github.com/queryops/queryops/cache"
	"github.com/queryops/queryops/fingerprint"
	"github.com/queryops/queryops/netstatus"
	"github.com/queryops/queryops/observe"
	"github.com/queryops/queryops/resilience"
)

// Status is the lifecycle state of a Resource or Mutation.
type Status int

const (
	// StatusIdle means no request is active.
	StatusIdle Status = iota
	// StatusLoading means a fetch is in flight with no value to show.
	StatusLoading
	// StatusResolved means the current value is the latest known result.
	StatusResolved
	// StatusErrored means the last fetch failed.
	StatusErrored
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusResolved:
		return "resolved"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// PrefetchConfig bounds best-effort cache warming so it cannot starve
// foreground fetches.
type PrefetchConfig struct {
	// RateLimiter caps the rate of prefetch traffic. Nil disables the cap.
	RateLimiter *resilience.RateLimiter

	// Bulkhead bounds concurrent prefetches. Nil disables the bound.
	Bulkhead *resilience.Bulkhead
}

// Options configures a Resource.
type Options[T any] struct {
	// Resource is the logical resource name used for telemetry.
	// Default: "resource"
	Resource string

	// Cache is the optional backing cache, keyed by request fingerprint.
	// Nil disables caching; every trigger fetches.
	Cache *cache.Cache[T]

	// Breaker is a shared circuit breaker. Passing one makes related
	// resources fail together; nil builds a private breaker from
	// BreakerConfig. Pass resilience.Disabled() to turn breaking off.
	Breaker resilience.Breaker

	// BreakerConfig configures the private breaker when Breaker is nil.
	BreakerConfig resilience.BreakerConfig

	// Retry configures retry of transient fetch failures.
	Retry resilience.RetryConfig

	// Timeout bounds each fetch attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// RefreshInterval re-fetches on a fixed interval while the resource
	// lives, independent of request changes. Zero disables refresh.
	RefreshInterval time.Duration

	// KeepPrevious holds the previous resolved value and status during a
	// revalidation instead of flickering to loading.
	KeepPrevious bool

	// TriggerOnSameRequest refetches even when a new request descriptor is
	// fingerprint-equal to the current one.
	TriggerOnSameRequest bool

	// StaleTime and TTL are forwarded to cache.Store for fetched entries.
	// Zero uses the cache's own defaults.
	StaleTime time.Duration
	TTL       time.Duration

	// Hash computes the cache/dedup key for a descriptor.
	// Default: fingerprint.Key
	Hash fingerprint.Hasher

	// Decode turns a transport response into a value.
	// Default: DecodeJSON[T]
	Decode func(*Response) (T, error)

	// OnError fires once per error occurrence, side-effect only; it does not
	// affect the state machine.
	OnError func(error)

	// Monitor gates prefetching on network reachability. Nil never gates.
	Monitor netstatus.Monitor

	// Logger receives fetch diagnostics. Default: discard.
	Logger observe.Logger

	// Tracer wraps fetches in spans when set.
	Tracer observe.Tracer

	// Prefetch bounds Prefetch traffic.
	Prefetch PrefetchConfig
}

func (o *Options[T]) applyDefaults() {
	if o.Resource == "" {
		o.Resource = "resource"
	}
	if o.Hash == nil {
		o.Hash = fingerprint.Key
	}
	if o.Decode == nil {
		o.Decode = DecodeJSON[T]
	}
	if o.Logger == nil {
		o.Logger = observe.NopLogger()
	}
}

// MutationOptions configures a Mutation.
type MutationOptions[T, R any] struct {
	// Resource is the logical resource name used for telemetry.
	// Default: "resource"
	Resource string

	// Breaker is a shared circuit breaker; nil builds a private one from
	// BreakerConfig.
	Breaker resilience.Breaker

	// BreakerConfig configures the private breaker when Breaker is nil.
	BreakerConfig resilience.BreakerConfig

	// Timeout bounds each mutation attempt. Zero means no timeout.
	Timeout time.Duration

	// QueueIfOffline accumulates mutations while the Monitor reports
	// offline and drains them in FIFO order once it comes back. Requires
	// Monitor.
	QueueIfOffline bool

	// Monitor supplies the online signal for offline queueing.
	Monitor netstatus.Monitor

	// OnMutate runs synchronously before the request fires; its return
	// value is threaded through to the remaining hooks.
	OnMutate func(value T, initial any) any

	// OnSuccess fires after a successful mutation.
	OnSuccess func(result R, mctx any)

	// OnError fires after a failed mutation. Non-breaking errors still
	// reach it.
	OnError func(err error, mctx any)

	// OnSettled fires exactly once per executed mutation, success or
	// failure, after OnSuccess/OnError.
	OnSettled func(mctx any)

	// Logger receives mutation diagnostics. Default: discard.
	Logger observe.Logger

	// Tracer wraps mutations in spans when set.
	Tracer observe.Tracer
}

func (o *MutationOptions[T, R]) applyDefaults() {
	if o.Resource == "" {
		o.Resource = "resource"
	}
	if o.Logger == nil {
		o.Logger = observe.NopLogger()
	}
}
