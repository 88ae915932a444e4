package query

import (
	"context"

	"github.com/queryops/queryops/fingerprint"
	"github.com/queryops/queryops/observe"
	"github.com/queryops/queryops/resilience"
)

// Prefetch fetches the descriptor purely to populate the cache; the
// resource's published value, error, and status are untouched. The fetch is
// skipped when the monitor reports the network slow or offline, when the
// breaker is open, or when a non-stale entry already exists for the key.
// Prefetch traffic is bounded by the configured rate limiter and bulkhead.
//
// Returns nil both on success and when the cache is already warm;
// ErrPrefetchSkipped when gated off by network state or the breaker.
func (r *Resource[T]) Prefetch(ctx context.Context, d *fingerprint.Descriptor) error {
	if d == nil {
		return ErrMissingRequest
	}

	r.mu.Lock()
	destroyed := r.destroyed
	r.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	if r.opts.Cache == nil {
		return ErrNoCache
	}

	if m := r.opts.Monitor; m != nil && (!m.Online() || m.Slow()) {
		return ErrPrefetchSkipped
	}
	if r.breaker.IsOpen() {
		return ErrPrefetchSkipped
	}

	key, err := r.opts.Hash(d)
	if err != nil {
		return err
	}
	if e, ok := r.opts.Cache.Get(key); ok && !e.IsStale {
		return nil
	}

	if rl := r.opts.Prefetch.RateLimiter; rl != nil && !rl.Allow() {
		return resilience.ErrRateLimitExceeded
	}

	run := func(ctx context.Context) error {
		v, _, ferr := r.doFetch(ctx, d, key, "prefetch")
		if ferr != nil {
			r.opts.Logger.Debug(ctx, "query: prefetch failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: ferr.Error()})
			return ferr
		}
		return r.opts.Cache.Store(key, v, r.storeOpts()...)
	}

	if bh := r.opts.Prefetch.Bulkhead; bh != nil {
		return bh.Execute(ctx, run)
	}
	return run(ctx)
}
