package query

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/queryops/queryops/cache"
	"github.com/queryops/queryops/fingerprint"
	"github.com/queryops/queryops/observe"
	"github.com/queryops/queryops/reactive"
	"github.com/queryops/queryops/resilience"
)

// Resource is an observable view over one logical remote resource. It reacts
// to request descriptor changes, consults the cache and the breaker before
// fetching, deduplicates fingerprint-equal fetches, and publishes the
// current value, error, and status through reactive cells.
//
// Contract:
// - Concurrency: safe for concurrent use; cell notifications run on the
//   goroutine that completes the fetch.
// - Errors: fetch errors populate Err and never clear a cached or published
//   value. An open breaker reports Disabled, not an error.
type Resource[T any] struct {
	transport Transport
	request   *reactive.Cell[*fingerprint.Descriptor]
	opts      Options[T]

	breaker    resilience.Breaker
	ownBreaker bool
	retry      *resilience.Retry
	timeout    *resilience.Timeout
	group      singleflight.Group

	value   *reactive.Cell[T]
	errCell *reactive.Cell[error]
	status  *reactive.Cell[Status]
	headers *reactive.Cell[map[string][]string]

	mu         sync.Mutex
	current    *fingerprint.Descriptor
	currentKey string
	fetchKey   string
	cancel     context.CancelFunc
	gen        int
	destroyed  bool

	unsub       func()
	refreshStop chan struct{}
	refreshDone chan struct{}
}

// fetchResult carries a decoded value with its response metadata through
// the singleflight group.
type fetchResult[T any] struct {
	value  T
	header map[string][]string
}

// NewResource creates a resource bound to a reactive request cell. A nil
// descriptor in the cell disables the resource; a descriptor change
// re-triggers the fetch cycle.
func NewResource[T any](transport Transport, request *reactive.Cell[*fingerprint.Descriptor], opts Options[T]) (*Resource[T], error) {
	if transport == nil {
		return nil, ErrMissingTransport
	}
	if request == nil {
		return nil, ErrMissingRequest
	}
	opts.applyDefaults()

	var zero T
	r := &Resource[T]{
		transport: transport,
		request:   request,
		opts:      opts,
		retry:     resilience.NewRetry(opts.Retry),
		value:     reactive.NewCell(zero),
		errCell:   reactive.NewCell[error](nil),
		status:    reactive.NewCell(StatusIdle),
		headers:   reactive.NewCell[map[string][]string](nil),
	}
	if opts.Breaker != nil {
		r.breaker = opts.Breaker
	} else {
		r.breaker = resilience.NewCircuitBreaker(opts.BreakerConfig)
		r.ownBreaker = true
	}
	if opts.Timeout > 0 {
		r.timeout = resilience.NewTimeout(resilience.TimeoutConfig{Timeout: opts.Timeout})
	}

	r.unsub = request.Subscribe(r.onRequest)

	if opts.RefreshInterval > 0 {
		r.refreshStop = make(chan struct{})
		r.refreshDone = make(chan struct{})
		go r.refreshLoop()
	}

	r.onRequest(request.Get())
	return r, nil
}

// Value returns the cell holding the latest resolved value.
func (r *Resource[T]) Value() *reactive.Cell[T] {
	return r.value
}

// Err returns the cell holding the latest fetch error, nil after a success.
func (r *Resource[T]) Err() *reactive.Cell[error] {
	return r.errCell
}

// Status returns the cell holding the lifecycle status.
func (r *Resource[T]) Status() *reactive.Cell[Status] {
	return r.status
}

// Headers returns the cell holding the last successful response's metadata.
func (r *Resource[T]) Headers() *reactive.Cell[map[string][]string] {
	return r.headers
}

// Disabled reports whether the resource will not fetch: the breaker is open
// or the request cell yields no descriptor.
func (r *Resource[T]) Disabled() bool {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	return r.breaker.IsOpen() || cur == nil
}

// Reload forces a half-open breaker trial and refetches unconditionally,
// aborting any in-flight fetch first. This is the manual escape from a
// fail-forever open state.
func (r *Resource[T]) Reload() {
	r.breaker.TripHalfOpen()
	r.triggerFetch(true, true)
}

// Set publishes a value directly and, when caching is enabled, synthesizes
// a fresh cache entry so subsequent reads see it.
func (r *Resource[T]) Set(v T) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	key := r.currentKey
	r.mu.Unlock()

	r.value.Set(v)
	r.errCell.Set(nil)
	r.status.Set(StatusResolved)

	if r.opts.Cache != nil && key != "" {
		if err := r.opts.Cache.Store(key, v, r.storeOpts()...); err != nil {
			r.opts.Logger.Debug(context.Background(), "query: manual cache store failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err.Error()})
		}
	}
}

// Update applies fn to the current value and publishes the result via Set.
func (r *Resource[T]) Update(fn func(T) T) {
	r.Set(fn(r.value.Get()))
}

// Destroy stops the refresh ticker, unsubscribes from the request cell, and
// aborts any in-flight fetch. Idempotent.
func (r *Resource[T]) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.unsub()
	if r.refreshStop != nil {
		close(r.refreshStop)
		<-r.refreshDone
	}
	if r.ownBreaker {
		r.breaker.Destroy()
	}
}

// onRequest reacts to a request descriptor change. A nil descriptor
// disables the resource and aborts any in-flight fetch; a fingerprint-equal
// descriptor refetches only when TriggerOnSameRequest is set.
func (r *Resource[T]) onRequest(d *fingerprint.Descriptor) {
	if d == nil {
		r.mu.Lock()
		if r.destroyed {
			r.mu.Unlock()
			return
		}
		r.current = nil
		r.currentKey = ""
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
			r.fetchKey = ""
		}
		r.gen++
		r.mu.Unlock()
		r.status.Set(StatusIdle)
		return
	}

	key, err := r.opts.Hash(d)
	if err != nil {
		r.opts.Logger.Warn(context.Background(), "query: request fingerprint failed",
			observe.Field{Key: "resource", Value: r.opts.Resource},
			observe.Field{Key: "error", Value: err.Error()})
		r.errCell.Set(err)
		r.status.Set(StatusErrored)
		if r.opts.OnError != nil {
			r.opts.OnError(err)
		}
		return
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	same := key == r.currentKey
	r.current = d
	r.currentKey = key
	r.mu.Unlock()

	if same && !r.opts.TriggerOnSameRequest {
		return
	}
	r.triggerFetch(false, false)
}

// triggerFetch runs one fetch cycle: breaker gate, cache consult, then a
// background fetch. force bypasses cache freshness (refresh tick, reload);
// preempt additionally cancels a same-key in-flight fetch instead of
// waiting for its result (reload).
func (r *Resource[T]) triggerFetch(force, preempt bool) {
	r.mu.Lock()
	if r.destroyed || r.current == nil {
		r.mu.Unlock()
		return
	}
	d, key := r.current, r.currentKey
	r.mu.Unlock()

	if r.breaker.IsOpen() {
		return
	}

	served := false
	if r.opts.Cache != nil {
		if e, ok := r.opts.Cache.Get(key); ok {
			served = true
			r.value.Set(e.Value)
			r.errCell.Set(nil)
			r.status.Set(StatusResolved)
			if !e.IsStale && !force {
				return
			}
		}
	}
	// A stale hit keeps the resolved status while revalidating; a miss
	// flickers to loading unless KeepPrevious holds the prior value.
	if !served && !(r.opts.KeepPrevious && r.status.Get() == StatusResolved) {
		r.status.Set(StatusLoading)
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	if r.cancel != nil {
		if r.fetchKey == key && !preempt {
			// Already fetching this key; the in-flight result will land.
			r.mu.Unlock()
			return
		}
		r.cancel()
		// The cancelled call must not be joined by the one replacing it.
		r.group.Forget(r.fetchKey)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.fetchKey = key
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	go r.fetch(ctx, gen, d, key)
}

// fetch performs the network round trip and applies its outcome. A
// cancelled fetch never stores and never touches the cells; a completed
// fetch for a superseded request still populates the cache but leaves the
// published value alone.
func (r *Resource[T]) fetch(ctx context.Context, gen int, d *fingerprint.Descriptor, key string) {
	v, header, err := r.doFetch(ctx, d, key, "query")

	r.mu.Lock()
	if gen == r.gen && r.cancel != nil {
		r.cancel = nil
		r.fetchKey = ""
	}
	live := !r.destroyed && gen == r.gen
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		r.breaker.Fail(err)
		r.opts.Logger.Warn(ctx, "query: fetch failed",
			observe.Field{Key: "resource", Value: r.opts.Resource},
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
		if r.opts.OnError != nil {
			r.opts.OnError(err)
		}
		if live {
			r.errCell.Set(err)
			r.status.Set(StatusErrored)
		}
		return
	}

	r.breaker.Success()
	if r.opts.Cache != nil {
		if serr := r.opts.Cache.Store(key, v, r.storeOpts()...); serr != nil {
			r.opts.Logger.Debug(ctx, "query: cache store failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: serr.Error()})
		}
	}
	if live {
		r.value.Set(v)
		r.headers.Set(header)
		r.errCell.Set(nil)
		r.status.Set(StatusResolved)
	}
}

// doFetch collapses fingerprint-equal in-flight fetches into one network
// call and runs it under the retry policy with a per-attempt timeout.
func (r *Resource[T]) doFetch(ctx context.Context, d *fingerprint.Descriptor, key, kind string) (T, map[string][]string, error) {
	v, err, _ := r.group.Do(key, func() (any, error) {
		fctx := ctx
		meta := observe.OpMeta{Resource: r.opts.Resource, Kind: kind, Key: key, Method: d.Method}
		var span trace.Span
		if r.opts.Tracer != nil {
			fctx, span = r.opts.Tracer.StartSpan(fctx, meta)
		}

		start := time.Now()
		var out fetchResult[T]
		attempt := func(ctx context.Context) error {
			resp, terr := r.transport.Do(ctx, d)
			if terr != nil {
				return terr
			}
			val, derr := r.opts.Decode(resp)
			if derr != nil {
				return derr
			}
			out = fetchResult[T]{value: val, header: resp.Header}
			return nil
		}
		// Each attempt gets its own deadline; the retry budget is not
		// consumed by one slow call.
		err := r.retry.Execute(fctx, func(ctx context.Context) error {
			if r.timeout != nil {
				return r.timeout.Execute(ctx, attempt)
			}
			return attempt(ctx)
		})

		if r.opts.Tracer != nil {
			r.opts.Tracer.EndSpan(span, err)
		}
		r.opts.Logger.Debug(fctx, "query: fetch finished",
			observe.Field{Key: "op", Value: meta.OpID()},
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
			observe.Field{Key: "success", Value: err == nil})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, nil, err
	}
	res := v.(fetchResult[T])
	return res.value, res.header, nil
}

func (r *Resource[T]) refreshLoop() {
	defer close(r.refreshDone)

	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.refreshStop:
			return
		case <-ticker.C:
			r.triggerFetch(true, false)
		}
	}
}

func (r *Resource[T]) storeOpts() []cache.StoreOption {
	var opts []cache.StoreOption
	if r.opts.StaleTime > 0 {
		opts = append(opts, cache.WithStaleTime(r.opts.StaleTime))
	}
	if r.opts.TTL > 0 {
		opts = append(opts, cache.WithTTL(r.opts.TTL))
	}
	return opts
}
