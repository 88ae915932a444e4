package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/queryops/queryops/netstatus"
	"github.com/queryops/queryops/observe"
	"github.com/queryops/queryops/reactive"
	"github.com/queryops/queryops/resilience"
)

// MutationFunc performs one write operation.
type MutationFunc[T, R any] func(ctx context.Context, value T) (R, error)

// Mutation is the one-shot write counterpart of Resource: no caching, no
// refresh, no keep-previous. Each Mutate call runs the lifecycle hooks
// OnMutate, then OnSuccess or OnError, then OnSettled exactly once.
//
// Execution is strictly serial. With QueueIfOffline, mutations issued while
// the monitor reports offline accumulate in FIFO order and drain one at a
// time once the network returns, each settling before the next begins.
// Without queueing, an in-flight mutation finishes and the most recently
// requested one runs next.
type Mutation[T, R any] struct {
	run  MutationFunc[T, R]
	opts MutationOptions[T, R]

	breaker    resilience.Breaker
	ownBreaker bool
	timeout    *resilience.Timeout

	errCell *reactive.Cell[error]
	status  *reactive.Cell[Status]

	mu        sync.Mutex
	queue     []mutationItem[T]
	pending   *mutationItem[T]
	running   bool
	destroyed bool

	unsubNet func()
}

type mutationItem[T any] struct {
	ctx     context.Context
	value   T
	initial any
}

// NewMutation creates a mutation orchestrator around the given run func.
func NewMutation[T, R any](run MutationFunc[T, R], opts MutationOptions[T, R]) (*Mutation[T, R], error) {
	if run == nil {
		return nil, ErrMissingMutation
	}
	opts.applyDefaults()

	m := &Mutation[T, R]{
		run:     run,
		opts:    opts,
		errCell: reactive.NewCell[error](nil),
		status:  reactive.NewCell(StatusIdle),
	}
	if opts.Breaker != nil {
		m.breaker = opts.Breaker
	} else {
		m.breaker = resilience.NewCircuitBreaker(opts.BreakerConfig)
		m.ownBreaker = true
	}
	if opts.Timeout > 0 {
		m.timeout = resilience.NewTimeout(resilience.TimeoutConfig{Timeout: opts.Timeout})
	}

	if opts.QueueIfOffline && opts.Monitor != nil {
		m.unsubNet = opts.Monitor.Subscribe(m.onNetChange)
	}
	return m, nil
}

// Err returns the cell holding the last mutation error, nil after a success.
func (m *Mutation[T, R]) Err() *reactive.Cell[error] {
	return m.errCell
}

// Status returns the cell holding the lifecycle status.
func (m *Mutation[T, R]) Status() *reactive.Cell[Status] {
	return m.status
}

// Queued returns the number of mutations waiting to run.
func (m *Mutation[T, R]) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	if m.pending != nil {
		n++
	}
	return n
}

// Mutate requests one mutation. It returns immediately; outcomes are
// delivered through the lifecycle hooks. The context is carried into the
// eventual execution, so cancelling it cancels a still-queued mutation's
// run.
func (m *Mutation[T, R]) Mutate(ctx context.Context, value T, initial any) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}

	item := mutationItem[T]{ctx: ctx, value: value, initial: initial}

	if m.opts.QueueIfOffline && m.opts.Monitor != nil {
		m.queue = append(m.queue, item)
		start := !m.running && m.opts.Monitor.Online()
		if start {
			m.running = true
		}
		m.mu.Unlock()
		if start {
			go m.drain()
		}
		return nil
	}

	if m.running {
		// The in-flight mutation is never superseded; the latest request
		// takes the next slot.
		m.pending = &item
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()
	go m.runLoop(item)
	return nil
}

// Destroy drops queued mutations and unsubscribes from the network monitor.
// An in-flight mutation finishes. Idempotent.
func (m *Mutation[T, R]) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.queue = nil
	m.pending = nil
	m.mu.Unlock()

	if m.unsubNet != nil {
		m.unsubNet()
	}
	if m.ownBreaker {
		m.breaker.Destroy()
	}
}

func (m *Mutation[T, R]) onNetChange(s netstatus.Status) {
	if s == netstatus.StatusOffline {
		return
	}
	m.mu.Lock()
	start := !m.running && !m.destroyed && len(m.queue) > 0
	if start {
		m.running = true
	}
	m.mu.Unlock()
	if start {
		go m.drain()
	}
}

// drain executes queued mutations one at a time while the network stays
// online. Each mutation settles before the next is popped.
func (m *Mutation[T, R]) drain() {
	for {
		m.mu.Lock()
		if m.destroyed || len(m.queue) == 0 || !m.opts.Monitor.Online() {
			m.running = false
			m.mu.Unlock()
			return
		}
		item := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.execute(item)
	}
}

// runLoop executes the item and then whatever latest request accumulated
// while it ran.
func (m *Mutation[T, R]) runLoop(item mutationItem[T]) {
	for {
		m.execute(item)

		m.mu.Lock()
		if m.destroyed || m.pending == nil {
			m.running = false
			m.mu.Unlock()
			return
		}
		item = *m.pending
		m.pending = nil
		m.mu.Unlock()
	}
}

// execute runs one mutation through its full lifecycle. OnSettled fires
// exactly once, after OnSuccess or OnError.
func (m *Mutation[T, R]) execute(item mutationItem[T]) {
	mctx := item.initial
	if m.opts.OnMutate != nil {
		mctx = m.opts.OnMutate(item.value, item.initial)
	}
	m.status.Set(StatusLoading)

	result, err := m.invoke(item)
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			m.breaker.Fail(err)
		}
		m.errCell.Set(err)
		m.status.Set(StatusErrored)
		m.opts.Logger.Warn(context.Background(), "query: mutation failed",
			observe.Field{Key: "resource", Value: m.opts.Resource},
			observe.Field{Key: "error", Value: err.Error()})
		if m.opts.OnError != nil {
			m.opts.OnError(err, mctx)
		}
	} else {
		m.breaker.Success()
		m.errCell.Set(nil)
		m.status.Set(StatusResolved)
		if m.opts.OnSuccess != nil {
			m.opts.OnSuccess(result, mctx)
		}
	}

	if m.opts.OnSettled != nil {
		m.opts.OnSettled(mctx)
	}
}

func (m *Mutation[T, R]) invoke(item mutationItem[T]) (R, error) {
	var zero R
	if m.breaker.IsOpen() {
		return zero, resilience.ErrCircuitOpen
	}

	ctx := item.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	meta := observe.OpMeta{Resource: m.opts.Resource, Kind: "mutation"}
	var span trace.Span
	if m.opts.Tracer != nil {
		ctx, span = m.opts.Tracer.StartSpan(ctx, meta)
	}

	start := time.Now()
	var result R
	var err error
	if m.timeout != nil {
		err = m.timeout.Execute(ctx, func(ctx context.Context) error {
			v, rerr := m.run(ctx, item.value)
			if rerr != nil {
				return rerr
			}
			result = v
			return nil
		})
	} else {
		result, err = m.run(ctx, item.value)
	}

	if m.opts.Tracer != nil {
		m.opts.Tracer.EndSpan(span, err)
	}
	m.opts.Logger.Debug(ctx, "query: mutation finished",
		observe.Field{Key: "op", Value: meta.OpID()},
		observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
		observe.Field{Key: "success", Value: err == nil})
	if err != nil {
		return zero, err
	}
	return result, nil
}
