package netstatus

import (
	"context"
	"sync"
	"time"

	"github.com/queryops/queryops/observe"
)

// ProbeFunc performs one reachability probe. A nil error means the target
// answered.
type ProbeFunc func(ctx context.Context) error

// ProbeConfig configures a ProbeMonitor.
type ProbeConfig struct {
	// Probe is the reachability check. Required.
	Probe ProbeFunc

	// Interval is how often the probe runs.
	// Default: 30 seconds
	Interval time.Duration

	// Timeout is the maximum time one probe may take. A timed-out probe
	// counts as a failure.
	// Default: 5 seconds
	Timeout time.Duration

	// SlowThreshold is the probe latency above which the network counts as
	// slow.
	// Default: 2 seconds
	SlowThreshold time.Duration

	// FailureThreshold is how many consecutive probe failures flip the
	// status to offline. A single success flips it back.
	// Default: 2
	FailureThreshold int

	// Logger receives probe diagnostics. Default: discard.
	Logger observe.Logger
}

func (c *ProbeConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 2 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 2
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// ProbeMonitor derives reachability from a periodic probe. Latency above
// SlowThreshold marks the network slow; FailureThreshold consecutive
// failures mark it offline.
type ProbeMonitor struct {
	cfg ProbeConfig

	mu       sync.Mutex
	status   Status
	failures int
	handlers map[int]func(Status)
	nextID   int

	stop chan struct{}
	done chan struct{}
}

// NewProbeMonitor creates and starts a probe monitor. It assumes the
// network is online until the first probe says otherwise.
func NewProbeMonitor(cfg ProbeConfig) (*ProbeMonitor, error) {
	if cfg.Probe == nil {
		return nil, ErrMissingProbe
	}
	cfg.applyDefaults()

	m := &ProbeMonitor{
		cfg:      cfg,
		status:   StatusOnline,
		handlers: make(map[int]func(Status)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// Status returns the current reachability.
func (m *ProbeMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Online reports whether the network is reachable.
func (m *ProbeMonitor) Online() bool {
	return m.Status() != StatusOffline
}

// Slow reports whether the network is degraded.
func (m *ProbeMonitor) Slow() bool {
	return m.Status() == StatusSlow
}

// Subscribe registers a status change handler.
func (m *ProbeMonitor) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}

// CheckNow runs one probe immediately and returns the resulting status.
func (m *ProbeMonitor) CheckNow(ctx context.Context) Status {
	latency, err := m.probe(ctx)
	return m.apply(latency, err)
}

// Destroy stops the probe loop. Idempotent.
func (m *ProbeMonitor) Destroy() {
	m.mu.Lock()
	select {
	case <-m.stop:
		m.mu.Unlock()
		return
	default:
	}
	close(m.stop)
	m.mu.Unlock()
	<-m.done
}

func (m *ProbeMonitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			latency, err := m.probe(context.Background())
			m.apply(latency, err)
		}
	}
}

// probe runs the configured check under the timeout. A probe that outlives
// the timeout is abandoned and counted as a failure.
func (m *ProbeMonitor) probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.cfg.Probe(ctx)
	}()

	select {
	case err := <-errCh:
		return time.Since(start), err
	case <-ctx.Done():
		return time.Since(start), ErrProbeTimeout
	}
}

// apply folds one probe outcome into the status. Subscribers are notified
// outside the lock.
func (m *ProbeMonitor) apply(latency time.Duration, err error) Status {
	m.mu.Lock()

	var next Status
	var failures int
	if err != nil {
		m.failures++
		failures = m.failures
		next = m.status
		if m.failures >= m.cfg.FailureThreshold {
			next = StatusOffline
		}
	} else {
		m.failures = 0
		next = StatusOnline
		if latency >= m.cfg.SlowThreshold {
			next = StatusSlow
		}
	}

	prev := m.status
	m.status = next
	var handlers []func(Status)
	if next != prev {
		handlers = make([]func(Status), 0, len(m.handlers))
		for _, fn := range m.handlers {
			handlers = append(handlers, fn)
		}
	}
	m.mu.Unlock()

	if err != nil && next == prev {
		m.cfg.Logger.Debug(context.Background(), "netstatus: probe failed",
			observe.Field{Key: "failures", Value: failures},
			observe.Field{Key: "error", Value: err.Error()})
	}
	if next != prev {
		m.cfg.Logger.Info(context.Background(), "netstatus: status changed",
			observe.Field{Key: "from", Value: prev.String()},
			observe.Field{Key: "to", Value: next.String()})
		for _, fn := range handlers {
			fn(next)
		}
	}
	return next
}

// Ensure ProbeMonitor implements Monitor
var _ Monitor = (*ProbeMonitor)(nil)
