package netstatus

import "sync"

// Monitor reports network reachability to the query layer.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Subscribe returns a cancel function; handlers run on arbitrary
//   goroutines and must not block.
type Monitor interface {
	// Status returns the current reachability.
	Status() Status

	// Online reports whether the network is reachable at all.
	Online() bool

	// Slow reports whether the network is degraded.
	Slow() bool

	// Subscribe registers a handler invoked on every status change and
	// returns a cancel function.
	Subscribe(fn func(Status)) func()
}

// Static is a Monitor with an externally managed status. It backs tests and
// environments where reachability is known out of band.
type Static struct {
	mu       sync.Mutex
	status   Status
	handlers map[int]func(Status)
	nextID   int
}

// NewStatic creates a static monitor with the given initial status.
func NewStatic(status Status) *Static {
	return &Static{
		status:   status,
		handlers: make(map[int]func(Status)),
	}
}

// Status returns the current reachability.
func (s *Static) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Online reports whether the network is reachable.
func (s *Static) Online() bool {
	return s.Status() != StatusOffline
}

// Slow reports whether the network is degraded.
func (s *Static) Slow() bool {
	return s.Status() == StatusSlow
}

// Set updates the status and notifies subscribers on change.
func (s *Static) Set(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	handlers := make([]func(Status), 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(status)
	}
}

// Subscribe registers a status change handler.
func (s *Static) Subscribe(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Ensure Static implements Monitor
var _ Monitor = (*Static)(nil)
