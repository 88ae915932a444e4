package reactive

import (
	"reflect"
	"sync"
)

// Cell is an equality-gated observable container.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Notification: subscribers run synchronously on the Set caller's
//   goroutine, after the value is stored. A Set that compares equal to the
//   current value notifies nobody.
// - Ownership: subscribers must not call Set on the same cell re-entrantly.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	eq     func(a, b T) bool
	nextID int
	subs   map[int]func(T)
}

// NewCell creates a cell holding the given initial value.
// Equality is reflect.DeepEqual unless overridden with NewCellEq.
func NewCell[T any](initial T) *Cell[T] {
	return NewCellEq(initial, func(a, b T) bool {
		return reflect.DeepEqual(a, b)
	})
}

// NewCellEq creates a cell with a custom equality function.
func NewCellEq[T any](initial T, eq func(a, b T) bool) *Cell[T] {
	return &Cell[T]{
		value: initial,
		eq:    eq,
		subs:  make(map[int]func(T)),
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores a new value and notifies subscribers if it differs from the
// current one. Returns true if the value changed.
func (c *Cell[T]) Set(v T) bool {
	c.mu.Lock()
	if c.eq(c.value, v) {
		c.mu.Unlock()
		return false
	}
	c.value = v
	subs := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return true
}

// Update applies fn to the current value and stores the result.
func (c *Cell[T]) Update(fn func(T) T) bool {
	c.mu.Lock()
	next := fn(c.value)
	c.mu.Unlock()
	return c.Set(next)
}

// Subscribe registers a change listener and returns a cancel function.
// The listener is not invoked with the current value, only with changes.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}
