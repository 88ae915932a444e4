package cache

import (
	"sync"
)

// memoryHub fans messages out to every broadcaster sharing a namespace
// within this process. It mirrors the cross-tab broadcast channel for
// caches living in one binary and backs the tests.
type memoryHub struct {
	mu      sync.Mutex
	members map[*MemoryBroadcaster]struct{}
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*memoryHub)
)

func hubFor(namespace string) *memoryHub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[namespace]
	if !ok {
		h = &memoryHub{members: make(map[*MemoryBroadcaster]struct{})}
		hubs[namespace] = h
	}
	return h
}

// MemoryBroadcaster is an in-process Broadcaster. Broadcasters constructed
// with the same name/version share a hub: a Publish on one delivers to the
// handlers of all of them, the publisher included. Receivers rely on the
// CacheID tag to ignore their own echoes, exactly as with a cross-process
// channel.
type MemoryBroadcaster struct {
	hub *memoryHub

	mu       sync.Mutex
	handlers map[int]func(SyncMessage)
	nextID   int
	closed   bool
}

// NewMemoryBroadcaster creates a broadcaster on the name/version namespace.
func NewMemoryBroadcaster(name, version string) *MemoryBroadcaster {
	b := &MemoryBroadcaster{
		hub:      hubFor(name + "/" + version),
		handlers: make(map[int]func(SyncMessage)),
	}
	b.hub.mu.Lock()
	b.hub.members[b] = struct{}{}
	b.hub.mu.Unlock()
	return b
}

// Publish delivers the message synchronously to every handler on the hub.
func (b *MemoryBroadcaster) Publish(msg SyncMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.mu.Unlock()

	b.hub.mu.Lock()
	members := make([]*MemoryBroadcaster, 0, len(b.hub.members))
	for m := range b.hub.members {
		members = append(members, m)
	}
	b.hub.mu.Unlock()

	for _, m := range members {
		m.deliver(msg)
	}
	return nil
}

// Subscribe registers a handler for hub messages.
func (b *MemoryBroadcaster) Subscribe(handler func(SyncMessage)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrDestroyed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

// Close detaches the broadcaster from its hub. Idempotent.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[int]func(SyncMessage))
	b.mu.Unlock()

	b.hub.mu.Lock()
	delete(b.hub.members, b)
	b.hub.mu.Unlock()
	return nil
}

func (b *MemoryBroadcaster) deliver(msg SyncMessage) {
	b.mu.Lock()
	handlers := make([]func(SyncMessage), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Ensure MemoryBroadcaster implements Broadcaster
var _ Broadcaster = (*MemoryBroadcaster)(nil)
