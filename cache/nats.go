package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSBroadcaster relays sync messages over a NATS subject derived from the
// cache name/version, giving caches in different processes the same
// best-effort convergence that browser tabs get from a broadcast channel.
//
// The broadcaster borrows the connection; Close drains only its own
// subscriptions.
type NATSBroadcaster struct {
	nc      *nats.Conn
	subject string

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewNATSBroadcaster creates a broadcaster on the name/version namespace.
func NewNATSBroadcaster(nc *nats.Conn, name, version string) (*NATSBroadcaster, error) {
	if nc == nil {
		return nil, fmt.Errorf("cache: nil NATS connection")
	}
	return &NATSBroadcaster{
		nc:      nc,
		subject: fmt.Sprintf("queryops.cache.%s.%s", name, version),
	}, nil
}

// Publish sends the message to every subscriber on the subject.
func (b *NATSBroadcaster) Publish(msg SyncMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	b.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cache: marshal sync message: %w", err)
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("cache: publish sync message: %w", err)
	}
	return nil
}

// Subscribe registers a handler for messages on the subject. Payloads that
// do not decode are dropped: best-effort sync is not a correctness boundary.
func (b *NATSBroadcaster) Subscribe(handler func(SyncMessage)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrDestroyed
	}

	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var msg SyncMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("cache: subscribe %s: %w", b.subject, err)
	}
	b.subs = append(b.subs, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
		})
	}, nil
}

// Close unsubscribes everything registered through this broadcaster.
// The NATS connection itself stays open for its owner. Idempotent.
func (b *NATSBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}

// Ensure NATSBroadcaster implements Broadcaster
var _ Broadcaster = (*NATSBroadcaster)(nil)
