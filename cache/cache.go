package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache     = errors.New("cache: cache is nil")
	ErrInvalidKey   = errors.New("cache: key is invalid")
	ErrKeyTooLong   = errors.New("cache: key exceeds max length")
	ErrDestroyed    = errors.New("cache: cache is destroyed")
	ErrStoreMissing = errors.New("cache: no durable store configured")
)

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// DurableStore is the persistence collaborator. Absence degrades the cache
// to memory-only; it is never a fatal error.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: failures are swallowed by the cache (logged in debug builds);
//   implementations should still return them for observability.
type DurableStore interface {
	// GetAll loads every persisted entry.
	GetAll(ctx context.Context) ([]PersistedEntry, error)

	// Store persists an entry, replacing any previous one for the key.
	Store(ctx context.Context, entry PersistedEntry) error

	// Remove deletes the entry for the key. Idempotent.
	Remove(ctx context.Context, key string) error
}

// Action identifies the kind of a sync message.
type Action string

const (
	// ActionStore replays an upsert on receiving caches.
	ActionStore Action = "store"
	// ActionInvalidate removes the key on receiving caches.
	ActionInvalidate Action = "invalidate"
)

// SyncMessage is the wire format relayed between cache instances.
type SyncMessage struct {
	Action  Action          `json:"action"`
	Key     string          `json:"key"`
	Entry   *PersistedEntry `json:"entry,omitempty"`
	CacheID string          `json:"cacheId"`
}

// Broadcaster is the cross-instance sync collaborator: a broadcast
// primitive identified by a name/version namespace. Delivery is
// best-effort; sync is an enhancement, not a correctness boundary.
type Broadcaster interface {
	// Publish sends a message to every subscriber, including other
	// processes when the implementation spans them.
	Publish(msg SyncMessage) error

	// Subscribe registers a handler for incoming messages and returns a
	// cancel function. Handlers may run on arbitrary goroutines.
	Subscribe(handler func(SyncMessage)) (func(), error)

	// Close releases the underlying channel. Idempotent.
	Close() error
}

// PersistedEntry is the serialization form shared by the durable store and
// the sync channel. Value stays raw JSON so a single store can hold entries
// of many caches without knowing their element types.
type PersistedEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Created   time.Time       `json:"created"`
	Updated   time.Time       `json:"updated"`
	Stale     time.Time       `json:"stale"`
	ExpiresAt time.Time       `json:"expiresAt"`
	UseCount  int64           `json:"useCount"`
}

// Expired reports whether the persisted entry is already past its expiry.
func (p *PersistedEntry) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
