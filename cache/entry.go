package cache

import (
	"encoding/json"
	"time"
)

// Entry is a single cached value with its freshness window.
//
// Invariants: Created <= Updated <= ExpiresAt and Stale <= ExpiresAt.
// UseCount increments on every successful read and only orders LRU
// eviction. Entries are owned by their Cache; reads return copies.
type Entry[T any] struct {
	// Key the entry is stored under.
	Key string

	// Value is the cached payload.
	Value T

	// Created is when the key was first stored.
	Created time.Time

	// Updated is when the value was last stored.
	Updated time.Time

	// Stale is when the value stops being fresh. A read past this point
	// still returns the value, flagged IsStale, while the caller
	// revalidates out of band.
	Stale time.Time

	// ExpiresAt is the absolute expiry; past it the entry is gone.
	ExpiresAt time.Time

	// UseCount is the number of successful reads.
	UseCount int64

	// IsStale is computed at read time: now >= Stale.
	IsStale bool
}

// persisted converts the entry to its serialization form.
func (e *Entry[T]) persisted() (PersistedEntry, error) {
	raw, err := json.Marshal(e.Value)
	if err != nil {
		return PersistedEntry{}, err
	}
	return PersistedEntry{
		Key:       e.Key,
		Value:     raw,
		Created:   e.Created,
		Updated:   e.Updated,
		Stale:     e.Stale,
		ExpiresAt: e.ExpiresAt,
		UseCount:  e.UseCount,
	}, nil
}

// entryFromPersisted decodes a persisted entry back into a typed one.
func entryFromPersisted[T any](p *PersistedEntry) (*Entry[T], error) {
	var value T
	if err := json.Unmarshal(p.Value, &value); err != nil {
		return nil, err
	}
	return &Entry[T]{
		Key:       p.Key,
		Value:     value,
		Created:   p.Created,
		Updated:   p.Updated,
		Stale:     p.Stale,
		ExpiresAt: p.ExpiresAt,
		UseCount:  p.UseCount,
	}, nil
}
