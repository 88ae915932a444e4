package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queryops/queryops/observe"
)

// Cache is a keyed store with TTL and stale-while-revalidate semantics,
// periodic eviction, optional durable persistence, and optional
// cross-instance sync.
//
// Contract:
// - Concurrency: safe for concurrent use; Store/Invalidate apply in call
//   order within one instance.
// - Ownership: entries are owned by the cache; Get returns copies.
// - Errors: persistence and sync failures never propagate; the cache stays
//   correct memory-only.
type Cache[T any] struct {
	opts Options
	id   string

	mu        sync.Mutex
	entries   map[string]*Entry[T]
	timers    map[string]*time.Timer
	destroyed bool

	unsub     func()
	sweepStop chan struct{}
	sweepDone chan struct{}
	metrics   *cacheMetrics
}

// New creates a cache. A nil-collaborator configuration (no Store, no
// Broadcaster) yields a plain in-memory TTL cache.
func New[T any](opts Options) (*Cache[T], error) {
	opts.applyDefaults()

	c := &Cache[T]{
		opts:      opts,
		id:        uuid.NewString(),
		entries:   make(map[string]*Entry[T]),
		timers:    make(map[string]*time.Timer),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if opts.Meter != nil {
		m, err := newCacheMetrics(opts.Meter, opts.Name)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}

	if opts.Broadcaster != nil {
		unsub, err := opts.Broadcaster.Subscribe(c.handleSync)
		if err != nil {
			// Best-effort: a cache without sync is still a correct cache.
			c.opts.Logger.Warn(context.Background(), "cache: sync subscription failed",
				observe.Field{Key: "cache", Value: opts.Name},
				observe.Field{Key: "error", Value: err.Error()})
		} else {
			c.unsub = unsub
		}
	}

	go c.sweeper()

	if opts.Store != nil {
		go c.bootstrap()
	}

	return c, nil
}

// ID returns the instance identifier used to ignore self-originated
// broadcast echoes.
func (c *Cache[T]) ID() string {
	return c.id
}

// Size returns the current number of entries, including not-yet-swept
// overflow.
func (c *Cache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get retrieves the entry for key. It returns (nil, false) if no entry
// exists or the entry is past its expiry. On a hit the entry's UseCount is
// incremented and IsStale is computed against the entry's stale deadline;
// a stale hit is the caller's signal to serve the value immediately and
// revalidate out of band.
func (c *Cache[T]) Get(key string) (*Entry[T], bool) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.miss()
		return nil, false
	}
	if !now.Before(e.ExpiresAt) {
		// Expired but the timer has not fired yet - clean up on read.
		c.removeLocked(key)
		c.mu.Unlock()
		c.metrics.miss()
		return nil, false
	}

	e.UseCount++
	snapshot := *e
	snapshot.IsStale = !now.Before(e.Stale)
	c.mu.Unlock()

	c.metrics.hit(snapshot.IsStale)
	return &snapshot, true
}

// GetEntryOrKey surfaces either the live entry or the unresolved key,
// letting a caller distinguish "no data yet for this key" (nil, key) from
// "no key requested" (nil, ""). Key resolution failures upstream pass an
// empty key.
func (c *Cache[T]) GetEntryOrKey(key string) (*Entry[T], string) {
	if key == "" {
		return nil, ""
	}
	if e, ok := c.Get(key); ok {
		return e, key
	}
	return nil, key
}

// Store upserts an entry. An existing entry for the key is mutated in
// place: Created and UseCount survive, Updated/Stale/ExpiresAt refresh, and
// the pending expiry timer is cleared before the new one is scheduled.
// When persistence is on, the entry is written to the durable store; a
// store/invalidate sync message is broadcast to sibling instances.
func (c *Cache[T]) Store(key string, value T, opts ...StoreOption) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	cfg := storeConfig{staleTime: c.opts.StaleTime, ttl: c.opts.TTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.staleTime > cfg.ttl {
		// No entry may be stale beyond its own expiry.
		cfg.staleTime = cfg.ttl
	}
	persist := c.opts.Persist
	if cfg.persist != nil {
		persist = *cfg.persist
	}

	entry := c.upsert(key, value, cfg, time.Now())
	if entry == nil {
		return ErrDestroyed
	}
	c.metrics.store()

	c.afterStore(entry, persist, false)
	return nil
}

// upsert applies the write under the lock and returns a snapshot for
// persistence/broadcast, or nil if the cache is destroyed.
func (c *Cache[T]) upsert(key string, value T, cfg storeConfig, now time.Time) *Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil
	}

	e, ok := c.entries[key]
	if !ok {
		e = &Entry[T]{Key: key, Created: now}
		c.entries[key] = e
	}
	e.Value = value
	e.Updated = now
	e.Stale = now.Add(cfg.staleTime)
	e.ExpiresAt = now.Add(cfg.ttl)

	c.scheduleExpiryLocked(key, cfg.ttl)

	snapshot := *e
	return &snapshot
}

// afterStore handles the side effects of an upsert. A write that originated
// from a sync message is neither re-persisted nor re-broadcast: the
// originating instance already did both.
func (c *Cache[T]) afterStore(entry *Entry[T], persist, fromSync bool) {
	if fromSync {
		return
	}

	var persisted *PersistedEntry
	if (persist && c.opts.Store != nil) || c.opts.Broadcaster != nil {
		p, err := entry.persisted()
		if err != nil {
			c.opts.Logger.Warn(context.Background(), "cache: entry serialization failed",
				observe.Field{Key: "key", Value: entry.Key},
				observe.Field{Key: "error", Value: err.Error()})
			return
		}
		persisted = &p
	}

	if persist && c.opts.Store != nil {
		if err := c.opts.Store.Store(context.Background(), *persisted); err != nil {
			c.opts.Logger.Warn(context.Background(), "cache: durable store write failed",
				observe.Field{Key: "key", Value: entry.Key},
				observe.Field{Key: "error", Value: err.Error()})
		}
	}

	c.broadcast(SyncMessage{
		Action:  ActionStore,
		Key:     entry.Key,
		Entry:   persisted,
		CacheID: c.id,
	})
}

// Invalidate removes the entry for key, clears its expiry timer, writes a
// tombstone to the durable store, and broadcasts the invalidation.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.removeLocked(key)
	c.mu.Unlock()

	c.metrics.invalidate()
	c.tombstone(key)
	c.broadcast(SyncMessage{Action: ActionInvalidate, Key: key, CacheID: c.id})
}

// Destroy cancels the sweep interval and all expiry timers and closes the
// broadcast subscription. Idempotent.
func (c *Cache[T]) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	for key := range c.timers {
		c.stopTimerLocked(key)
	}
	c.entries = make(map[string]*Entry[T])
	close(c.sweepStop)
	c.mu.Unlock()

	<-c.sweepDone
	if c.unsub != nil {
		c.unsub()
	}
	if c.opts.Broadcaster != nil {
		_ = c.opts.Broadcaster.Close()
	}
}

// bootstrap folds persisted entries in as if they were late-arriving sync
// messages: expired entries and keys already populated by a racing Store
// call are skipped, so a slow disk read never clobbers fresher in-memory
// state.
func (c *Cache[T]) bootstrap() {
	ctx := context.Background()
	persisted, err := c.opts.Store.GetAll(ctx)
	if err != nil {
		c.opts.Logger.Warn(ctx, "cache: durable store bootstrap failed",
			observe.Field{Key: "cache", Value: c.opts.Name},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	now := time.Now()
	for i := range persisted {
		p := &persisted[i]
		if p.Expired(now) {
			continue
		}
		c.applySyncStore(p, now)
	}
}

// handleSync processes one incoming broadcast message. Self-originated
// echoes are ignored; malformed payloads are dropped.
func (c *Cache[T]) handleSync(msg SyncMessage) {
	if msg.CacheID == c.id {
		return
	}

	switch msg.Action {
	case ActionStore:
		if msg.Entry == nil || msg.Entry.Key == "" {
			c.opts.Logger.Debug(context.Background(), "cache: dropping malformed sync payload",
				observe.Field{Key: "cache", Value: c.opts.Name})
			return
		}
		now := time.Now()
		if msg.Entry.Expired(now) {
			return
		}
		c.applySyncReplace(msg.Entry, now)

	case ActionInvalidate:
		if msg.Key == "" {
			return
		}
		c.mu.Lock()
		if !c.destroyed {
			c.removeLocked(msg.Key)
		}
		c.mu.Unlock()

	default:
		c.opts.Logger.Debug(context.Background(), "cache: dropping sync message with unknown action",
			observe.Field{Key: "action", Value: string(msg.Action)})
	}
}

// applySyncStore inserts a replayed entry unless the key is already
// populated (bootstrap semantics).
func (c *Cache[T]) applySyncStore(p *PersistedEntry, now time.Time) {
	e, err := entryFromPersisted[T](p)
	if err != nil {
		c.opts.Logger.Debug(context.Background(), "cache: dropping undecodable persisted entry",
			observe.Field{Key: "key", Value: p.Key},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if _, exists := c.entries[p.Key]; exists {
		return
	}
	c.entries[p.Key] = e
	c.scheduleExpiryLocked(p.Key, e.ExpiresAt.Sub(now))
}

// applySyncReplace upserts a replayed entry, overwriting any local value
// (live sync semantics: last writer wins per key).
func (c *Cache[T]) applySyncReplace(p *PersistedEntry, now time.Time) {
	e, err := entryFromPersisted[T](p)
	if err != nil {
		c.opts.Logger.Debug(context.Background(), "cache: dropping undecodable sync entry",
			observe.Field{Key: "key", Value: p.Key},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.entries[p.Key] = e
	c.scheduleExpiryLocked(p.Key, e.ExpiresAt.Sub(now))
}

func (c *Cache[T]) broadcast(msg SyncMessage) {
	if c.opts.Broadcaster == nil {
		return
	}
	if err := c.opts.Broadcaster.Publish(msg); err != nil {
		c.opts.Logger.Debug(context.Background(), "cache: sync publish failed",
			observe.Field{Key: "cache", Value: c.opts.Name},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

func (c *Cache[T]) tombstone(key string) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.Remove(context.Background(), key); err != nil {
		c.opts.Logger.Warn(context.Background(), "cache: durable store remove failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

// scheduleExpiryLocked clears any pending expiry timer for the key and arms
// a new one, so no stale expiry can fire after a refresh.
func (c *Cache[T]) scheduleExpiryLocked(key string, ttl time.Duration) {
	c.stopTimerLocked(key)
	c.timers[key] = time.AfterFunc(ttl, func() {
		c.expire(key)
	})
}

// expire is the timer callback for absolute expiry.
func (c *Cache[T]) expire(key string) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.destroyed {
		c.mu.Unlock()
		return
	}
	if now.Before(e.ExpiresAt) {
		// The entry was refreshed while this callback was in flight.
		c.mu.Unlock()
		return
	}
	c.removeLocked(key)
	c.mu.Unlock()

	c.metrics.expire()
	c.tombstone(key)
}

func (c *Cache[T]) removeLocked(key string) {
	delete(c.entries, key)
	c.stopTimerLocked(key)
}

func (c *Cache[T]) stopTimerLocked(key string) {
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}
