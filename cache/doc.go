// Package cache provides a keyed store with TTL and stale-while-revalidate
// semantics, periodic LRU/oldest eviction, optional durable persistence,
// and best-effort sync between cache instances.
//
// A read past an entry's stale deadline still returns the value, flagged
// IsStale, so callers can serve it immediately while revalidating in the
// background. Persistence (DurableStore) and sync (Broadcaster) are
// optional collaborators; the cache degrades to memory-only when they are
// absent or failing.
package cache
