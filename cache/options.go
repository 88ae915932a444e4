package cache

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/queryops/queryops/observe"
)

// EvictionPolicy selects which entries a sweep removes first.
type EvictionPolicy string

const (
	// PolicyLRU removes the least-used entries (lowest UseCount) first.
	PolicyLRU EvictionPolicy = "lru"
	// PolicyOldest removes the earliest-created entries first.
	PolicyOldest EvictionPolicy = "oldest"
)

// CleanupConfig configures the periodic eviction sweep.
type CleanupConfig struct {
	// Policy is the eviction ordering.
	// Default: PolicyLRU
	Policy EvictionPolicy

	// MaxSize is the entry count that triggers a sweep. A sweep halves the
	// cache to MaxSize/2 entries so writes arriving faster than
	// CheckInterval do not cause sweep thrashing.
	// Default: 500
	MaxSize int

	// CheckInterval is how often the sweep runs.
	// Default: 1 hour
	CheckInterval time.Duration
}

// Options configures a Cache.
type Options struct {
	// Name and Version identify the cache's broadcast namespace. Instances
	// sharing both relay store/invalidate events to each other.
	Name    string
	Version string

	// TTL is the absolute lifetime of an entry.
	// Default: 24 hours
	TTL time.Duration

	// StaleTime is how long an entry counts as fresh. Values above TTL are
	// clamped down to TTL, so no entry can be stale beyond its own expiry.
	// Default: 1 hour
	StaleTime time.Duration

	// Cleanup configures the eviction sweep.
	Cleanup CleanupConfig

	// Persist enables writing entries to Store by default. Individual
	// Store calls can override it.
	Persist bool

	// Store is the optional durable backing store. Nil means memory-only.
	Store DurableStore

	// Broadcaster is the optional cross-instance sync channel. Nil
	// disables sync.
	Broadcaster Broadcaster

	// Logger receives best-effort diagnostics (persistence and sync
	// failures). Default: discard.
	Logger observe.Logger

	// Meter enables cache metrics when set.
	Meter metric.Meter
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.StaleTime <= 0 {
		o.StaleTime = time.Hour
	}
	if o.StaleTime > o.TTL {
		o.StaleTime = o.TTL
	}
	if o.Cleanup.Policy == "" {
		o.Cleanup.Policy = PolicyLRU
	}
	if o.Cleanup.MaxSize <= 0 {
		o.Cleanup.MaxSize = 500
	}
	if o.Cleanup.CheckInterval <= 0 {
		o.Cleanup.CheckInterval = time.Hour
	}
	if o.Logger == nil {
		o.Logger = observe.NopLogger()
	}
}

// StoreOption overrides per-call storage behavior.
type StoreOption func(*storeConfig)

type storeConfig struct {
	staleTime time.Duration
	ttl       time.Duration
	persist   *bool
}

// WithStaleTime overrides the cache-level stale time for one Store call.
func WithStaleTime(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		if d > 0 {
			c.staleTime = d
		}
	}
}

// WithTTL overrides the cache-level TTL for one Store call.
func WithTTL(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithPersist overrides the cache-level persistence flag for one Store call.
func WithPersist(persist bool) StoreOption {
	return func(c *storeConfig) {
		c.persist = &persist
	}
}
