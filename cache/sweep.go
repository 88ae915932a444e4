package cache

import (
	"context"
	"sort"
	"time"

	"github.com/queryops/queryops/observe"
)

// sweeper runs the periodic eviction sweep until Destroy.
func (c *Cache[T]) sweeper() {
	defer close(c.sweepDone)

	ticker := time.NewTicker(c.opts.Cleanup.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			if removed := c.sweep(); removed > 0 {
				c.opts.Logger.Debug(context.Background(), "cache: sweep evicted entries",
					observe.Field{Key: "cache", Value: c.opts.Name},
					observe.Field{Key: "evicted", Value: removed})
			}
		}
	}
}

// sweep removes excess entries per the eviction policy. The map may
// transiently exceed MaxSize between sweeps; a sweep cuts it down to
// MaxSize/2 entries, keeping the most-used (lru) or newest (oldest) half.
// The deliberate overshoot avoids thrashing when writes outpace the
// check interval.
func (c *Cache[T]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || len(c.entries) <= c.opts.Cleanup.MaxSize {
		return 0
	}

	ordered := make([]*Entry[T], 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}

	switch c.opts.Cleanup.Policy {
	case PolicyOldest:
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].Created.Before(ordered[j].Created)
		})
	default: // PolicyLRU
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].UseCount != ordered[j].UseCount {
				return ordered[i].UseCount < ordered[j].UseCount
			}
			// Tie-break so eviction order stays deterministic.
			return ordered[i].Updated.Before(ordered[j].Updated)
		})
	}

	keep := c.opts.Cleanup.MaxSize / 2
	removeCount := len(ordered) - keep
	for _, e := range ordered[:removeCount] {
		c.removeLocked(e.Key)
	}

	c.metrics.evict(int64(removeCount))
	return removeCount
}
