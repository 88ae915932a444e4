package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// cacheMetrics holds the otel instruments for one cache. A nil receiver is
// a no-op, so instrumentation stays optional.
type cacheMetrics struct {
	attrs         metric.MeasurementOption
	hits          metric.Int64Counter
	staleHits     metric.Int64Counter
	misses        metric.Int64Counter
	stores        metric.Int64Counter
	invalidations metric.Int64Counter
	expirations   metric.Int64Counter
	evictions     metric.Int64Counter
}

func newCacheMetrics(meter metric.Meter, name string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		attrs: metric.WithAttributes(attribute.String("cache.name", name)),
	}

	var err error
	if m.hits, err = meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Reads served from the cache"),
		metric.WithUnit("{read}"),
	); err != nil {
		return nil, err
	}
	if m.staleHits, err = meter.Int64Counter(
		"cache.stale_hits",
		metric.WithDescription("Reads served past the stale deadline"),
		metric.WithUnit("{read}"),
	); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Reads with no usable entry"),
		metric.WithUnit("{read}"),
	); err != nil {
		return nil, err
	}
	if m.stores, err = meter.Int64Counter(
		"cache.stores",
		metric.WithDescription("Upserts applied"),
		metric.WithUnit("{write}"),
	); err != nil {
		return nil, err
	}
	if m.invalidations, err = meter.Int64Counter(
		"cache.invalidations",
		metric.WithDescription("Explicit invalidations"),
		metric.WithUnit("{write}"),
	); err != nil {
		return nil, err
	}
	if m.expirations, err = meter.Int64Counter(
		"cache.expirations",
		metric.WithDescription("Entries removed by TTL expiry"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries removed by the eviction sweep"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) hit(stale bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.hits.Add(ctx, 1, m.attrs)
	if stale {
		m.staleHits.Add(ctx, 1, m.attrs)
	}
}

func (m *cacheMetrics) miss() {
	if m == nil {
		return
	}
	m.misses.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) store() {
	if m == nil {
		return
	}
	m.stores.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) invalidate() {
	if m == nil {
		return
	}
	m.invalidations.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) expire() {
	if m == nil {
		return
	}
	m.expirations.Add(context.Background(), 1, m.attrs)
}

func (m *cacheMetrics) evict(n int64) {
	if m == nil {
		return
	}
	m.evictions.Add(context.Background(), n, m.attrs)
}
