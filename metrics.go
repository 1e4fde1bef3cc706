package cachego

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/cachego/resource"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// prommetrics package provides a Prometheus-backed implementation.
type MetricsCollector interface {
	// RecordGet is called after each read. hit reports whether the value
	// was served from memory or the fallback store.
	RecordGet(hit bool, duration time.Duration)

	// RecordSet is called after each write.
	// duration is the total time taken, err is nil if successful.
	RecordSet(duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordInvalidation is called after an invalidation is applied
	// locally. mode is "smart" or "comprehensive".
	RecordInvalidation(mode string, removed int)

	// RecordEviction is called after a pressure-triggered eviction pass.
	RecordEviction(evicted int, level resource.Pressure)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGet(bool, time.Duration)         {}
func (NoopMetricsCollector) RecordSet(time.Duration, error)        {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)     {}
func (NoopMetricsCollector) RecordInvalidation(string, int)        {}
func (NoopMetricsCollector) RecordEviction(int, resource.Pressure) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GetCount          atomic.Int64
	GetHits           atomic.Int64
	GetTotalNanos     atomic.Int64
	SetCount          atomic.Int64
	SetErrors         atomic.Int64
	SetTotalNanos     atomic.Int64
	DeleteCount       atomic.Int64
	DeleteErrors      atomic.Int64
	InvalidationCount atomic.Int64
	InvalidatedKeys   atomic.Int64
	EvictionPasses    atomic.Int64
	EvictedEntries    atomic.Int64
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(hit bool, duration time.Duration) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.GetHits.Add(1)
	}
}

// RecordSet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSet(duration time.Duration, err error) {
	b.SetCount.Add(1)
	b.SetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SetErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordInvalidation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidation(mode string, removed int) {
	b.InvalidationCount.Add(1)
	b.InvalidatedKeys.Add(int64(removed))
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(evicted int, level resource.Pressure) {
	b.EvictionPasses.Add(1)
	b.EvictedEntries.Add(int64(evicted))
}

// HitRate returns the fraction of reads served from cache, in [0,1].
func (b *BasicMetricsCollector) HitRate() float64 {
	count := b.GetCount.Load()
	if count == 0 {
		return 0
	}
	return float64(b.GetHits.Load()) / float64(count)
}

// Metrics is a point-in-time snapshot of cache health, returned by
// Cache.Metrics.
type Metrics struct {
	// Entries is the number of live cached values.
	Entries int

	// Hits and Misses count reads since the cache was created.
	Hits   int64
	Misses int64

	// HitRate is Hits/(Hits+Misses), 0 when no reads happened.
	HitRate float64

	// Memory reports capacity usage and the current pressure level.
	Memory resource.Stats

	// ConsistencyScore is the agreeing/sampled ratio from the most
	// recent audit, 1.0 when no peers are known.
	ConsistencyScore float64

	// Degraded is true when the fallback store failed to initialize and
	// the cache is running memory-only.
	Degraded bool
}
