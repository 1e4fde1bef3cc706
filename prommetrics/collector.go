// Package prommetrics provides a Prometheus-backed implementation of
// the cachego MetricsCollector interface.
//
// Attach it with cachego.WithMetricsCollector and expose Handler on an
// HTTP mux:
//
//	collector, _ := prommetrics.NewCollector()
//	c, _ := cachego.New(ctx, cachego.WithMetricsCollector(collector))
//	http.Handle("/metrics", collector.Handler())
package prommetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/cachego"
	"github.com/hupe1980/cachego/resource"
)

// Config tunes metric naming and registration.
type Config struct {
	// Namespace is the metric name prefix. Defaults to "cachego".
	Namespace string

	// Registry receives the metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
}

// Collector implements cachego.MetricsCollector on Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	getCounter       *prometheus.CounterVec
	getDuration      prometheus.Histogram
	setCounter       *prometheus.CounterVec
	setDuration      prometheus.Histogram
	deleteCounter    *prometheus.CounterVec
	invalidations    *prometheus.CounterVec
	invalidatedKeys  prometheus.Counter
	evictionPasses   *prometheus.CounterVec
	evictedEntries   prometheus.Counter
	memoryUsed       prometheus.Gauge
	memoryCapacity   prometheus.Gauge
	pressureLevel    prometheus.Gauge
	consistencyScore prometheus.Gauge
	entries          prometheus.Gauge
	degraded         prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector(optFns ...func(*Config)) (*Collector, error) {
	cfg := Config{
		Namespace: "cachego",
	}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: cfg.Registry,
		getCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "gets_total",
			Help:      "Cache reads, partitioned by result.",
		}, []string{"result"}),
		getDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "get_duration_seconds",
			Help:      "Read latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		setCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sets_total",
			Help:      "Cache writes, partitioned by result.",
		}, []string{"result"}),
		setDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "set_duration_seconds",
			Help:      "Write latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		deleteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "deletes_total",
			Help:      "Cache deletes, partitioned by result.",
		}, []string{"result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "invalidations_total",
			Help:      "Invalidations applied locally, partitioned by mode.",
		}, []string{"mode"}),
		invalidatedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "invalidated_entries_total",
			Help:      "Entries removed by invalidations, cascades included.",
		}),
		evictionPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "eviction_passes_total",
			Help:      "Pressure-triggered eviction passes, partitioned by level.",
		}, []string{"level"}),
		evictedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "evicted_entries_total",
			Help:      "Entries removed by pressure evictions.",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "memory_used_bytes",
			Help:      "Tracked cache memory usage.",
		}),
		memoryCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "memory_capacity_bytes",
			Help:      "Configured cache capacity.",
		}),
		pressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "pressure_level",
			Help:      "Current pressure band: 0 low, 1 medium, 2 high, 3 critical.",
		}),
		consistencyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "consistency_score",
			Help:      "Agreeing/sampled ratio from the most recent audit.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "entries",
			Help:      "Live cached entries.",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "degraded",
			Help:      "1 when the fallback store failed to initialize.",
		}),
	}

	collectors := []prometheus.Collector{
		c.getCounter, c.getDuration,
		c.setCounter, c.setDuration,
		c.deleteCounter,
		c.invalidations, c.invalidatedKeys,
		c.evictionPasses, c.evictedEntries,
		c.memoryUsed, c.memoryCapacity, c.pressureLevel,
		c.consistencyScore, c.entries, c.degraded,
	}
	for _, col := range collectors {
		if err := cfg.Registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry, for registering additional
// application metrics alongside the cache ones.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func resultLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func errLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordGet implements cachego.MetricsCollector.
func (c *Collector) RecordGet(hit bool, duration time.Duration) {
	c.getCounter.WithLabelValues(resultLabel(hit)).Inc()
	c.getDuration.Observe(duration.Seconds())
}

// RecordSet implements cachego.MetricsCollector.
func (c *Collector) RecordSet(duration time.Duration, err error) {
	c.setCounter.WithLabelValues(errLabel(err)).Inc()
	c.setDuration.Observe(duration.Seconds())
}

// RecordDelete implements cachego.MetricsCollector.
func (c *Collector) RecordDelete(duration time.Duration, err error) {
	c.deleteCounter.WithLabelValues(errLabel(err)).Inc()
}

// RecordInvalidation implements cachego.MetricsCollector.
func (c *Collector) RecordInvalidation(mode string, removed int) {
	c.invalidations.WithLabelValues(mode).Inc()
	c.invalidatedKeys.Add(float64(removed))
}

// RecordEviction implements cachego.MetricsCollector.
func (c *Collector) RecordEviction(evicted int, level resource.Pressure) {
	c.evictionPasses.WithLabelValues(level.String()).Inc()
	c.evictedEntries.Add(float64(evicted))
}

// UpdateSnapshot pushes a Metrics snapshot into the gauge metrics.
// Call it periodically, typically from the same loop that scrapes
// Cache.Metrics for internal dashboards.
func (c *Collector) UpdateSnapshot(m cachego.Metrics) {
	c.memoryUsed.Set(float64(m.Memory.UsedBytes))
	c.memoryCapacity.Set(float64(m.Memory.CapacityBytes))
	c.pressureLevel.Set(float64(m.Memory.Level))
	c.consistencyScore.Set(m.ConsistencyScore)
	c.entries.Set(float64(m.Entries))
	if m.Degraded {
		c.degraded.Set(1)
	} else {
		c.degraded.Set(0)
	}
}
