package cachego

import (
	"context"
	"log/slog"
	"time"

	"github.com/hupe1980/cachego/broadcast"
	"github.com/hupe1980/cachego/bus"
	"github.com/hupe1980/cachego/codec"
	"github.com/hupe1980/cachego/compress"
	"github.com/hupe1980/cachego/consistency"
	"github.com/hupe1980/cachego/fallback"
	"github.com/hupe1980/cachego/refresh"
	"github.com/hupe1980/cachego/resource"
	"github.com/hupe1980/cachego/ttl"
)

type options struct {
	codec            codec.Codec
	compression      compress.Type
	compressOptFns   []func(*compress.Options)
	resourceConfig   resource.Config
	ttlOptFns        []func(*ttl.Options)
	metricsCollector MetricsCollector
	logger           *Logger
	processID        string
	channel          broadcast.Channel
	busOptFns        []func(*bus.Options)
	auditOptFns      []func(*consistency.Options)
	refreshOptFns    []func(*refresh.Options)
	fallbackInit     func(ctx context.Context) (fallback.Store, error)
	fallbackTimeout  time.Duration
	sweepInterval    time.Duration
}

// Option configures cache constructor behavior.
type Option func(*options)

// WithCodec configures the codec used by typed views.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression selects the compression algorithm for stored values.
// Values that do not shrink enough are stored raw automatically.
//
// Example:
//
//	cachego.WithCompression(compress.TypeLZ4, func(o *compress.Options) {
//	    o.MinSize = 512
//	})
func WithCompression(typ compress.Type, optFns ...func(*compress.Options)) Option {
	return func(o *options) {
		o.compression = typ
		o.compressOptFns = optFns
	}
}

// WithCapacity sets the memory capacity in bytes. Shorthand for
// WithResourceConfig with only the capacity set.
func WithCapacity(bytes int64) Option {
	return func(o *options) {
		o.resourceConfig.CapacityBytes = bytes
	}
}

// WithResourceConfig sets the full memory-pressure configuration:
// capacity, band thresholds, eviction budgets and the hard limit.
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceConfig = cfg
	}
}

// WithTTL tunes adaptive expiration.
//
// Example:
//
//	cachego.WithTTL(func(o *ttl.Options) {
//	    o.Default = 10 * time.Minute
//	    o.Max = time.Hour
//	})
func WithTTL(optFns ...func(*ttl.Options)) Option {
	return func(o *options) {
		o.ttlOptFns = optFns
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &cachego.BasicMetricsCollector{}
//	c, _ := cachego.New(ctx, cachego.WithMetricsCollector(metrics))
//	// ... use c ...
//	fmt.Printf("hit rate: %.2f\n", metrics.HitRate())
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := cachego.NewJSONLogger(slog.LevelInfo)
//	c, _ := cachego.New(ctx, cachego.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithProcessID overrides the generated process identifier stamped on
// broadcast events. Mainly useful in tests.
func WithProcessID(id string) Option {
	return func(o *options) {
		o.processID = id
	}
}

// WithBroadcast connects the cache to other processes through the given
// channel. Invalidations propagate over it and the consistency monitor
// starts exchanging digests.
//
// Example with NATS:
//
//	ch, _ := broadcast.NewNATSChannel("nats://localhost:4222", "cache.events")
//	c, _ := cachego.New(ctx, cachego.WithBroadcast(ch))
func WithBroadcast(channel broadcast.Channel, optFns ...func(*bus.Options)) Option {
	return func(o *options) {
		o.channel = channel
		o.busOptFns = optFns
	}
}

// WithAudit tunes the consistency monitor: audit interval, sample size
// and timeouts. Only effective together with WithBroadcast.
func WithAudit(optFns ...func(*consistency.Options)) Option {
	return func(o *options) {
		o.auditOptFns = optFns
	}
}

// WithRefresh tunes proactive background refresh.
func WithRefresh(optFns ...func(*refresh.Options)) Option {
	return func(o *options) {
		o.refreshOptFns = optFns
	}
}

// WithFallback attaches an already constructed persistent fallback
// store. Reads missing in memory are served from it; writes and deletes
// are mirrored to it.
func WithFallback(s fallback.Store) Option {
	return func(o *options) {
		o.fallbackInit = func(context.Context) (fallback.Store, error) {
			return s, nil
		}
	}
}

// WithFallbackInit attaches a fallback store via an init function. If
// the function fails, the cache starts anyway in degraded, memory-only
// mode and reports Degraded=true through Metrics.
//
// Example:
//
//	cachego.WithFallbackInit(func(ctx context.Context) (fallback.Store, error) {
//	    return s3.New(ctx, "my-bucket", "cache/")
//	})
func WithFallbackInit(fn func(ctx context.Context) (fallback.Store, error)) Option {
	return func(o *options) {
		o.fallbackInit = fn
	}
}

// WithFallbackTimeout bounds each fallback store operation.
// Defaults to 5 seconds.
func WithFallbackTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fallbackTimeout = d
	}
}

// WithSweepInterval sets the cadence of the expired-entry sweep.
// Defaults to 1 minute.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		compression:      compress.TypeZSTD,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fallbackTimeout:  5 * time.Second,
		sweepInterval:    time.Minute,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
