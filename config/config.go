// Package config loads cache configuration from YAML and translates it
// into cachego options, so deployments can tune the cache without
// recompiling.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hupe1980/cachego"
	"github.com/hupe1980/cachego/broadcast"
	"github.com/hupe1980/cachego/bus"
	"github.com/hupe1980/cachego/compress"
	"github.com/hupe1980/cachego/consistency"
	"github.com/hupe1980/cachego/fallback"
	fbs3 "github.com/hupe1980/cachego/fallback/s3"
	"github.com/hupe1980/cachego/refresh"
	"github.com/hupe1980/cachego/resource"
	"github.com/hupe1980/cachego/ttl"
)

// Config represents the complete cache configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Compression CompressionConfig `yaml:"compression"`
	TTL         TTLConfig         `yaml:"ttl"`
	Memory      MemoryConfig      `yaml:"memory"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Audit       AuditConfig       `yaml:"audit"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	SweepEvery  time.Duration     `yaml:"sweep_every"`
}

// CompressionConfig selects and tunes value compression.
type CompressionConfig struct {
	Algorithm string  `yaml:"algorithm"` // "zstd", "lz4" or "none"
	MinSize   int     `yaml:"min_size"`
	MaxRatio  float64 `yaml:"max_ratio"`
}

// TTLConfig tunes adaptive expiration.
type TTLConfig struct {
	Min            time.Duration `yaml:"min"`
	Max            time.Duration `yaml:"max"`
	Default        time.Duration `yaml:"default"`
	IntervalFactor float64       `yaml:"interval_factor"`
}

// MemoryConfig tunes capacity and pressure response.
type MemoryConfig struct {
	Capacity   string  `yaml:"capacity"` // e.g. "256MB"
	MediumAt   float64 `yaml:"medium_at"`
	HighAt     float64 `yaml:"high_at"`
	CriticalAt float64 `yaml:"critical_at"`
	HardLimit  bool    `yaml:"hard_limit"`
}

// BroadcastConfig connects the cache to peers over NATS.
type BroadcastConfig struct {
	NATSURL     string        `yaml:"nats_url"`
	Subject     string        `yaml:"subject"`
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// FallbackConfig selects the persistent fallback backend.
type FallbackConfig struct {
	Backend   string `yaml:"backend"` // "", "local", "memory" or "s3"
	Directory string `yaml:"directory"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// AuditConfig tunes the consistency monitor.
type AuditConfig struct {
	Interval   time.Duration `yaml:"interval"`
	SampleSize int           `yaml:"sample_size"`
}

// RefreshConfig tunes proactive background refresh.
type RefreshConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Margin           time.Duration `yaml:"margin"`
	MaxRetries       int           `yaml:"max_retries"`
	FetchesPerSecond float64       `yaml:"fetches_per_second"`
	Workers          int           `yaml:"workers"`
}

// Load reads and parses a YAML configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Options translates the configuration into cachego options. Zero
// values are left to the library defaults.
func (c *Config) Options() ([]cachego.Option, error) {
	var opts []cachego.Option

	if c.LogLevel != "" {
		level, err := parseLogLevel(c.LogLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cachego.WithLogLevel(level))
	}

	if c.Compression.Algorithm != "" {
		typ, ok := compress.TypeByName(c.Compression.Algorithm)
		if !ok {
			return nil, fmt.Errorf("unknown compression algorithm %q", c.Compression.Algorithm)
		}
		comp := c.Compression
		opts = append(opts, cachego.WithCompression(typ, func(o *compress.Options) {
			if comp.MinSize > 0 {
				o.MinSize = comp.MinSize
			}
			if comp.MaxRatio > 0 {
				o.MaxRatio = comp.MaxRatio
			}
		}))
	}

	ttlCfg := c.TTL
	if ttlCfg != (TTLConfig{}) {
		opts = append(opts, cachego.WithTTL(func(o *ttl.Options) {
			o.Min = ttlCfg.Min
			o.Max = ttlCfg.Max
			o.Default = ttlCfg.Default
			o.IntervalFactor = ttlCfg.IntervalFactor
		}))
	}

	resCfg := resource.Config{
		MediumAt:   c.Memory.MediumAt,
		HighAt:     c.Memory.HighAt,
		CriticalAt: c.Memory.CriticalAt,
		HardLimit:  c.Memory.HardLimit,
	}
	if c.Memory.Capacity != "" {
		capacity, err := parseSize(c.Memory.Capacity)
		if err != nil {
			return nil, err
		}
		resCfg.CapacityBytes = capacity
	}
	opts = append(opts, cachego.WithResourceConfig(resCfg))

	if c.Broadcast.NATSURL != "" {
		subject := c.Broadcast.Subject
		if subject == "" {
			subject = "cachego.events"
		}
		channel, err := broadcast.NewNATSChannel(c.Broadcast.NATSURL, subject)
		if err != nil {
			return nil, fmt.Errorf("connect broadcast channel: %w", err)
		}
		dedup := c.Broadcast.DedupWindow
		opts = append(opts, cachego.WithBroadcast(channel, func(o *bus.Options) {
			if dedup > 0 {
				o.DedupWindow = dedup
			}
		}))
	}

	if fbOpt, err := c.fallbackOption(); err != nil {
		return nil, err
	} else if fbOpt != nil {
		opts = append(opts, fbOpt)
	}

	auditCfg := c.Audit
	if auditCfg != (AuditConfig{}) {
		opts = append(opts, cachego.WithAudit(func(o *consistency.Options) {
			if auditCfg.Interval > 0 {
				o.Interval = auditCfg.Interval
			}
			if auditCfg.SampleSize > 0 {
				o.SampleSize = auditCfg.SampleSize
			}
		}))
	}

	refreshCfg := c.Refresh
	if refreshCfg != (RefreshConfig{}) {
		opts = append(opts, cachego.WithRefresh(func(o *refresh.Options) {
			if refreshCfg.Interval > 0 {
				o.Interval = refreshCfg.Interval
			}
			if refreshCfg.Margin > 0 {
				o.Margin = refreshCfg.Margin
			}
			if refreshCfg.MaxRetries > 0 {
				o.MaxRetries = refreshCfg.MaxRetries
			}
			if refreshCfg.FetchesPerSecond > 0 {
				o.FetchesPerSecond = refreshCfg.FetchesPerSecond
			}
			if refreshCfg.Workers > 0 {
				o.Workers = refreshCfg.Workers
			}
		}))
	}

	if c.SweepEvery > 0 {
		opts = append(opts, cachego.WithSweepInterval(c.SweepEvery))
	}

	return opts, nil
}

func (c *Config) fallbackOption() (cachego.Option, error) {
	fb := c.Fallback
	switch fb.Backend {
	case "":
		return nil, nil
	case "memory":
		return cachego.WithFallback(fallback.NewMemoryStore()), nil
	case "local":
		if fb.Directory == "" {
			return nil, fmt.Errorf("fallback backend %q requires directory", fb.Backend)
		}
		return cachego.WithFallbackInit(func(context.Context) (fallback.Store, error) {
			return fallback.NewLocalStore(fb.Directory)
		}), nil
	case "s3":
		if fb.Bucket == "" {
			return nil, fmt.Errorf("fallback backend %q requires bucket", fb.Backend)
		}
		return cachego.WithFallbackInit(func(ctx context.Context) (fallback.Store, error) {
			return fbs3.New(ctx, fb.Bucket, fb.Prefix)
		}), nil
	default:
		return nil, fmt.Errorf("unknown fallback backend %q", fb.Backend)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// parseSize parses human-readable sizes like "64MB" or "1GB".
// A bare number is bytes.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.factor
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return value * multiplier, nil
}
