package cachego

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/cachego/broadcast"
	"github.com/hupe1980/cachego/bus"
	"github.com/hupe1980/cachego/codec"
	"github.com/hupe1980/cachego/compress"
	"github.com/hupe1980/cachego/consistency"
	"github.com/hupe1980/cachego/fallback"
	"github.com/hupe1980/cachego/refresh"
	"github.com/hupe1980/cachego/resource"
	"github.com/hupe1980/cachego/store"
	"github.com/hupe1980/cachego/ttl"
)

// FetchFunc loads a value from its source of truth on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is the top-level adaptive cache: in-memory storage with
// adaptive expiration, transparent compression, pressure-driven
// eviction, optional persistent fallback and cross-process
// invalidation plus consistency auditing.
//
// All methods are safe for concurrent use.
type Cache struct {
	store     *store.Store
	mon       *resource.Monitor
	codec     codec.Codec
	metrics   MetricsCollector
	logger    *Logger
	bus       *bus.Bus
	channel   broadcast.Channel
	audit     *consistency.Monitor
	refresher *refresh.Refresher
	fb        fallback.Store
	fbTimeout time.Duration

	hits     atomic.Int64
	misses   atomic.Int64
	degraded bool
	group    singleflight.Group

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New creates a Cache. The zero configuration is a standalone
// in-memory cache with zstd compression and a 256MB capacity; options
// attach broadcast, fallback storage, metrics and tuning.
func New(ctx context.Context, optFns ...Option) (*Cache, error) {
	opts := applyOptions(optFns)

	comp := compress.New(opts.compression, opts.compressOptFns...)
	ttlEngine := ttl.New(opts.ttlOptFns...)
	mon := resource.NewMonitor(opts.resourceConfig)
	st := store.New(comp, ttlEngine, mon, func(o *store.Options) {
		o.Logger = opts.logger.Logger
	})

	c := &Cache{
		store:     st,
		mon:       mon,
		codec:     opts.codec,
		metrics:   opts.metricsCollector,
		logger:    opts.logger,
		fbTimeout: opts.fallbackTimeout,
		closeCh:   make(chan struct{}),
	}

	if opts.fallbackInit != nil {
		fb, err := opts.fallbackInit(ctx)
		if err != nil {
			initErr := &StorageInitError{cause: err}
			c.degraded = true
			c.logger.WarnContext(ctx, "fallback store unavailable, running memory-only",
				"error", initErr)
		} else {
			c.fb = fb
		}
	}

	if opts.channel != nil {
		processID := opts.processID
		if processID == "" {
			processID = broadcast.NewProcessID()
		}

		busOptFns := append([]func(*bus.Options){
			func(o *bus.Options) { o.Logger = opts.logger.Logger },
		}, opts.busOptFns...)

		b, err := bus.New(processID, opts.channel, busOptFns...)
		if err != nil {
			return nil, err
		}
		b.OnEvent(c.applyEvent)
		c.bus = b
		c.channel = opts.channel

		auditOptFns := append([]func(*consistency.Options){
			func(o *consistency.Options) { o.Logger = opts.logger.Logger },
		}, opts.auditOptFns...)

		c.audit = consistency.New(st, b, auditOptFns...)
		c.audit.Start()
	}

	refreshOptFns := append([]func(*refresh.Options){
		func(o *refresh.Options) { o.Logger = opts.logger.Logger },
	}, opts.refreshOptFns...)
	c.refresher = refresh.New(st, refreshOptFns...)
	c.refresher.Start()

	mon.OnPressureChange(c.onPressure)

	c.wg.Add(1)
	go c.sweepLoop(opts.sweepInterval)

	return c, nil
}

// Get returns the cached value for the key. Expired entries are
// misses. When a fallback store is attached, memory misses are served
// from it and the value is promoted back into memory.
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, bool) {
	if c.closed.Load() {
		return nil, false
	}

	start := time.Now()
	value, hit := c.store.Get(namespace, key)

	if !hit && c.fb != nil {
		fbCtx, cancel := context.WithTimeout(ctx, c.fbTimeout)
		data, err := c.fb.Get(fbCtx, namespace, key)
		cancel()

		switch {
		case err == nil:
			if setErr := c.store.Set(namespace, key, data, store.SetOptions{}); setErr != nil {
				c.logger.WithKey(namespace, key).Debug("fallback promote skipped", "error", setErr)
			}
			value, hit = data, true
		case !errors.Is(err, fallback.ErrNotFound):
			c.logger.LogFallback(ctx, "get", namespace, key, err)
		}
	}

	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.RecordGet(hit, time.Since(start))
	c.logger.LogGet(ctx, namespace, key, hit)

	return value, hit
}

// GetOrFetch returns the cached value, loading it through fetch on a
// miss. Concurrent callers for the same key share a single fetch.
// Fetch failures are returned as *FetchError and cache nothing.
func (c *Cache) GetOrFetch(ctx context.Context, namespace, key string, fetch FetchFunc, optFns ...func(*store.SetOptions)) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if value, ok := c.Get(ctx, namespace, key); ok {
		return value, nil
	}

	fk := namespace + "/" + key
	v, err, _ := c.group.Do(fk, func() (any, error) {
		// A concurrent fetch may have already filled the entry.
		if value, ok := c.store.Get(namespace, key); ok {
			return value, nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, &FetchError{Namespace: namespace, Key: key, cause: err}
		}
		if err := c.Set(ctx, namespace, key, value, optFns...); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set stores a value. Serialization or compression failures surface
// synchronously as *EncodeError; nothing is stored in that case. When
// a fallback store is attached the raw value is mirrored to it.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte, optFns ...func(*store.SetOptions)) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var setOpts store.SetOptions
	for _, fn := range optFns {
		fn(&setOpts)
	}

	start := time.Now()
	err := translateError(namespace, key, c.store.Set(namespace, key, value, setOpts))
	c.metrics.RecordSet(time.Since(start), err)
	c.logger.LogSet(ctx, namespace, key, len(value), err)
	if err != nil {
		return err
	}

	if c.fb != nil {
		fbCtx, cancel := context.WithTimeout(ctx, c.fbTimeout)
		if fbErr := c.fb.Set(fbCtx, namespace, key, value); fbErr != nil {
			c.logger.LogFallback(ctx, "set", namespace, key, fbErr)
		}
		cancel()
	}

	return nil
}

// Delete removes a single entry from memory and the fallback store.
// Deleting an absent key is a no-op. Dependent entries are not
// cascaded; use Invalidate for that.
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	c.store.Delete(namespace, key)

	if c.fb != nil {
		fbCtx, cancel := context.WithTimeout(ctx, c.fbTimeout)
		if fbErr := c.fb.Delete(fbCtx, namespace, key); fbErr != nil {
			c.logger.LogFallback(ctx, "delete", namespace, key, fbErr)
		}
		cancel()
	}
	c.metrics.RecordDelete(time.Since(start), nil)

	return nil
}

// Invalidate applies an invalidation locally and, when a broadcast
// channel is attached, propagates it to every connected process.
//
// ModeSmart removes the listed keys (or, with no keys, the namespace)
// plus everything that depends on them. ModeComprehensive removes the
// whole namespace, or the whole cache when namespace is empty.
func (c *Cache) Invalidate(ctx context.Context, mode bus.Mode, namespace string, keys []string, reason string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	event := bus.Event{
		Mode:      mode,
		Namespace: namespace,
		Keys:      keys,
		Reason:    reason,
	}

	if c.bus != nil {
		return c.bus.Publish(ctx, event)
	}

	if mode != bus.ModeSmart && mode != bus.ModeComprehensive {
		return errors.New("invalid invalidation mode")
	}
	c.applyEvent(event)
	return nil
}

// fallbackTarget identifies one fallback-store entry scheduled for
// deletion as part of an invalidation.
type fallbackTarget struct {
	namespace string
	key       string
}

// fallbackTargets lists the locally-known keys of a namespace as
// fallback deletion targets. Has to run before the store mutation
// wipes the namespace index.
func (c *Cache) fallbackTargets(namespace string) []fallbackTarget {
	if c.fb == nil {
		return nil
	}
	keys := c.store.Keys(namespace)
	targets := make([]fallbackTarget, 0, len(keys))
	for _, key := range keys {
		targets = append(targets, fallbackTarget{namespace, key})
	}
	return targets
}

// applyEvent executes an invalidation against the local store and the
// fallback store. It runs for locally published events and for events
// received over the broadcast channel.
func (c *Cache) applyEvent(event bus.Event) {
	ctx := context.Background()
	var removed int
	var fbTargets []fallbackTarget

	switch event.Mode {
	case bus.ModeSmart:
		if len(event.Keys) > 0 {
			for _, key := range event.Keys {
				fbTargets = append(fbTargets, fallbackTarget{event.Namespace, key})
			}
			removed = c.store.InvalidateKeys(event.Namespace, event.Keys)
		} else if event.Namespace != "" {
			fbTargets = c.fallbackTargets(event.Namespace)
			removed = c.store.InvalidateNamespace(event.Namespace)
		}
	case bus.ModeComprehensive:
		if event.Namespace != "" {
			fbTargets = c.fallbackTargets(event.Namespace)
			removed = c.store.InvalidateNamespace(event.Namespace)
		} else {
			for _, ns := range c.store.Namespaces() {
				fbTargets = append(fbTargets, c.fallbackTargets(ns)...)
			}
			removed = c.store.Clear()
		}
	}

	if c.fb != nil {
		for _, t := range fbTargets {
			fbCtx, cancel := context.WithTimeout(ctx, c.fbTimeout)
			if err := c.fb.Delete(fbCtx, t.namespace, t.key); err != nil {
				c.logger.LogFallback(ctx, "invalidate", t.namespace, t.key, err)
			}
			cancel()
		}
	}

	c.metrics.RecordInvalidation(string(event.Mode), removed)
	c.logger.LogInvalidation(ctx, string(event.Mode), event.Namespace, len(event.Keys), removed)
}

// RegisterRefresh schedules proactive background refresh for a key.
// The fetch function is called shortly before the entry expires so
// readers keep hitting a warm value.
func (c *Cache) RegisterRefresh(namespace, key string, fetch refresh.FetchFunc, optFns ...func(*refresh.RegisterOptions)) {
	c.refresher.Register(namespace, key, fetch, optFns...)
}

// UnregisterRefresh stops proactive refresh for a key.
func (c *Cache) UnregisterRefresh(namespace, key string) {
	c.refresher.Unregister(namespace, key)
}

// AuditNow runs a consistency audit immediately instead of waiting for
// the next scheduled one. Without a broadcast channel it is a no-op.
func (c *Cache) AuditNow(ctx context.Context) []consistency.Snapshot {
	if c.audit == nil {
		return nil
	}
	return c.audit.AuditNow(ctx)
}

// Metrics returns a snapshot of cache health.
func (c *Cache) Metrics() Metrics {
	hits, misses := c.hits.Load(), c.misses.Load()

	m := Metrics{
		Entries:          c.store.Len(),
		Hits:             hits,
		Misses:           misses,
		Memory:           c.mon.Stats(),
		ConsistencyScore: 1.0,
		Degraded:         c.degraded,
	}
	if total := hits + misses; total > 0 {
		m.HitRate = float64(hits) / float64(total)
	}
	if c.audit != nil {
		m.ConsistencyScore = c.audit.Score()
	}
	return m
}

// Close stops background loops and releases resources, including the
// broadcast channel and the fallback store.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	c.wg.Wait()

	c.refresher.Close()
	if c.audit != nil {
		c.audit.Close()
	}

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.fb != nil {
		if err := c.fb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// onPressure reacts to upward pressure transitions: evict the band's
// budget, then recompress skipped entries at high pressure and sweep
// expired entries at critical pressure.
func (c *Cache) onPressure(old, level resource.Pressure) {
	budget := c.mon.EvictionBudget()
	evicted := c.store.Evict(budget)

	if level >= resource.PressureHigh {
		c.store.CompressPass(budget)
	}
	if level >= resource.PressureCritical {
		c.store.SweepExpired()
	}

	c.metrics.RecordEviction(evicted, level)
	c.logger.LogEviction(context.Background(), level.String(), evicted)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if n := c.store.SweepExpired(); n > 0 {
				c.logger.Debug("expired entries swept", "count", n)
			}
		}
	}
}
