// Package ttl computes time-to-live values from observed write volatility.
//
// The engine keeps a rolling estimate of the write arrival interval per
// namespace. Volatile namespaces (frequent overwrites) get seconds-scale
// TTLs so stale data turns over quickly; stable reference namespaces get
// hour-scale TTLs. An explicit caller hint always wins, and a namespace
// with no observed writes gets a conservative medium default so staleness
// cannot grow unbounded from pure inference failure.
package ttl

import (
	"sync"
	"time"
)

// Options configure an Engine.
type Options struct {
	// Min is the lower clamp for computed TTLs. If 0, defaults to 5s.
	Min time.Duration

	// Max is the upper clamp for computed TTLs. If 0, defaults to 6h.
	Max time.Duration

	// Default is used for namespaces with insufficient write history.
	// If 0, defaults to 5m.
	Default time.Duration

	// IntervalFactor scales the observed mean write interval into a TTL.
	// A factor of 4 lets an entry survive roughly four typical overwrite
	// cycles before expiring. If 0, defaults to 4.
	IntervalFactor float64
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		Min:            5 * time.Second,
		Max:            6 * time.Hour,
		Default:        5 * time.Minute,
		IntervalFactor: 4,
	}
}

// ewmaAlpha weights the newest interval observation.
const ewmaAlpha = 0.3

// minObservations is the write count below which the default TTL is used.
// A single write yields no interval at all; two yield one noisy sample.
const minObservations = 3

type observation struct {
	lastWrite   time.Time
	avgInterval time.Duration
	writes      uint64
}

// Engine derives TTLs from per-namespace write rates.
// Safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	namespaces map[string]*observation
	opts       Options
	now        func() time.Time
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Min <= 0 {
		opts.Min = 5 * time.Second
	}
	if opts.Max <= 0 {
		opts.Max = 6 * time.Hour
	}
	if opts.Default <= 0 {
		opts.Default = 5 * time.Minute
	}
	if opts.IntervalFactor <= 0 {
		opts.IntervalFactor = 4
	}

	return &Engine{
		namespaces: make(map[string]*observation),
		opts:       opts,
		now:        time.Now,
	}
}

// ObserveWrite records a write to the namespace. Called by the store on
// every successful set.
func (e *Engine) ObserveWrite(namespace string) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	obs, ok := e.namespaces[namespace]
	if !ok {
		e.namespaces[namespace] = &observation{lastWrite: now, writes: 1}
		return
	}

	interval := now.Sub(obs.lastWrite)
	if interval < 0 {
		interval = 0
	}
	if obs.avgInterval == 0 {
		obs.avgInterval = interval
	} else {
		obs.avgInterval = time.Duration(ewmaAlpha*float64(interval) + (1-ewmaAlpha)*float64(obs.avgInterval))
	}
	obs.lastWrite = now
	obs.writes++
}

// Compute returns the TTL for a new or refreshed entry. A positive hint
// overrides the computed value unconditionally.
func (e *Engine) Compute(namespace string, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}

	e.mu.Lock()
	obs, ok := e.namespaces[namespace]
	var avg time.Duration
	var writes uint64
	if ok {
		avg = obs.avgInterval
		writes = obs.writes
	}
	e.mu.Unlock()

	if !ok || writes < minObservations || avg <= 0 {
		return e.opts.Default
	}

	computed := time.Duration(e.opts.IntervalFactor * float64(avg))
	if computed < e.opts.Min {
		return e.opts.Min
	}
	if computed > e.opts.Max {
		return e.opts.Max
	}
	return computed
}

// WriteRate returns the namespace's observed writes per second, or 0 when
// there is no usable history. Exposed for metrics.
func (e *Engine) WriteRate(namespace string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	obs, ok := e.namespaces[namespace]
	if !ok || obs.avgInterval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(obs.avgInterval)
}

// Forget drops the write history of a namespace. Called when a namespace is
// comprehensively invalidated so stale volatility does not outlive the data
// that produced it.
func (e *Engine) Forget(namespace string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.namespaces, namespace)
}
