// Package refresh proactively re-fetches cache entries that are close
// to expiry, so hot keys are served warm instead of taking a cold miss.
//
// Fetches run on a bounded worker pool behind a shared rate limiter.
// A failed fetch leaves the current entry in place; readers keep
// getting the stale value until either a retry succeeds or the entry
// expires on its own.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/cachego/store"
)

// FetchFunc loads the current value for a registered entry from its
// source of truth.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Options configures a Refresher.
type Options struct {
	// Interval is the scan cadence.
	Interval time.Duration

	// Margin is the default lead time before expiry at which an entry
	// becomes due for refresh. Overridable per registration.
	Margin time.Duration

	// FetchTimeout bounds a single fetch attempt.
	FetchTimeout time.Duration

	// MaxRetries is the number of consecutive failed attempts tolerated
	// before a registration is dropped.
	MaxRetries int

	// FetchesPerSecond throttles aggregate fetch rate across all
	// registrations. Zero disables throttling.
	FetchesPerSecond float64

	// Workers sets the fetch pool size. Zero means GOMAXPROCS.
	Workers int

	// OnPermanentFailure is invoked after a registration exhausts its
	// retries and is unregistered. Optional.
	OnPermanentFailure func(namespace, key string, err error)

	Logger *slog.Logger
}

// RegisterOptions tunes a single registration.
type RegisterOptions struct {
	// Margin overrides Options.Margin for this entry.
	Margin time.Duration

	// TTLHint is passed through to the store on each successful refresh.
	TTLHint time.Duration

	// Dependencies and Tags are passed through to the store on each
	// successful refresh.
	Dependencies []string
	Tags         map[string]string
}

type registration struct {
	namespace string
	key       string
	fetch     FetchFunc
	opts      RegisterOptions

	failures int
	inflight bool
}

// Refresher scans registered entries on a fixed cadence and re-fetches
// the ones inside their refresh margin.
type Refresher struct {
	store   *store.Store
	pool    *workerPool
	limiter *rate.Limiter
	logger  *slog.Logger

	interval     time.Duration
	margin       time.Duration
	fetchTimeout time.Duration
	maxRetries   int
	onPermanent  func(namespace, key string, err error)

	mu      sync.Mutex
	entries map[string]*registration

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New creates a Refresher bound to the given store. Call Start to
// begin scanning.
func New(s *store.Store, optFns ...func(o *Options)) *Refresher {
	opts := Options{
		Interval:     15 * time.Second,
		Margin:       30 * time.Second,
		FetchTimeout: 10 * time.Second,
		MaxRetries:   3,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Refresher{
		store:        s,
		pool:         newWorkerPool(opts.Workers, opts.Logger),
		logger:       opts.Logger,
		interval:     opts.Interval,
		margin:       opts.Margin,
		fetchTimeout: opts.FetchTimeout,
		maxRetries:   opts.MaxRetries,
		onPermanent:  opts.OnPermanentFailure,
		entries:      make(map[string]*registration),
		closeCh:      make(chan struct{}),
	}

	if opts.FetchesPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.FetchesPerSecond), 1)
	}

	return r
}

// Register schedules proactive refresh for a key. Re-registering a key
// replaces its fetch function and resets its failure count.
func (r *Refresher) Register(namespace, key string, fetch FetchFunc, optFns ...func(o *RegisterOptions)) {
	var opts RegisterOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[namespace+"/"+key] = &registration{
		namespace: namespace,
		key:       key,
		fetch:     fetch,
		opts:      opts,
	}
}

// Unregister stops refreshing a key. The cached entry is left alone.
func (r *Refresher) Unregister(namespace, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, namespace+"/"+key)
}

// Len returns the number of active registrations.
func (r *Refresher) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Start launches the scan loop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.closeCh:
				return
			case <-ticker.C:
				r.ScanOnce(context.Background())
			}
		}
	}()
}

// Close stops the scan loop and waits for in-flight fetches.
func (r *Refresher) Close() {
	r.closeOnce.Do(func() {
		close(r.closeCh)
	})
	r.wg.Wait()
	r.pool.close()
}

// ScanOnce walks the registrations and submits a refresh for every
// entry that is due. It never blocks on the fetches themselves.
func (r *Refresher) ScanOnce(ctx context.Context) int {
	now := time.Now()

	r.mu.Lock()
	due := make([]*registration, 0, len(r.entries))
	for _, reg := range r.entries {
		if reg.inflight {
			continue
		}
		if !r.dueLocked(reg, now) {
			continue
		}
		reg.inflight = true
		due = append(due, reg)
	}
	r.mu.Unlock()

	submitted := 0
	for _, reg := range due {
		reg := reg
		err := r.pool.submit(ctx, func() { r.refresh(reg) })
		if err != nil {
			r.mu.Lock()
			reg.inflight = false
			r.mu.Unlock()
			r.logger.Warn("refresh submit failed",
				"namespace", reg.namespace, "key", reg.key, "error", err)
			continue
		}
		submitted++
	}

	return submitted
}

// dueLocked reports whether a registration should be refreshed now.
// Missing entries count as due so a registered key gets re-warmed
// after eviction or invalidation.
func (r *Refresher) dueLocked(reg *registration, now time.Time) bool {
	info, ok := r.store.Peek(reg.namespace, reg.key)
	if !ok {
		return true
	}

	margin := reg.opts.Margin
	if margin <= 0 {
		margin = r.margin
	}
	return info.ExpiresAt.Sub(now) <= margin
}

func (r *Refresher) refresh(reg *registration) {
	defer func() {
		r.mu.Lock()
		reg.inflight = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}

	value, err := reg.fetch(ctx)
	if err != nil {
		r.recordFailure(reg, err)
		return
	}

	err = r.store.Set(reg.namespace, reg.key, value, store.SetOptions{
		TTLHint:      reg.opts.TTLHint,
		Dependencies: reg.opts.Dependencies,
		Tags:         reg.opts.Tags,
	})
	if err != nil {
		r.recordFailure(reg, err)
		return
	}

	r.mu.Lock()
	reg.failures = 0
	r.mu.Unlock()
}

// recordFailure counts a failed attempt. The stale entry stays cached;
// readers keep being served until it expires naturally. Once retries
// are exhausted the registration is dropped.
func (r *Refresher) recordFailure(reg *registration, err error) {
	r.mu.Lock()
	reg.failures++
	failures := reg.failures
	exhausted := failures > r.maxRetries
	if exhausted {
		delete(r.entries, reg.namespace+"/"+reg.key)
	}
	r.mu.Unlock()

	if !exhausted {
		r.logger.Warn("refresh fetch failed, serving stale",
			"namespace", reg.namespace, "key", reg.key,
			"attempt", failures, "error", err)
		return
	}

	r.logger.Error("refresh permanently failed, unregistering",
		"namespace", reg.namespace, "key", reg.key,
		"attempts", failures, "error", err)
	if r.onPermanent != nil {
		r.onPermanent(reg.namespace, reg.key, err)
	}
}
