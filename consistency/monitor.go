// Package consistency audits cache entries for cross-process divergence and
// triggers repair.
//
// Stores are process-local by design; processes share only events, so
// divergence is detected rather than prevented. Each audit broadcasts a
// digest of sampled entries and compares against digests received from
// other processes. Repairs follow a fixed rule: the higher monotonic
// version wins, and an equal-version content conflict discards both copies
// (delete locally, broadcast a smart invalidation) instead of guessing.
package consistency

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/cachego/bus"
	"github.com/hupe1980/cachego/store"
)

// Snapshot is a per-key comparison record produced during audits. Transient;
// never persisted.
type Snapshot struct {
	Namespace     string
	Key           string
	LocalVersion  int64
	RemoteVersion int64
	Divergent     bool
}

// Options configure a Monitor.
type Options struct {
	// Interval between scheduled audits. If 0, defaults to 30s.
	Interval time.Duration

	// SampleSize bounds the entries digested per audit. If 0, defaults
	// to 64.
	SampleSize int

	// AuditTimeout bounds a single audit cycle; an overrunning cycle is
	// abandoned and retried on the next tick. If 0, defaults to 5s.
	AuditTimeout time.Duration

	// RemoteTTL bounds how long remote digest observations are kept for
	// comparison. If 0, defaults to 2×Interval.
	RemoteTTL time.Duration

	// Logger receives repair decisions. Defaults to discarding.
	Logger *slog.Logger
}

type remoteObservation struct {
	origin   string
	version  int64
	checksum string
	at       time.Time
}

// Monitor periodically reconciles the local store against digests from
// other processes.
type Monitor struct {
	store  *store.Store
	bus    *bus.Bus
	logger *slog.Logger

	interval     time.Duration
	sampleSize   int
	auditTimeout time.Duration
	remoteTTL    time.Duration

	mu     sync.Mutex
	remote map[string]remoteObservation

	score atomic.Uint64 // math.Float64bits; 1.0 until first audit

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New creates a Monitor and subscribes it to the bus's digest traffic.
func New(s *store.Store, b *bus.Bus, optFns ...func(o *Options)) *Monitor {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 64
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = 5 * time.Second
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = 2 * opts.Interval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	m := &Monitor{
		store:        s,
		bus:          b,
		logger:       opts.Logger,
		interval:     opts.Interval,
		sampleSize:   opts.SampleSize,
		auditTimeout: opts.AuditTimeout,
		remoteTTL:    opts.RemoteTTL,
		remote:       make(map[string]remoteObservation),
		closeCh:      make(chan struct{}),
	}
	m.score.Store(math.Float64bits(1.0))

	b.OnDigest(m.onDigest)
	return m
}

// Start launches the periodic audit loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.closeCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.auditTimeout)
				m.AuditNow(ctx)
				cancel()
			}
		}
	}()
}

// Close stops the audit loop.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.closeCh) })
	m.wg.Wait()
}

// Score returns agreeing/sampled from the latest audit; 1.0 before any
// audit has compared anything.
func (m *Monitor) Score() float64 {
	return math.Float64frombits(m.score.Load())
}

// AuditNow broadcasts a digest of sampled local entries and reconciles
// against the remote observations received so far. Returns one Snapshot per
// sampled key for which a remote observation existed.
func (m *Monitor) AuditNow(ctx context.Context) []Snapshot {
	local := m.store.SampleDigests(m.sampleSize)

	if len(local) > 0 {
		_ = m.bus.PublishDigest(ctx, bus.DigestMessage{Digests: local})
	}

	now := time.Now()
	var snapshots []Snapshot
	agreeing, sampled := 0, 0

	for _, d := range local {
		fk := d.Namespace + "/" + d.Key

		m.mu.Lock()
		obs, ok := m.remote[fk]
		if ok && now.Sub(obs.at) > m.remoteTTL {
			delete(m.remote, fk)
			ok = false
		}
		m.mu.Unlock()
		if !ok {
			continue
		}

		sampled++
		snap := Snapshot{
			Namespace:     d.Namespace,
			Key:           d.Key,
			LocalVersion:  d.Version,
			RemoteVersion: obs.version,
		}

		if obs.version == d.Version && obs.checksum == d.Checksum {
			agreeing++
		} else {
			snap.Divergent = true
			m.repair(ctx, d, obs)
		}
		snapshots = append(snapshots, snap)
	}

	if sampled > 0 {
		m.score.Store(math.Float64bits(float64(agreeing) / float64(sampled)))
	}
	return snapshots
}

// onDigest records remote observations and repairs eagerly, without
// waiting for the next scheduled audit.
func (m *Monitor) onDigest(msg bus.DigestMessage) {
	if msg.OriginProcessID == m.bus.ProcessID() {
		return
	}

	now := time.Now()
	for _, d := range msg.Digests {
		fk := d.Namespace + "/" + d.Key

		m.mu.Lock()
		m.remote[fk] = remoteObservation{
			origin:   msg.OriginProcessID,
			version:  d.Version,
			checksum: d.Checksum,
			at:       now,
		}
		m.mu.Unlock()

		local, ok := m.store.DigestFor(d.Namespace, d.Key)
		if !ok {
			continue
		}
		if local.Version != d.Version || local.Checksum != d.Checksum {
			m.repair(context.Background(), local, remoteObservation{
				origin:   msg.OriginProcessID,
				version:  d.Version,
				checksum: d.Checksum,
				at:       now,
			})
		}
	}
}

// repair applies the divergence rule for one key.
func (m *Monitor) repair(ctx context.Context, local store.Digest, obs remoteObservation) {
	switch {
	case obs.version > local.Version:
		// The remote copy is newer; drop ours and re-fetch on next read.
		m.logger.Info("dropping stale cache entry",
			"namespace", local.Namespace, "key", local.Key,
			"localVersion", local.Version, "remoteVersion", obs.version)
		m.store.Delete(local.Namespace, local.Key)

	case obs.version == local.Version && obs.checksum != local.Checksum:
		// Genuine conflict: discard both sides rather than guessing.
		m.logger.Warn("conflicting cache entry, forcing cold miss",
			"namespace", local.Namespace, "key", local.Key,
			"version", local.Version)
		m.store.Delete(local.Namespace, local.Key)
		_ = m.bus.Publish(ctx, bus.Event{
			Mode:      bus.ModeSmart,
			Namespace: local.Namespace,
			Keys:      []string{local.Key},
			Reason:    "consistency conflict",
		})

	default:
		// Our copy is newer; the other side repairs when it sees our digest.
	}
}
