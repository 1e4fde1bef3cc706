// Package resource tracks the memory occupied by the cache, classifies
// pressure, and recommends eviction batch sizes.
//
// Pressure response is reactive, not merely periodic: crossing into the
// high or critical band fires a registered callback immediately instead of
// waiting for the next scheduled sweep.
package resource

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pressure classifies memory usage relative to capacity.
type Pressure int32

const (
	// PressureLow means usage is below the medium watermark; no action.
	PressureLow Pressure = iota
	// PressureMedium recommends a small eviction batch.
	PressureMedium
	// PressureHigh recommends a larger batch plus a compression pass.
	PressureHigh
	// PressureCritical recommends an aggressive batch plus a full sweep.
	PressureCritical
)

// String returns the string representation of the pressure level.
func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Stats is a process-wide memory snapshot.
type Stats struct {
	UsedBytes     int64
	CapacityBytes int64
	Level         Pressure
}

// Config holds monitor limits and thresholds.
type Config struct {
	// CapacityBytes is the configured cache capacity.
	// If 0, defaults to 256MB.
	CapacityBytes int64

	// MediumAt, HighAt and CriticalAt are usage fractions at which the
	// corresponding pressure band begins. Zero values take the defaults
	// 0.56, 0.80 and 0.95. The specific numbers are tuning defaults, not
	// contract.
	MediumAt   float64
	HighAt     float64
	CriticalAt float64

	// MediumBatch, HighBatch and CriticalBatch are the eviction budgets
	// recommended in each band. Zero values take 8, 32 and 128.
	MediumBatch   int
	HighBatch     int
	CriticalBatch int

	// HardLimit enforces CapacityBytes via a semaphore: acquisitions beyond
	// capacity fail instead of overcommitting. When false the monitor only
	// tracks usage.
	HardLimit bool
}

func (c *Config) applyDefaults() {
	if c.CapacityBytes <= 0 {
		c.CapacityBytes = 256 << 20
	}
	if c.MediumAt <= 0 {
		c.MediumAt = 0.56
	}
	if c.HighAt <= 0 {
		c.HighAt = 0.80
	}
	if c.CriticalAt <= 0 {
		c.CriticalAt = 0.95
	}
	if c.MediumBatch <= 0 {
		c.MediumBatch = 8
	}
	if c.HighBatch <= 0 {
		c.HighBatch = 32
	}
	if c.CriticalBatch <= 0 {
		c.CriticalBatch = 128
	}
}

// Monitor tracks cache memory usage.
// Safe for concurrent use.
type Monitor struct {
	cfg Config

	memSem *semaphore.Weighted // nil unless HardLimit
	used   atomic.Int64
	level  atomic.Int32

	mu         sync.Mutex
	onPressure func(old, new Pressure)

	// Coalesces reactive callbacks so a burst of writes fires one pass.
	callbackInflight atomic.Bool
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) *Monitor {
	cfg.applyDefaults()

	m := &Monitor{cfg: cfg}
	if cfg.HardLimit {
		m.memSem = semaphore.NewWeighted(cfg.CapacityBytes)
	}
	return m
}

// Capacity returns the configured capacity in bytes.
func (m *Monitor) Capacity() int64 {
	return m.cfg.CapacityBytes
}

// Usage returns the currently tracked usage in bytes.
func (m *Monitor) Usage() int64 {
	return m.used.Load()
}

// TryAcquire reserves bytes of capacity. Returns false when a hard limit is
// configured and the reservation would exceed it; the caller is expected to
// evict and retry.
func (m *Monitor) TryAcquire(bytes int64) bool {
	if bytes <= 0 {
		return true
	}
	if m.memSem != nil && !m.memSem.TryAcquire(bytes) {
		return false
	}
	m.used.Add(bytes)
	m.reclassify()
	return true
}

// Release returns previously acquired bytes.
func (m *Monitor) Release(bytes int64) {
	if bytes <= 0 {
		return
	}
	if m.memSem != nil {
		m.memSem.Release(bytes)
	}
	m.used.Add(-bytes)
	m.reclassify()
}

// Classify recomputes and returns the current pressure level.
func (m *Monitor) Classify() Pressure {
	return m.reclassify()
}

// Level returns the last computed pressure level without recomputing.
func (m *Monitor) Level() Pressure {
	return Pressure(m.level.Load())
}

// EvictionBudget returns the recommended number of entries to evict at the
// current pressure level. Zero means no action.
func (m *Monitor) EvictionBudget() int {
	switch m.Classify() {
	case PressureMedium:
		return m.cfg.MediumBatch
	case PressureHigh:
		return m.cfg.HighBatch
	case PressureCritical:
		return m.cfg.CriticalBatch
	default:
		return 0
	}
}

// Stats returns a snapshot of usage, capacity and pressure.
func (m *Monitor) Stats() Stats {
	return Stats{
		UsedBytes:     m.Usage(),
		CapacityBytes: m.cfg.CapacityBytes,
		Level:         m.Classify(),
	}
}

// OnPressureChange registers the reactive callback. It runs on its own
// goroutine whenever usage crosses upward into the high or critical band,
// so implementations may call back into the store.
func (m *Monitor) OnPressureChange(fn func(old, new Pressure)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPressure = fn
}

func (m *Monitor) classify(used int64) Pressure {
	frac := float64(used) / float64(m.cfg.CapacityBytes)
	switch {
	case frac >= m.cfg.CriticalAt:
		return PressureCritical
	case frac >= m.cfg.HighAt:
		return PressureHigh
	case frac >= m.cfg.MediumAt:
		return PressureMedium
	default:
		return PressureLow
	}
}

func (m *Monitor) reclassify() Pressure {
	next := m.classify(m.used.Load())
	prev := Pressure(m.level.Swap(int32(next)))

	if next > prev && next >= PressureHigh {
		m.fireCallback(prev, next)
	}
	return next
}

func (m *Monitor) fireCallback(old, new Pressure) {
	m.mu.Lock()
	fn := m.onPressure
	m.mu.Unlock()
	if fn == nil {
		return
	}

	if !m.callbackInflight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.callbackInflight.Store(false)
		fn(old, new)
	}()
}
