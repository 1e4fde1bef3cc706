package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cachego/broadcast"
	"github.com/hupe1980/cachego/bus"
	"github.com/hupe1980/cachego/compress"
	"github.com/hupe1980/cachego/resource"
	"github.com/hupe1980/cachego/store"
	"github.com/hupe1980/cachego/ttl"
)

// process bundles one simulated process: its own store, bus and monitor
// sharing a hub with the others.
type process struct {
	store   *store.Store
	bus     *bus.Bus
	monitor *Monitor
}

func newProcess(t *testing.T, hub *broadcast.Hub, id string) *process {
	t.Helper()

	s := store.New(
		compress.New(compress.TypeZSTD),
		ttl.New(),
		resource.NewMonitor(resource.Config{CapacityBytes: 1 << 20}),
	)

	b, err := bus.New(id, hub.Channel())
	require.NoError(t, err)

	// Replicate the manager's event wiring: invalidation events reach the
	// local store.
	b.OnEvent(func(e bus.Event) {
		switch e.Mode {
		case bus.ModeSmart:
			if len(e.Keys) > 0 {
				s.InvalidateKeys(e.Namespace, e.Keys)
			} else if e.Namespace != "" {
				s.InvalidateNamespace(e.Namespace)
			}
		case bus.ModeComprehensive:
			if e.Namespace != "" {
				s.InvalidateNamespace(e.Namespace)
			} else {
				s.Clear()
			}
		}
	})

	return &process{store: s, bus: b, monitor: New(s, b)}
}

func TestAgreementScoresOne(t *testing.T) {
	hub := broadcast.NewHub()
	a := newProcess(t, hub, "proc-a")
	b := newProcess(t, hub, "proc-b")

	require.NoError(t, a.store.Set("n", "k", []byte("same"), store.SetOptions{}))
	require.NoError(t, b.store.Set("n", "k", []byte("same"), store.SetOptions{}))

	ctx := context.Background()
	b.monitor.AuditNow(ctx) // a records b's digest
	snaps := a.monitor.AuditNow(ctx)

	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Divergent)
	assert.Equal(t, 1.0, a.monitor.Score())
}

func TestHigherVersionWins(t *testing.T) {
	hub := broadcast.NewHub()
	a := newProcess(t, hub, "proc-a")
	b := newProcess(t, hub, "proc-b")

	// a wrote twice, b once: a holds the newer copy.
	require.NoError(t, a.store.Set("n", "k", []byte("v1"), store.SetOptions{}))
	require.NoError(t, a.store.Set("n", "k", []byte("v2"), store.SetOptions{}))
	require.NoError(t, b.store.Set("n", "k", []byte("v1"), store.SetOptions{}))

	// a's digest reaches b, which eagerly drops its stale copy.
	a.monitor.AuditNow(context.Background())

	_, ok := b.store.Get("n", "k")
	assert.False(t, ok, "lower-version copy must be dropped")
	got, ok := a.store.Get("n", "k")
	require.True(t, ok, "higher-version copy survives")
	assert.Equal(t, []byte("v2"), got)
}

func TestEqualVersionConflictForcesColdMissOnBoth(t *testing.T) {
	hub := broadcast.NewHub()
	a := newProcess(t, hub, "proc-a")
	b := newProcess(t, hub, "proc-b")

	// Same version, different content: a genuine conflict.
	require.NoError(t, a.store.Set("n", "k", []byte("alpha"), store.SetOptions{}))
	require.NoError(t, b.store.Set("n", "k", []byte("beta"), store.SetOptions{}))

	var smartEvents int
	probe, err := bus.New("probe", hub.Channel())
	require.NoError(t, err)
	probe.OnEvent(func(e bus.Event) {
		if e.Mode == bus.ModeSmart && e.Reason == "consistency conflict" {
			smartEvents++
		}
	})

	a.monitor.AuditNow(context.Background())

	_, ok := a.store.Get("n", "k")
	assert.False(t, ok, "originating side shows a miss")
	_, ok = b.store.Get("n", "k")
	assert.False(t, ok, "remote side shows a miss")
	assert.GreaterOrEqual(t, smartEvents, 1, "a smart invalidation was broadcast")
}

func TestDivergenceLowersScore(t *testing.T) {
	hub := broadcast.NewHub()
	a := newProcess(t, hub, "proc-a")
	b := newProcess(t, hub, "proc-b")

	require.NoError(t, a.store.Set("n", "agree", []byte("x"), store.SetOptions{}))
	require.NoError(t, b.store.Set("n", "agree", []byte("x"), store.SetOptions{}))
	// a holds the newer copy of "drift"; its repair is a no-op, so the
	// divergence is still visible when a audits.
	require.NoError(t, a.store.Set("n", "drift", []byte("d1"), store.SetOptions{}))
	require.NoError(t, a.store.Set("n", "drift", []byte("d2"), store.SetOptions{}))
	require.NoError(t, b.store.Set("n", "drift", []byte("d1"), store.SetOptions{}))

	b.monitor.AuditNow(context.Background())
	snaps := a.monitor.AuditNow(context.Background())

	require.Len(t, snaps, 2)
	assert.Equal(t, 0.5, a.monitor.Score())
}

func TestScoreDefaultsToOne(t *testing.T) {
	hub := broadcast.NewHub()
	a := newProcess(t, hub, "proc-a")
	assert.Equal(t, 1.0, a.monitor.Score())

	// No remote observations: nothing to compare, score untouched.
	a.monitor.AuditNow(context.Background())
	assert.Equal(t, 1.0, a.monitor.Score())
}

func TestStartAndClose(t *testing.T) {
	hub := broadcast.NewHub()
	a := newProcess(t, hub, "proc-a")

	a.monitor.Start()
	time.Sleep(10 * time.Millisecond)
	a.monitor.Close()
}
