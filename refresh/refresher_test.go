package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cachego/compress"
	"github.com/hupe1980/cachego/resource"
	"github.com/hupe1980/cachego/store"
	"github.com/hupe1980/cachego/ttl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() *store.Store {
	return store.New(
		compress.New(compress.TypeNone),
		ttl.New(),
		resource.NewMonitor(resource.Config{CapacityBytes: 1 << 20}),
	)
}

func TestRefreshesEntryInsideMargin(t *testing.T) {
	s := newTestStore()
	r := New(s)
	defer r.Close()

	require.NoError(t, s.Set("n", "k", []byte("old"), store.SetOptions{}))

	r.Register("n", "k", func(ctx context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	}, func(o *RegisterOptions) {
		// Wider than any computed lifetime, so the entry is always due.
		o.Margin = 24 * time.Hour
	})

	require.Equal(t, 1, r.ScanOnce(context.Background()))

	require.Eventually(t, func() bool {
		got, ok := s.Get("n", "k")
		return ok && string(got) == "fresh"
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterOptionsFlowIntoStore(t *testing.T) {
	s := newTestStore()
	r := New(s)
	defer r.Close()

	r.Register("reports", "daily", func(ctx context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	}, func(o *RegisterOptions) {
		o.TTLHint = time.Hour
		o.Dependencies = []string{"users/42"}
		o.Tags = map[string]string{"source": "warehouse"}
	})

	require.Equal(t, 1, r.ScanOnce(context.Background()))

	require.Eventually(t, func() bool {
		_, ok := s.Get("reports", "daily")
		return ok
	}, time.Second, 5*time.Millisecond)

	info, ok := s.Peek("reports", "daily")
	require.True(t, ok)
	assert.InDelta(t, time.Hour.Seconds(), time.Until(info.ExpiresAt).Seconds(), 5)

	// The refreshed entry carries its dependencies, so invalidating the
	// upstream key cascades to it.
	require.Equal(t, 1, s.InvalidateKeys("users", []string{"42"}))
	_, ok = s.Get("reports", "daily")
	assert.False(t, ok)
}

func TestMissingEntryIsRewarmed(t *testing.T) {
	s := newTestStore()
	r := New(s)
	defer r.Close()

	r.Register("n", "gone", func(ctx context.Context) ([]byte, error) {
		return []byte("warm"), nil
	})

	require.Equal(t, 1, r.ScanOnce(context.Background()))

	require.Eventually(t, func() bool {
		got, ok := s.Get("n", "gone")
		return ok && string(got) == "warm"
	}, time.Second, 5*time.Millisecond)
}

func TestEntryOutsideMarginIsSkipped(t *testing.T) {
	s := newTestStore()
	r := New(s, func(o *Options) {
		o.Margin = time.Millisecond
	})
	defer r.Close()

	require.NoError(t, s.Set("n", "k", []byte("v"), store.SetOptions{}))
	r.Register("n", "k", func(ctx context.Context) ([]byte, error) {
		t.Error("fetch must not run")
		return nil, nil
	})

	assert.Equal(t, 0, r.ScanOnce(context.Background()))
}

func TestFailedFetchServesStale(t *testing.T) {
	s := newTestStore()
	r := New(s)
	defer r.Close()

	require.NoError(t, s.Set("n", "k", []byte("stale"), store.SetOptions{}))

	var calls atomic.Int32
	r.Register("n", "k", func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("backend down")
	}, func(o *RegisterOptions) {
		o.Margin = 24 * time.Hour
	})

	r.ScanOnce(context.Background())

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Readers keep the stale value and the registration survives.
	got, ok := s.Get("n", "k")
	require.True(t, ok)
	assert.Equal(t, []byte("stale"), got)
	assert.Equal(t, 1, r.Len())
}

func TestPermanentFailureUnregisters(t *testing.T) {
	s := newTestStore()

	var dropped atomic.Bool
	r := New(s, func(o *Options) {
		o.MaxRetries = 1
		o.OnPermanentFailure = func(namespace, key string, err error) {
			dropped.Store(true)
		}
	})
	defer r.Close()

	r.Register("n", "broken", func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("backend down")
	})

	for i := 0; i < 2; i++ {
		r.ScanOnce(context.Background())
		require.Eventually(t, func() bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, reg := range r.entries {
				if reg.inflight {
					return false
				}
			}
			return true
		}, time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, 0, r.Len())
	assert.True(t, dropped.Load())
}

func TestUnregisterStopsRefresh(t *testing.T) {
	s := newTestStore()
	r := New(s)
	defer r.Close()

	r.Register("n", "k", func(ctx context.Context) ([]byte, error) {
		return []byte("x"), nil
	})
	require.Equal(t, 1, r.Len())

	r.Unregister("n", "k")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.ScanOnce(context.Background()))
}

func TestSubmitAfterPoolClose(t *testing.T) {
	wp := newWorkerPool(1, testLogger())
	wp.close()

	err := wp.submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	wp := newWorkerPool(1, testLogger())
	defer wp.close()

	require.NoError(t, wp.submit(context.Background(), func() {
		panic("boom")
	}))

	// A panicking task must not kill the worker.
	done := make(chan struct{})
	require.NoError(t, wp.submit(context.Background(), func() {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}
