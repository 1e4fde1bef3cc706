package resource

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBands(t *testing.T) {
	m := NewMonitor(Config{CapacityBytes: 100})

	require.True(t, m.TryAcquire(55))
	assert.Equal(t, PressureLow, m.Classify())

	require.True(t, m.TryAcquire(1)) // 56%
	assert.Equal(t, PressureMedium, m.Classify())

	require.True(t, m.TryAcquire(24)) // 80%
	assert.Equal(t, PressureHigh, m.Classify())

	require.True(t, m.TryAcquire(15)) // 95%
	assert.Equal(t, PressureCritical, m.Classify())

	m.Release(95)
	assert.Equal(t, PressureLow, m.Classify())
}

func TestEvictionBudget(t *testing.T) {
	m := NewMonitor(Config{CapacityBytes: 100})

	assert.Zero(t, m.EvictionBudget())

	require.True(t, m.TryAcquire(60))
	assert.Equal(t, 8, m.EvictionBudget())

	require.True(t, m.TryAcquire(25)) // 85%
	assert.Equal(t, 32, m.EvictionBudget())

	require.True(t, m.TryAcquire(11)) // 96%
	assert.Equal(t, 128, m.EvictionBudget())
}

func TestHardLimit(t *testing.T) {
	m := NewMonitor(Config{CapacityBytes: 100, HardLimit: true})

	require.True(t, m.TryAcquire(90))
	assert.False(t, m.TryAcquire(20), "over-capacity reservation must fail")

	m.Release(50)
	assert.True(t, m.TryAcquire(20))
	assert.Equal(t, int64(60), m.Usage())
}

func TestSoftLimitNeverRejects(t *testing.T) {
	m := NewMonitor(Config{CapacityBytes: 100})

	assert.True(t, m.TryAcquire(250))
	assert.Equal(t, PressureCritical, m.Classify())
}

func TestReactiveCallbackOnHighCrossing(t *testing.T) {
	m := NewMonitor(Config{CapacityBytes: 100})

	var mu sync.Mutex
	var calls []Pressure
	done := make(chan struct{}, 4)
	m.OnPressureChange(func(old, new Pressure) {
		mu.Lock()
		calls = append(calls, new)
		mu.Unlock()
		done <- struct{}{}
	})

	require.True(t, m.TryAcquire(50)) // low: no callback
	require.True(t, m.TryAcquire(35)) // 85%: high crossing

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pressure callback not fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, calls)
	assert.Equal(t, PressureHigh, calls[0])
}

func TestStats(t *testing.T) {
	m := NewMonitor(Config{CapacityBytes: 1000})
	require.True(t, m.TryAcquire(100))

	st := m.Stats()
	assert.Equal(t, int64(100), st.UsedBytes)
	assert.Equal(t, int64(1000), st.CapacityBytes)
	assert.Equal(t, PressureLow, st.Level)
}

func TestDefaults(t *testing.T) {
	m := NewMonitor(Config{})
	assert.Equal(t, int64(256<<20), m.Capacity())
}
