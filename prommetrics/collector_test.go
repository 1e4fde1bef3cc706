package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cachego"
	"github.com/hupe1980/cachego/resource"
)

func TestCollectorRecordsOperations(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.RecordGet(true, time.Millisecond)
	c.RecordGet(true, time.Millisecond)
	c.RecordGet(false, time.Millisecond)
	c.RecordSet(time.Millisecond, nil)
	c.RecordSet(time.Millisecond, errors.New("boom"))
	c.RecordInvalidation("smart", 3)
	c.RecordEviction(8, resource.PressureHigh)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.getCounter.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.getCounter.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.setCounter.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.setCounter.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invalidations.WithLabelValues("smart")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.invalidatedKeys))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evictionPasses.WithLabelValues("high")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.evictedEntries))
}

func TestCollectorSnapshotGauges(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.UpdateSnapshot(cachego.Metrics{
		Entries: 12,
		Memory: resource.Stats{
			UsedBytes:     1024,
			CapacityBytes: 4096,
			Level:         resource.PressureMedium,
		},
		ConsistencyScore: 0.75,
		Degraded:         true,
	})

	assert.Equal(t, 1024.0, testutil.ToFloat64(c.memoryUsed))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.memoryCapacity))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressureLevel))
	assert.Equal(t, 0.75, testutil.ToFloat64(c.consistencyScore))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.entries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degraded))
}

func TestCollectorIsMetricsCollector(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	var _ cachego.MetricsCollector = c
}
