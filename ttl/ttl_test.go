package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// advance installs a fake clock starting at a fixed instant and returns a
// function that moves it forward.
func advance(e *Engine) func(d time.Duration) {
	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestHintAlwaysWins(t *testing.T) {
	e := New()
	assert.Equal(t, 42*time.Second, e.Compute("dash", 42*time.Second))
}

func TestUnknownNamespaceGetsDefault(t *testing.T) {
	e := New()
	assert.Equal(t, DefaultOptions().Default, e.Compute("never-written", 0))
}

func TestVolatileNamespaceGetsShortTTL(t *testing.T) {
	e := New()
	tick := advance(e)

	// One write per second: a volatile namespace.
	for i := 0; i < 10; i++ {
		e.ObserveWrite("live")
		tick(time.Second)
	}

	got := e.Compute("live", 0)
	assert.LessOrEqual(t, got, 10*time.Second, "seconds-scale TTL expected")
	assert.GreaterOrEqual(t, got, DefaultOptions().Min)
}

func TestStableNamespaceGetsLongTTL(t *testing.T) {
	e := New()
	tick := advance(e)

	// One write every two hours: a stable reference namespace.
	for i := 0; i < 4; i++ {
		e.ObserveWrite("reference")
		tick(2 * time.Hour)
	}

	got := e.Compute("reference", 0)
	assert.Equal(t, DefaultOptions().Max, got, "clamped at Max")
}

func TestFewWritesStillDefault(t *testing.T) {
	e := New()
	tick := advance(e)

	e.ObserveWrite("sparse")
	tick(time.Second)
	e.ObserveWrite("sparse")

	// Two writes produce a single interval sample, not enough to trust.
	assert.Equal(t, DefaultOptions().Default, e.Compute("sparse", 0))
}

func TestForget(t *testing.T) {
	e := New()
	tick := advance(e)

	for i := 0; i < 5; i++ {
		e.ObserveWrite("gone")
		tick(time.Second)
	}
	assert.NotZero(t, e.WriteRate("gone"))

	e.Forget("gone")
	assert.Zero(t, e.WriteRate("gone"))
	assert.Equal(t, DefaultOptions().Default, e.Compute("gone", 0))
}

func TestWriteRate(t *testing.T) {
	e := New()
	tick := advance(e)

	for i := 0; i < 10; i++ {
		e.ObserveWrite("live")
		tick(time.Second)
	}

	assert.InDelta(t, 1.0, e.WriteRate("live"), 0.2)
}
