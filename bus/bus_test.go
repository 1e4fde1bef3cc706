package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cachego/broadcast"
	"github.com/hupe1980/cachego/store"
)

func twoBuses(t *testing.T) (*Bus, *Bus) {
	t.Helper()
	hub := broadcast.NewHub()

	a, err := New("proc-a", hub.Channel())
	require.NoError(t, err)
	b, err := New("proc-b", hub.Channel())
	require.NoError(t, err)
	return a, b
}

func TestPublishAppliesExactlyOncePerProcess(t *testing.T) {
	a, b := twoBuses(t)

	var aGot, bGot []Event
	a.OnEvent(func(e Event) { aGot = append(aGot, e) })
	b.OnEvent(func(e Event) { bGot = append(bGot, e) })

	require.NoError(t, a.Publish(context.Background(), Event{
		Mode:      ModeSmart,
		Namespace: "dash",
		Keys:      []string{"stat"},
		Reason:    "counter updated",
	}))

	// Originator applied once despite the broadcast echo.
	require.Len(t, aGot, 1)
	require.Len(t, bGot, 1)
	assert.Equal(t, "proc-a", bGot[0].OriginProcessID)
	assert.Equal(t, []string{"stat"}, bGot[0].Keys)
	assert.False(t, bGot[0].Timestamp.IsZero())
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	hub := broadcast.NewHub()
	ch := hub.Channel()
	b, err := New("proc", ch)
	require.NoError(t, err)

	var got int
	b.OnEvent(func(Event) { got++ })

	e := Event{
		Mode:            ModeSmart,
		Namespace:       "n",
		Keys:            []string{"k"},
		OriginProcessID: "other",
		Timestamp:       time.Now(),
	}
	// Deliver the same event twice; the second must be deduplicated.
	require.NoError(t, b.Publish(context.Background(), e))
	require.NoError(t, b.Publish(context.Background(), e))
	assert.Equal(t, 1, got)
}

func TestInvalidModeRejected(t *testing.T) {
	a, _ := twoBuses(t)
	err := a.Publish(context.Background(), Event{Mode: "fuzzy"})
	assert.Error(t, err)
}

func TestDigestRoundTrip(t *testing.T) {
	a, b := twoBuses(t)

	var got []DigestMessage
	b.OnDigest(func(m DigestMessage) { got = append(got, m) })

	require.NoError(t, a.PublishDigest(context.Background(), DigestMessage{
		Digests: []store.Digest{{Namespace: "n", Key: "k", Version: 3, Checksum: "abc"}},
	}))

	require.Len(t, got, 1)
	assert.Equal(t, "proc-a", got[0].OriginProcessID)
	require.Len(t, got[0].Digests, 1)
	assert.Equal(t, int64(3), got[0].Digests[0].Version)
}

func TestEventWireShape(t *testing.T) {
	hub := broadcast.NewHub()
	probe := hub.Channel()

	var raw []byte
	require.NoError(t, probe.Subscribe(func(data []byte) { raw = data }))

	a, err := New("proc-a", hub.Channel())
	require.NoError(t, err)
	require.NoError(t, a.Publish(context.Background(), Event{
		Mode:      ModeComprehensive,
		Namespace: "sessions",
		Reason:    "reauthentication",
	}))

	// The protocol field names are load-bearing for cross-process interop.
	s := string(raw)
	for _, field := range []string{
		`"mode":"comprehensive"`,
		`"namespace":"sessions"`,
		`"reason":"reauthentication"`,
		`"originProcessId":"proc-a"`,
		`"timestamp"`,
	} {
		assert.Contains(t, s, field)
	}
	assert.NotContains(t, s, `"keys"`, "empty keys are omitted")
}

func TestUndecodableMessageIgnored(t *testing.T) {
	hub := broadcast.NewHub()
	b, err := New("proc", hub.Channel())
	require.NoError(t, err)

	var got int
	b.OnEvent(func(Event) { got++ })

	sender := hub.Channel()
	require.NoError(t, sender.Send(context.Background(), []byte("not json")))
	assert.Zero(t, got)
}
