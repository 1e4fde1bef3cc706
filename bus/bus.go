// Package bus routes targeted ("smart") and blanket ("comprehensive")
// invalidation events to local handlers and rebroadcasts them to other
// processes.
//
// Every event is applied exactly once per process: the bus deduplicates on
// (originProcessId, timestamp) within a short window, so the broadcast echo
// of a process's own event is not double-applied. The originator consumes
// its own events through the same handler path as everyone else, keeping
// the logic uniform.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/hupe1980/cachego/broadcast"
	"github.com/hupe1980/cachego/store"
)

// Mode selects the invalidation strategy.
type Mode string

const (
	// ModeSmart invalidates only the listed keys or namespace, explicitly
	// preserving all other cached data.
	ModeSmart Mode = "smart"
	// ModeComprehensive invalidates an entire namespace or the whole
	// store. Reserved for identity-level changes (e.g. reauthentication),
	// since it discards unrelated, still-valid data.
	ModeComprehensive Mode = "comprehensive"
)

// Event is the invalidation payload exchanged over the broadcast channel.
// The field shape is part of the cross-process protocol; conforming
// implementations must preserve it field-for-field.
type Event struct {
	Mode            Mode      `json:"mode"`
	Namespace       string    `json:"namespace,omitempty"`
	Keys            []string  `json:"keys,omitempty"`
	Reason          string    `json:"reason"`
	OriginProcessID string    `json:"originProcessId"`
	Timestamp       time.Time `json:"timestamp"`
}

// DigestMessage carries consistency digests between processes on the same
// channel.
type DigestMessage struct {
	OriginProcessID string         `json:"originProcessId"`
	Timestamp       time.Time      `json:"timestamp"`
	Digests         []store.Digest `json:"digests"`
}

// envelope wraps the two message kinds sharing the channel.
type envelope struct {
	Kind   string         `json:"kind"` // "invalidation" | "digest"
	Event  *Event         `json:"event,omitempty"`
	Digest *DigestMessage `json:"digest,omitempty"`
}

const (
	kindInvalidation = "invalidation"
	kindDigest       = "digest"
)

// Options configure a Bus.
type Options struct {
	// DedupWindow bounds how long (originProcessId, timestamp) pairs are
	// remembered. If 0, defaults to 30s.
	DedupWindow time.Duration

	// Logger receives decode and send failures. Defaults to discarding.
	Logger *slog.Logger
}

// Bus connects local invalidation handling to the broadcast channel.
// Safe for concurrent use; handlers run synchronously in delivery order.
type Bus struct {
	processID string
	channel   broadcast.Channel
	window    time.Duration
	logger    *slog.Logger

	mu             sync.Mutex
	eventHandlers  []func(Event)
	digestHandlers []func(DigestMessage)
	seen           map[string]time.Time
	lastPrune      time.Time
}

// New creates a Bus bound to channel. processID identifies this process in
// every event it originates.
func New(processID string, channel broadcast.Channel, optFns ...func(o *Options)) (*Bus, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	b := &Bus{
		processID: processID,
		channel:   channel,
		window:    opts.DedupWindow,
		logger:    opts.Logger,
		seen:      make(map[string]time.Time),
	}

	if err := channel.Subscribe(b.onMessage); err != nil {
		return nil, fmt.Errorf("subscribe invalidation bus: %w", err)
	}
	return b, nil
}

// ProcessID returns the identifier stamped on originated events.
func (b *Bus) ProcessID() string {
	return b.processID
}

// OnEvent registers a handler for invalidation events. Handlers run
// synchronously, in registration order, exactly once per event.
func (b *Bus) OnEvent(handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventHandlers = append(b.eventHandlers, handler)
}

// OnDigest registers a handler for consistency digests from other
// processes. The handler also sees this process's own digests; filter by
// OriginProcessID if that matters.
func (b *Bus) OnDigest(handler func(DigestMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.digestHandlers = append(b.digestHandlers, handler)
}

// Publish stamps, applies and broadcasts an invalidation event. The local
// application happens before the broadcast so the originator never acts on
// its own echo.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Mode != ModeSmart && event.Mode != ModeComprehensive {
		return fmt.Errorf("invalid invalidation mode %q", event.Mode)
	}
	if event.OriginProcessID == "" {
		event.OriginProcessID = b.processID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.applyOnce(event)

	data, err := gojson.Marshal(envelope{Kind: kindInvalidation, Event: &event})
	if err != nil {
		return fmt.Errorf("marshal invalidation event: %w", err)
	}
	if err := b.channel.Send(ctx, data); err != nil {
		// Fire-and-forget: the periodic audit repairs whatever this loses.
		b.logger.Warn("invalidation broadcast failed", "error", err)
	}
	return nil
}

// PublishDigest broadcasts a consistency digest. Digests are not
// deduplicated; they are idempotent observations, not commands.
func (b *Bus) PublishDigest(ctx context.Context, msg DigestMessage) error {
	if msg.OriginProcessID == "" {
		msg.OriginProcessID = b.processID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := gojson.Marshal(envelope{Kind: kindDigest, Digest: &msg})
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}
	if err := b.channel.Send(ctx, data); err != nil {
		b.logger.Warn("digest broadcast failed", "error", err)
	}
	return nil
}

func (b *Bus) onMessage(data []byte) {
	var env envelope
	if err := gojson.Unmarshal(data, &env); err != nil {
		b.logger.Warn("dropping undecodable broadcast message", "error", err)
		return
	}

	switch env.Kind {
	case kindInvalidation:
		if env.Event != nil {
			b.applyOnce(*env.Event)
		}
	case kindDigest:
		if env.Digest != nil {
			b.mu.Lock()
			handlers := append([]func(DigestMessage){}, b.digestHandlers...)
			b.mu.Unlock()
			for _, h := range handlers {
				h(*env.Digest)
			}
		}
	default:
		b.logger.Warn("dropping broadcast message of unknown kind", "kind", env.Kind)
	}
}

func (b *Bus) applyOnce(event Event) {
	key := event.OriginProcessID + "/" + strconv.FormatInt(event.Timestamp.UnixNano(), 10)
	now := time.Now()

	b.mu.Lock()
	b.pruneLocked(now)
	if _, dup := b.seen[key]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[key] = now
	handlers := append([]func(Event){}, b.eventHandlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (b *Bus) pruneLocked(now time.Time) {
	if now.Sub(b.lastPrune) < b.window {
		return
	}
	for key, at := range b.seen {
		if now.Sub(at) > b.window {
			delete(b.seen, key)
		}
	}
	b.lastPrune = now
}
