// Package broadcast provides the cross-process notification primitive the
// cache engine uses to exchange invalidation events and consistency
// digests.
//
// A Channel is fire-and-forget, at-most-once per send: delivery failures
// and message loss are tolerated because the periodic consistency audit is
// the backstop, never the broadcast itself. Senders receive their own
// messages back (broadcast echo); the invalidation bus deduplicates.
package broadcast

import (
	"context"

	"github.com/google/uuid"
)

// Channel is a BroadcastChannel-like primitive shared by cooperating
// processes. Implementations must be safe for concurrent use.
type Channel interface {
	// Send publishes data to every process on the channel, including the
	// sender. Best effort: an error means the message was certainly not
	// delivered, nil means it was probably delivered.
	Send(ctx context.Context, data []byte) error

	// Subscribe registers the handler for incoming messages. At most one
	// handler per channel; registering again replaces it.
	Subscribe(handler func(data []byte)) error

	// Close detaches the channel. Subsequent sends fail.
	Close() error
}

// NewProcessID returns a unique identifier for this process's cache
// instance, carried in every event it originates.
func NewProcessID() string {
	return uuid.NewString()
}
