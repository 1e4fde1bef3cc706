package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions configure a NATS-backed channel.
type NATSOptions struct {
	// Name identifies the connection to the NATS server.
	Name string

	// MaxReconnects caps reconnection attempts (-1 for infinite).
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration
}

// DefaultNATSOptions returns the default connection options.
func DefaultNATSOptions() NATSOptions {
	return NATSOptions{
		Name:          "cachego",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSChannel implements Channel over a NATS subject, letting cache
// instances on different machines in the same deployment share
// invalidation traffic.
type NATSChannel struct {
	conn    *nats.Conn
	subject string
	owned   bool

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ Channel = (*NATSChannel)(nil)

// NewNATSChannel dials url and returns a channel over subject.
func NewNATSChannel(url, subject string, optFns ...func(o *NATSOptions)) (*NATSChannel, error) {
	opts := DefaultNATSOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSChannel{conn: conn, subject: subject, owned: true}, nil
}

// NewNATSChannelConn wraps an existing connection. The caller keeps
// ownership of conn; Close only drops the subscription.
func NewNATSChannelConn(conn *nats.Conn, subject string) *NATSChannel {
	return &NATSChannel{conn: conn, subject: subject}
}

// Send publishes data on the subject. NATS delivers to the sender's own
// subscription as well, preserving broadcast-echo semantics.
func (c *NATSChannel) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", c.subject, err)
	}
	return nil
}

// Subscribe registers the message handler.
func (c *NATSChannel) Subscribe(handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			return err
		}
		c.sub = nil
	}

	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.subject, err)
	}
	c.sub = sub
	return nil
}

// Close drops the subscription and, when the connection is owned, drains it.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.owned {
		return c.conn.Drain()
	}
	return nil
}
