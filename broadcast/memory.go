package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("broadcast channel closed")

// Hub connects in-process channels, simulating the host's broadcast
// primitive for tests and for multiple cache instances sharing a process.
type Hub struct {
	mu       sync.Mutex
	channels map[*MemoryChannel]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[*MemoryChannel]struct{})}
}

// Channel attaches a new channel to the hub.
func (h *Hub) Channel() *MemoryChannel {
	ch := &MemoryChannel{hub: h}
	h.mu.Lock()
	h.channels[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) send(data []byte) {
	h.mu.Lock()
	targets := make([]*MemoryChannel, 0, len(h.channels))
	for ch := range h.channels {
		targets = append(targets, ch)
	}
	h.mu.Unlock()

	// Synchronous delivery, sender included. Handlers run on the sender's
	// goroutine; they must not block on the hub.
	for _, ch := range targets {
		ch.deliver(data)
	}
}

func (h *Hub) detach(ch *MemoryChannel) {
	h.mu.Lock()
	delete(h.channels, ch)
	h.mu.Unlock()
}

// MemoryChannel is an in-process Channel implementation.
type MemoryChannel struct {
	hub *Hub

	mu      sync.Mutex
	handler func(data []byte)
	closed  bool
}

var _ Channel = (*MemoryChannel)(nil)

// Send publishes data to every channel on the hub.
func (c *MemoryChannel) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// Copy so the sender may reuse its buffer.
	msg := make([]byte, len(data))
	copy(msg, data)
	c.hub.send(msg)
	return nil
}

// Subscribe registers the message handler.
func (c *MemoryChannel) Subscribe(handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.handler = handler
	return nil
}

// Close detaches the channel from its hub.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handler = nil
	c.mu.Unlock()

	c.hub.detach(c)
	return nil
}

func (c *MemoryChannel) deliver(data []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}
