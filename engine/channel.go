package engine

import (
	"errors"
	"sync/atomic"

	"github.com/sublite/sublite/change"
)

var (
	// ErrChannelClosed reports a subscriber whose receiving side is gone.
	ErrChannelClosed = errors.New("subscription channel is closed")
	// ErrChannelSaturated reports a subscriber that stopped draining its
	// buffer. Both errors get the subscription pruned.
	ErrChannelSaturated = errors.New("subscription channel is saturated")
)

// Channel delivers notifications to a single subscriber. Send must not
// block: the dispatcher calls it while holding the table's shared section.
// Close is called when the subscription is torn down and must be idempotent.
type Channel interface {
	Send(change.Notification) error
	Close()
}

// BufferedChannel is the in-process Channel implementation backing SSE
// streams and embedded consumers. The engine never closes it; the receiving
// side calls Close when it goes away.
type BufferedChannel struct {
	ch     chan change.Notification
	done   chan struct{}
	closed atomic.Bool
}

// NewBufferedChannel builds a channel holding up to size undelivered
// notifications.
func NewBufferedChannel(size int) *BufferedChannel {
	return &BufferedChannel{
		ch:   make(chan change.Notification, size),
		done: make(chan struct{}),
	}
}

// Send implements Channel.
func (c *BufferedChannel) Send(n change.Notification) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case c.ch <- n:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return ErrChannelSaturated
	}
}

// Receive exposes the delivery stream.
func (c *BufferedChannel) Receive() <-chan change.Notification {
	return c.ch
}

// Done is closed when the receiver abandoned the channel.
func (c *BufferedChannel) Done() <-chan struct{} {
	return c.done
}

// Close marks the receiver gone. Idempotent. Notifications already buffered
// stay readable; new sends fail with ErrChannelClosed.
func (c *BufferedChannel) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}
