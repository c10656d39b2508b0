// Package handoff delivers the bound endpoint name from the server role to
// the client roles.
//
// A Channel carries exactly one value. The first Send publishes it and never
// blocks: publishing when nobody is waiting yet is a successful no-op as far
// as the sender is concerned, and receivers that arrive later still observe
// the value. Every receiver observes the same immutable string, so no
// per-client cloning is needed.
package handoff

import (
	"context"
	"sync"
)

// Channel is a one-shot, broadcast delivery of an endpoint name
type Channel struct {
	once  sync.Once
	ready chan struct{}
	name  string
}

// New creates an empty channel
func New() *Channel {
	return &Channel{ready: make(chan struct{})}
}

// Send publishes name. Only the first call has any effect; it reports true.
// Later calls report false and leave the published value untouched.
func (c *Channel) Send(name string) bool {
	sent := false
	c.once.Do(func() {
		c.name = name
		close(c.ready)
		sent = true
	})
	return sent
}

// Done is closed once a name has been published
func (c *Channel) Done() <-chan struct{} {
	return c.ready
}

// Receive waits for the published name. The channel never gives up on its
// own; ctx is how the caller bounds the wait.
func (c *Channel) Receive(ctx context.Context) (string, error) {
	select {
	case <-c.ready:
		return c.name, nil
	default:
	}

	select {
	case <-c.ready:
		return c.name, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// TryReceive returns the published name without waiting
func (c *Channel) TryReceive() (string, bool) {
	select {
	case <-c.ready:
		return c.name, true
	default:
		return "", false
	}
}
