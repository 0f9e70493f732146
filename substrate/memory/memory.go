// Package memory provides an in-memory substrate.Bus fake. It preserves
// every invariant §8 of the specification requires of the real substrate:
// acknowledgement only after a successful handler return, tail-positioned
// consumer groups (unless FromBeginning is set, a group created on a
// non-empty channel never sees messages published before its creation),
// and redelivery of a message left
// unacknowledged by a failing or crashed handler. It is the test double used
// throughout this repository in place of the Redis-backed adapter.
package memory

import (
	"context"
	"sync"

	"github.com/flowforge/orchestrator/substrate"
)

type message struct {
	payload []byte
}

type group struct {
	// processed is the index of the next message this group has not yet
	// acknowledged. A group's processed starts at len(log) at creation time
	// (tail), so pre-existing messages are never delivered to it, unless the
	// group is created with FromBeginning, which starts it at 0.
	processed int
}

type channel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	log    []message
	groups map[string]*group
	closed bool
}

func newChannel() *channel {
	c := &channel{groups: map[string]*group{}}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Bus is an in-memory substrate.Bus implementation. Safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	channels map[string]*channel
}

// New constructs an empty in-memory Bus.
func New() *Bus {
	return &Bus{channels: map[string]*channel{}}
}

var _ substrate.Bus = (*Bus)(nil)

func (b *Bus) channelFor(name string) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.channels[name]
	if !ok {
		c = newChannel()
		b.channels[name] = c
	}
	return c
}

// Publish appends message to channel's log. MirrorToStream is accepted for
// interface parity but has no distinct effect here: the fake's log already
// serves as both the live feed and the durable mirror.
func (b *Bus) Publish(_ context.Context, channelName string, payload []byte, _ substrate.PublishOptions) error {
	c := b.channelFor(channelName)
	c.mu.Lock()
	c.log = append(c.log, message{payload: append([]byte(nil), payload...)})
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Subscribe blocks, delivering new-messages-only to handler under
// opts.ConsumerGroup and acknowledging (advancing the group's cursor) only
// when handler returns nil. A handler error leaves the message pending: the
// same message is retried immediately, exactly as a crashed real consumer
// would see it redelivered on restart.
func (b *Bus) Subscribe(
	ctx context.Context,
	channelName string,
	opts substrate.SubscribeOptions,
	handler substrate.Handler,
) error {
	c := b.channelFor(channelName)

	c.mu.Lock()
	g, ok := c.groups[opts.ConsumerGroup]
	if !ok {
		start := 0
		if !opts.FromBeginning {
			start = len(c.log)
		}
		g = &group{processed: start}
		c.groups[opts.ConsumerGroup] = g
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
		close(done)
	}()

	for {
		c.mu.Lock()
		for g.processed >= len(c.log) && ctx.Err() == nil && !c.closed {
			c.cond.Wait()
		}
		if ctx.Err() != nil || c.closed {
			c.mu.Unlock()
			return ctx.Err()
		}
		msg := c.log[g.processed]
		c.mu.Unlock()

		if err := handler(ctx, msg.payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		c.mu.Lock()
		g.processed++
		c.mu.Unlock()
	}
}

// Close marks every channel closed, waking any blocked Subscribe calls.
func (b *Bus) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.channels {
		c.mu.Lock()
		c.closed = true
		c.cond.Broadcast()
		c.mu.Unlock()
	}
	return nil
}
