// Package pulse adapts goa.design/pulse's Redis-backed streaming library to
// the substrate.Bus port. It mirrors the layering used by the teacher
// project this engine is descended from: build a Redis client, hand it to
// New, and every channel becomes a Pulse stream with consumer-group sinks
// providing the ack-after-handler semantics substrate.Bus requires.
package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/substrate"
)

// Options configures the Pulse-backed Bus.
type Options struct {
	// Redis is the connection backing every Pulse stream. Required.
	Redis *redis.Client
	// Namespace prefixes every channel and stream name, letting multiple
	// environments share one Redis instance without collision.
	Namespace string
	// StreamMaxLen bounds entries retained per stream mirror. Zero uses
	// Pulse's own default.
	StreamMaxLen int
}

// Bus is the production substrate.Bus implementation.
type Bus struct {
	redis     *redis.Client
	namespace string
	maxLen    int

	streams streamCache
}

// New constructs a Bus backed by the given Redis connection. Returns an
// error if opts.Redis is nil.
func New(opts Options) (*Bus, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &Bus{
		redis:     opts.Redis,
		namespace: opts.Namespace,
		maxLen:    opts.StreamMaxLen,
		streams:   newStreamCache(),
	}, nil
}

var _ substrate.Bus = (*Bus)(nil)

func (b *Bus) namespaced(channel string) string {
	if b.namespace == "" {
		return channel
	}
	return b.namespace + ":" + channel
}

func (b *Bus) openStream(name string) (*streaming.Stream, error) {
	return b.streams.getOrOpen(name, func() (*streaming.Stream, error) {
		var opts []streamopts.Stream
		if b.maxLen > 0 {
			opts = append(opts, streamopts.WithStreamMaxLen(b.maxLen))
		}
		return streaming.NewStream(name, b.redis, opts...)
	})
}

// Publish delivers message to channel's live subscribers and, when
// opts.MirrorToStream is set, durably appends it to the channel's own Pulse
// stream (channels in this engine are themselves Pulse streams, so "deliver"
// and "mirror" are the same Add call — the stream's consumer groups are what
// give live subscribers their feed).
func (b *Bus) Publish(ctx context.Context, channel string, message []byte, opts substrate.PublishOptions) error {
	name := b.namespaced(channel)
	str, err := b.openStream(name)
	if err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "open pulse stream "+name, err)
	}
	event := "message"
	if opts.Key != "" {
		event = opts.Key
	}
	if _, err := str.Add(ctx, event, message); err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "publish to pulse stream "+name, err)
	}
	return nil
}

// Subscribe opens a Pulse sink (consumer group) on channel and blocks,
// dispatching each event to handler and acknowledging only on success. A
// sink created for the first time starts at the stream tail per Pulse's own
// consumer-group semantics, matching §4.1's "new groups start at tail, not
// head" requirement.
func (b *Bus) Subscribe(
	ctx context.Context,
	channel string,
	opts substrate.SubscribeOptions,
	handler substrate.Handler,
) error {
	if opts.ConsumerGroup == "" {
		return orcherr.New(orcherr.KindInternal, "subscribe requires a consumer group")
	}
	name := b.namespaced(channel)
	str, err := b.openStream(name)
	if err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "open pulse stream "+name, err)
	}
	sink, err := str.NewSink(ctx, opts.ConsumerGroup)
	if err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "create pulse sink "+opts.ConsumerGroup, err)
	}
	defer sink.Close(context.Background())

	events := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := handler(ctx, evt.Payload); err != nil {
				// Do not ack: the event remains pending and Pulse redelivers
				// it to the next sink read, per the engine's hard ack rule.
				continue
			}
			if err := sink.Ack(ctx, evt); err != nil {
				return orcherr.Wrap(orcherr.KindTransport, "ack pulse event", err)
			}
		}
	}
}

// Close is a no-op: the Bus never owns the *redis.Client it was given, so
// the caller that constructed that client remains responsible for closing
// it.
func (b *Bus) Close(ctx context.Context) error {
	return nil
}

// streamCache memoizes opened Pulse streams per process so repeated
// Publish/Subscribe calls on the same channel reuse one handle.
type streamCache struct {
	mu      chan struct{}
	streams map[string]*streaming.Stream
}

func newStreamCache() streamCache {
	c := streamCache{mu: make(chan struct{}, 1), streams: map[string]*streaming.Stream{}}
	c.mu <- struct{}{}
	return c
}

func (c streamCache) getOrOpen(name string, open func() (*streaming.Stream, error)) (*streaming.Stream, error) {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	if s, ok := c.streams[name]; ok {
		return s, nil
	}
	s, err := open()
	if err != nil {
		return nil, fmt.Errorf("open stream %q: %w", name, err)
	}
	c.streams[name] = s
	return s, nil
}
