// Package substrate defines the durable message substrate port (C1):
// per-channel streams with consumer-group semantics, explicit
// acknowledgement, and replay. Two adapters satisfy this port: substrate/pulse
// (Redis-backed, via goa.design/pulse) for production, and substrate/memory
// (an in-memory fake preserving every invariant below) for tests.
//
// Acknowledgement discipline is the one hard rule every adapter must uphold:
// a message is acknowledged only after its Handler returns without error.
// Bulk or pre-handler acknowledgement is forbidden (§4.1) — it was the cause
// of silent message loss in an earlier revision of the source system this
// engine reimplements.
package substrate

import "context"

// Handler processes one already-unwrapped application message. Returning a
// non-nil error leaves the message pending for redelivery; the substrate
// never acknowledges on error.
type Handler func(ctx context.Context, payload []byte) error

// PublishOptions configures one Publish call.
type PublishOptions struct {
	// Key orders messages with the same Key relative to each other (used as
	// the workflow_id so a workflow's own tasks stay in order).
	Key string
	// MirrorToStream durably appends the message to a per-channel log in
	// addition to delivering it to live subscribers. Required for every task
	// and result channel in this engine (§4.1).
	MirrorToStream bool
}

// SubscribeOptions configures one Subscribe call.
type SubscribeOptions struct {
	// ConsumerGroup names the consumer group. Required — every subscription
	// in this engine reads through a named group so exactly one consumer
	// instance receives each message.
	ConsumerGroup string
	// ConsumerName identifies this particular consumer instance within the
	// group, allowing horizontal scaling (one name per agent process).
	ConsumerName string
	// FromBeginning requests replay from the start of the log instead of the
	// tail. The engine never sets this: §4.1 requires new consumer groups to
	// start at the tail, and the only exception (replay/audit tooling) is
	// explicitly out of scope for this port.
	FromBeginning bool
}

// Bus is the message substrate port. Channel names are logical; adapters are
// responsible for namespacing them (e.g. with a Redis key prefix). Neither
// adapter in this repository writes a separate StreamMirror-named stream:
// each keeps the channel itself as its durable per-channel log.
type Bus interface {
	// Publish delivers message to every live subscriber of channel and,
	// when opts.MirrorToStream is set, durably appends it to the channel's
	// stream mirror. Fails with a *orcherr.Error of KindTransport on
	// connection loss.
	Publish(ctx context.Context, channel string, message []byte, opts PublishOptions) error

	// Subscribe opens a blocking, new-messages-only read loop against
	// channel under opts.ConsumerGroup, invoking handler for each message
	// and acknowledging only on a nil return. Subscribe blocks until ctx is
	// canceled or an unrecoverable *orcherr.Error of KindTransport occurs on
	// the initial connect. Transient disconnects after the initial connect
	// are recovered transparently; any message left unacknowledged when the
	// connection drops is redelivered once the subscription resumes.
	Subscribe(ctx context.Context, channel string, opts SubscribeOptions, handler Handler) error

	// Close releases resources held by the Bus.
	Close(ctx context.Context) error
}

// TaskChannel returns the per-agent-type task channel name.
func TaskChannel(agentType string) string {
	return "agent:" + agentType + ":tasks"
}

// TaskConsumerGroup returns the consumer group name for an agent type's task
// channel. One consumer name per agent instance is layered on top of this
// group, so instances of the same type fan work out among themselves.
func TaskConsumerGroup(agentType string) string {
	return "agent-" + agentType + "-group"
}

// ResultsChannel is the single shared channel agents publish results to.
const ResultsChannel = "orchestrator:results"

// ResultsConsumerGroup is the single consumer group the state-machine driver
// reads the results channel through.
const ResultsConsumerGroup = "orchestrator-results-group"

// StreamMirror returns the durable stream name a channel is mirrored to.
func StreamMirror(channel string) string {
	return "stream:" + channel
}
