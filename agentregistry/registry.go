// Package agentregistry implements the agent registry (C4.7): the
// free-form-string-keyed directory of online executor processes consulted
// by the task dispatcher's pre-dispatch check and by the stage router's
// pre-execution validation pass.
package agentregistry

import (
	"context"
	"time"

	"github.com/flowforge/orchestrator/model"
)

// Registry is the C4.7 port. AgentType is unbounded free text — the engine
// has no compile-time knowledge of agent types (§9 DESIGN NOTES).
type Registry interface {
	// Register records agentID as an online executor of the given type,
	// optionally scoped to platformID, and starts its heartbeat tracking.
	Register(ctx context.Context, entry model.AgentRegistryEntry) error

	// Heartbeat records a liveness pong for agentID. An agent that stops
	// heartbeating becomes unhealthy once its last pong exceeds the
	// configured staleness threshold; it is never explicitly marked
	// offline by a third party.
	Heartbeat(ctx context.Context, agentID string) error

	// Deregister removes agentID from the registry immediately (graceful
	// shutdown path).
	Deregister(ctx context.Context, agentID string) error

	// Exists reports whether at least one online agent of agentType exists,
	// optionally scoped to platformID. Implements stage.AgentChecker.
	Exists(ctx context.Context, agentType string, platformID *string) (bool, error)

	// Online lists every currently-online agent of agentType, optionally
	// scoped to platformID.
	Online(ctx context.Context, agentType string, platformID *string) ([]model.AgentRegistryEntry, error)
}

// StalenessThreshold mirrors the reference health tracker's rule: a
// heartbeat older than (missedPingThreshold+1)*pingInterval marks the agent
// unhealthy.
func StalenessThreshold(pingInterval time.Duration, missedPingThreshold int) time.Duration {
	return time.Duration(missedPingThreshold+1) * pingInterval
}
