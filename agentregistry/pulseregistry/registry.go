// Package pulseregistry is the production agentregistry.Registry adapter:
// one Pulse replicated map (goa.design/pulse/rmap) shared across every
// orchestrator and agent-runtime process, giving every node the same view
// of which agents are online without a central coordinator. Grounded on the
// reference registry's HealthTracker, which uses the same rmap.Join +
// last-pong-timestamp pattern for cross-node health state.
package pulseregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/flowforge/orchestrator/agentregistry"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
)

// Registry is the rmap-backed agentregistry.Registry adapter.
type Registry struct {
	agents             *rmap.Map
	stalenessThreshold time.Duration
}

var _ agentregistry.Registry = (*Registry)(nil)

// record is the JSON value stored per agent_id key in the replicated map.
type record struct {
	AgentType      string    `json:"agent_type"`
	PlatformID     *string   `json:"platform_id,omitempty"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// Options configures a Registry.
type Options struct {
	// Redis is the client backing the replicated map. Required.
	Redis *redis.Client
	// MapName names the Pulse replicated map; nodes sharing MapName and
	// Redis see the same registry state. Defaults to "orchestrator:agents".
	MapName string
	// PingInterval and MissedPingThreshold derive the staleness threshold
	// past which an agent with no recent heartbeat is treated as offline,
	// mirroring the reference health tracker's rule.
	PingInterval        time.Duration
	MissedPingThreshold int
}

// New joins the replicated map named opts.MapName (creating it if absent).
func New(ctx context.Context, opts Options) (*Registry, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("pulseregistry: redis client is required")
	}
	mapName := opts.MapName
	if mapName == "" {
		mapName = "orchestrator:agents"
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	missed := opts.MissedPingThreshold
	if missed <= 0 {
		missed = 3
	}

	m, err := rmap.Join(ctx, mapName, opts.Redis)
	if err != nil {
		return nil, fmt.Errorf("join agent registry map %q: %w", mapName, err)
	}
	return &Registry{
		agents:             m,
		stalenessThreshold: agentregistry.StalenessThreshold(pingInterval, missed),
	}, nil
}

func (r *Registry) Register(ctx context.Context, e model.AgentRegistryEntry) error {
	if e.AgentID == "" || e.AgentType == "" {
		return orcherr.New(orcherr.KindInternal, "agent registration requires agent_id and agent_type")
	}
	rec := record{AgentType: e.AgentType, PlatformID: e.PlatformID, Capabilities: e.Capabilities, LastHeartbeat: time.Now().UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal agent registration", err)
	}
	if _, err := r.agents.Set(ctx, e.AgentID, string(raw)); err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "register agent in replicated map", err)
	}
	return nil
}

func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	val, ok := r.agents.Get(agentID)
	if !ok {
		return orcherr.New(orcherr.KindInternal, "heartbeat for unregistered agent "+agentID)
	}
	var rec record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "unmarshal agent record", err)
	}
	rec.LastHeartbeat = time.Now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal agent record", err)
	}
	if _, err := r.agents.Set(ctx, agentID, string(raw)); err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "record heartbeat in replicated map", err)
	}
	return nil
}

func (r *Registry) Deregister(ctx context.Context, agentID string) error {
	if _, err := r.agents.Delete(ctx, agentID); err != nil {
		return orcherr.Wrap(orcherr.KindTransport, "deregister agent from replicated map", err)
	}
	return nil
}

func (r *Registry) Exists(_ context.Context, agentType string, platformID *string) (bool, error) {
	entries, err := r.online(agentType, platformID)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (r *Registry) Online(_ context.Context, agentType string, platformID *string) ([]model.AgentRegistryEntry, error) {
	return r.online(agentType, platformID)
}

func (r *Registry) online(agentType string, platformID *string) ([]model.AgentRegistryEntry, error) {
	var out []model.AgentRegistryEntry
	now := time.Now().UTC()
	for _, agentID := range r.agents.Keys() {
		val, ok := r.agents.Get(agentID)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		if rec.AgentType != agentType {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > r.stalenessThreshold {
			continue
		}
		if !platformMatches(rec.PlatformID, platformID) {
			continue
		}
		out = append(out, model.AgentRegistryEntry{
			AgentID: agentID, AgentType: rec.AgentType, PlatformID: rec.PlatformID,
			Status: model.AgentOnline, Capabilities: rec.Capabilities, LastHeartbeat: rec.LastHeartbeat,
		})
	}
	return out, nil
}

func platformMatches(agentPlatform, wantPlatform *string) bool {
	if agentPlatform == nil {
		return true
	}
	if wantPlatform == nil {
		return false
	}
	return *agentPlatform == *wantPlatform
}
