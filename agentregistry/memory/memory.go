// Package memory provides an in-memory agentregistry.Registry fake that
// preserves staleness-threshold semantics without any distributed
// coordination, for use as the test double in place of the rmap-backed
// adapter.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/agentregistry"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
)

type entry struct {
	registration  model.AgentRegistryEntry
	lastHeartbeat time.Time
}

// Registry is an in-memory agentregistry.Registry. Safe for concurrent use.
type Registry struct {
	mu                  sync.RWMutex
	agents              map[string]*entry
	stalenessThreshold  time.Duration
	now                 func() time.Time
}

var _ agentregistry.Registry = (*Registry)(nil)

// New constructs an empty in-memory Registry. A zero stalenessThreshold
// disables heartbeat staleness checks: every registered agent is
// considered online until Deregister is called — useful for tests that do
// not exercise the heartbeat reaper.
func New(stalenessThreshold time.Duration) *Registry {
	return &Registry{agents: map[string]*entry{}, stalenessThreshold: stalenessThreshold, now: time.Now}
}

func (r *Registry) Register(_ context.Context, e model.AgentRegistryEntry) error {
	if e.AgentID == "" || e.AgentType == "" {
		return orcherr.New(orcherr.KindInternal, "agent registration requires agent_id and agent_type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Status = model.AgentOnline
	e.LastHeartbeat = r.now()
	r.agents[e.AgentID] = &entry{registration: e, lastHeartbeat: e.LastHeartbeat}
	return nil
}

func (r *Registry) Heartbeat(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return orcherr.New(orcherr.KindInternal, "heartbeat for unregistered agent "+agentID)
	}
	e.lastHeartbeat = r.now()
	return nil
}

func (r *Registry) Deregister(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
	return nil
}

func (r *Registry) Exists(_ context.Context, agentType string, platformID *string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.agents {
		if e.registration.AgentType != agentType {
			continue
		}
		if !r.isOnlineLocked(e) {
			continue
		}
		if !platformMatches(e.registration.PlatformID, platformID) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *Registry) Online(_ context.Context, agentType string, platformID *string) ([]model.AgentRegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.AgentRegistryEntry
	for _, e := range r.agents {
		if e.registration.AgentType != agentType {
			continue
		}
		if !r.isOnlineLocked(e) {
			continue
		}
		if !platformMatches(e.registration.PlatformID, platformID) {
			continue
		}
		reg := e.registration
		reg.LastHeartbeat = e.lastHeartbeat
		out = append(out, reg)
	}
	return out, nil
}

func (r *Registry) isOnlineLocked(e *entry) bool {
	if r.stalenessThreshold <= 0 {
		return true
	}
	return r.now().Sub(e.lastHeartbeat) <= r.stalenessThreshold
}

// platformMatches reports whether an agent scoped to agentPlatform may
// serve a dispatch scoped to wantPlatform: an agent with no platform scope
// serves every platform; a platform-scoped agent serves only its own.
func platformMatches(agentPlatform, wantPlatform *string) bool {
	if agentPlatform == nil {
		return true
	}
	if wantPlatform == nil {
		return false
	}
	return *agentPlatform == *wantPlatform
}
