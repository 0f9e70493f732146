package model

import "time"

// TaskStatus is the lifecycle status of an AgentTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskDispatched TaskStatus = "dispatched"
	TaskRunning    TaskStatus = "running"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether status accepts no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// AgentTask is the persisted record of one stage's dispatch attempt. Its
// Envelope field is the full, replayable payload — the task row itself
// never needs to be reconstructed from anything else.
type AgentTask struct {
	TaskID       string
	WorkflowID   string
	StageName    string
	AgentType    string
	Status       TaskStatus
	Priority     Priority
	Envelope     AgentEnvelope
	TraceID      string
	SpanID       string
	ParentSpanID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AgentStatus is the online/offline/degraded state of a registry entry.
type AgentStatus string

const (
	AgentOnline   AgentStatus = "online"
	AgentOffline  AgentStatus = "offline"
	AgentDegraded AgentStatus = "degraded"
)

// AgentRegistryEntry is one executor process known to the agent registry
// (§4.7). AgentType is a free-form string — the engine has no compile-time
// knowledge of agent types.
type AgentRegistryEntry struct {
	AgentID       string
	AgentType     string
	PlatformID    *string
	Status        AgentStatus
	Capabilities  []string
	LastHeartbeat time.Time
}

// WorkflowEvent is one audit entry written after every state machine
// transition (§4.5 "Persistence snapshot").
type WorkflowEvent struct {
	WorkflowID string
	Kind       string
	Data       map[string]any
	CreatedAt  time.Time
}
