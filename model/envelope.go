package model

import "time"

// EnvelopeVersion is the sole supported AgentEnvelope schema version.
const EnvelopeVersion = "2.0.0"

// Priority is the dispatch priority carried on every envelope.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// EnvelopeStatus is the lifecycle status embedded in the envelope itself
// (distinct from AgentTask.Status, which the dispatcher also tracks).
type EnvelopeStatus string

const (
	EnvelopePending EnvelopeStatus = "pending"
	EnvelopeQueued  EnvelopeStatus = "queued"
	EnvelopeRunning EnvelopeStatus = "running"
)

// Constraints bounds a task's execution.
type Constraints struct {
	TimeoutMS          int64 `json:"timeout_ms"`
	MaxRetries         int   `json:"max_retries"`
	RequiredConfidence int   `json:"required_confidence"`
}

// EnvelopeMetadata carries provenance fields fixed at schema version 2.0.0.
type EnvelopeMetadata struct {
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	EnvelopeVersion string   `json:"envelope_version"`
}

// EnvelopeTrace carries the distributed tracing identifiers for one task.
type EnvelopeTrace struct {
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID *string `json:"parent_span_id,omitempty"`
}

// WorkflowContext embeds everything an agent needs to read its inputs
// exclusively from the envelope, with no side-channel lookup.
type WorkflowContext struct {
	WorkflowType string         `json:"workflow_type"`
	WorkflowName string         `json:"workflow_name"`
	CurrentStage string         `json:"current_stage"`
	StageOutputs map[string]any `json:"stage_outputs"`
	Surface      *SurfaceContext `json:"surface,omitempty"`
}

// AgentEnvelope is the sole task contract (schema v2.0.0). The Envelope
// Builder (C5) is its only producer; once published it is immutable and
// opaque replayable state to every other component.
type AgentEnvelope struct {
	MessageID       string           `json:"message_id"`
	TaskID          string           `json:"task_id"`
	WorkflowID      string           `json:"workflow_id"`
	AgentType       string           `json:"agent_type"`
	Priority        Priority         `json:"priority"`
	Status          EnvelopeStatus   `json:"status"`
	Constraints     Constraints      `json:"constraints"`
	RetryCount      int              `json:"retry_count"`
	Payload         map[string]any   `json:"payload"`
	Metadata        EnvelopeMetadata `json:"metadata"`
	Trace           EnvelopeTrace    `json:"trace"`
	WorkflowContext WorkflowContext  `json:"workflow_context"`
}

// ResultStatus is the canonical AgentResult status. "failure" is rejected
// as Validation per §9 DESIGN NOTES — only "failed" is accepted.
type ResultStatus string

const (
	ResultSuccess   ResultStatus = "success"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
)

// ResourceUsage reports best-effort resource consumption for one task
// execution.
type ResourceUsage struct {
	CPUMillis  *int64 `json:"cpu_millis,omitempty"`
	MemoryMB   *int64 `json:"memory_mb,omitempty"`
}

// ResultMetrics carries timing and resource data for one task execution.
type ResultMetrics struct {
	DurationMS    int64         `json:"duration_ms"`
	ResourceUsage ResourceUsage `json:"resource_usage,omitempty"`
}

// ResultData wraps the agent-specific output together with execution
// metrics.
type ResultData struct {
	Data    map[string]any `json:"data"`
	Metrics ResultMetrics  `json:"metrics"`
}

// ResultError describes one error returned alongside a failed result.
type ResultError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// AgentResult is the sole result contract an agent publishes back to the
// orchestrator. Stage is mandatory: without it the orchestrator cannot
// correlate the result to a workflow's current stage.
type AgentResult struct {
	MessageID   string        `json:"message_id"`
	TaskID      string        `json:"task_id"`
	WorkflowID  string        `json:"workflow_id"`
	AgentID     string        `json:"agent_id"`
	AgentType   string        `json:"agent_type"`
	Stage       string        `json:"stage"`
	Success     bool          `json:"success"`
	Status      ResultStatus  `json:"status"`
	Action      string        `json:"action"`
	Result      ResultData    `json:"result"`
	Errors      []ResultError `json:"errors,omitempty"`
	NextActions string        `json:"next_actions,omitempty"`
	Trace       EnvelopeTrace `json:"trace"`
	Timestamp   time.Time     `json:"timestamp"`
	Version     string        `json:"version"`
}
