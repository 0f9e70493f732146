// Package model defines the data types shared across the orchestration
// engine: workflows, stage definitions, platforms, surfaces, tasks, and the
// envelope/result wire contracts. It has no behavior of its own — it is the
// vocabulary every other package is built against.
package model

import "time"

// WorkflowStatus is the lifecycle status of a Workflow.
type WorkflowStatus string

const (
	WorkflowInitiated WorkflowStatus = "initiated"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether status accepts no further state transitions.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// TraceContext carries the distributed-tracing identifiers propagated from
// workflow creation through every dispatched envelope and returned result.
type TraceContext struct {
	TraceID       string `json:"trace_id"`
	CurrentSpanID string `json:"current_span_id"`
}

// SurfaceContext describes the ingress channel a workflow was created
// through (§6 External Interfaces). It is embedded in input_data at
// creation time and propagated into every subsequent envelope's
// workflow_context.
type SurfaceContext struct {
	SurfaceID     string         `json:"surface_id"`
	SurfaceType   SurfaceType    `json:"surface_type"`
	PlatformID    string         `json:"platform_id"`
	EntryMetadata map[string]any `json:"entry_metadata,omitempty"`
}

// Workflow is the root aggregate the state machine (C8) advances.
type Workflow struct {
	ID                   string
	Name                 string
	Type                 string
	PlatformID           *string
	WorkflowDefinitionID *string
	CurrentStage         string
	Status               WorkflowStatus
	Progress             int
	StageOutputs         map[string]any
	// CompletedStages lists every stage name the workflow has passed
	// through, success or skipped-failure alike, in the order completed.
	// Progress (§4.8 calculateProgress) sums StageDefinition.Weight across
	// this list; skipped stages count toward progress even though they
	// leave no entry in StageOutputs.
	CompletedStages      []string
	InputData            map[string]any
	Trace                TraceContext
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SurfaceContextFromInput extracts the surface_context embedded in
// InputData, if any. Returns nil if absent.
func (w *Workflow) SurfaceContextFromInput() *SurfaceContext {
	if w.InputData == nil {
		return nil
	}
	raw, ok := w.InputData["surface_context"]
	if !ok {
		return nil
	}
	sc, ok := raw.(SurfaceContext)
	if !ok {
		return nil
	}
	return &sc
}

// CreateWorkflowRequest is the ingress payload for createWorkflow (§6).
type CreateWorkflowRequest struct {
	Type                 string
	Name                 string
	PlatformID           *string
	WorkflowDefinitionID *string
	InputData            map[string]any
}
