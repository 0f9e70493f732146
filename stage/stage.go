// Package stage implements the definition-driven stage router (C3): it
// loads and caches per-platform workflow graphs and answers nextStage,
// calculateProgress, and validate, falling back to a hard-coded legacy
// sequence when no platform-specific definition resolves.
package stage

import (
	"context"

	"github.com/flowforge/orchestrator/model"
)

// Outcome is the result of the stage just completed, as observed by the
// router — distinct from model.ResultStatus, which also allows "cancelled".
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// END re-exports the routing sentinel so router/legacy code in this package
// need not import model just for the constant.
const END = model.END

// NextStageResult is the router's answer to one nextStage call.
type NextStageResult struct {
	// NextStage is the resolved stage name, or model.END.
	NextStage string
	// AgentTypeForNext is the agent_type of NextStage, empty if NextStage
	// is model.END.
	AgentTypeForNext string
	// IsFallback reports whether the legacy sequence (rather than a
	// resolved WorkflowDefinition) produced this answer.
	IsFallback bool
	// Skipped reports whether outcome was failure and the stage's
	// on_failure routing was the skip sentinel: the caller must not
	// record a stage_outputs entry for the stage just completed.
	Skipped bool
}

// DefinitionStore is the C2 slice the router depends on: the enabled,
// highest-version WorkflowDefinition for a platform, if any.
type DefinitionStore interface {
	EnabledDefinition(ctx context.Context, platformID string) (*model.WorkflowDefinition, error)
}

// AgentChecker answers whether at least one registered agent of agentType
// exists, optionally scoped to platformID. Implemented by agentregistry;
// declared here to avoid a stage -> agentregistry import cycle.
type AgentChecker interface {
	Exists(ctx context.Context, agentType string, platformID *string) (bool, error)
}
