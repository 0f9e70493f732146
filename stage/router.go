package stage

import (
	"context"
	"sync"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/telemetry"
)

// Router is the C3 definition-driven stage router. It caches the enabled
// WorkflowDefinition per platform_id and falls back to the legacy sequence
// whenever no definition resolves, per §4.8.
type Router struct {
	store  DefinitionStore
	logger telemetry.Logger

	mu    sync.RWMutex
	cache map[string]*model.WorkflowDefinition
}

// NewRouter constructs a Router backed by store. A nil logger is replaced
// with a no-op.
func NewRouter(store DefinitionStore, logger telemetry.Logger) *Router {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Router{store: store, logger: logger, cache: map[string]*model.WorkflowDefinition{}}
}

// InvalidatePlatform drops the cached definition for platformID, so the
// next lookup re-fetches from the store. Callers invoke this from every
// definition mutation endpoint (§9 DESIGN NOTES: "explicit invalidation on
// the corresponding mutation endpoints").
func (r *Router) InvalidatePlatform(platformID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, platformID)
}

func (r *Router) definitionFor(ctx context.Context, platformID string) *model.WorkflowDefinition {
	if platformID == "" {
		return nil
	}
	r.mu.RLock()
	def, ok := r.cache[platformID]
	r.mu.RUnlock()
	if ok {
		return def
	}

	fetched, err := r.store.EnabledDefinition(ctx, platformID)
	if err != nil {
		r.logger.Warn(ctx, "stage: definition lookup failed, falling back to legacy sequence",
			"platform_id", platformID, "error", err)
		return nil
	}

	r.mu.Lock()
	r.cache[platformID] = fetched
	r.mu.Unlock()
	return fetched
}

// resolvedDefinition returns the definition that should govern w, or nil if
// the legacy fallback applies: no platform_id, no enabled definition for
// the platform, or a lookup failure.
func (r *Router) resolvedDefinition(ctx context.Context, w *model.Workflow) *model.WorkflowDefinition {
	if w.PlatformID == nil {
		return nil
	}
	return r.definitionFor(ctx, *w.PlatformID)
}

// NextStage implements §4.8 nextStage(workflow, current_stage, outcome).
func (r *Router) NextStage(ctx context.Context, w *model.Workflow, currentStage string, outcome Outcome) (NextStageResult, error) {
	def := r.resolvedDefinition(ctx, w)
	if def == nil {
		seq := legacySequenceFor(w.Type)
		return legacyNextStage(seq, currentStage, outcome), nil
	}

	stageDef, ok := def.StageByName(currentStage)
	if !ok {
		return NextStageResult{}, orcherr.New(orcherr.KindDefinitionInvalid,
			"current stage "+currentStage+" not found in definition").WithWorkflow(w.ID)
	}

	target := stageDef.OnSuccess
	if outcome == OutcomeFailure {
		target = stageDef.OnFailure
	}

	if target == model.Skip {
		next, ok := def.NextInOrder(currentStage)
		if !ok {
			return NextStageResult{NextStage: model.END, IsFallback: false, Skipped: true}, nil
		}
		return NextStageResult{NextStage: next.Name, AgentTypeForNext: next.AgentType, IsFallback: false, Skipped: true}, nil
	}

	if target == model.END || target == "" {
		return NextStageResult{NextStage: model.END, IsFallback: false}, nil
	}

	next, ok := def.StageByName(target)
	if !ok {
		return NextStageResult{}, orcherr.New(orcherr.KindDefinitionInvalid,
			"routing target "+target+" not found in definition").WithWorkflow(w.ID)
	}
	return NextStageResult{NextStage: next.Name, AgentTypeForNext: next.AgentType, IsFallback: false}, nil
}

// CalculateProgress implements §4.8 calculateProgress(completed_stages).
// The definition is resolved from w; when none resolves, the legacy
// uniform rule for w.Type applies.
func (r *Router) CalculateProgress(ctx context.Context, w *model.Workflow, completedStages []string) int {
	def := r.resolvedDefinition(ctx, w)
	if def == nil {
		return legacyProgress(legacySequenceFor(w.Type), completedStages)
	}

	completed := map[string]bool{}
	for _, s := range completedStages {
		completed[s] = true
	}
	total := 0
	for _, s := range def.Stages {
		if completed[s.Name] {
			total += s.Weight
		}
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}

// Validate implements §4.8's pre-execution validation pass: the agent_type
// of every stage listed in def must have at least one registered agent.
// Stages are not traversed from the start stage, so a stage that no route
// reaches is checked too. Returns the list of missing agent types (nil if none
// missing). def may be nil, in which case the legacy sequence for
// workflowType is validated instead.
func (r *Router) Validate(ctx context.Context, checker AgentChecker, def *model.WorkflowDefinition, workflowType string, platformID *string) ([]string, error) {
	var types []string
	if def != nil {
		seen := map[string]bool{}
		for _, s := range def.Stages {
			if !seen[s.AgentType] {
				seen[s.AgentType] = true
				types = append(types, s.AgentType)
			}
		}
	} else {
		seen := map[string]bool{}
		for _, s := range legacySequenceFor(workflowType) {
			if !seen[s.agentType] {
				seen[s.agentType] = true
				types = append(types, s.agentType)
			}
		}
	}

	var missing []string
	for _, t := range types {
		ok, err := checker.Exists(ctx, t, platformID)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "agent registry check failed during validation", err)
		}
		if !ok {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// Definition exposes the resolved definition for w, for callers (e.g. the
// state machine) that need both the router's decision and the definition
// object itself (to run Validate against it up front).
func (r *Router) Definition(ctx context.Context, w *model.Workflow) *model.WorkflowDefinition {
	return r.resolvedDefinition(ctx, w)
}

// FirstStage returns the initial stage for a brand-new workflow: the first
// stage of its resolved definition, or the first stage of its legacy
// sequence.
func (r *Router) FirstStage(ctx context.Context, w *model.Workflow) (stageName, agentType string, isFallback bool) {
	def := r.resolvedDefinition(ctx, w)
	if def != nil {
		if first, ok := def.FirstStage(); ok {
			return first.Name, first.AgentType, false
		}
	}
	seq := legacySequenceFor(w.Type)
	if len(seq) == 0 {
		return model.END, "", true
	}
	return seq[0].name, seq[0].agentType, true
}
