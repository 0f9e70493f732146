package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/dispatch"
	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/stage"
	"github.com/flowforge/orchestrator/store"
	"github.com/flowforge/orchestrator/surface"
	"github.com/flowforge/orchestrator/telemetry"
)

// maxCASAttempts bounds the read-modify-write retry loop for transitions
// that have not yet produced an external side effect (dispatch). Once a
// task has been dispatched, retrying the whole step would double-dispatch,
// so that path does not loop — see advance.
const maxCASAttempts = 5

// Store is the C2 slice the machine depends on.
type Store interface {
	CreateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	UpdateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error)
	GetPlatform(ctx context.Context, id string) (*model.Platform, error)
	GetDefinition(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	AppendEvent(ctx context.Context, e model.WorkflowEvent) error
}

// Router is the C3 slice the machine depends on.
type Router interface {
	NextStage(ctx context.Context, w *model.Workflow, currentStage string, outcome stage.Outcome) (stage.NextStageResult, error)
	CalculateProgress(ctx context.Context, w *model.Workflow, completedStages []string) int
	Validate(ctx context.Context, checker stage.AgentChecker, def *model.WorkflowDefinition, workflowType string, platformID *string) ([]string, error)
	Definition(ctx context.Context, w *model.Workflow) *model.WorkflowDefinition
	FirstStage(ctx context.Context, w *model.Workflow) (stageName, agentType string, isFallback bool)
}

// Audit event kinds written to the workflow_events log (§4.5 "Persistence
// snapshot").
const (
	EventWorkflowCreated   = "WORKFLOW_CREATED"
	EventWorkflowStarted   = "WORKFLOW_STARTED"
	EventWorkflowCompleted = "WORKFLOW_COMPLETED"
	EventWorkflowFailed    = "WORKFLOW_FAILED"
	EventWorkflowCancelled = "WORKFLOW_CANCELLED"
	EventStageCompleted    = "STAGE_COMPLETED"
	EventStageFailedKind   = "STAGE_FAILED"
)

// Machine is the C8 workflow state machine: the sole mutator of Workflow
// rows, and the dispatcher of every stage's task (the reaper only
// re-dispatches tasks already persisted as pending).
type Machine struct {
	store        Store
	router       Router
	dispatcher   *dispatch.Dispatcher
	builder      *envelope.Builder
	surfaceGate  *surface.Gate
	agentChecker stage.AgentChecker
	logger       telemetry.Logger
	tracer       telemetry.Tracer
}

// Options configures a Machine.
type Options struct {
	Store        Store
	Router       Router
	Dispatcher   *dispatch.Dispatcher
	Builder      *envelope.Builder
	SurfaceGate  *surface.Gate
	AgentChecker stage.AgentChecker
	Logger       telemetry.Logger
	Tracer       telemetry.Tracer
}

// New constructs a Machine.
func New(opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Machine{
		store: opts.Store, router: opts.Router, dispatcher: opts.Dispatcher, builder: opts.Builder,
		surfaceGate: opts.SurfaceGate, agentChecker: opts.AgentChecker, logger: logger, tracer: tracer,
	}
}

// resolveDefinition returns the WorkflowDefinition that should govern w. A
// pinned w.WorkflowDefinitionID wins over the router's platform-wide
// enabled lookup; absent a pin, the router resolves (and may itself fall
// back to the legacy sequence by returning nil).
func (m *Machine) resolveDefinition(ctx context.Context, w *model.Workflow) (*model.WorkflowDefinition, error) {
	if w.WorkflowDefinitionID != nil {
		def, err := m.store.GetDefinition(ctx, *w.WorkflowDefinitionID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, orcherr.New(orcherr.KindDefinitionInvalid,
					"workflow_definition_id "+*w.WorkflowDefinitionID+" not found")
			}
			return nil, orcherr.Wrap(orcherr.KindInternal, "fetch pinned workflow definition", err)
		}
		return def, nil
	}
	return m.router.Definition(ctx, w), nil
}

// Create implements §6's createWorkflow: surface gate, platform lookup,
// agent-type validation, first-stage dispatch.
func (m *Machine) Create(ctx context.Context, req model.CreateWorkflowRequest, createdBy string, sc *model.SurfaceContext) (*model.Workflow, error) {
	ctx, span := m.tracer.Start(ctx, "workflow.Create")
	defer span.End()

	if err := m.surfaceGate.Check(ctx, sc); err != nil {
		return nil, err
	}

	if req.PlatformID != nil {
		if _, err := m.store.GetPlatform(ctx, *req.PlatformID); err != nil {
			if err == store.ErrNotFound {
				return nil, orcherr.New(orcherr.KindPlatformNotFound, "platform "+*req.PlatformID+" not found")
			}
			return nil, orcherr.Wrap(orcherr.KindInternal, "fetch platform", err)
		}
	}

	inputData := req.InputData
	if inputData == nil {
		inputData = map[string]any{}
	}
	if sc != nil {
		inputData["surface_context"] = *sc
	}

	w := &model.Workflow{
		ID: uuid.NewString(), Name: req.Name, Type: req.Type,
		PlatformID: req.PlatformID, WorkflowDefinitionID: req.WorkflowDefinitionID,
		Status: model.WorkflowInitiated, StageOutputs: map[string]any{}, InputData: inputData,
		Trace: model.TraceContext{TraceID: uuid.NewString()},
	}

	def, err := m.resolveDefinition(ctx, w)
	if err != nil {
		return nil, err
	}

	missing, err := m.router.Validate(ctx, m.agentChecker, def, w.Type, w.PlatformID)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, orcherr.New(orcherr.KindDefinitionInvalid,
			fmt.Sprintf("no registered agent for type(s): %v", missing)).WithWorkflow(w.ID)
	}

	var firstName, firstAgent string
	var firstStageDef model.StageDefinition
	if def != nil {
		first, ok := def.FirstStage()
		if !ok {
			return nil, orcherr.New(orcherr.KindDefinitionInvalid, "workflow definition has no stages").WithWorkflow(w.ID)
		}
		firstName, firstAgent, firstStageDef = first.Name, first.AgentType, first
	} else {
		firstName, firstAgent, _ = m.router.FirstStage(ctx, w)
		firstStageDef = model.StageDefinition{Name: firstName, AgentType: firstAgent}
	}
	w.CurrentStage = firstName

	created, err := m.store.CreateWorkflow(ctx, w)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "persist new workflow", err).WithWorkflow(w.ID)
	}
	w = created
	m.appendEvent(ctx, w.ID, EventWorkflowCreated, map[string]any{"type": w.Type, "stage": firstName})

	env, err := m.builder.Build(envelope.Params{Workflow: w, Stage: firstStageDef, StageOutputs: w.StageOutputs, Surface: sc})
	if err != nil {
		m.failWorkflow(ctx, w, err.Error())
		return nil, err
	}

	if _, err := m.dispatcher.Dispatch(ctx, env, firstName, w.PlatformID); err != nil {
		m.failWorkflow(ctx, w, err.Error())
		return nil, err
	}

	w.Status = model.WorkflowRunning
	w.Trace.CurrentSpanID = env.Trace.SpanID
	updated, err := m.store.UpdateWorkflow(ctx, w)
	if err != nil {
		m.logger.Warn(ctx, "workflow: failed to persist running status after successful dispatch",
			"workflow_id", w.ID, "error", err)
		return w, nil
	}
	m.appendEvent(ctx, w.ID, EventWorkflowStarted, map[string]any{"stage": firstName})
	return updated, nil
}

// failWorkflow marks w failed with reason in stage_outputs.validation_error
// (§7 "User-visible failure") and emits WORKFLOW_FAILED. Best-effort: a
// persistence failure here is logged, not propagated, since the caller is
// already returning the originating error.
func (m *Machine) failWorkflow(ctx context.Context, w *model.Workflow, reason string) {
	if w.StageOutputs == nil {
		w.StageOutputs = map[string]any{}
	}
	w.StageOutputs["validation_error"] = reason
	w.Status = model.WorkflowFailed
	if _, err := m.store.UpdateWorkflow(ctx, w); err != nil {
		m.logger.Warn(ctx, "workflow: failed to persist failed status", "workflow_id", w.ID, "error", err)
	}
	m.appendEvent(ctx, w.ID, EventWorkflowFailed, map[string]any{"reason": reason})
}

// Cancel implements §6's cancelWorkflow: immediate transition to cancelled,
// no await of any outstanding task.
func (m *Machine) Cancel(ctx context.Context, workflowID string) error {
	ctx, span := m.tracer.Start(ctx, "workflow.Cancel")
	defer span.End()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		w, err := m.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if w.Status.Terminal() {
			return nil
		}
		w.Status = model.WorkflowCancelled
		if _, err := m.store.UpdateWorkflow(ctx, w); err != nil {
			if err == store.ErrVersionConflict {
				continue
			}
			return orcherr.Wrap(orcherr.KindInternal, "persist cancellation", err).WithWorkflow(workflowID)
		}
		m.appendEvent(ctx, workflowID, EventWorkflowCancelled, nil)
		return nil
	}
	return orcherr.New(orcherr.KindConflict, "cancel: exceeded CAS retry budget").WithWorkflow(workflowID)
}

// Get returns the current projection of a workflow for dashboards (§6
// getWorkflow).
func (m *Machine) Get(ctx context.Context, workflowID string) (*model.Workflow, error) {
	return m.store.GetWorkflow(ctx, workflowID)
}

func (m *Machine) appendEvent(ctx context.Context, workflowID, kind string, data map[string]any) {
	if err := m.store.AppendEvent(ctx, model.WorkflowEvent{WorkflowID: workflowID, Kind: kind, Data: data}); err != nil {
		m.logger.Warn(ctx, "workflow: failed to append audit event", "workflow_id", workflowID, "kind", kind, "error", err)
	}
}
