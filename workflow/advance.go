package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/stage"
	"github.com/flowforge/orchestrator/store"
)

// HandleResult is the sole entry point result consumers use to feed the
// machine a STAGE_COMPLETE/STAGE_FAILED/TIMEOUT event (§4.4, §4.5 steps
// 2–3). It runs the pure Transition first (admissibility guards: terminal
// workflow, wrong phase, stale stage), and only then performs the
// "evaluating" I/O: persist the completed stage's output, compute the next
// stage via the definition-driven router with legacy fallback discipline,
// and either terminate the workflow or dispatch the next task.
//
// Returns nil both when the event was genuinely applied and when it was
// discarded as stale per §4.5's admissibility guards — in both cases the
// result consumer must ack the inbound message. A non-nil error means the
// event was admissible but evaluation failed in a way the caller should not
// treat as handled (e.g. a CAS retry budget exhausted before any dispatch
// happened), and the message should be redelivered.
func (m *Machine) HandleResult(ctx context.Context, ev Event) error {
	ctx, span := m.tracer.Start(ctx, "workflow.HandleResult")
	defer span.End()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		w, err := m.store.GetWorkflow(ctx, ev.WorkflowID)
		if err != nil {
			if err == store.ErrNotFound {
				m.logger.Warn(ctx, "workflow: result references unknown workflow, discarding",
					"workflow_id", ev.WorkflowID, "stage", ev.Stage)
				return nil
			}
			return orcherr.Wrap(orcherr.KindInternal, "fetch workflow for result", err)
		}

		next, actions := Transition(StateOf(w.Status), w.CurrentStage, ev)
		if next != StateEvaluating {
			m.logger.Debug(ctx, "workflow: discarding inadmissible or stale event",
				"workflow_id", ev.WorkflowID, "event_kind", ev.Kind, "event_stage", ev.Stage,
				"current_stage", w.CurrentStage, "status", w.Status)
			return nil
		}

		conflict, err := m.evaluate(ctx, w, actions[0], ev)
		if err != nil {
			return err
		}
		if conflict {
			continue
		}
		return nil
	}
	return orcherr.New(orcherr.KindConflict, "handle result: exceeded CAS retry budget").WithWorkflow(ev.WorkflowID)
}

// evaluate performs the "evaluating" substate's work for one read of w. It
// reports conflict=true when the caller should re-read and retry (only
// meaningful before any dispatch has occurred — once a task is dispatched,
// evaluate resolves the CAS conflict itself by logging rather than looping,
// to avoid a double dispatch).
func (m *Machine) evaluate(ctx context.Context, w *model.Workflow, action Action, ev Event) (conflict bool, err error) {
	outcome := stage.OutcomeSuccess
	if action.Outcome == OutcomeFailure {
		outcome = stage.OutcomeFailure
	}

	next, routeErr := m.router.NextStage(ctx, w, action.Stage, outcome)
	if routeErr != nil {
		m.logger.Warn(ctx, "workflow: router failed, falling back to the preliminary legacy decision",
			"workflow_id", w.ID, "stage", action.Stage, "error", routeErr)
		next = stage.PreliminaryNextStage(w.Type, action.Stage, outcome)
	}

	if w.StageOutputs == nil {
		w.StageOutputs = map[string]any{}
	}
	switch {
	case outcome == stage.OutcomeSuccess:
		w.StageOutputs[action.Stage] = ev.ResultData
		w.CompletedStages = append(w.CompletedStages, action.Stage)
	case next.Skipped:
		// §4.5.3: a skipped failure is treated as success; no output blob
		// is stored for the stage itself, but it still counts toward
		// progress.
		w.CompletedStages = append(w.CompletedStages, action.Stage)
	default:
		w.StageOutputs[action.Stage+"__error"] = map[string]any{"reason": ev.Reason}
	}

	w.Progress = m.router.CalculateProgress(ctx, w, w.CompletedStages)

	if next.NextStage == model.END {
		return m.finish(ctx, w, outcome, next)
	}
	return m.advance(ctx, w, next, ev)
}

// finish persists a terminal transition. This path has produced no
// external side effect yet, so a CAS conflict is safe to retry.
func (m *Machine) finish(ctx context.Context, w *model.Workflow, outcome stage.Outcome, next stage.NextStageResult) (conflict bool, err error) {
	w.CurrentStage = model.END
	if outcome == stage.OutcomeSuccess || next.Skipped {
		w.Status = model.WorkflowCompleted
		w.Progress = 100
	} else {
		w.Status = model.WorkflowFailed
	}

	if _, err := m.store.UpdateWorkflow(ctx, w); err != nil {
		if err == store.ErrVersionConflict {
			return true, nil
		}
		return false, orcherr.Wrap(orcherr.KindInternal, "persist terminal transition", err).WithWorkflow(w.ID)
	}

	if w.Status == model.WorkflowCompleted {
		m.appendEvent(ctx, w.ID, EventWorkflowCompleted, map[string]any{"stage": w.CurrentStage})
	} else {
		m.appendEvent(ctx, w.ID, EventWorkflowFailed, map[string]any{"stage": w.CurrentStage})
	}
	return false, nil
}

// advance builds and dispatches the next stage's envelope, then persists
// the workflow's new position. Once dispatch succeeds it must not be
// retried: a subsequent CAS conflict here is logged, not looped, since
// looping would dispatch the same stage a second time.
func (m *Machine) advance(ctx context.Context, w *model.Workflow, next stage.NextStageResult, _ Event) (conflict bool, err error) {
	stageDef := model.StageDefinition{Name: next.NextStage, AgentType: next.AgentTypeForNext}
	if def := m.router.Definition(ctx, w); def != nil {
		if resolved, ok := def.StageByName(next.NextStage); ok {
			stageDef = resolved
		}
	}

	spanID := uuid.NewString()
	priorSpan := w.Trace.CurrentSpanID
	w.Trace.CurrentSpanID = spanID

	env, buildErr := m.builder.Build(envelope.Params{
		Workflow: w, Stage: stageDef, StageOutputs: w.StageOutputs, Surface: w.SurfaceContextFromInput(),
	})
	if buildErr != nil {
		w.Trace.CurrentSpanID = priorSpan
		m.failWorkflow(ctx, w, buildErr.Error())
		return false, nil
	}

	if _, dispatchErr := m.dispatcher.Dispatch(ctx, env, next.NextStage, w.PlatformID); dispatchErr != nil {
		w.Trace.CurrentSpanID = priorSpan
		m.failWorkflow(ctx, w, dispatchErr.Error())
		return false, nil
	}

	w.CurrentStage = next.NextStage
	w.Status = model.WorkflowRunning
	if _, err := m.store.UpdateWorkflow(ctx, w); err != nil {
		m.logger.Warn(ctx, "workflow: lost the race to persist an advance after a successful dispatch; "+
			"the dispatched task stands, this writer's bookkeeping is discarded",
			"workflow_id", w.ID, "stage", next.NextStage, "error", err)
		return false, nil
	}
	m.appendEvent(ctx, w.ID, EventStageCompleted, map[string]any{"stage": next.NextStage, "is_fallback": next.IsFallback})
	return false, nil
}
