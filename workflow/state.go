// Package workflow implements the workflow state machine (C8): the
// createWorkflow/cancelWorkflow ingress operations and the transition that
// advances a workflow on every agent result. Per §9 DESIGN NOTES the
// machine is split in two: a pure, synchronously-testable transition
// function (this file) and an action executor that performs the actual
// I/O (machine.go).
package workflow

import "github.com/flowforge/orchestrator/model"

// State is the workflow's logical machine state (§4.5). It is coarser than
// model.WorkflowStatus only in that it additionally distinguishes the
// transient "evaluating" step the synchronous handler enters on every
// result; persistence never records "evaluating" as such, since by the
// time a row is written the machine has already left it.
type State string

const (
	StateCreating      State = "creating"
	StateAwaitingStage State = "awaiting_stage"
	StateEvaluating    State = "evaluating"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether s admits no further events.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// StateOf derives the logical machine state from a persisted workflow's
// status. Only awaiting_stage is observable at rest: evaluating exists only
// for the duration of one HandleResult call.
func StateOf(status model.WorkflowStatus) State {
	switch status {
	case model.WorkflowCompleted:
		return StateCompleted
	case model.WorkflowFailed:
		return StateFailed
	case model.WorkflowCancelled:
		return StateCancelled
	default:
		return StateAwaitingStage
	}
}

// EventKind is the kind of event fed into the machine.
type EventKind string

const (
	EventStageComplete EventKind = "STAGE_COMPLETE"
	EventStageFailed   EventKind = "STAGE_FAILED"
	EventCancel        EventKind = "CANCEL"
	// EventTimeout is synthesized by the timeout reaper (§5 "Timeouts") and
	// handled identically to EventStageFailed, carrying a Timeout error kind.
	EventTimeout EventKind = "TIMEOUT"
)

// Event is one input to the machine.
type Event struct {
	WorkflowID string
	Kind       EventKind
	// Stage is the stage the event pertains to. Mandatory for every kind
	// except EventCancel (§4.4 "the stage field ... is mandatory for
	// correlation").
	Stage      string
	ResultData map[string]any
	DurationMS int64
	Reason     string
}

// ActionKind names the one action the synchronous handler ever hands to the
// async evaluator: either advance past the named stage, or do nothing
// (terminal transitions other than completion/failure via advancement, i.e.
// CANCEL, carry no further action).
type ActionKind string

const (
	ActionEvaluate ActionKind = "evaluate"
	ActionNone     ActionKind = "none"
)

// Outcome mirrors stage.Outcome without importing the stage package from
// this pure file, keeping Transition importable without pulling in the
// router's I/O-capable dependencies.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Action is the synchronous handler's output: what the async step must do.
type Action struct {
	Kind    ActionKind
	Stage   string
	Outcome Outcome
}

// Transition is the pure (state, event) -> (state, actions) function. It
// performs no I/O and consults no store or router: it only enforces the
// admissibility guards described in §4.5's state table.
//
//   - A terminal state admits no events (already-finished workflow).
//   - CANCEL is admissible from any non-terminal state and moves directly
//     to cancelled, discarding any outstanding task's eventual result.
//   - STAGE_COMPLETE/STAGE_FAILED/TIMEOUT are admissible only from
//     awaiting_stage, and only when the event's Stage matches the
//     workflow's current stage — a mismatch means the event is stale (the
//     workflow already advanced past it, or was cancelled) and is silently
//     discarded per §5 "Cancellation": "any outstanding task's eventual
//     result is received, logged, and discarded."
func Transition(current State, currentStage string, ev Event) (State, []Action) {
	if current.Terminal() {
		return current, nil
	}

	if ev.Kind == EventCancel {
		return StateCancelled, nil
	}

	if current != StateAwaitingStage {
		return current, nil
	}
	if ev.Stage != currentStage {
		return current, nil
	}

	outcome := OutcomeSuccess
	if ev.Kind == EventStageFailed || ev.Kind == EventTimeout {
		outcome = OutcomeFailure
	}
	return StateEvaluating, []Action{{Kind: ActionEvaluate, Stage: ev.Stage, Outcome: outcome}}
}
