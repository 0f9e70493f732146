package workflow

import "testing"

func TestTransition_TerminalStateAdmitsNothing(t *testing.T) {
	next, actions := Transition(StateCompleted, "deployment", Event{Kind: EventStageComplete, Stage: "deployment"})
	if next != StateCompleted || actions != nil {
		t.Fatalf("terminal state must discard every event, got %v %v", next, actions)
	}
}

func TestTransition_CancelAlwaysWinsFromNonTerminal(t *testing.T) {
	next, actions := Transition(StateAwaitingStage, "scaffolding", Event{Kind: EventCancel})
	if next != StateCancelled {
		t.Fatalf("expected cancelled, got %v", next)
	}
	if actions != nil {
		t.Fatalf("cancel carries no further action, got %v", actions)
	}
}

func TestTransition_StaleStageDiscarded(t *testing.T) {
	next, actions := Transition(StateAwaitingStage, "scaffolding", Event{Kind: EventStageComplete, Stage: "validation"})
	if next != StateAwaitingStage || actions != nil {
		t.Fatalf("a result for a stage the workflow already moved past must be discarded, got %v %v", next, actions)
	}
}

func TestTransition_MatchingStageComplete(t *testing.T) {
	next, actions := Transition(StateAwaitingStage, "scaffolding", Event{Kind: EventStageComplete, Stage: "scaffolding"})
	if next != StateEvaluating {
		t.Fatalf("expected evaluating, got %v", next)
	}
	if len(actions) != 1 || actions[0].Kind != ActionEvaluate || actions[0].Outcome != OutcomeSuccess {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestTransition_StageFailedProducesFailureOutcome(t *testing.T) {
	next, actions := Transition(StateAwaitingStage, "validation", Event{Kind: EventStageFailed, Stage: "validation"})
	if next != StateEvaluating {
		t.Fatalf("expected evaluating, got %v", next)
	}
	if len(actions) != 1 || actions[0].Outcome != OutcomeFailure {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestTransition_TimeoutTreatedAsFailure(t *testing.T) {
	next, actions := Transition(StateAwaitingStage, "e2e", Event{Kind: EventTimeout, Stage: "e2e"})
	if next != StateEvaluating || actions[0].Outcome != OutcomeFailure {
		t.Fatalf("timeout must be treated as a failure outcome, got %v %+v", next, actions)
	}
}
