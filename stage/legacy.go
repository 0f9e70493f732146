package stage

// legacyStage is one node of a hard-coded legacy sequence. Agent type is
// taken to be the stage name itself, matching the reference platform's
// original six built-in agents.
type legacyStage struct {
	name      string
	agentType string
	weight    int
}

// legacySequences is keyed by workflow.type. legacyDefault is used for any
// type without a dedicated sequence, so every workflow remains routable
// even under a workflow.type the legacy catalogue has never seen.
var legacySequences = map[string][]legacyStage{
	"app": {
		{name: "initialization", agentType: "initialization", weight: 10},
		{name: "scaffolding", agentType: "scaffolding", weight: 20},
		{name: "validation", agentType: "validation", weight: 20},
		{name: "e2e", agentType: "e2e", weight: 20},
		{name: "integration", agentType: "integration", weight: 20},
		{name: "deployment", agentType: "deployment", weight: 10},
	},
	"bugfix": {
		{name: "initialization", agentType: "initialization", weight: 15},
		{name: "validation", agentType: "validation", weight: 35},
		{name: "e2e", agentType: "e2e", weight: 30},
		{name: "deployment", agentType: "deployment", weight: 20},
	},
}

var legacyDefault = []legacyStage{
	{name: "initialization", agentType: "initialization", weight: 100},
}

// PreliminaryNextStage computes the same-process, no-I/O preliminary
// decision the state machine's synchronous event handler uses (§4.5
// "hybrid sync/async stage computation"). It consults only the hard-coded
// legacy sequence for workflowType, never a store-backed definition, so it
// is pure and deterministically testable. The async "evaluating" step may
// override this with Router.NextStage once a definition lookup resolves.
func PreliminaryNextStage(workflowType, currentStage string, outcome Outcome) NextStageResult {
	return legacyNextStage(legacySequenceFor(workflowType), currentStage, outcome)
}

func legacySequenceFor(workflowType string) []legacyStage {
	if seq, ok := legacySequences[workflowType]; ok {
		return seq
	}
	return legacyDefault
}

func legacyIndexOf(seq []legacyStage, name string) (int, bool) {
	for i, s := range seq {
		if s.name == name {
			return i, true
		}
	}
	return -1, false
}

// legacyNextStage advances seq from current given outcome. The legacy
// catalogue has no on_failure routing of its own: a failed stage always
// terminates the workflow, matching the pre-definition behavior it
// preserves.
func legacyNextStage(seq []legacyStage, current string, outcome Outcome) NextStageResult {
	idx, ok := legacyIndexOf(seq, current)
	if !ok {
		return NextStageResult{NextStage: END, IsFallback: true}
	}
	if outcome == OutcomeFailure {
		return NextStageResult{NextStage: END, IsFallback: true}
	}
	if idx+1 >= len(seq) {
		return NextStageResult{NextStage: END, IsFallback: true}
	}
	next := seq[idx+1]
	return NextStageResult{NextStage: next.name, AgentTypeForNext: next.agentType, IsFallback: true}
}

// legacyProgress implements the uniform 100/N rule: each completed stage
// contributes floor(100/N), with the final stage's completion pinning the
// result at exactly 100.
func legacyProgress(seq []legacyStage, completedStages []string) int {
	if len(seq) == 0 {
		return 0
	}
	completed := map[string]bool{}
	for _, s := range completedStages {
		completed[s] = true
	}
	n := 0
	lastDone := false
	for i, s := range seq {
		if completed[s.name] {
			n++
			if i == len(seq)-1 {
				lastDone = true
			}
		}
	}
	if lastDone {
		return 100
	}
	progress := (100 / len(seq)) * n
	if progress > 100 {
		progress = 100
	}
	return progress
}
