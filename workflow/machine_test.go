package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	agentmemory "github.com/flowforge/orchestrator/agentregistry/memory"
	"github.com/flowforge/orchestrator/dispatch"
	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/stage"
	"github.com/flowforge/orchestrator/store/memory"
	substratememory "github.com/flowforge/orchestrator/substrate/memory"
	"github.com/flowforge/orchestrator/surface"
	"github.com/flowforge/orchestrator/workflow"
)

type harness struct {
	st  *memory.Store
	reg *agentmemory.Registry
	m   *workflow.Machine
}

func newHarness(t *testing.T, agentTypes ...string) *harness {
	t.Helper()
	st := memory.New()
	reg := agentmemory.New(0)
	for _, at := range agentTypes {
		require.NoError(t, reg.Register(context.Background(), model.AgentRegistryEntry{
			AgentID: "agent-" + at, AgentType: at, Status: model.AgentOnline, LastHeartbeat: time.Now(),
		}))
	}
	bus := substratememory.New()
	router := stage.NewRouter(st, nil)
	d := dispatch.New(dispatch.Options{Store: st, Bus: bus, Registry: reg})
	validator, err := envelope.NewValidator()
	require.NoError(t, err)
	builder := envelope.NewBuilder(validator, "orchestrator")
	gate := surface.NewGate(st, 0)

	m := workflow.New(workflow.Options{
		Store: st, Router: router, Dispatcher: d, Builder: builder, SurfaceGate: gate, AgentChecker: reg,
	})
	return &harness{st: st, reg: reg, m: m}
}

func TestMachine_CreateDispatchesFirstLegacyStage(t *testing.T) {
	h := newHarness(t, "initialization", "scaffolding", "validation", "e2e", "integration", "deployment")
	w, err := h.m.Create(context.Background(), model.CreateWorkflowRequest{Type: "app", Name: "demo"}, "tester", nil)
	require.NoError(t, err)
	require.Equal(t, "initialization", w.CurrentStage)
	require.Equal(t, model.WorkflowRunning, w.Status)
}

func TestMachine_CreateFailsDefinitionInvalidWhenAgentMissing(t *testing.T) {
	h := newHarness(t, "initialization")
	_, err := h.m.Create(context.Background(), model.CreateWorkflowRequest{Type: "app", Name: "demo"}, "tester", nil)
	require.Error(t, err)
	require.Equal(t, orcherr.KindDefinitionInvalid, orcherr.KindOf(err))
}

func TestMachine_CreateRejectsUnboundSurface(t *testing.T) {
	h := newHarness(t, "initialization")
	platformID := "platform-1"
	_, err := h.st.CreatePlatform(context.Background(), &model.Platform{ID: platformID, Name: "Platform", Active: true})
	require.NoError(t, err)

	sc := &model.SurfaceContext{SurfaceID: "s1", SurfaceType: model.SurfaceREST, PlatformID: platformID}
	_, err = h.m.Create(context.Background(), model.CreateWorkflowRequest{Type: "app", Name: "demo", PlatformID: &platformID}, "tester", sc)
	require.Error(t, err)
	require.Equal(t, orcherr.KindSurfaceNotBound, orcherr.KindOf(err))
}

func TestMachine_FullLegacyBugfixSequenceCompletes(t *testing.T) {
	h := newHarness(t, "initialization", "validation", "e2e", "deployment")
	ctx := context.Background()
	w, err := h.m.Create(ctx, model.CreateWorkflowRequest{Type: "bugfix", Name: "hotfix"}, "tester", nil)
	require.NoError(t, err)

	sequence := []string{"initialization", "validation", "e2e", "deployment"}
	for _, stageName := range sequence {
		require.NoError(t, h.m.HandleResult(ctx, workflow.Event{
			WorkflowID: w.ID, Kind: workflow.EventStageComplete, Stage: stageName,
			ResultData: map[string]any{"ok": true},
		}))
		w, err = h.m.Get(ctx, w.ID)
		require.NoError(t, err)
	}

	require.Equal(t, model.WorkflowCompleted, w.Status)
	require.Equal(t, 100, w.Progress)
}

func TestMachine_StageFailureTerminatesLegacyWorkflow(t *testing.T) {
	h := newHarness(t, "initialization", "validation", "e2e", "deployment")
	ctx := context.Background()
	w, err := h.m.Create(ctx, model.CreateWorkflowRequest{Type: "bugfix", Name: "hotfix"}, "tester", nil)
	require.NoError(t, err)

	require.NoError(t, h.m.HandleResult(ctx, workflow.Event{
		WorkflowID: w.ID, Kind: workflow.EventStageComplete, Stage: "initialization",
		ResultData: map[string]any{"ok": true},
	}))
	require.NoError(t, h.m.HandleResult(ctx, workflow.Event{
		WorkflowID: w.ID, Kind: workflow.EventStageFailed, Stage: "validation", Reason: "lint failed",
	}))

	w, err = h.m.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkflowFailed, w.Status)
}

func TestMachine_StaleResultIsDiscardedNotApplied(t *testing.T) {
	h := newHarness(t, "initialization", "validation", "e2e", "deployment")
	ctx := context.Background()
	w, err := h.m.Create(ctx, model.CreateWorkflowRequest{Type: "bugfix", Name: "hotfix"}, "tester", nil)
	require.NoError(t, err)

	require.NoError(t, h.m.HandleResult(ctx, workflow.Event{
		WorkflowID: w.ID, Kind: workflow.EventStageComplete, Stage: "deployment",
		ResultData: map[string]any{"ok": true},
	}))

	w, err = h.m.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, "initialization", w.CurrentStage)
	require.Equal(t, model.WorkflowRunning, w.Status)
}

func TestMachine_CancelIsImmediateAndIgnoresLateResult(t *testing.T) {
	h := newHarness(t, "initialization", "validation", "e2e", "deployment")
	ctx := context.Background()
	w, err := h.m.Create(ctx, model.CreateWorkflowRequest{Type: "bugfix", Name: "hotfix"}, "tester", nil)
	require.NoError(t, err)

	require.NoError(t, h.m.Cancel(ctx, w.ID))
	w, err = h.m.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkflowCancelled, w.Status)

	require.NoError(t, h.m.HandleResult(ctx, workflow.Event{
		WorkflowID: w.ID, Kind: workflow.EventStageComplete, Stage: "initialization",
		ResultData: map[string]any{"ok": true},
	}))
	w, err = h.m.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkflowCancelled, w.Status)
}
