package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	agentmemory "github.com/flowforge/orchestrator/agentregistry/memory"
	"github.com/flowforge/orchestrator/dispatch"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/reaper"
	"github.com/flowforge/orchestrator/store/memory"
	substratememory "github.com/flowforge/orchestrator/substrate/memory"
	"github.com/flowforge/orchestrator/workflow"
)

type fakeMachine struct {
	events []workflow.Event
}

func (f *fakeMachine) HandleResult(_ context.Context, ev workflow.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func envelopeFor(workflowID, stage, agentType string, timeoutMS int64) model.AgentEnvelope {
	return model.AgentEnvelope{
		MessageID: "m-" + stage, TaskID: "t-" + stage, WorkflowID: workflowID, AgentType: agentType,
		Priority: model.PriorityMedium, Status: model.EnvelopePending,
		Constraints: model.Constraints{TimeoutMS: timeoutMS, MaxRetries: 1, RequiredConfidence: 50},
		Payload:     map[string]any{},
		Metadata:    model.EnvelopeMetadata{CreatedAt: time.Now(), CreatedBy: "engine", EnvelopeVersion: model.EnvelopeVersion},
		Trace:       model.EnvelopeTrace{TraceID: "trace-1", SpanID: "span-1"},
		WorkflowContext: model.WorkflowContext{
			WorkflowType: "app", WorkflowName: "demo", CurrentStage: stage, StageOutputs: map[string]any{},
		},
	}
}

func TestReaper_SweepStaleFeedsTimeoutEvent(t *testing.T) {
	st := memory.New()
	fm := &fakeMachine{}
	d := dispatch.New(dispatch.Options{Store: st, Bus: substratememory.New(), Registry: agentmemory.New(0)})

	task := &model.AgentTask{
		TaskID: "t-validation", WorkflowID: "wf-1", StageName: "validation", AgentType: "validation",
		Envelope: envelopeFor("wf-1", "validation", "validation", 1),
	}
	created, err := st.CreateTask(context.Background(), task)
	require.NoError(t, err)
	require.NoError(t, st.UpdateTaskStatus(context.Background(), created.TaskID, model.TaskDispatched))

	time.Sleep(20 * time.Millisecond)

	r := reaper.New(reaper.Options{Store: st, Dispatcher: d, Machine: fm, Spec: "@every 10ms"})
	// sweepStale is unexported; exercise it through the public cron-driven
	// Start/Stop path instead of poking internals.
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return len(fm.events) == 1 }, 2*time.Second, 20*time.Millisecond)
	r.Stop()

	require.Equal(t, workflow.EventTimeout, fm.events[0].Kind)
	require.Equal(t, "wf-1", fm.events[0].WorkflowID)
	require.Equal(t, "validation", fm.events[0].Stage)

	stored, err := st.TaskByMessageID(context.Background(), "m-validation")
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, stored.Status)
}

func TestReaper_SweepPendingRetriesDispatch(t *testing.T) {
	st := memory.New()
	fm := &fakeMachine{}
	reg := agentmemory.New(0)
	require.NoError(t, reg.Register(context.Background(), model.AgentRegistryEntry{
		AgentID: "agent-1", AgentType: "scaffolding", Status: model.AgentOnline, LastHeartbeat: time.Now(),
	}))

	bus := substratememory.New()
	d := dispatch.New(dispatch.Options{Store: st, Bus: bus, Registry: reg})

	task := &model.AgentTask{
		TaskID: "t-scaffolding", WorkflowID: "wf-2", StageName: "scaffolding", AgentType: "scaffolding",
		Envelope: envelopeFor("wf-2", "scaffolding", "scaffolding", 60000),
	}
	_, err := st.CreateTask(context.Background(), task)
	require.NoError(t, err)
	// CreateTask always leaves status pending — that's the condition the
	// pending-task reaper exists to retry.

	r := reaper.New(reaper.Options{Store: st, Dispatcher: d, Machine: fm, Spec: "@every 10ms"})
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool {
		stored, err := st.TaskByMessageID(context.Background(), "m-scaffolding")
		return err == nil && stored != nil && stored.Status == model.TaskDispatched
	}, 2*time.Second, 20*time.Millisecond)
	r.Stop()
}
