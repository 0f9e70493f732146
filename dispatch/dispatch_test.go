package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/agentregistry"
	agentmemory "github.com/flowforge/orchestrator/agentregistry/memory"
	"github.com/flowforge/orchestrator/dispatch"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/store/memory"
	"github.com/flowforge/orchestrator/substrate"
	substratememory "github.com/flowforge/orchestrator/substrate/memory"
)

func newEnvelope(messageID, agentType string) model.AgentEnvelope {
	return model.AgentEnvelope{
		MessageID:  messageID,
		TaskID:     "task-" + messageID,
		WorkflowID: "wf-1",
		AgentType:  agentType,
		Priority:   model.PriorityMedium,
		Status:     model.EnvelopePending,
		Constraints: model.Constraints{TimeoutMS: 60000, MaxRetries: 2, RequiredConfidence: 70},
		Payload:    map[string]any{"k": "v"},
		Metadata: model.EnvelopeMetadata{
			CreatedAt: time.Now(), CreatedBy: "engine", EnvelopeVersion: model.EnvelopeVersion,
		},
		Trace: model.EnvelopeTrace{TraceID: "trace-1", SpanID: "span-1"},
		WorkflowContext: model.WorkflowContext{
			WorkflowType: "app", WorkflowName: "demo", CurrentStage: "scaffolding",
			StageOutputs: map[string]any{},
		},
	}
}

func registerAgent(t *testing.T, reg agentregistry.Registry, agentType string) {
	t.Helper()
	require.NoError(t, reg.Register(context.Background(), model.AgentRegistryEntry{
		AgentID: "agent-1", AgentType: agentType, Status: model.AgentOnline, LastHeartbeat: time.Now(),
	}))
}

func TestDispatcher_RejectsWhenNoAgentOnline(t *testing.T) {
	st := memory.New()
	reg := agentmemory.New(0)
	bus := substratememory.New()
	d := dispatch.New(dispatch.Options{Store: st, Bus: bus, Registry: reg})

	_, err := d.Dispatch(context.Background(), newEnvelope("m1", "scaffolding"), "scaffolding", nil)
	require.Error(t, err)
	require.Equal(t, orcherr.KindAgentUnavailable, orcherr.KindOf(err))
}

func TestDispatcher_PersistsThenPublishesThenMarksDispatched(t *testing.T) {
	st := memory.New()
	reg := agentmemory.New(0)
	bus := substratememory.New()
	registerAgent(t, reg, "scaffolding")
	d := dispatch.New(dispatch.Options{Store: st, Bus: bus, Registry: reg})

	env := newEnvelope("m2", "scaffolding")
	task, err := d.Dispatch(context.Background(), env, "scaffolding", nil)
	require.NoError(t, err)
	require.Equal(t, model.TaskDispatched, task.Status)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan []byte, 1)
	go bus.Subscribe(ctx, substrate.TaskChannel("scaffolding"), substrate.SubscribeOptions{
		ConsumerGroup: "g", ConsumerName: "c1", FromBeginning: true,
	}, func(_ context.Context, payload []byte) error {
		received <- payload
		return nil
	})
	defer cancel()

	select {
	case payload := <-received:
		var got model.AgentEnvelope
		require.NoError(t, json.Unmarshal(payload, &got))
		require.Equal(t, env.MessageID, got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published envelope")
	}

	stored, err := st.TaskByMessageID(context.Background(), "m2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, model.TaskDispatched, stored.Status)
}

func TestDispatcher_IsIdempotentOnMessageID(t *testing.T) {
	st := memory.New()
	reg := agentmemory.New(0)
	bus := substratememory.New()
	registerAgent(t, reg, "scaffolding")
	d := dispatch.New(dispatch.Options{Store: st, Bus: bus, Registry: reg})

	env := newEnvelope("m3", "scaffolding")
	first, err := d.Dispatch(context.Background(), env, "scaffolding", nil)
	require.NoError(t, err)

	second, err := d.Dispatch(context.Background(), env, "scaffolding", nil)
	require.NoError(t, err)
	require.Equal(t, first.TaskID, second.TaskID)
}
