package agentruntime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/agentregistry"
	agentmemory "github.com/flowforge/orchestrator/agentregistry/memory"
	"github.com/flowforge/orchestrator/agentruntime"
	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/substrate"
	substratememory "github.com/flowforge/orchestrator/substrate/memory"
)

func buildEnvelope(t *testing.T, b *envelope.Builder, agentType string) model.AgentEnvelope {
	t.Helper()
	w := &model.Workflow{ID: "wf-1", Name: "demo", Type: "app", Trace: model.TraceContext{TraceID: "trace-1"}}
	env, err := b.Build(envelope.Params{
		Workflow: w, Stage: model.StageDefinition{Name: "scaffolding", AgentType: agentType}, StageOutputs: map[string]any{},
	})
	require.NoError(t, err)
	return env
}

func TestRuntime_PublishesSuccessfulResult(t *testing.T) {
	validator, err := envelope.NewValidator()
	require.NoError(t, err)
	builder := envelope.NewBuilder(validator, "orchestrator")
	bus := substratememory.New()
	reg := agentmemory.New(0)

	rt := agentruntime.New(agentruntime.Options{
		AgentType: "scaffolding", Bus: bus, Registry: reg, Validator: validator,
		Executor: agentruntime.ExecutorFunc(func(_ context.Context, env model.AgentEnvelope) (map[string]any, error) {
			return map[string]any{"files_created": 3}, nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	online, err := reg.Exists(ctx, "scaffolding", nil)
	require.NoError(t, err)
	require.True(t, online)

	env := buildEnvelope(t, builder, "scaffolding")
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, substrate.TaskChannel("scaffolding"), payload, substrate.PublishOptions{MirrorToStream: true}))

	received := make(chan model.AgentResult, 1)
	go bus.Subscribe(ctx, substrate.ResultsChannel, substrate.SubscribeOptions{
		ConsumerGroup: substrate.ResultsConsumerGroup, ConsumerName: "test", FromBeginning: true,
	}, func(_ context.Context, payload []byte) error {
		var result model.AgentResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return err
		}
		received <- result
		return nil
	})

	select {
	case result := <-received:
		require.True(t, result.Success)
		require.Equal(t, "scaffolding", result.Stage)
		require.Equal(t, model.ResultSuccess, result.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published result")
	}
}

func TestRuntime_ExecutorErrorProducesFailedResultNotALostTask(t *testing.T) {
	validator, err := envelope.NewValidator()
	require.NoError(t, err)
	builder := envelope.NewBuilder(validator, "orchestrator")
	bus := substratememory.New()
	reg := agentmemory.New(0)

	rt := agentruntime.New(agentruntime.Options{
		AgentType: "validation", Bus: bus, Registry: reg, Validator: validator,
		Executor: agentruntime.ExecutorFunc(func(_ context.Context, _ model.AgentEnvelope) (map[string]any, error) {
			return nil, errors.New("lint failed")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	env := buildEnvelope(t, builder, "validation")
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, substrate.TaskChannel("validation"), payload, substrate.PublishOptions{MirrorToStream: true}))

	received := make(chan model.AgentResult, 1)
	go bus.Subscribe(ctx, substrate.ResultsChannel, substrate.SubscribeOptions{
		ConsumerGroup: substrate.ResultsConsumerGroup, ConsumerName: "test", FromBeginning: true,
	}, func(_ context.Context, payload []byte) error {
		var result model.AgentResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return err
		}
		received <- result
		return nil
	})

	select {
	case result := <-received:
		require.False(t, result.Success)
		require.Equal(t, model.ResultFailed, result.Status)
		require.Len(t, result.Errors, 1)
		require.Equal(t, "lint failed", result.Errors[0].Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published failed result")
	}
}

var _ agentregistry.Registry = (*agentmemory.Registry)(nil)
