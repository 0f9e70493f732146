package resultconsumer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/resultconsumer"
	"github.com/flowforge/orchestrator/substrate"
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

func validResult(workflowID, stage string, success bool) model.AgentResult {
	status := model.ResultSuccess
	if !success {
		status = model.ResultFailed
	}
	return model.AgentResult{
		MessageID: "m1", TaskID: "t1", WorkflowID: workflowID, AgentID: "agent-1", AgentType: "scaffolding",
		Stage: stage, Success: success, Status: status, Action: "completed",
		Result:    model.ResultData{Data: map[string]any{"k": "v"}, Metrics: model.ResultMetrics{DurationMS: 100}},
		Trace:     model.EnvelopeTrace{TraceID: "trace-1", SpanID: "span-1"},
		Timestamp: time.Now(),
		Version:   "1.0.0",
	}
}

func newConsumer(t *testing.T, fm *fakeMachine) (*resultconsumer.Consumer, *substratememory.Bus) {
	t.Helper()
	validator, err := envelope.NewValidator()
	require.NoError(t, err)
	bus := substratememory.New()
	c := resultconsumer.New(resultconsumer.Options{
		Bus: bus, Validator: validator, Machine: fm, ConsumerName: "test-consumer",
	})
	return c, bus
}

func TestConsumer_FeedsStageCompleteOnSuccess(t *testing.T) {
	fm := &fakeMachine{}
	c, bus := newConsumer(t, fm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	// Let the consumer register its group at the tail before publishing.
	time.Sleep(20 * time.Millisecond)

	payload, err := json.Marshal(validResult("wf-1", "scaffolding", true))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, substrate.ResultsChannel, payload, substrate.PublishOptions{MirrorToStream: true}))

	require.Eventually(t, func() bool { return len(fm.events) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, workflow.EventStageComplete, fm.events[0].Kind)
	require.Equal(t, "wf-1", fm.events[0].WorkflowID)
}

func TestConsumer_FeedsStageFailedOnFailure(t *testing.T) {
	fm := &fakeMachine{}
	c, bus := newConsumer(t, fm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	// Let the consumer register its group at the tail before publishing.
	time.Sleep(20 * time.Millisecond)

	result := validResult("wf-2", "validation", false)
	result.Errors = []model.ResultError{{Code: "LINT_FAILED", Message: "lint failed", Recoverable: false}}
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, substrate.ResultsChannel, payload, substrate.PublishOptions{MirrorToStream: true}))

	require.Eventually(t, func() bool { return len(fm.events) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, workflow.EventStageFailed, fm.events[0].Kind)
	require.Contains(t, fm.events[0].Reason, "LINT_FAILED")
}

func TestConsumer_RejectsMissingStageWithoutAcking(t *testing.T) {
	fm := &fakeMachine{}
	c, bus := newConsumer(t, fm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	result := validResult("wf-3", "x", true)
	result.Stage = ""
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, substrate.ResultsChannel, payload, substrate.PublishOptions{}))

	// A bad message is never handed to the machine: it is left unacked for
	// redelivery rather than routed as a STAGE_COMPLETE/STAGE_FAILED event.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fm.events)
}
