package envelope_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
)

func newWorkflow() *model.Workflow {
	return &model.Workflow{
		ID:           "wf-1",
		Name:         "hello",
		Type:         "app",
		CurrentStage: "scaffolding",
		Status:       model.WorkflowRunning,
		Trace:        model.TraceContext{TraceID: "trace-1", CurrentSpanID: "span-0"},
	}
}

func TestBuilder_BuildProducesValidEnvelope(t *testing.T) {
	v, err := envelope.NewValidator()
	require.NoError(t, err)
	b := envelope.NewBuilder(v, "orchestrator")

	env, err := b.Build(envelope.Params{
		Workflow:     newWorkflow(),
		Stage:        model.StageDefinition{Name: "scaffolding", AgentType: "scaffold"},
		StageOutputs: map[string]any{"initialization": map[string]any{"ok": true}},
	})
	require.NoError(t, err)

	require.NotEmpty(t, env.MessageID)
	require.NotEmpty(t, env.TaskID)
	require.NotEqual(t, env.MessageID, env.TaskID)
	require.Equal(t, model.EnvelopeVersion, env.Metadata.EnvelopeVersion)
	require.Equal(t, int64(envelope.DefaultTimeoutMS), env.Constraints.TimeoutMS)
	require.Equal(t, envelope.DefaultMaxRetries, env.Constraints.MaxRetries)
	require.Equal(t, "span-0", *env.Trace.ParentSpanID)
	require.Equal(t, "scaffolding", env.WorkflowContext.CurrentStage)
}

func TestBuilder_UsesStageOverridesForConstraints(t *testing.T) {
	v, err := envelope.NewValidator()
	require.NoError(t, err)
	b := envelope.NewBuilder(v, "orchestrator")

	timeout := int64(5_000)
	retries := 7
	env, err := b.Build(envelope.Params{
		Workflow: newWorkflow(),
		Stage: model.StageDefinition{
			Name: "scaffolding", AgentType: "scaffold",
			TimeoutMS: &timeout, MaxRetries: &retries,
		},
	})
	require.NoError(t, err)
	require.Equal(t, timeout, env.Constraints.TimeoutMS)
	require.Equal(t, retries, env.Constraints.MaxRetries)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	v, err := envelope.NewValidator()
	require.NoError(t, err)
	b := envelope.NewBuilder(v, "orchestrator")

	env, err := b.Build(envelope.Params{
		Workflow: newWorkflow(),
		Stage:    model.StageDefinition{Name: "scaffolding", AgentType: "scaffold"},
	})
	require.NoError(t, err)

	raw, err := envelope.Marshal(env)
	require.NoError(t, err)
	parsed, err := envelope.Unmarshal(raw)
	require.NoError(t, err)

	env.Metadata.CreatedAt = env.Metadata.CreatedAt.Truncate(time.Microsecond)
	parsed.Metadata.CreatedAt = parsed.Metadata.CreatedAt.Truncate(time.Microsecond)
	require.Equal(t, env, parsed)
}

func TestValidator_RejectsFailureStatus(t *testing.T) {
	v, err := envelope.NewValidator()
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"message_id": "m", "task_id": "t", "workflow_id": "w", "agent_id": "a",
		"agent_type": "scaffold", "stage": "scaffolding", "success": false,
		"status": "failure", "action": "execute_scaffold",
		"result": map[string]any{"metrics": map[string]any{"duration_ms": 10}},
		"trace":  map[string]any{"trace_id": "t", "span_id": "s"},
		"timestamp": "2026-01-01T00:00:00Z", "version": "1.0.0",
	})
	require.NoError(t, err)
	require.Error(t, v.ValidateResult(raw), `"failure" must be rejected; the canonical value is "failed"`)
}

func TestValidator_AcceptsFailedStatus(t *testing.T) {
	v, err := envelope.NewValidator()
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"message_id": "m", "task_id": "t", "workflow_id": "w", "agent_id": "a",
		"agent_type": "scaffold", "stage": "scaffolding", "success": false,
		"status": "failed", "action": "execute_scaffold",
		"result": map[string]any{"metrics": map[string]any{"duration_ms": 10}},
		"trace":  map[string]any{"trace_id": "t", "span_id": "s"},
		"timestamp": "2026-01-01T00:00:00Z", "version": "1.0.0",
	})
	require.NoError(t, err)
	require.NoError(t, v.ValidateResult(raw))
}
