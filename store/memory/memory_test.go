package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/store"
	"github.com/flowforge/orchestrator/store/memory"
)

func TestStore_UpdateWorkflowDetectsVersionConflict(t *testing.T) {
	s := memory.New()
	created, err := s.CreateWorkflow(context.Background(), &model.Workflow{ID: "wf-1", Type: "app", Status: model.WorkflowInitiated})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Version)

	stale := *created
	_, err = s.UpdateWorkflow(context.Background(), created)
	require.NoError(t, err)

	_, err = s.UpdateWorkflow(context.Background(), &stale)
	require.ErrorIs(t, err, store.ErrVersionConflict, "a write against a stale version must be rejected")
}

func TestStore_ActiveTaskEnforcesAtMostOnePerWorkflowStage(t *testing.T) {
	s := memory.New()
	_, err := s.CreateTask(context.Background(), &model.AgentTask{TaskID: "t1", WorkflowID: "wf-1", StageName: "scaffolding"})
	require.NoError(t, err)

	active, err := s.ActiveTask(context.Background(), "wf-1", "scaffolding")
	require.NoError(t, err)
	require.NotNil(t, active)

	require.NoError(t, s.UpdateTaskStatus(context.Background(), "t1", model.TaskSucceeded))
	active, err = s.ActiveTask(context.Background(), "wf-1", "scaffolding")
	require.NoError(t, err)
	require.Nil(t, active, "a terminal task must no longer count as active")
}

func TestStore_EnabledDefinitionPicksHighestVersion(t *testing.T) {
	s := memory.New()
	_, err := s.CreateDefinition(context.Background(), &model.WorkflowDefinition{ID: "d1", PlatformID: "p1", Version: 1, Enabled: true})
	require.NoError(t, err)
	_, err = s.CreateDefinition(context.Background(), &model.WorkflowDefinition{ID: "d2", PlatformID: "p1", Version: 2, Enabled: true})
	require.NoError(t, err)
	_, err = s.CreateDefinition(context.Background(), &model.WorkflowDefinition{ID: "d3", PlatformID: "p1", Version: 3, Enabled: false})
	require.NoError(t, err)

	best, err := s.EnabledDefinition(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "d2", best.ID, "a disabled higher-version definition must not win")
}
