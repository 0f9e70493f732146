package stage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/stage"
)

type fakeDefinitionStore struct {
	defs map[string]*model.WorkflowDefinition
}

func (s *fakeDefinitionStore) EnabledDefinition(_ context.Context, platformID string) (*model.WorkflowDefinition, error) {
	return s.defs[platformID], nil
}

type fakeAgentChecker struct {
	known map[string]bool
}

func (c *fakeAgentChecker) Exists(_ context.Context, agentType string, _ *string) (bool, error) {
	return c.known[agentType], nil
}

func mlDefinition() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID: "def-1", PlatformID: "ml-platform", Name: "ml-pipeline", Version: 1, Enabled: true,
		Stages: []model.StageDefinition{
			{Name: "data-preparation", AgentType: "data-validation", Weight: 30, OnSuccess: "model-training", OnFailure: model.END},
			{Name: "model-training", AgentType: "ml-training", Weight: 50, OnSuccess: "model-evaluation", OnFailure: model.END},
			{Name: "model-evaluation", AgentType: "validation", Weight: 20, OnSuccess: model.END, OnFailure: model.END},
		},
	}
}

func TestRouter_LegacyAppSequence(t *testing.T) {
	r := stage.NewRouter(&fakeDefinitionStore{}, nil)
	w := &model.Workflow{ID: "wf-1", Type: "app"}

	name, agentType, fallback := r.FirstStage(context.Background(), w)
	require.Equal(t, "initialization", name)
	require.Equal(t, "initialization", agentType)
	require.True(t, fallback)

	order := []string{"initialization", "scaffolding", "validation", "e2e", "integration", "deployment"}
	current := order[0]
	for i := 1; i < len(order); i++ {
		res, err := r.NextStage(context.Background(), w, current, stage.OutcomeSuccess)
		require.NoError(t, err)
		require.True(t, res.IsFallback)
		require.Equal(t, order[i], res.NextStage)
		current = res.NextStage
	}
	final, err := r.NextStage(context.Background(), w, current, stage.OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, model.END, final.NextStage)
}

func TestRouter_CustomMLDefinitionProgress(t *testing.T) {
	platformID := "ml-platform"
	store := &fakeDefinitionStore{defs: map[string]*model.WorkflowDefinition{platformID: mlDefinition()}}
	r := stage.NewRouter(store, nil)
	w := &model.Workflow{ID: "wf-2", Type: "ml-training", PlatformID: &platformID}

	res, err := r.NextStage(context.Background(), w, "data-preparation", stage.OutcomeSuccess)
	require.NoError(t, err)
	require.False(t, res.IsFallback)
	require.Equal(t, "model-training", res.NextStage)
	require.Equal(t, "ml-training", res.AgentTypeForNext)
	require.Equal(t, 30, r.CalculateProgress(context.Background(), w, []string{"data-preparation"}))

	res, err = r.NextStage(context.Background(), w, "model-training", stage.OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, "model-evaluation", res.NextStage)
	require.Equal(t, 80, r.CalculateProgress(context.Background(), w, []string{"data-preparation", "model-training"}))

	res, err = r.NextStage(context.Background(), w, "model-evaluation", stage.OutcomeSuccess)
	require.NoError(t, err)
	require.Equal(t, model.END, res.NextStage)
	require.Equal(t, 100, r.CalculateProgress(context.Background(), w, []string{"data-preparation", "model-training", "model-evaluation"}))
}

func TestRouter_OnFailureSkip(t *testing.T) {
	platformID := "p-skip"
	def := &model.WorkflowDefinition{
		ID: "def-2", PlatformID: platformID, Name: "skip-demo", Version: 1, Enabled: true,
		Stages: []model.StageDefinition{
			{Name: "one", AgentType: "a1", Weight: 30, OnSuccess: "two", OnFailure: model.END},
			{Name: "two", AgentType: "a2", Weight: 30, OnSuccess: "three", OnFailure: model.Skip},
			{Name: "three", AgentType: "a3", Weight: 40, OnSuccess: model.END, OnFailure: model.END},
		},
	}
	store := &fakeDefinitionStore{defs: map[string]*model.WorkflowDefinition{platformID: def}}
	r := stage.NewRouter(store, nil)
	w := &model.Workflow{ID: "wf-3", Type: "custom", PlatformID: &platformID}

	res, err := r.NextStage(context.Background(), w, "two", stage.OutcomeFailure)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, "three", res.NextStage)
}

func TestRouter_ValidateRejectsUnknownAgentType(t *testing.T) {
	platformID := "p-unknown"
	def := &model.WorkflowDefinition{
		ID: "def-3", PlatformID: platformID, Name: "bad", Version: 1, Enabled: true,
		Stages: []model.StageDefinition{
			{Name: "one", AgentType: "nonexistent-agent", Weight: 100, OnSuccess: model.END, OnFailure: model.END},
		},
	}
	r := stage.NewRouter(&fakeDefinitionStore{}, nil)
	checker := &fakeAgentChecker{known: map[string]bool{}}

	missing, err := r.Validate(context.Background(), checker, def, "custom", &platformID)
	require.NoError(t, err)
	require.Equal(t, []string{"nonexistent-agent"}, missing)
}

func TestRouter_ValidateLegacySequence(t *testing.T) {
	r := stage.NewRouter(&fakeDefinitionStore{}, nil)
	checker := &fakeAgentChecker{known: map[string]bool{
		"initialization": true, "scaffolding": true, "validation": true,
		"e2e": true, "integration": true, "deployment": true,
	}}
	missing, err := r.Validate(context.Background(), checker, nil, "app", nil)
	require.NoError(t, err)
	require.Empty(t, missing)
}
