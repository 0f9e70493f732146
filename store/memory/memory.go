// Package memory provides an in-memory store.Store fake preserving the
// compare-and-set contract on UpdateWorkflow, used as the test double in
// place of the Postgres adapter.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/store"
)

// Store is an in-memory store.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	workflows   map[string]*model.Workflow
	platforms   map[string]*model.Platform
	definitions map[string]*model.WorkflowDefinition
	surfaces    map[string]*model.PlatformSurface
	tasks       map[string]*model.AgentTask
	events      map[string][]model.WorkflowEvent

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		workflows:   map[string]*model.Workflow{},
		platforms:   map[string]*model.Platform{},
		definitions: map[string]*model.WorkflowDefinition{},
		surfaces:    map[string]*model.PlatformSurface{},
		tasks:       map[string]*model.AgentTask{},
		events:      map[string][]model.WorkflowEvent{},
		now:         time.Now,
	}
}

func clone[T any](v T) T { return v }

func (s *Store) CreateWorkflow(_ context.Context, w *model.Workflow) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(*w)
	cp.Version = 1
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.workflows[cp.ID] = &cp
	out := clone(cp)
	return &out, nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clone(*w)
	return &out, nil
}

func (s *Store) UpdateWorkflow(_ context.Context, w *model.Workflow) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workflows[w.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.Version != w.Version {
		return nil, store.ErrVersionConflict
	}
	cp := clone(*w)
	cp.Version = existing.Version + 1
	cp.UpdatedAt = s.now()
	s.workflows[cp.ID] = &cp
	out := clone(cp)
	return &out, nil
}

func (s *Store) CreatePlatform(_ context.Context, p *model.Platform) (*model.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(*p)
	s.platforms[cp.ID] = &cp
	out := clone(cp)
	return &out, nil
}

func (s *Store) GetPlatform(_ context.Context, id string) (*model.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.platforms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clone(*p)
	return &out, nil
}

func (s *Store) ListPlatforms(context.Context) ([]model.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		out = append(out, *p)
	}
	return out, nil
}

func (s *Store) CreateDefinition(_ context.Context, d *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(*d)
	s.definitions[cp.ID] = &cp
	out := clone(cp)
	return &out, nil
}

func (s *Store) GetDefinition(_ context.Context, id string) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clone(*d)
	return &out, nil
}

func (s *Store) ListDefinitions(_ context.Context, platformID string) ([]model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkflowDefinition
	for _, d := range s.definitions {
		if d.PlatformID == platformID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Store) UpdateDefinition(_ context.Context, d *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[d.ID]; !ok {
		return nil, store.ErrNotFound
	}
	cp := clone(*d)
	s.definitions[cp.ID] = &cp
	out := clone(cp)
	return &out, nil
}

func (s *Store) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.definitions, id)
	return nil
}

func (s *Store) SetDefinitionEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Enabled = enabled
	return nil
}

func (s *Store) EnabledDefinition(_ context.Context, platformID string) (*model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.WorkflowDefinition
	for _, d := range s.definitions {
		if d.PlatformID != platformID || !d.Enabled {
			continue
		}
		if best == nil || d.Version > best.Version {
			cp := *d
			best = &cp
		}
	}
	return best, nil
}

func surfaceKey(platformID string, surfaceType model.SurfaceType) string {
	return platformID + "|" + string(surfaceType)
}

func (s *Store) UpsertSurface(_ context.Context, surf *model.PlatformSurface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(*surf)
	s.surfaces[surfaceKey(cp.PlatformID, cp.SurfaceType)] = &cp
	return nil
}

func (s *Store) SetSurfaceEnabled(_ context.Context, platformID string, surfaceType model.SurfaceType, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	surf, ok := s.surfaces[surfaceKey(platformID, surfaceType)]
	if !ok {
		return store.ErrNotFound
	}
	surf.Enabled = enabled
	return nil
}

func (s *Store) ListSurfaces(_ context.Context, platformID string) ([]model.PlatformSurface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PlatformSurface
	for _, surf := range s.surfaces {
		if surf.PlatformID == platformID {
			out = append(out, *surf)
		}
	}
	return out, nil
}

func (s *Store) PlatformSurface(_ context.Context, platformID string, surfaceType model.SurfaceType) (*model.PlatformSurface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	surf, ok := s.surfaces[surfaceKey(platformID, surfaceType)]
	if !ok {
		return nil, nil
	}
	out := clone(*surf)
	return &out, nil
}

func (s *Store) CreateTask(_ context.Context, t *model.AgentTask) (*model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(*t)
	cp.Status = model.TaskPending
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.tasks[cp.TaskID] = &cp
	out := clone(cp)
	return &out, nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, taskID string, status model.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = s.now()
	return nil
}

func (s *Store) ActiveTask(_ context.Context, workflowID, stage string) (*model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID && t.StageName == stage && !t.Status.Terminal() {
			out := clone(*t)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) TaskByMessageID(_ context.Context, messageID string) (*model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Envelope.MessageID == messageID {
			out := clone(*t)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) StaleTasks(_ context.Context) ([]model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []model.AgentTask
	for _, t := range s.tasks {
		if t.Status != model.TaskDispatched && t.Status != model.TaskRunning {
			continue
		}
		deadline := t.CreatedAt.Add(time.Duration(t.Envelope.Constraints.TimeoutMS) * time.Millisecond)
		if now.After(deadline) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) PendingTasks(_ context.Context) ([]model.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AgentTask
	for _, t := range s.tasks {
		if t.Status == model.TaskPending {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) AppendEvent(_ context.Context, e model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.CreatedAt = s.now()
	s.events[e.WorkflowID] = append(s.events[e.WorkflowID], e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, workflowID string) ([]model.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WorkflowEvent, len(s.events[workflowID]))
	copy(out, s.events[workflowID])
	return out, nil
}
