// Package store defines the persistence port (C2): the transactional store
// of workflows, tasks, platforms, surfaces, workflow definitions, and the
// audit event log. Implementations must be safe for concurrent use and must
// honor the compare-and-set contract on UpdateWorkflow: the write succeeds
// only if the stored version still matches the version the caller read.
package store

import (
	"context"
	"errors"

	"github.com/flowforge/orchestrator/model"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by UpdateWorkflow when the stored version
// no longer matches the version the caller last read (§4.5 "Concurrency").
var ErrVersionConflict = errors.New("version conflict")

// Store is the C2 persistence port.
type Store interface {
	// CreateWorkflow inserts w and returns the stored row (with Version
	// initialized to 1, timestamps set).
	CreateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error)
	// GetWorkflow returns the workflow with id, or ErrNotFound.
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	// UpdateWorkflow writes w back conditional on w.Version still matching
	// the stored version; on success returns the row with Version
	// incremented. On mismatch returns ErrVersionConflict and the caller
	// must re-read and retry (§4.5 "Persistence snapshot").
	UpdateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error)

	// CreatePlatform inserts p.
	CreatePlatform(ctx context.Context, p *model.Platform) (*model.Platform, error)
	// GetPlatform returns the platform with id, or ErrNotFound.
	GetPlatform(ctx context.Context, id string) (*model.Platform, error)
	// ListPlatforms returns every platform.
	ListPlatforms(ctx context.Context) ([]model.Platform, error)

	// CreateDefinition inserts d.
	CreateDefinition(ctx context.Context, d *model.WorkflowDefinition) (*model.WorkflowDefinition, error)
	// GetDefinition returns the definition with id, or ErrNotFound.
	GetDefinition(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	// ListDefinitions returns every definition owned by platformID.
	ListDefinitions(ctx context.Context, platformID string) ([]model.WorkflowDefinition, error)
	// UpdateDefinition replaces the stored definition sharing d.ID.
	UpdateDefinition(ctx context.Context, d *model.WorkflowDefinition) (*model.WorkflowDefinition, error)
	// DeleteDefinition removes the definition with id.
	DeleteDefinition(ctx context.Context, id string) error
	// SetDefinitionEnabled toggles the enabled flag on the definition with id.
	SetDefinitionEnabled(ctx context.Context, id string, enabled bool) error
	// EnabledDefinition returns the enabled, highest-version
	// WorkflowDefinition for platformID, or (nil, nil) if none resolves.
	// Satisfies stage.DefinitionStore.
	EnabledDefinition(ctx context.Context, platformID string) (*model.WorkflowDefinition, error)

	// UpsertSurface creates or replaces the PlatformSurface uniquely keyed
	// on (platformID, surfaceType).
	UpsertSurface(ctx context.Context, s *model.PlatformSurface) error
	// SetSurfaceEnabled toggles enabled on the (platformID, surfaceType) pair.
	SetSurfaceEnabled(ctx context.Context, platformID string, surfaceType model.SurfaceType, enabled bool) error
	// ListSurfaces returns every PlatformSurface owned by platformID.
	ListSurfaces(ctx context.Context, platformID string) ([]model.PlatformSurface, error)
	// PlatformSurface returns the (platformID, surfaceType) entry, or
	// (nil, nil) if absent. Satisfies surface.Store.
	PlatformSurface(ctx context.Context, platformID string, surfaceType model.SurfaceType) (*model.PlatformSurface, error)

	// CreateTask inserts t with status pending.
	CreateTask(ctx context.Context, t *model.AgentTask) (*model.AgentTask, error)
	// UpdateTaskStatus advances the task's status.
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error
	// ActiveTask returns the non-terminal AgentTask for (workflowID, stage),
	// if any, enforcing "at most one non-terminal task per (workflow,
	// stage)" (§8 invariant). Returns (nil, nil) if none.
	ActiveTask(ctx context.Context, workflowID, stage string) (*model.AgentTask, error)
	// TaskByMessageID returns the AgentTask whose envelope carries
	// messageID, or (nil, nil) if absent — used to make dispatch idempotent
	// on message_id (§8 "Dispatch is idempotent on message_id").
	TaskByMessageID(ctx context.Context, messageID string) (*model.AgentTask, error)
	// StaleTasks returns every dispatched/running task whose envelope
	// timeout has elapsed, for the timeout reaper (§5 "Timeouts").
	StaleTasks(ctx context.Context) ([]model.AgentTask, error)
	// PendingTasks returns every task still in status pending, for the
	// pending-task reaper (§4.3 "retried by a separate pending-task
	// reaper").
	PendingTasks(ctx context.Context) ([]model.AgentTask, error)

	// AppendEvent writes one audit entry (§4.5 "write a workflow event
	// entry for audit").
	AppendEvent(ctx context.Context, e model.WorkflowEvent) error
	// ListEvents returns every event recorded for workflowID, oldest first.
	ListEvents(ctx context.Context, workflowID string) ([]model.WorkflowEvent, error)
}
