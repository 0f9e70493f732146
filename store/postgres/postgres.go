// Package postgres is the production store.Store adapter: a relational
// schema over jackc/pgx/v5, with workflow rows guarded by compare-and-set
// (UPDATE ... WHERE version = $n) per §4.5's concurrency model.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/store"
)

// Store is the pgx-backed store.Store adapter.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New opens a connection pool against dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func (s *Store) CreateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error) {
	stageOutputs, err := marshalJSON(w.StageOutputs)
	if err != nil {
		return nil, fmt.Errorf("marshal stage_outputs: %w", err)
	}
	inputData, err := marshalJSON(w.InputData)
	if err != nil {
		return nil, fmt.Errorf("marshal input_data: %w", err)
	}
	completedStages, err := marshalJSON(w.CompletedStages)
	if err != nil {
		return nil, fmt.Errorf("marshal completed_stages: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO workflow (id, name, type, platform_id, workflow_definition_id, current_stage,
			status, progress, stage_outputs, input_data, trace_id, current_span_id, completed_stages)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING version, created_at, updated_at`,
		w.ID, w.Name, w.Type, w.PlatformID, w.WorkflowDefinitionID, w.CurrentStage,
		w.Status, w.Progress, stageOutputs, inputData, w.Trace.TraceID, w.Trace.CurrentSpanID, completedStages)

	out := *w
	if err := row.Scan(&out.Version, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	return &out, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, type, platform_id, workflow_definition_id, current_stage, status,
			progress, stage_outputs, input_data, trace_id, current_span_id, completed_stages,
			version, created_at, updated_at
		FROM workflow WHERE id = $1`, id)
	return scanWorkflow(row)
}

func scanWorkflow(row pgx.Row) (*model.Workflow, error) {
	var w model.Workflow
	var stageOutputs, inputData, completedStages []byte
	err := row.Scan(&w.ID, &w.Name, &w.Type, &w.PlatformID, &w.WorkflowDefinitionID, &w.CurrentStage,
		&w.Status, &w.Progress, &stageOutputs, &inputData, &w.Trace.TraceID, &w.Trace.CurrentSpanID,
		&completedStages, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if err := json.Unmarshal(stageOutputs, &w.StageOutputs); err != nil {
		return nil, fmt.Errorf("unmarshal stage_outputs: %w", err)
	}
	if err := json.Unmarshal(inputData, &w.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input_data: %w", err)
	}
	if err := json.Unmarshal(completedStages, &w.CompletedStages); err != nil {
		return nil, fmt.Errorf("unmarshal completed_stages: %w", err)
	}
	return &w, nil
}

// UpdateWorkflow implements the CAS contract: the UPDATE only matches a row
// whose stored version equals w.Version; zero rows affected means another
// writer already advanced it.
func (s *Store) UpdateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error) {
	stageOutputs, err := marshalJSON(w.StageOutputs)
	if err != nil {
		return nil, fmt.Errorf("marshal stage_outputs: %w", err)
	}
	inputData, err := marshalJSON(w.InputData)
	if err != nil {
		return nil, fmt.Errorf("marshal input_data: %w", err)
	}
	completedStages, err := marshalJSON(w.CompletedStages)
	if err != nil {
		return nil, fmt.Errorf("marshal completed_stages: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE workflow SET current_stage = $1, status = $2, progress = $3, stage_outputs = $4,
			input_data = $5, current_span_id = $6, completed_stages = $7, version = version + 1, updated_at = now()
		WHERE id = $8 AND version = $9
		RETURNING version, updated_at`,
		w.CurrentStage, w.Status, w.Progress, stageOutputs, inputData, w.Trace.CurrentSpanID,
		completedStages, w.ID, w.Version)

	out := *w
	if err := row.Scan(&out.Version, &out.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrVersionConflict
		}
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	return &out, nil
}

func (s *Store) CreatePlatform(ctx context.Context, p *model.Platform) (*model.Platform, error) {
	_, err := s.pool.Exec(ctx, `INSERT INTO platform (id, name, layer, active) VALUES ($1,$2,$3,$4)`,
		p.ID, p.Name, p.Layer, p.Active)
	if err != nil {
		return nil, fmt.Errorf("insert platform: %w", err)
	}
	out := *p
	return &out, nil
}

func (s *Store) GetPlatform(ctx context.Context, id string) (*model.Platform, error) {
	var p model.Platform
	err := s.pool.QueryRow(ctx, `SELECT id, name, layer, active FROM platform WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Layer, &p.Active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get platform: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, layer, active FROM platform`)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	defer rows.Close()
	var out []model.Platform
	for rows.Next() {
		var p model.Platform
		if err := rows.Scan(&p.ID, &p.Name, &p.Layer, &p.Active); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateDefinition(ctx context.Context, d *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	stages, err := json.Marshal(d.Stages)
	if err != nil {
		return nil, fmt.Errorf("marshal stages: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO workflow_definition (id, platform_id, name, version, enabled, stages)
		VALUES ($1,$2,$3,$4,$5,$6)`, d.ID, d.PlatformID, d.Name, d.Version, d.Enabled, stages)
	if err != nil {
		return nil, fmt.Errorf("insert definition: %w", err)
	}
	out := *d
	return &out, nil
}

func (s *Store) GetDefinition(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, platform_id, name, version, enabled, stages
		FROM workflow_definition WHERE id = $1`, id)
	return scanDefinition(row)
}

func scanDefinition(row pgx.Row) (*model.WorkflowDefinition, error) {
	var d model.WorkflowDefinition
	var stages []byte
	if err := row.Scan(&d.ID, &d.PlatformID, &d.Name, &d.Version, &d.Enabled, &stages); err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan definition: %w", err)
	}
	if err := json.Unmarshal(stages, &d.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	return &d, nil
}

func (s *Store) ListDefinitions(ctx context.Context, platformID string) ([]model.WorkflowDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, platform_id, name, version, enabled, stages
		FROM workflow_definition WHERE platform_id = $1`, platformID)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()
	var out []model.WorkflowDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDefinition(ctx context.Context, d *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	stages, err := json.Marshal(d.Stages)
	if err != nil {
		return nil, fmt.Errorf("marshal stages: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE workflow_definition SET name = $1, version = $2, enabled = $3, stages = $4
		WHERE id = $5`, d.Name, d.Version, d.Enabled, stages, d.ID)
	if err != nil {
		return nil, fmt.Errorf("update definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_definition WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetDefinitionEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE workflow_definition SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set definition enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) EnabledDefinition(ctx context.Context, platformID string) (*model.WorkflowDefinition, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, platform_id, name, version, enabled, stages
		FROM workflow_definition WHERE platform_id = $1 AND enabled = true
		ORDER BY version DESC LIMIT 1`, platformID)
	d, err := scanDefinition(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return d, err
}

func (s *Store) UpsertSurface(ctx context.Context, surf *model.PlatformSurface) error {
	config, err := marshalJSON(surf.Config)
	if err != nil {
		return fmt.Errorf("marshal surface config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO platform_surface (platform_id, surface_type, config, enabled)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (platform_id, surface_type) DO UPDATE SET config = $3, enabled = $4`,
		surf.PlatformID, surf.SurfaceType, config, surf.Enabled)
	if err != nil {
		return fmt.Errorf("upsert surface: %w", err)
	}
	return nil
}

func (s *Store) SetSurfaceEnabled(ctx context.Context, platformID string, surfaceType model.SurfaceType, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE platform_surface SET enabled = $1 WHERE platform_id = $2 AND surface_type = $3`,
		enabled, platformID, surfaceType)
	if err != nil {
		return fmt.Errorf("set surface enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListSurfaces(ctx context.Context, platformID string) ([]model.PlatformSurface, error) {
	rows, err := s.pool.Query(ctx, `SELECT platform_id, surface_type, config, enabled
		FROM platform_surface WHERE platform_id = $1`, platformID)
	if err != nil {
		return nil, fmt.Errorf("list surfaces: %w", err)
	}
	defer rows.Close()
	var out []model.PlatformSurface
	for rows.Next() {
		surf, err := scanSurface(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *surf)
	}
	return out, rows.Err()
}

func (s *Store) PlatformSurface(ctx context.Context, platformID string, surfaceType model.SurfaceType) (*model.PlatformSurface, error) {
	row := s.pool.QueryRow(ctx, `SELECT platform_id, surface_type, config, enabled
		FROM platform_surface WHERE platform_id = $1 AND surface_type = $2`, platformID, surfaceType)
	surf, err := scanSurface(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return surf, err
}

func scanSurface(row pgx.Row) (*model.PlatformSurface, error) {
	var surf model.PlatformSurface
	var config []byte
	if err := row.Scan(&surf.PlatformID, &surf.SurfaceType, &config, &surf.Enabled); err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan surface: %w", err)
	}
	if err := json.Unmarshal(config, &surf.Config); err != nil {
		return nil, fmt.Errorf("unmarshal surface config: %w", err)
	}
	return &surf, nil
}

func (s *Store) CreateTask(ctx context.Context, t *model.AgentTask) (*model.AgentTask, error) {
	envelope, err := json.Marshal(t.Envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agent_task (task_id, workflow_id, stage_name, agent_type, status, priority,
			envelope, trace_id, span_id, parent_span_id)
		VALUES ($1,$2,$3,$4,'pending',$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		t.TaskID, t.WorkflowID, t.StageName, t.AgentType, t.Priority, envelope, t.TraceID, t.SpanID, t.ParentSpanID)
	out := *t
	out.Status = model.TaskPending
	if err := row.Scan(&out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &out, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agent_task SET status = $1, updated_at = now() WHERE task_id = $2`, status, taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ActiveTask(ctx context.Context, workflowID, stage string) (*model.AgentTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT task_id, workflow_id, stage_name, agent_type, status, priority, envelope,
			trace_id, span_id, parent_span_id, created_at, updated_at
		FROM agent_task
		WHERE workflow_id = $1 AND stage_name = $2 AND status NOT IN ('succeeded', 'failed')
		LIMIT 1`, workflowID, stage)
	t, err := scanTask(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return t, err
}

func (s *Store) TaskByMessageID(ctx context.Context, messageID string) (*model.AgentTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT task_id, workflow_id, stage_name, agent_type, status, priority, envelope,
			trace_id, span_id, parent_span_id, created_at, updated_at
		FROM agent_task WHERE envelope->>'message_id' = $1 LIMIT 1`, messageID)
	t, err := scanTask(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return t, err
}

func (s *Store) StaleTasks(ctx context.Context) ([]model.AgentTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, workflow_id, stage_name, agent_type, status, priority, envelope,
			trace_id, span_id, parent_span_id, created_at, updated_at
		FROM agent_task
		WHERE status IN ('dispatched', 'running')
		  AND created_at + (make_interval(secs => (envelope->'constraints'->>'timeout_ms')::numeric / 1000)) < now()`)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *Store) PendingTasks(ctx context.Context) ([]model.AgentTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, workflow_id, stage_name, agent_type, status, priority, envelope,
			trace_id, span_id, parent_span_id, created_at, updated_at
		FROM agent_task WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return scanTasks(rows)
}

func scanTask(row pgx.Row) (*model.AgentTask, error) {
	var t model.AgentTask
	var envelope []byte
	err := row.Scan(&t.TaskID, &t.WorkflowID, &t.StageName, &t.AgentType, &t.Status, &t.Priority,
		&envelope, &t.TraceID, &t.SpanID, &t.ParentSpanID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal(envelope, &t.Envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]model.AgentTask, error) {
	defer rows.Close()
	var out []model.AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e model.WorkflowEvent) error {
	data, err := marshalJSON(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO workflow_events (workflow_id, kind, data) VALUES ($1,$2,$3)`,
		e.WorkflowID, e.Kind, data)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, workflowID string) ([]model.WorkflowEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT workflow_id, kind, data, created_at
		FROM workflow_events WHERE workflow_id = $1 ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []model.WorkflowEvent
	for rows.Next() {
		var e model.WorkflowEvent
		var data []byte
		if err := rows.Scan(&e.WorkflowID, &e.Kind, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
