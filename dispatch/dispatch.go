// Package dispatch implements the task dispatcher (C6): persist-then-publish
// ordering, the pre-dispatch agent registry check, and dispatch idempotency
// on envelope message_id.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowforge/orchestrator/agentregistry"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
	"github.com/flowforge/orchestrator/substrate"
	"github.com/flowforge/orchestrator/telemetry"
)

// Store is the C2 slice the dispatcher depends on.
type Store interface {
	CreateTask(ctx context.Context, t *model.AgentTask) (*model.AgentTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error
	TaskByMessageID(ctx context.Context, messageID string) (*model.AgentTask, error)
}

// Dispatcher is the C6 task dispatcher.
type Dispatcher struct {
	store    Store
	bus      substrate.Bus
	registry agentregistry.Registry
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	breaker  *gobreaker.CircuitBreaker
}

// Options configures a Dispatcher.
type Options struct {
	Store    Store
	Bus      substrate.Bus
	Registry agentregistry.Registry
	Logger   telemetry.Logger
	Tracer   telemetry.Tracer
	// BreakerName scopes the gobreaker circuit wrapping publish calls and
	// registry checks, so a flapping substrate/registry degrades to fast
	// *AgentUnavailable*/*Transport* failures instead of blocking workflow
	// creation indefinitely.
	BreakerName string
}

// New constructs a Dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	name := opts.BreakerName
	if name == "" {
		name = "dispatch"
	}
	return &Dispatcher{
		store:    opts.Store,
		bus:      opts.Bus,
		registry: opts.Registry,
		logger:   logger,
		tracer:   tracer,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Dispatch implements §4.3: pre-dispatch registry check, idempotent
// persist, then publish, then mark dispatched. If publish fails, the task
// remains pending for the separate pending-task reaper to retry
// (at-least-once; agents deduplicate on message_id).
//
// Idempotency is keyed on envelope message_id, but only short-circuits once
// the prior attempt actually reached dispatched: a task still sitting in
// pending (the publish half of a previous call never succeeded) is reused
// and its publish retried here, rather than handed back as if already
// delivered — otherwise the pending-task reaper's retry call would be a
// permanent no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, env model.AgentEnvelope, stageName string, platformID *string) (*model.AgentTask, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch")
	defer span.End()

	existing, err := d.store.TaskByMessageID(ctx, env.MessageID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "check dispatch idempotency", err)
	}
	if existing != nil && existing.Status != model.TaskPending {
		d.logger.Warn(ctx, "dispatch: replaying an already-dispatched envelope, returning existing task",
			"message_id", env.MessageID, "task_id", existing.TaskID)
		return existing, nil
	}

	online, err := d.breakerCheck(ctx, env.AgentType, platformID)
	if err != nil {
		return nil, err
	}
	if !online {
		return nil, orcherr.New(orcherr.KindAgentUnavailable,
			"no online agent for type "+env.AgentType).WithWorkflow(env.WorkflowID)
	}

	task := existing
	if task == nil {
		task = &model.AgentTask{
			TaskID: env.TaskID, WorkflowID: env.WorkflowID, StageName: stageName, AgentType: env.AgentType,
			Priority: env.Priority, Envelope: env,
			TraceID: env.Trace.TraceID, SpanID: env.Trace.SpanID, ParentSpanID: env.Trace.ParentSpanID,
		}
		task, err = d.store.CreateTask(ctx, task)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "persist agent task", err).WithWorkflow(env.WorkflowID)
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "marshal envelope for publish", err)
	}

	if _, err := d.breaker.Execute(func() (any, error) {
		return nil, d.bus.Publish(ctx, substrate.TaskChannel(env.AgentType), payload, substrate.PublishOptions{
			Key: env.WorkflowID, MirrorToStream: true,
		})
	}); err != nil {
		d.logger.Warn(ctx, "dispatch: publish failed, task remains pending for the reaper",
			"task_id", task.TaskID, "agent_type", env.AgentType, "error", err)
		return task, orcherr.Wrap(orcherr.KindTransport, "publish task envelope", err).WithWorkflow(env.WorkflowID)
	}

	if err := d.store.UpdateTaskStatus(ctx, task.TaskID, model.TaskDispatched); err != nil {
		return task, orcherr.Wrap(orcherr.KindInternal, "mark task dispatched", err).WithWorkflow(env.WorkflowID)
	}
	task.Status = model.TaskDispatched
	return task, nil
}

func (d *Dispatcher) breakerCheck(ctx context.Context, agentType string, platformID *string) (bool, error) {
	result, err := d.breaker.Execute(func() (any, error) {
		return d.registry.Exists(ctx, agentType, platformID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return false, nil
		}
		return false, orcherr.Wrap(orcherr.KindInternal, "agent registry check failed", err)
	}
	return result.(bool), nil
}
