// Package agentruntime implements the reusable agent-side executor harness
// (C9): a single substrate subscription, agent-type agnostic, wrapping any
// caller-supplied Executor with envelope validation, registry registration,
// and AgentResult publication.
package agentruntime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/agentregistry"
	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/substrate"
	"github.com/flowforge/orchestrator/telemetry"
)

// Executor runs one task and returns its result data, or an error if the
// task could not be completed. The harness never reshapes env before
// handing it to Executor — the full envelope is the contract (§4.9.2).
type Executor interface {
	Execute(ctx context.Context, env model.AgentEnvelope) (data map[string]any, err error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, env model.AgentEnvelope) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, env model.AgentEnvelope) (map[string]any, error) {
	return f(ctx, env)
}

// Runtime is the C9 agent executor harness.
type Runtime struct {
	agentID   string
	agentType string
	platform  *string

	bus       substrate.Bus
	registry  agentregistry.Registry
	validator *envelope.Validator
	executor  Executor
	logger    telemetry.Logger
	tracer    telemetry.Tracer

	heartbeatInterval time.Duration
	capabilities      []string
	now               func() time.Time
}

// Options configures a Runtime.
type Options struct {
	AgentID      string
	AgentType    string
	PlatformID   *string
	Capabilities []string

	Bus       substrate.Bus
	Registry  agentregistry.Registry
	Validator *envelope.Validator
	Executor  Executor
	Logger    telemetry.Logger
	Tracer    telemetry.Tracer

	// HeartbeatInterval schedules Registry.Heartbeat calls for as long as
	// Run is active. Defaults to 10s.
	HeartbeatInterval time.Duration
}

// New constructs a Runtime. AgentID defaults to a fresh UUID if empty.
func New(opts Options) *Runtime {
	agentID := opts.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Runtime{
		agentID: agentID, agentType: opts.AgentType, platform: opts.PlatformID,
		bus: opts.Bus, registry: opts.Registry, validator: opts.Validator, executor: opts.Executor,
		logger: logger, tracer: tracer, heartbeatInterval: interval, capabilities: opts.Capabilities,
		now: time.Now,
	}
}

// Run registers the agent, starts its heartbeat loop, and blocks consuming
// agent:<type>:tasks under agent-<type>-group until ctx is canceled or
// registration fails (§4.9.1: "refuse startup if registry registration
// fails").
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.registry.Register(ctx, model.AgentRegistryEntry{
		AgentID: r.agentID, AgentType: r.agentType, PlatformID: r.platform,
		Status: model.AgentOnline, Capabilities: r.capabilities, LastHeartbeat: r.now(),
	}); err != nil {
		return err
	}
	defer func() {
		if err := r.registry.Deregister(context.Background(), r.agentID); err != nil {
			r.logger.Warn(ctx, "agentruntime: deregister on shutdown failed", "agent_id", r.agentID, "error", err)
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(heartbeatCtx)

	return r.bus.Subscribe(ctx, substrate.TaskChannel(r.agentType), substrate.SubscribeOptions{
		ConsumerGroup: substrate.TaskConsumerGroup(r.agentType),
		ConsumerName:  r.agentID,
	}, r.handle)
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.registry.Heartbeat(ctx, r.agentID); err != nil {
				r.logger.Warn(ctx, "agentruntime: heartbeat failed", "agent_id", r.agentID, "error", err)
			}
		}
	}
}

// handle implements §4.9 steps 2–4: validate, execute, publish. It never
// returns a non-nil error for an executor failure. The inbound task is left
// unacknowledged when validation, unmarshalling, result marshalling or the
// result publish fails.
func (r *Runtime) handle(ctx context.Context, payload []byte) error {
	ctx, span := r.tracer.Start(ctx, "agentruntime.handle")
	defer span.End()

	if err := r.validator.ValidateEnvelope(payload); err != nil {
		r.logger.Error(ctx, "agentruntime: inbound envelope failed schema validation, leaving unacked",
			"agent_type", r.agentType, "error", err)
		return err
	}

	env, err := envelope.Unmarshal(payload)
	if err != nil {
		r.logger.Error(ctx, "agentruntime: inbound envelope failed to unmarshal despite passing validation",
			"agent_type", r.agentType, "error", err)
		return err
	}

	start := r.now()
	result := r.execute(ctx, env, start)

	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, substrate.ResultsChannel, body, substrate.PublishOptions{
		Key: env.WorkflowID, MirrorToStream: true,
	})
}

// execute invokes the caller's Executor and always produces a well-formed
// AgentResult, converting an executor error into a failed result rather
// than propagating it (§4.9.5: "the task is considered delivered and
// handled even though it failed").
func (r *Runtime) execute(ctx context.Context, env model.AgentEnvelope, start time.Time) model.AgentResult {
	base := model.AgentResult{
		MessageID: uuid.NewString(), TaskID: env.TaskID, WorkflowID: env.WorkflowID,
		AgentID: r.agentID, AgentType: r.agentType, Stage: env.WorkflowContext.CurrentStage,
		Trace: env.Trace, Timestamp: r.now(), Version: "1.0.0",
	}

	data, err := r.executor.Execute(ctx, env)
	duration := r.now().Sub(start).Milliseconds()
	if err != nil {
		base.Success = false
		base.Status = model.ResultFailed
		base.Action = "failed"
		base.Result = model.ResultData{Data: map[string]any{}, Metrics: model.ResultMetrics{DurationMS: duration}}
		base.Errors = []model.ResultError{{Code: "EXECUTOR_ERROR", Message: err.Error(), Recoverable: false}}
		return base
	}

	base.Success = true
	base.Status = model.ResultSuccess
	base.Action = "completed"
	base.Result = model.ResultData{Data: data, Metrics: model.ResultMetrics{DurationMS: duration}}
	return base
}
