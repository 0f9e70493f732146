// Package reaper runs the two periodic sweeps §4.3 and §5 require: retrying
// tasks stuck in pending (publish failed after persistence) and failing
// tasks whose envelope timeout has elapsed with no result. Both are driven
// by a single robfig/cron schedule rather than a bare time.Ticker loop, so
// the two jobs can carry independent cron expressions if operators need
// that later.
package reaper

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/flowforge/orchestrator/dispatch"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/store"
	"github.com/flowforge/orchestrator/telemetry"
	"github.com/flowforge/orchestrator/workflow"
)

// Machine is the C8 slice the timeout reaper depends on to fail a stale
// stage.
type Machine interface {
	HandleResult(ctx context.Context, ev workflow.Event) error
}

// Reaper owns the cron schedule for the pending-task and stale-task sweeps.
type Reaper struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	machine    Machine
	logger     telemetry.Logger

	cron *cron.Cron
	spec string
}

// Options configures a Reaper.
type Options struct {
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Machine    Machine
	Logger     telemetry.Logger
	// Spec is the cron expression both sweeps run on. Defaults to "@every 15s".
	Spec string
}

// New constructs a Reaper. Call Start to begin running the sweeps.
func New(opts Options) *Reaper {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	spec := opts.Spec
	if spec == "" {
		spec = "@every 15s"
	}
	return &Reaper{store: opts.Store, dispatcher: opts.Dispatcher, machine: opts.Machine, logger: logger, spec: spec, cron: cron.New()}
}

// Start registers both sweeps and starts the cron scheduler in the
// background. Call Stop to drain in-flight runs on shutdown.
func (r *Reaper) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() { r.sweepPending(ctx) }); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(r.spec, func() { r.sweepStale(ctx) }); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// sweepPending retries every task still in status pending — a publish that
// failed after the task row was persisted (§4.3 "retried by a separate
// pending-task reaper").
func (r *Reaper) sweepPending(ctx context.Context) {
	tasks, err := r.store.PendingTasks(ctx)
	if err != nil {
		r.logger.Warn(ctx, "reaper: list pending tasks failed", "error", err)
		return
	}
	for _, t := range tasks {
		var platformID *string
		if surf := t.Envelope.WorkflowContext.Surface; surf != nil {
			platformID = &surf.PlatformID
		}
		if _, err := r.dispatcher.Dispatch(ctx, t.Envelope, t.StageName, platformID); err != nil {
			r.logger.Warn(ctx, "reaper: retry of pending task failed", "task_id", t.TaskID, "error", err)
		}
	}
}

// sweepStale fails every dispatched/running task whose envelope timeout has
// elapsed, feeding the state machine a TIMEOUT event so the workflow can
// route to the stage's on_failure target rather than hanging forever (§5
// "Timeouts").
func (r *Reaper) sweepStale(ctx context.Context) {
	tasks, err := r.store.StaleTasks(ctx)
	if err != nil {
		r.logger.Warn(ctx, "reaper: list stale tasks failed", "error", err)
		return
	}
	for _, t := range tasks {
		if err := r.store.UpdateTaskStatus(ctx, t.TaskID, model.TaskFailed); err != nil {
			r.logger.Warn(ctx, "reaper: mark stale task failed failed", "task_id", t.TaskID, "error", err)
		}
		ev := workflow.Event{WorkflowID: t.WorkflowID, Kind: workflow.EventTimeout, Stage: t.StageName, Reason: "stage timed out"}
		if err := r.machine.HandleResult(ctx, ev); err != nil {
			r.logger.Warn(ctx, "reaper: deliver timeout event failed", "workflow_id", t.WorkflowID, "stage", t.StageName, "error", err)
		}
	}
}
