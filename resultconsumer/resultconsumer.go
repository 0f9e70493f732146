// Package resultconsumer implements the result consumer (C7): a long-lived
// subscription to orchestrator:results that validates every AgentResult and
// feeds the workflow state machine a STAGE_COMPLETE or STAGE_FAILED event.
package resultconsumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/substrate"
	"github.com/flowforge/orchestrator/telemetry"
	"github.com/flowforge/orchestrator/workflow"
)

// errMissingCorrelation marks a result lacking workflow_id or stage — the
// orchestrator must not guess either (§4.4 "Key observation").
var errMissingCorrelation = errors.New("result missing workflow_id or stage")

// Machine is the C8 slice the consumer depends on.
type Machine interface {
	HandleResult(ctx context.Context, ev workflow.Event) error
}

// Consumer drives the C7 result consumer loop.
type Consumer struct {
	bus       substrate.Bus
	validator *envelope.Validator
	machine   Machine
	logger    telemetry.Logger
	tracer    telemetry.Tracer
	// consumerName identifies this process within the shared results
	// consumer group, so multiple orchestrator replicas fan results out
	// among themselves rather than each receiving every message.
	consumerName string
}

// Options configures a Consumer.
type Options struct {
	Bus          substrate.Bus
	Validator    *envelope.Validator
	Machine      Machine
	Logger       telemetry.Logger
	Tracer       telemetry.Tracer
	ConsumerName string
}

// New constructs a Consumer.
func New(opts Options) *Consumer {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Consumer{
		bus: opts.Bus, validator: opts.Validator, machine: opts.Machine,
		logger: logger, tracer: tracer, consumerName: opts.ConsumerName,
	}
}

// Run blocks, consuming orchestrator:results under the single shared
// results consumer group until ctx is canceled or the substrate reports an
// unrecoverable transport error on the initial connect (§4.4).
func (c *Consumer) Run(ctx context.Context) error {
	return c.bus.Subscribe(ctx, substrate.ResultsChannel, substrate.SubscribeOptions{
		ConsumerGroup: substrate.ResultsConsumerGroup,
		ConsumerName:  c.consumerName,
	}, c.handle)
}

// handle processes one AgentResult message. A non-nil return leaves the
// message unacknowledged for redelivery. Errors come from a
// schema-validation failure or a missing correlation field (both of which
// §4.4 requires never be acked), an unmarshal failure, or an error from
// the machine's HandleResult.
func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	ctx, span := c.tracer.Start(ctx, "resultconsumer.handle")
	defer span.End()

	if err := c.validator.ValidateResult(payload); err != nil {
		c.logger.Error(ctx, "resultconsumer: result failed schema validation, leaving unacked", "error", err)
		return err
	}

	var result model.AgentResult
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Error(ctx, "resultconsumer: result failed to unmarshal despite passing schema validation", "error", err)
		return err
	}

	if result.WorkflowID == "" || result.Stage == "" {
		c.logger.Error(ctx, "resultconsumer: result missing workflow_id or stage, treating as a bad message",
			"message_id", result.MessageID)
		return errMissingCorrelation
	}

	ev := workflow.Event{
		WorkflowID: result.WorkflowID,
		Stage:      result.Stage,
		ResultData: result.Result.Data,
		DurationMS: result.Result.Metrics.DurationMS,
	}
	if result.Status == model.ResultFailed || !result.Success {
		ev.Kind = workflow.EventStageFailed
		ev.Reason = reasonFrom(result)
	} else {
		ev.Kind = workflow.EventStageComplete
	}

	return c.machine.HandleResult(ctx, ev)
}

func reasonFrom(result model.AgentResult) string {
	if len(result.Errors) == 0 {
		return ""
	}
	return result.Errors[0].Code + ": " + result.Errors[0].Message
}
