package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/orcherr"
)

// DefaultTimeoutMS is used when a StageDefinition does not specify timeout_ms.
const DefaultTimeoutMS = 300_000

// DefaultMaxRetries is used when a StageDefinition does not specify
// max_retries.
const DefaultMaxRetries = 3

// DefaultRequiredConfidence is the required_confidence applied to every
// envelope; the specification does not make this configurable per stage.
const DefaultRequiredConfidence = 80

// Builder is the sole producer of AgentEnvelope v2.0.0 messages (C5). It
// round-trips every envelope it builds through a Validator before handing it
// to the caller; a validation failure here is a programmer error (§7
// Internal), never a runtime condition.
type Builder struct {
	validator *Validator
	createdBy string
	now       func() time.Time
}

// NewBuilder constructs a Builder. createdBy identifies this process in the
// envelope's metadata.created_by field (e.g. "orchestrator").
func NewBuilder(validator *Validator, createdBy string) *Builder {
	return &Builder{validator: validator, createdBy: createdBy, now: time.Now}
}

// Params carries everything Build needs to construct one envelope for a
// stage dispatch.
type Params struct {
	Workflow     *model.Workflow
	Stage        model.StageDefinition
	StageOutputs map[string]any
	Surface      *model.SurfaceContext
}

// Build constructs one AgentEnvelope for the given stage of the given
// workflow. It generates a fresh message_id and task_id, a fresh span_id
// with parent_span_id set to the workflow's current span, and embeds the
// full workflow_context including every predecessor stage's output so the
// agent reads its inputs exclusively from the envelope.
func (b *Builder) Build(p Params) (model.AgentEnvelope, error) {
	if p.Workflow == nil {
		return model.AgentEnvelope{}, orcherr.New(orcherr.KindInternal, "build envelope: workflow is nil")
	}
	timeoutMS := int64(DefaultTimeoutMS)
	if p.Stage.TimeoutMS != nil {
		timeoutMS = *p.Stage.TimeoutMS
	}
	maxRetries := DefaultMaxRetries
	if p.Stage.MaxRetries != nil {
		maxRetries = *p.Stage.MaxRetries
	}

	parentSpan := p.Workflow.Trace.CurrentSpanID
	var parentSpanPtr *string
	if parentSpan != "" {
		parentSpanPtr = &parentSpan
	}

	outputs := p.StageOutputs
	if outputs == nil {
		outputs = map[string]any{}
	}

	env := model.AgentEnvelope{
		MessageID: uuid.NewString(),
		TaskID:    uuid.NewString(),
		WorkflowID: p.Workflow.ID,
		AgentType:  p.Stage.AgentType,
		Priority:   model.PriorityMedium,
		Status:     model.EnvelopePending,
		Constraints: model.Constraints{
			TimeoutMS:          timeoutMS,
			MaxRetries:         maxRetries,
			RequiredConfidence: DefaultRequiredConfidence,
		},
		RetryCount: 0,
		Payload:    map[string]any{},
		Metadata: model.EnvelopeMetadata{
			CreatedAt:       b.now().UTC(),
			CreatedBy:       b.createdBy,
			EnvelopeVersion: model.EnvelopeVersion,
		},
		Trace: model.EnvelopeTrace{
			TraceID:      p.Workflow.Trace.TraceID,
			SpanID:       uuid.NewString(),
			ParentSpanID: parentSpanPtr,
		},
		WorkflowContext: model.WorkflowContext{
			WorkflowType: p.Workflow.Type,
			WorkflowName: p.Workflow.Name,
			CurrentStage: p.Stage.Name,
			StageOutputs: outputs,
			Surface:      p.Surface,
		},
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return model.AgentEnvelope{}, orcherr.Wrap(orcherr.KindInternal, "marshal envelope for validation", err)
	}
	if err := b.validator.ValidateEnvelope(raw); err != nil {
		return model.AgentEnvelope{}, orcherr.Wrap(orcherr.KindInternal, "envelope failed schema round-trip", err)
	}
	var roundTripped model.AgentEnvelope
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		return model.AgentEnvelope{}, orcherr.Wrap(orcherr.KindInternal, "unmarshal round-tripped envelope", err)
	}
	return env, nil
}

// Marshal serializes an envelope to its wire JSON form.
func Marshal(env model.AgentEnvelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

// Unmarshal parses wire JSON into an AgentEnvelope.
func Unmarshal(raw []byte) (model.AgentEnvelope, error) {
	var env model.AgentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.AgentEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
