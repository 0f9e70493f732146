// Package orcherr defines the typed error kinds the orchestration engine
// surfaces to callers (§7 of the specification: Transport, Validation,
// DefinitionInvalid, SurfaceNotBound, AgentUnavailable, Timeout, Conflict,
// Internal).
//
// Each kind is a sentinel matched with errors.Is, paired with a wrapping
// struct that carries the context needed for logs and audit entries without
// forcing callers to parse error strings.
package orcherr

import "errors"

// Kind classifies an engine-level failure.
type Kind string

const (
	// KindTransport marks a message substrate connect/publish failure.
	KindTransport Kind = "transport"
	// KindValidation marks an envelope or result that failed schema validation.
	KindValidation Kind = "validation"
	// KindDefinitionInvalid marks a workflow definition referencing an unknown
	// agent type or a routing target that cannot reach END.
	KindDefinitionInvalid Kind = "definition_invalid"
	// KindSurfaceNotBound marks an ingress rejected by the surface binding gate.
	KindSurfaceNotBound Kind = "surface_not_bound"
	// KindAgentUnavailable marks a dispatch attempt with no online agent of the
	// required type.
	KindAgentUnavailable Kind = "agent_unavailable"
	// KindTimeout marks a task that exceeded its constraints.timeout_ms.
	KindTimeout Kind = "timeout"
	// KindConflict marks a compare-and-set mismatch on a workflow row.
	KindConflict Kind = "conflict"
	// KindInternal marks a programmer error or broken invariant.
	KindInternal Kind = "internal"
	// KindPlatformNotFound marks a createWorkflow request referencing an
	// unknown platform_id.
	KindPlatformNotFound Kind = "platform_not_found"
)

var (
	// ErrTransport matches every Error with Kind == KindTransport.
	ErrTransport = errors.New("message substrate transport error")
	// ErrValidation matches every Error with Kind == KindValidation.
	ErrValidation = errors.New("schema validation error")
	// ErrDefinitionInvalid matches every Error with Kind == KindDefinitionInvalid.
	ErrDefinitionInvalid = errors.New("workflow definition invalid")
	// ErrSurfaceNotBound matches every Error with Kind == KindSurfaceNotBound.
	ErrSurfaceNotBound = errors.New("surface not bound")
	// ErrAgentUnavailable matches every Error with Kind == KindAgentUnavailable.
	ErrAgentUnavailable = errors.New("no online agent for required type")
	// ErrTimeout matches every Error with Kind == KindTimeout.
	ErrTimeout = errors.New("task exceeded its deadline")
	// ErrConflict matches every Error with Kind == KindConflict.
	ErrConflict = errors.New("version conflict")
	// ErrInternal matches every Error with Kind == KindInternal.
	ErrInternal = errors.New("internal invariant violated")
	// ErrPlatformNotFound matches every Error with Kind == KindPlatformNotFound.
	ErrPlatformNotFound = errors.New("platform not found")
)

var sentinels = map[Kind]error{
	KindTransport:         ErrTransport,
	KindValidation:        ErrValidation,
	KindDefinitionInvalid: ErrDefinitionInvalid,
	KindSurfaceNotBound:   ErrSurfaceNotBound,
	KindAgentUnavailable:  ErrAgentUnavailable,
	KindTimeout:           ErrTimeout,
	KindConflict:          ErrConflict,
	KindInternal:          ErrInternal,
	KindPlatformNotFound:  ErrPlatformNotFound,
}

// Error wraps a Kind with the context needed to act on or log the failure.
// Reason is a short machine-readable string suitable for
// stage_outputs.validation_error or a WORKFLOW_FAILED event payload.
type Error struct {
	Kind      Kind
	Reason    string
	WorkflowID string
	Cause     error
}

// New constructs an Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// WithWorkflow attaches the workflow ID the error pertains to and returns e
// for chaining.
func (e *Error) WithWorkflow(workflowID string) *Error {
	e.WorkflowID = workflowID
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.WorkflowID != "" {
		return string(e.Kind) + ": " + e.Reason + " (workflow " + e.WorkflowID + ")"
	}
	return string(e.Kind) + ": " + e.Reason
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is(err, orcherr.ErrTimeout) style classification without
// callers needing to know about the Error struct.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// As extracts a typed *Error from err, if any.
func As(err error) (*Error, bool) {
	var typed *Error
	if !errors.As(err, &typed) {
		return nil, false
	}
	return typed, true
}

// KindOf reports the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return ""
}
