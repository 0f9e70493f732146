// Package envelope implements the sole producer of AgentEnvelope v2.0.0
// messages (C5) and the JSON Schema round-trip validation both envelopes and
// results are subject to before they ever reach the message substrate.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaJSON is the AgentEnvelope v2.0.0 JSON Schema. Kept as a
// literal so the schema travels with the binary and needs no external file
// at runtime.
const envelopeSchemaJSON = `{
  "$id": "https://flowforge.dev/schemas/agent-envelope-2.0.0.json",
  "type": "object",
  "required": ["message_id", "task_id", "workflow_id", "agent_type", "priority", "status", "constraints", "retry_count", "payload", "metadata", "trace", "workflow_context"],
  "properties": {
    "message_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "string", "minLength": 1},
    "workflow_id": {"type": "string", "minLength": 1},
    "agent_type": {"type": "string", "minLength": 1},
    "priority": {"enum": ["low", "medium", "high", "critical"]},
    "status": {"enum": ["pending", "queued", "running"]},
    "retry_count": {"type": "integer", "minimum": 0},
    "constraints": {
      "type": "object",
      "required": ["timeout_ms", "max_retries", "required_confidence"],
      "properties": {
        "timeout_ms": {"type": "integer", "minimum": 0},
        "max_retries": {"type": "integer", "minimum": 0},
        "required_confidence": {"type": "integer", "minimum": 0, "maximum": 100}
      }
    },
    "payload": {"type": "object"},
    "metadata": {
      "type": "object",
      "required": ["created_at", "created_by", "envelope_version"],
      "properties": {
        "created_at": {"type": "string"},
        "created_by": {"type": "string"},
        "envelope_version": {"const": "2.0.0"}
      }
    },
    "trace": {
      "type": "object",
      "required": ["trace_id", "span_id"],
      "properties": {
        "trace_id": {"type": "string", "minLength": 1},
        "span_id": {"type": "string", "minLength": 1},
        "parent_span_id": {"type": "string"}
      }
    },
    "workflow_context": {
      "type": "object",
      "required": ["workflow_type", "workflow_name", "current_stage", "stage_outputs"],
      "properties": {
        "workflow_type": {"type": "string"},
        "workflow_name": {"type": "string"},
        "current_stage": {"type": "string", "minLength": 1},
        "stage_outputs": {"type": "object"}
      }
    }
  }
}`

// resultSchemaJSON is the AgentResult JSON Schema. "failure" is a rejected
// value for status: the canonical value is "failed" per §9 DESIGN NOTES.
const resultSchemaJSON = `{
  "$id": "https://flowforge.dev/schemas/agent-result-1.0.0.json",
  "type": "object",
  "required": ["message_id", "task_id", "workflow_id", "agent_id", "agent_type", "stage", "success", "status", "action", "result", "trace", "timestamp", "version"],
  "properties": {
    "message_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "string", "minLength": 1},
    "workflow_id": {"type": "string", "minLength": 1},
    "agent_id": {"type": "string", "minLength": 1},
    "agent_type": {"type": "string", "minLength": 1},
    "stage": {"type": "string", "minLength": 1},
    "success": {"type": "boolean"},
    "status": {"enum": ["success", "failed", "cancelled"]},
    "action": {"type": "string"},
    "result": {
      "type": "object",
      "required": ["metrics"],
      "properties": {
        "data": {"type": "object"},
        "metrics": {
          "type": "object",
          "required": ["duration_ms"],
          "properties": {
            "duration_ms": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "errors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["code", "message", "recoverable"],
        "properties": {
          "code": {"type": "string"},
          "message": {"type": "string"},
          "recoverable": {"type": "boolean"}
        }
      }
    },
    "trace": {
      "type": "object",
      "required": ["trace_id", "span_id"],
      "properties": {
        "trace_id": {"type": "string", "minLength": 1},
        "span_id": {"type": "string", "minLength": 1}
      }
    },
    "timestamp": {"type": "string"},
    "version": {"type": "string"}
  }
}`

// Validator compiles both schemas once and validates arbitrary JSON payloads
// against them. Round-tripping an envelope or result through the validator
// is a self-check, not a runtime condition: a failure here is §7's Internal
// error kind, a programmer error, not a recoverable one.
type Validator struct {
	envelope *jsonschema.Schema
	result   *jsonschema.Schema
}

// NewValidator compiles the embedded envelope and result schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := addResource(compiler, "agent-envelope-2.0.0.json", envelopeSchemaJSON); err != nil {
		return nil, err
	}
	if err := addResource(compiler, "agent-result-1.0.0.json", resultSchemaJSON); err != nil {
		return nil, err
	}
	env, err := compiler.Compile("agent-envelope-2.0.0.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	res, err := compiler.Compile("agent-result-1.0.0.json")
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	return &Validator{envelope: env, result: res}, nil
}

func addResource(compiler *jsonschema.Compiler, name, schemaJSON string) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
	if err != nil {
		return fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	if err := compiler.AddResource(name, doc); err != nil {
		return fmt.Errorf("add schema resource %s: %w", name, err)
	}
	return nil
}

// ValidateEnvelope validates raw envelope JSON against the AgentEnvelope
// v2.0.0 schema.
func (v *Validator) ValidateEnvelope(raw []byte) error {
	return validate(v.envelope, raw)
}

// ValidateResult validates raw result JSON against the AgentResult schema.
func (v *Validator) ValidateResult(raw []byte) error {
	return validate(v.result, raw)
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return schema.Validate(doc)
}
