package guardrail

import "github.com/CharanRayudu/SentryAI/internal/mission"

// AgentStep is the strict JSON contract the model must return on every
// non-initial turn. Exactly one of ToolCall or IsComplete's implied
// termination applies: a step either requests a tool call or declares
// completion; it never requests a tool call while IsComplete is true.
type AgentStep struct {
	Thought      string           `json:"thought"`
	Reasoning    string           `json:"reasoning"`
	ToolCall     *mission.ToolCall `json:"tool_call,omitempty"`
	StatusUpdate string           `json:"status_update"`
	IsComplete   bool             `json:"is_complete"`
	Findings     []mission.Finding `json:"findings,omitempty"`
}

// PlanProposal is the first-turn shape: a candidate ExecutionPlan awaiting
// approval (or immediate execution, in auto-pilot).
type PlanProposal struct {
	PlanID string               `json:"plan_id"`
	Steps  []mission.PlanStep `json:"steps"`
}

// agentStepSchemaJSON is compiled once by compileSchema and used to implement
// validation pipeline step 3 (SCHEMA_INVALID) for non-initial turns.
const agentStepSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["thought", "reasoning", "status_update", "is_complete"],
  "properties": {
    "thought": {"type": "string"},
    "reasoning": {"type": "string"},
    "status_update": {"type": "string"},
    "is_complete": {"type": "boolean"},
    "tool_call": {
      "type": "object",
      "required": ["tool_name", "arguments", "target"],
      "properties": {
        "tool_name": {"type": "string"},
        "arguments": {"type": "object"},
        "target": {"type": "string"},
        "rationale": {"type": "string"},
        "expected_output": {"type": "string"},
        "timeout_seconds": {"type": "integer"}
      }
    },
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["severity", "title"],
        "properties": {
          "severity": {"enum": ["critical", "high", "medium", "low", "info"]},
          "title": {"type": "string"}
        }
      }
    }
  }
}`

// planProposalSchemaJSON is compiled once and used for the first-turn shape.
const planProposalSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["plan_id", "steps"],
  "properties": {
    "plan_id": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title", "risk", "tool"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "title": {"type": "string"},
          "risk": {"enum": ["low", "medium", "high"]},
          "tool": {
            "type": "object",
            "required": ["tool_name", "arguments", "target"],
            "properties": {
              "tool_name": {"type": "string"},
              "arguments": {"type": "object"},
              "target": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`
