// Package guardrail implements the LLM Guardrail Loop (component D): prompt
// assembly, a strict JSON output contract, and a six-step validation
// pipeline that turns raw model output into a typed AgentStep or
// PlanProposal, making up to three attempts (the first call plus two
// error-feedback retries) before synthesizing a terminal failure step.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/guardrail/provider"
	"github.com/CharanRayudu/SentryAI/internal/mission"
	"github.com/CharanRayudu/SentryAI/internal/tools"
)

// FailureCode enumerates the validation pipeline's distinct rejection
// reasons, each independently testable.
type FailureCode string

const (
	FailureNone            FailureCode = ""
	FailureJSONInvalid     FailureCode = "JSON_INVALID"
	FailureSchemaInvalid   FailureCode = "SCHEMA_INVALID"
	FailureHallucinated    FailureCode = "HALLUCINATED_TOOL"
	FailureBadArguments    FailureCode = "BAD_ARGUMENTS"
	FailureSafetyViolation FailureCode = "SAFETY_VIOLATION"
)

// ValidationError is returned by the pipeline when a turn's output is
// rejected, carrying the code fed back to the model on retry.
type ValidationError struct {
	Code    FailureCode
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToolLookup resolves a registered tool's schema, used by pipeline steps 4-5
// (HALLUCINATED_TOOL, BAD_ARGUMENTS).
type ToolLookup interface {
	Get(name string) (*tools.Schema, bool)
}

// safetyPatterns are compiled once and scanned against the serialized
// tool_call.arguments of every candidate step (pipeline step 6).
var safetyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/(?:\s|$)`),
	regexp.MustCompile(`(?i)\bcurl\b[^|]*\|\s*(sh|bash|zsh)\b`),
	regexp.MustCompile(`(?i)\bwget\b[^|]*\|\s*(sh|bash|zsh)\b`),
	regexp.MustCompile(`(?i)dd\s+if=.*of=/dev/`),
	regexp.MustCompile(`(?i)chmod\s+(-R\s+)?(777|a\+rwx)\b`),
	regexp.MustCompile(`(?i):\(\)\s*\{\s*:\|:&\s*\};:`), // fork bomb
	regexp.MustCompile(`(?i)mkfs\.`),
}

var codeFence = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*\\n?(.*?)\\n?```\\s*$")

// stripCodeFence implements pipeline step 1.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

func compileSchema(name, schemaJSON string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("guardrail: invalid embedded schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("guardrail: add schema resource %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("guardrail: compile schema %s: %v", name, err))
	}
	return s
}

var (
	agentStepSchema    = compileSchema("agent_step.json", agentStepSchemaJSON)
	planProposalSchema = compileSchema("plan_proposal.json", planProposalSchemaJSON)
)

// parseJSON implements pipeline step 2.
func parseJSON(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &ValidationError{Code: FailureJSONInvalid, Message: err.Error()}
	}
	return v, nil
}

// validateAgainstSchema implements pipeline step 3.
func validateAgainstSchema(schema *jsonschema.Schema, doc any) error {
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Code: FailureSchemaInvalid, Message: err.Error()}
	}
	return nil
}

// validateToolCall implements pipeline steps 4-5 for a single tool_call.
func validateToolCall(lookup ToolLookup, tc *mission.ToolCall) error {
	if tc == nil {
		return nil
	}
	schema, ok := lookup.Get(tc.ToolName)
	if !ok {
		return &ValidationError{Code: FailureHallucinated, Field: "tool_call.name", Message: fmt.Sprintf("tool %q is not registered", tc.ToolName)}
	}
	if err := schema.ValidateArguments(tc.Arguments); err != nil {
		return &ValidationError{Code: FailureBadArguments, Field: "tool_call.arguments", Message: err.Error()}
	}
	return nil
}

// scanSafety implements pipeline step 6 against a tool_call's serialized
// arguments.
func scanSafety(tc *mission.ToolCall) error {
	if tc == nil {
		return nil
	}
	raw, err := json.Marshal(tc.Arguments)
	if err != nil {
		return nil // not this check's concern; arguments will fail elsewhere
	}
	for _, p := range safetyPatterns {
		if p.Match(raw) {
			return &ValidationError{Code: FailureSafetyViolation, Field: "tool_call.arguments", Message: fmt.Sprintf("matched pattern %q", p.String())}
		}
	}
	return nil
}

// ValidateStep runs the full six-step pipeline against raw model output,
// decoding into an AgentStep on success.
func ValidateStep(lookup ToolLookup, raw string) (AgentStep, error) {
	stripped := stripCodeFence(raw)
	doc, err := parseJSON(stripped)
	if err != nil {
		return AgentStep{}, err
	}
	if err := validateAgainstSchema(agentStepSchema, doc); err != nil {
		return AgentStep{}, err
	}
	var step AgentStep
	if err := json.Unmarshal([]byte(stripped), &step); err != nil {
		return AgentStep{}, &ValidationError{Code: FailureJSONInvalid, Message: err.Error()}
	}
	if err := validateToolCall(lookup, step.ToolCall); err != nil {
		return AgentStep{}, err
	}
	if err := scanSafety(step.ToolCall); err != nil {
		return AgentStep{}, err
	}
	return step, nil
}

// ValidatePlanProposal runs the pipeline's JSON/schema checks plus per-step
// tool validation against the first-turn plan-proposal shape.
func ValidatePlanProposal(lookup ToolLookup, raw string) (PlanProposal, error) {
	stripped := stripCodeFence(raw)
	doc, err := parseJSON(stripped)
	if err != nil {
		return PlanProposal{}, err
	}
	if err := validateAgainstSchema(planProposalSchema, doc); err != nil {
		return PlanProposal{}, err
	}
	var plan PlanProposal
	if err := json.Unmarshal([]byte(stripped), &plan); err != nil {
		return PlanProposal{}, &ValidationError{Code: FailureJSONInvalid, Message: err.Error()}
	}
	for i := range plan.Steps {
		tc := plan.Steps[i].Tool
		if err := validateToolCall(lookup, &tc); err != nil {
			return PlanProposal{}, err
		}
		if err := scanSafety(&tc); err != nil {
			return PlanProposal{}, err
		}
	}
	return plan, nil
}

const maxRetries = 3

// terminalAgentErrorStep is returned when retries are exhausted.
func terminalAgentErrorStep() AgentStep {
	return AgentStep{
		StatusUpdate: "agent error",
		IsComplete:   true,
	}
}

// PromptBlocks holds the four composed prompt blocks the caller
// assembles before each turn.
type PromptBlocks struct {
	// Identity is block 1: static identity + prime directives.
	Identity string
	// MemoryContext is block 2: the last k steps pulled from the event fabric.
	MemoryContext []events.Event
	// ToolCatalog is block 3: available tool schemas.
	ToolCatalog []*tools.Schema
	// ScopeSummary and BudgetSummary make up block 4.
	ScopeSummary  string
	BudgetSummary string
	// Objective is the mission objective, appended after the four blocks.
	Objective string
	// PreviousObservation is the prior turn's tool result, empty on the
	// initial turn.
	PreviousObservation string
}

// Assemble renders PromptBlocks into the single text prompt sent to the
// model, in a fixed block order.
func (b PromptBlocks) Assemble() string {
	var sb strings.Builder
	sb.WriteString(b.Identity)
	sb.WriteString("\n\n")

	sb.WriteString("## Recent activity\n")
	if len(b.MemoryContext) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, e := range b.MemoryContext {
		fmt.Fprintf(&sb, "- [%s] %s\n", e.Kind(), summarizeEvent(e))
	}
	sb.WriteString("\n")

	sb.WriteString("## Available tools\n")
	for _, t := range b.ToolCatalog {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", t.Name, t.Category, t.Description)
		for _, p := range t.Parameters {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(&sb, "    %s: %s%s\n", p.Name, p.Type, req)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Scope\n")
	sb.WriteString(b.ScopeSummary)
	sb.WriteString("\n\n## Budget\n")
	sb.WriteString(b.BudgetSummary)
	sb.WriteString("\n\n## Objective\n")
	sb.WriteString(b.Objective)

	if b.PreviousObservation != "" {
		sb.WriteString("\n\n## Previous observation\n")
		sb.WriteString(b.PreviousObservation)
	}
	return sb.String()
}

func summarizeEvent(e events.Event) string {
	return string(e.Kind())
}

// Loop drives one guardrailed model turn: assemble the prompt, call the
// provider, validate, retry with error feedback for at most maxRetries
// attempts in total, and synthesize a terminal step on exhaustion.
type Loop struct {
	Provider provider.Client
	Tools    ToolLookup
	System   string
}

// NextStep runs the guardrail loop for a non-initial turn.
func (l *Loop) NextStep(ctx context.Context, blocks PromptBlocks) (AgentStep, error) {
	prompt := blocks.Assemble()
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if lastErr != nil {
			prompt = prompt + "\n\n## Correction required\nYour previous response was rejected: " + lastErr.Error() + "\nReturn a corrected JSON object only."
		}
		resp, err := l.Provider.Complete(ctx, provider.Request{System: l.System, Prompt: prompt, Temperature: 0})
		if err != nil {
			return AgentStep{}, fmt.Errorf("guardrail: provider call: %w", err)
		}
		step, verr := ValidateStep(l.Tools, resp.Text)
		if verr == nil {
			return step, nil
		}
		lastErr = verr
	}
	return terminalAgentErrorStep(), nil
}

// ProposePlan runs the guardrail loop for the initial, plan-proposal turn.
func (l *Loop) ProposePlan(ctx context.Context, blocks PromptBlocks) (PlanProposal, error) {
	prompt := blocks.Assemble()
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if lastErr != nil {
			prompt = prompt + "\n\n## Correction required\nYour previous response was rejected: " + lastErr.Error() + "\nReturn a corrected JSON object only."
		}
		resp, err := l.Provider.Complete(ctx, provider.Request{System: l.System, Prompt: prompt, Temperature: 0})
		if err != nil {
			return PlanProposal{}, fmt.Errorf("guardrail: provider call: %w", err)
		}
		plan, verr := ValidatePlanProposal(l.Tools, resp.Text)
		if verr == nil {
			return plan, nil
		}
		lastErr = verr
	}
	return PlanProposal{}, fmt.Errorf("guardrail: plan proposal exhausted %d retries: %w", maxRetries, lastErr)
}
