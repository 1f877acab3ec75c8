package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/guardrail/provider"
	"github.com/CharanRayudu/SentryAI/internal/tools"
)

type fakeLookup map[string]*tools.Schema

func (f fakeLookup) Get(name string) (*tools.Schema, bool) {
	s, ok := f[name]
	return s, ok
}

func nmapSchema() *tools.Schema {
	return &tools.Schema{
		Name:           "nmap",
		BinaryPath:     "/usr/bin/nmap",
		OutputFormat:   tools.OutputText,
		DefaultTimeout: 60,
		Parameters: []tools.Parameter{
			{Name: "target", Type: tools.TypeString, Required: true},
		},
	}
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestValidateStepAcceptsWellFormedOutput(t *testing.T) {
	lookup := fakeLookup{"nmap": nmapSchema()}
	raw := `{"thought":"t","reasoning":"r","status_update":"scanning","is_complete":false,"tool_call":{"tool_name":"nmap","arguments":{"target":"example.com"},"target":"example.com"}}`

	step, err := ValidateStep(lookup, raw)
	require.NoError(t, err)
	require.False(t, step.IsComplete)
	require.Equal(t, "nmap", step.ToolCall.ToolName)
}

func TestValidateStepRejectsInvalidJSON(t *testing.T) {
	_, err := ValidateStep(fakeLookup{}, "not json")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, FailureJSONInvalid, verr.Code)
}

func TestValidateStepRejectsSchemaInvalid(t *testing.T) {
	_, err := ValidateStep(fakeLookup{}, `{"thought":"t"}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, FailureSchemaInvalid, verr.Code)
}

func TestValidateStepRejectsHallucinatedTool(t *testing.T) {
	raw := `{"thought":"t","reasoning":"r","status_update":"s","is_complete":false,"tool_call":{"tool_name":"ghost","arguments":{},"target":"x"}}`
	_, err := ValidateStep(fakeLookup{}, raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, FailureHallucinated, verr.Code)
}

func TestValidateStepRejectsBadArguments(t *testing.T) {
	lookup := fakeLookup{"nmap": nmapSchema()}
	raw := `{"thought":"t","reasoning":"r","status_update":"s","is_complete":false,"tool_call":{"tool_name":"nmap","arguments":{},"target":"x"}}`
	_, err := ValidateStep(lookup, raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, FailureBadArguments, verr.Code)
}

func TestValidateStepRejectsSafetyViolation(t *testing.T) {
	lookup := fakeLookup{"nmap": nmapSchema()}
	raw := `{"thought":"t","reasoning":"r","status_update":"s","is_complete":false,"tool_call":{"tool_name":"nmap","arguments":{"target":"rm -rf / "},"target":"x"}}`
	_, err := ValidateStep(lookup, raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, FailureSafetyViolation, verr.Code)
}

func TestValidatePlanProposalAcceptsWellFormedPlan(t *testing.T) {
	lookup := fakeLookup{"nmap": nmapSchema()}
	raw := `{"plan_id":"p1","steps":[{"id":1,"title":"scan","risk":"low","tool":{"tool_name":"nmap","arguments":{"target":"example.com"},"target":"example.com"}}]}`

	plan, err := ValidatePlanProposal(lookup, raw)
	require.NoError(t, err)
	require.Equal(t, "p1", plan.PlanID)
	require.Len(t, plan.Steps, 1)
}

type scriptedProvider struct {
	responses []provider.Response
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ provider.Request) (provider.Response, error) {
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

func TestLoopNextStepRetriesThenSucceeds(t *testing.T) {
	lookup := fakeLookup{"nmap": nmapSchema()}
	good := `{"thought":"t","reasoning":"r","status_update":"s","is_complete":true}`
	p := &scriptedProvider{responses: []provider.Response{
		{Text: "not json"},
		{Text: good},
	}}
	loop := &Loop{Provider: p, Tools: lookup, System: "identity"}

	step, err := loop.NextStep(context.Background(), PromptBlocks{Objective: "scan example.com"})
	require.NoError(t, err)
	require.True(t, step.IsComplete)
	require.Equal(t, 2, p.calls)
}

func TestLoopNextStepExhaustsRetriesAndSynthesizesTerminalStep(t *testing.T) {
	lookup := fakeLookup{}
	p := &scriptedProvider{responses: []provider.Response{
		{Text: "not json"},
		{Text: "still not json"},
		{Text: "nope"},
	}}
	loop := &Loop{Provider: p, Tools: lookup, System: "identity"}

	step, err := loop.NextStep(context.Background(), PromptBlocks{Objective: "scan example.com"})
	require.NoError(t, err)
	require.True(t, step.IsComplete)
	require.Equal(t, "agent error", step.StatusUpdate)
	require.Equal(t, maxRetries, p.calls)
}

func TestPromptBlocksAssembleOrdersSections(t *testing.T) {
	blocks := PromptBlocks{
		Identity:      "identity block",
		ToolCatalog:   []*tools.Schema{nmapSchema()},
		ScopeSummary:  "scope summary",
		BudgetSummary: "budget summary",
		Objective:     "scan example.com",
	}
	prompt := blocks.Assemble()

	identityIdx := indexOf(prompt, "identity block")
	toolsIdx := indexOf(prompt, "## Available tools")
	scopeIdx := indexOf(prompt, "## Scope")
	budgetIdx := indexOf(prompt, "## Budget")
	objectiveIdx := indexOf(prompt, "## Objective")

	require.True(t, identityIdx < toolsIdx)
	require.True(t, toolsIdx < scopeIdx)
	require.True(t, scopeIdx < budgetIdx)
	require.True(t, budgetIdx < objectiveIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
