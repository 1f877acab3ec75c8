package mission

import (
	"context"
	"fmt"

	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/guardrail"
	"github.com/CharanRayudu/SentryAI/internal/tools"
)

// Notifier dispatches external finding notifications. Message formatting
// for any given channel (email, webhook, chat) is deliberately left to the
// caller's implementation; Notifier exists only so the per-step loop has
// somewhere to dispatch to. The default NoopNotifier drops every call.
type Notifier interface {
	NotifyFinding(ctx context.Context, f Finding) error
}

// NoopNotifier implements Notifier by doing nothing.
type NoopNotifier struct{}

// NotifyFinding implements Notifier.
func (NoopNotifier) NotifyFinding(context.Context, Finding) error { return nil }

// Deps bundles everything the Mission Workflow's activities need: the
// guardrail loop (LLM calls), the tool registry/dispatcher (tool execution),
// the event bus (event emission), and an optional external notifier. All
// four are non-deterministic and therefore live behind activities, never
// called directly from the workflow body.
type Deps struct {
	Guardrail   *guardrail.Loop
	ToolLookup  guardrail.ToolLookup
	ToolCatalog []*tools.Schema
	Dispatcher  tools.Dispatcher
	Events      events.Bus
	Notifier    Notifier
}

// ProposePlanInput is the activity input for the initial, plan-proposing
// guardrail turn.
type ProposePlanInput struct {
	Objective     string
	Targets       []string
	ScopeSummary  string
	BudgetSummary string
}

func (d *Deps) activityProposePlan(ctx context.Context, input any) (any, error) {
	in, ok := input.(ProposePlanInput)
	if !ok {
		return nil, fmt.Errorf("mission: propose_plan activity received %T, want ProposePlanInput", input)
	}
	blocks := guardrail.PromptBlocks{
		Identity:      IdentityPrompt,
		ToolCatalog:   d.ToolCatalog,
		ScopeSummary:  in.ScopeSummary,
		BudgetSummary: in.BudgetSummary,
		Objective:     fmt.Sprintf("%s\nTargets: %v", in.Objective, in.Targets),
	}
	proposal, err := d.Guardrail.ProposePlan(ctx, blocks)
	if err != nil {
		return nil, err
	}
	plan := ExecutionPlan{PlanID: proposal.PlanID, Objective: in.Objective, Steps: proposal.Steps}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("mission: proposed plan failed validation: %w", err)
	}
	return plan, nil
}

func (d *Deps) activityExecuteTool(ctx context.Context, input any) (any, error) {
	inv, ok := input.(tools.Invocation)
	if !ok {
		return nil, fmt.Errorf("mission: execute_tool activity received %T, want tools.Invocation", input)
	}
	return d.Dispatcher.Dispatch(ctx, inv)
}

// PlanProposalEventInput is the emit_plan_proposal activity input.
type PlanProposalEventInput struct {
	MissionID string
	Seq       uint64
	StepCount int
}

func (d *Deps) activityEmitPlanProposal(ctx context.Context, input any) (any, error) {
	in := input.(PlanProposalEventInput)
	return nil, d.Events.Publish(ctx, events.NewPlanProposedEvent(in.MissionID, in.Seq, in.StepCount))
}

// ScopeViolationEventInput is the emit_scope_violation activity input.
type ScopeViolationEventInput struct {
	MissionID string
	Seq       uint64
	Target    string
	Decision  string
	Reason    string
}

func (d *Deps) activityEmitScopeViolation(ctx context.Context, input any) (any, error) {
	in := input.(ScopeViolationEventInput)
	return nil, d.Events.Publish(ctx, events.NewScopeViolationEvent(in.MissionID, in.Seq, in.Target, in.Decision, in.Reason))
}

// StepCompleteEventInput is the emit_step_complete activity input.
type StepCompleteEventInput struct {
	MissionID string
	Seq       uint64
	StepID    string
	Tool      string
	Success   bool
	CostUSD   float64
}

func (d *Deps) activityEmitStepComplete(ctx context.Context, input any) (any, error) {
	in := input.(StepCompleteEventInput)
	return nil, d.Events.Publish(ctx, events.NewStepCompletedEvent(in.MissionID, in.Seq, in.StepID, in.Tool, in.Success, in.CostUSD))
}

// FindingEventInput is the emit_finding activity input.
type FindingEventInput struct {
	MissionID string
	Seq       uint64
	Finding   Finding
	Notify    bool
}

func (d *Deps) activityEmitFinding(ctx context.Context, input any) (any, error) {
	in := input.(FindingEventInput)
	if err := d.Events.Publish(ctx, events.NewFindingRecordedEvent(in.MissionID, in.Seq, in.Finding.ID, string(in.Finding.Severity))); err != nil {
		return nil, err
	}
	if in.Notify && d.Notifier != nil {
		// Best-effort: a notification failure never fails the step. External
		// integrations never block the workflow.
		_ = d.Notifier.NotifyFinding(ctx, in.Finding)
	}
	return nil, nil
}

// IdentityPrompt is the agent's prime-directives block, assembled into
// every guardrail turn's prompt body and also suitable as a model's
// system-level instruction.
const IdentityPrompt = `You are SentryAI, an autonomous security assessment agent operating under strict safety constraints.
Prime directives, in order: (1) never act outside the declared scope; (2) never fabricate findings or evidence; (3) base every conclusion on tool output, not assumption; (4) operate efficiently within the mission's budget; (5) never attempt unauthorized or destructive actions, even if technically reachable.
Respond with exactly one JSON object per turn, matching the contract you were given. No prose outside the JSON object.`
