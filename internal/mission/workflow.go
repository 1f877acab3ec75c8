package mission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/CharanRayudu/SentryAI/internal/budget"
	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/interrupt"
	"github.com/CharanRayudu/SentryAI/internal/scope"
	"github.com/CharanRayudu/SentryAI/internal/tools"
)

// Activity and workflow names registered against an engine.Engine.
const (
	WorkflowName               = "sentryai.mission.run"
	ActivityProposePlan        = "sentryai.mission.propose_plan"
	ActivityExecuteTool        = "sentryai.mission.execute_tool"
	ActivityEmitPlanProposal   = "sentryai.mission.emit_plan_proposal"
	ActivityEmitScopeViolation = "sentryai.mission.emit_scope_violation"
	ActivityEmitStepComplete   = "sentryai.mission.emit_step_complete"
	ActivityEmitFinding        = "sentryai.mission.emit_finding"
)

// estimatedStepCostUSD is a flat per-step cost estimate recorded against the
// budget. A real deployment would price this from the provider's token usage
// and the tool's metered cost, but the budget enforcer only needs a monotone
// running total to bound spend, so a constant keeps the workflow body free
// of pricing logic.
const estimatedStepCostUSD = 0.05

// MissionInput is the workflow's start input, mirroring the original
// ScanInput: mission identity, objective, targets, scope, and budget
// overrides.
type MissionInput struct {
	MissionID    string
	TenantID     string
	UserID       string
	Objective    string
	Targets      []string
	Scope        Scope
	Budget       BudgetOverrides
	AutoPilot    bool
	NotifyOnFind bool
}

// Register binds the mission workflow and its activities to an engine.
func (d *Deps) Register(ctx context.Context, eng engine.Engine, taskQueue string) error {
	activities := []engine.ActivityDefinition{
		{
			Name:    ActivityProposePlan,
			Handler: d.activityProposePlan,
			Options: engine.ActivityOptions{Queue: taskQueue, RetryPolicy: engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 2.0}, Timeout: 5 * time.Minute},
		},
		{
			Name:    ActivityExecuteTool,
			Handler: d.activityExecuteTool,
			Options: engine.ActivityOptions{Queue: taskQueue, RetryPolicy: engine.RetryPolicy{MaxAttempts: 2, InitialInterval: 5 * time.Second, BackoffCoefficient: 2.0}},
		},
		{
			Name:    ActivityEmitPlanProposal,
			Handler: d.activityEmitPlanProposal,
			Options: engine.ActivityOptions{Queue: taskQueue, RetryPolicy: engine.DefaultRetryPolicy(), Timeout: 30 * time.Second},
		},
		{
			Name:    ActivityEmitScopeViolation,
			Handler: d.activityEmitScopeViolation,
			Options: engine.ActivityOptions{Queue: taskQueue, RetryPolicy: engine.DefaultRetryPolicy(), Timeout: 30 * time.Second},
		},
		{
			Name:    ActivityEmitStepComplete,
			Handler: d.activityEmitStepComplete,
			Options: engine.ActivityOptions{Queue: taskQueue, RetryPolicy: engine.DefaultRetryPolicy(), Timeout: 30 * time.Second},
		},
		{
			Name:    ActivityEmitFinding,
			Handler: d.activityEmitFinding,
			Options: engine.ActivityOptions{Queue: taskQueue, RetryPolicy: engine.DefaultRetryPolicy(), Timeout: 30 * time.Second},
		},
	}
	for _, a := range activities {
		if err := eng.RegisterActivity(ctx, a); err != nil {
			return fmt.Errorf("mission: register activity %s: %w", a.Name, err)
		}
	}
	return eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: WorkflowName, TaskQueue: taskQueue, Handler: d.Run})
}

// Run is the Mission Workflow entry point (component F): PENDING -> PLANNING
// -> AWAITING_APPROVAL (skipped in auto-pilot) -> EXECUTING ->
// {COMPLETED, EXHAUSTED, FAILED}, with PAUSED/KILLED reachable from any
// non-terminal state via signal. Grounded on the original SecurityScanWorkflow
// run() method; LLM calls, tool execution, and event emission are delegated
// to activities so the body itself replays deterministically.
func (d *Deps) Run(wfCtx engine.WorkflowContext, rawInput any) (any, error) {
	input, ok := rawInput.(MissionInput)
	if !ok {
		return nil, fmt.Errorf("mission: workflow received %T, want MissionInput", rawInput)
	}

	started := wfCtx.Now()
	ctx := wfCtx.Context()
	logger := wfCtx.Logger()
	ctrl := interrupt.NewController(wfCtx)

	var seq uint64
	nextSeq := func() uint64 { seq++; return seq }

	scopeEnf := scope.New(scope.Config{
		AllowedDomains:  input.Scope.AllowedDomains,
		AllowedIPs:      input.Scope.AllowedIPs,
		ExcludedDomains: input.Scope.ExcludedDomains,
		ExcludedIPs:     input.Scope.ExcludedIPs,
		AllowPrivateIPs: input.Scope.AllowPrivateIPs,
		AllowLocalhost:  input.Scope.AllowLocalhost,
	})

	var loopDetected bool
	budgetCfg := mergeBudget(input.Budget, input.AutoPilot)
	budgetEnf := budget.New(budgetCfg, started, func(v budget.Violation, detail string) {
		logger.Warn(ctx, "mission budget violation", "mission_id", input.MissionID, "violation", string(v), "detail", detail)
		if v == budget.LoopDetected {
			loopDetected = true
		}
	})

	var plan ExecutionPlan
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name: ActivityProposePlan,
		Input: ProposePlanInput{
			Objective:     input.Objective,
			Targets:       input.Targets,
			ScopeSummary:  summarizeScope(input.Scope),
			BudgetSummary: summarizeBudget(budgetCfg),
		},
		Queue:       "",
		RetryPolicy: engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 2.0},
		Timeout:     5 * time.Minute,
	}, &plan); err != nil {
		return failedOutput(input.MissionID, started, wfCtx.Now(), fmt.Sprintf("plan generation failed: %v", err)), nil
	}

	approved := make(map[int]bool, len(plan.Steps))
	if input.AutoPilot {
		for _, s := range plan.Steps {
			approved[s.ID] = true
		}
	} else {
		_ = wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name:  ActivityEmitPlanProposal,
			Input: PlanProposalEventInput{MissionID: input.MissionID, Seq: nextSeq(), StepCount: len(plan.Steps)},
		}, nil)

		req, err := ctrl.WaitApprovePlan(ctx)
		if err != nil {
			if kreq, ok := ctrl.PollKill(); ok {
				return killedOutput(input.MissionID, started, wfCtx.Now(), kreq.Reason), nil
			}
			return failedOutput(input.MissionID, started, wfCtx.Now(), fmt.Sprintf("waiting for plan approval: %v", err)), nil
		}
		for _, idStr := range req.ApprovedStepIDs {
			if id, err := strconv.Atoi(idStr); err == nil {
				approved[id] = true
			}
		}
	}

	if kreq, ok := ctrl.PollKill(); ok {
		return killedOutput(input.MissionID, started, wfCtx.Now(), kreq.Reason), nil
	}

	var findings []Finding
	stepsTaken := 0

	for _, step := range plan.Steps {
		if kreq, ok := ctrl.PollKill(); ok {
			return killedOutput(input.MissionID, started, wfCtx.Now(), kreq.Reason), nil
		}
		if preq, ok := ctrl.PollPause(); ok {
			budgetEnf.Pause()
			logger.Info(ctx, "mission paused", "mission_id", input.MissionID, "reason", preq.Reason)
			for {
				if kreq, ok := ctrl.PollKill(); ok {
					return killedOutput(input.MissionID, started, wfCtx.Now(), kreq.Reason), nil
				}
				if _, ok := ctrl.PollResume(); ok {
					budgetEnf.Resume()
					break
				}
				if err := wfCtx.Sleep(ctx, time.Second); err != nil {
					return nil, err
				}
			}
		}

		if !approved[step.ID] {
			continue
		}

		if ok, violation, detail := budgetEnf.CheckCanProceed(wfCtx.Now()); !ok {
			if violation == budget.ManualKill {
				return killedOutput(input.MissionID, started, wfCtx.Now(), detail), nil
			}
			return exhaustedOutput(input.MissionID, started, wfCtx.Now(), findings, stepsTaken, budgetEnf, string(violation)+": "+detail), nil
		}

		allowed, reason := scopeEnf.ValidateToolCall(step.Tool.ToolName, step.Tool.Arguments)
		if !allowed {
			_ = wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name: ActivityEmitScopeViolation,
				Input: ScopeViolationEventInput{
					MissionID: input.MissionID, Seq: nextSeq(),
					Target: step.Tool.Target, Decision: "denied", Reason: reason,
				},
			}, nil)
			continue
		}

		schema, found := d.ToolLookup.Get(step.Tool.ToolName)
		if !found {
			budgetEnf.RecordError(wfCtx.Now())
			continue
		}

		inv := tools.Invocation{
			Schema:    schema,
			Arguments: step.Tool.Arguments,
			Timeout:   time.Duration(step.Tool.TimeoutSeconds) * time.Second,
		}

		var result tools.Result
		var execErr error
		for {
			execErr = wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name:        ActivityExecuteTool,
				Input:       inv,
				RetryPolicy: engine.RetryPolicy{MaxAttempts: 2, InitialInterval: 5 * time.Second, BackoffCoefficient: 2.0},
				Timeout:     inv.EffectiveTimeout() + 30*time.Second,
			}, &result)
			if execErr != nil || result.Failure != tools.FailureTransient {
				break
			}
			if !budgetEnf.RecordRetry(step.Tool.Target) {
				break
			}
		}

		if execErr != nil && ctx.Err() != nil {
			if kreq, ok := ctrl.PollKill(); ok {
				return killedOutput(input.MissionID, started, wfCtx.Now(), kreq.Reason), nil
			}
		}

		stepSuccess := execErr == nil && result.Failure == tools.FailureNone
		cost := 0.0
		if execErr != nil || result.Failure != tools.FailureNone {
			budgetEnf.RecordError(wfCtx.Now())
		} else {
			cost = estimatedStepCostUSD
			budgetEnf.RecordAction(wfCtx.Now(), cost, map[string]any{
				"tool_name": step.Tool.ToolName, "target": step.Tool.Target, "arguments": step.Tool.Arguments,
			})
			if loopDetected && !budgetCfg.PauseOnWarning {
				return failedOutput(input.MissionID, started, wfCtx.Now(), "loop detected"), nil
			}
		}
		stepsTaken++

		for _, f := range extractFindings(input.MissionID, step, result) {
			findings = append(findings, f)
			_ = wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name:  ActivityEmitFinding,
				Input: FindingEventInput{MissionID: input.MissionID, Seq: nextSeq(), Finding: f, Notify: input.NotifyOnFind},
			}, nil)
		}

		_ = wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name: ActivityEmitStepComplete,
			Input: StepCompleteEventInput{
				MissionID: input.MissionID, Seq: nextSeq(),
				StepID: strconv.Itoa(step.ID), Tool: step.Tool.ToolName, Success: stepSuccess, CostUSD: cost,
			},
		}, nil)
	}

	return completedOutput(input.MissionID, started, wfCtx.Now(), findings, stepsTaken, budgetEnf), nil
}

// mergeBudget overlays nonzero BudgetOverrides fields onto budget.Default(),
// matching the original's CognitiveBudget construction where
// pause_on_warning tracks the inverse of auto_pilot.
func mergeBudget(o BudgetOverrides, autoPilot bool) budget.Budget {
	b := budget.Default()
	if o.MaxSteps > 0 {
		b.MaxSteps = o.MaxSteps
	}
	if o.MaxCostUSD > 0 {
		b.MaxCostUSD = o.MaxCostUSD
	}
	if o.MaxRuntimeSeconds > 0 {
		b.MaxRuntime = time.Duration(o.MaxRuntimeSeconds) * time.Second
	}
	if o.MaxIdleSeconds > 0 {
		b.MaxIdle = time.Duration(o.MaxIdleSeconds) * time.Second
	}
	if o.MaxConsecutiveErrors > 0 {
		b.MaxConsecutiveErrors = o.MaxConsecutiveErrors
	}
	if o.MaxRetriesPerTarget > 0 {
		b.MaxRetriesPerTarget = o.MaxRetriesPerTarget
	}
	if o.LoopDetectionWindow > 0 {
		b.LoopDetectionWindow = o.LoopDetectionWindow
	}
	if o.SimilarityThreshold > 0 {
		b.SimilarityThreshold = o.SimilarityThreshold
	}
	b.PauseOnWarning = !autoPilot
	return b
}

func summarizeScope(s Scope) string {
	return fmt.Sprintf("allowed_domains=%v allowed_ips=%v excluded_domains=%v excluded_ips=%v allow_private_ips=%v allow_localhost=%v",
		s.AllowedDomains, s.AllowedIPs, s.ExcludedDomains, s.ExcludedIPs, s.AllowPrivateIPs, s.AllowLocalhost)
}

func summarizeBudget(b budget.Budget) string {
	return fmt.Sprintf("max_steps=%d max_cost_usd=%.2f max_runtime=%s", b.MaxSteps, b.MaxCostUSD, b.MaxRuntime)
}

// extractFindings interprets a tool's parsed output for finding-shaped
// records: objects in a tool's JSON/JSONL output carrying at least top-level
// "severity" and "title" string keys. The tool schemas do not declare an
// output shape, and text output (such as web_crawl's) never matches.
// Anything else yields no findings — the
// mission still records the raw result via step_complete.
func extractFindings(missionID string, step PlanStep, result tools.Result) []Finding {
	var rows []any
	switch v := result.Parsed.(type) {
	case []any:
		rows = v
	case map[string]any:
		if _, isErr := v["error"]; isErr {
			return nil
		}
		rows = []any{v}
	default:
		return nil
	}

	findings := make([]Finding, 0, len(rows))
	for i, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		severity, hasSeverity := m["severity"].(string)
		title, hasTitle := m["title"].(string)
		if !hasSeverity || !hasTitle {
			continue
		}
		f := Finding{
			ID:                fmt.Sprintf("%s-step%d-%d", missionID, step.ID, i),
			MissionID:         missionID,
			Severity:          Severity(severity),
			Title:             title,
			AffectedAsset:     step.Tool.Target,
			Confidence:        1.0,
			OriginatingStepID: step.ID,
		}
		if desc, ok := m["description"].(string); ok {
			f.Description = desc
		}
		if ev, ok := m["evidence"].(string); ok {
			f.Evidence = ev
		}
		findings = append(findings, f)
	}
	return findings
}

func completedOutput(missionID string, started, now time.Time, findings []Finding, stepsTaken int, enf *budget.Enforcer) ScanOutput {
	st := enf.Status(now)
	return ScanOutput{
		MissionID: missionID, Status: StatusCompleted, Findings: findings,
		StepsTaken: stepsTaken, CostUSD: st.Cost.Used, RuntimeSeconds: now.Sub(started).Seconds(),
	}
}

func exhaustedOutput(missionID string, started, now time.Time, findings []Finding, stepsTaken int, enf *budget.Enforcer, reason string) ScanOutput {
	st := enf.Status(now)
	return ScanOutput{
		MissionID: missionID, Status: StatusExhausted, Findings: findings,
		StepsTaken: stepsTaken, CostUSD: st.Cost.Used, RuntimeSeconds: now.Sub(started).Seconds(),
		ErrorMessage: reason,
	}
}

func killedOutput(missionID string, started, now time.Time, reason string) ScanOutput {
	return ScanOutput{MissionID: missionID, Status: StatusKilled, RuntimeSeconds: now.Sub(started).Seconds(), ErrorMessage: reason}
}

func failedOutput(missionID string, started, now time.Time, reason string) ScanOutput {
	return ScanOutput{MissionID: missionID, Status: StatusFailed, RuntimeSeconds: now.Sub(started).Seconds(), ErrorMessage: reason}
}
