// Package mission defines the core data model shared by the Mission
// Workflow, the LLM Guardrail Loop, and the Control API: Mission metadata,
// the execution plan a guardrail-validated LLM call proposes, and the
// findings a mission accumulates.
package mission

import (
	"fmt"
	"time"
)

// Status enumerates a mission's lifecycle states. Transitions are monotone
// except pending->running and running<->paused; once terminal, a mission's
// status is immutable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusKilled, StatusExhausted, StatusFailed:
		return true
	default:
		return false
	}
}

// Risk enumerates the declared risk level of a plan step.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Severity enumerates finding severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Confidence enumerates a finding's false-positive likelihood.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type (
	// Scope describes a mission's target boundary, handed to internal/scope's
	// Enforcer when the mission starts.
	Scope struct {
		AllowedDomains  []string `json:"allowed_domains,omitempty"`
		AllowedIPs      []string `json:"allowed_ips,omitempty"`
		ExcludedDomains []string `json:"excluded_domains,omitempty"`
		ExcludedIPs     []string `json:"excluded_ips,omitempty"`
		AllowPrivateIPs bool     `json:"allow_private_ips,omitempty"`
		AllowLocalhost  bool     `json:"allow_localhost,omitempty"`
	}

	// BudgetOverrides optionally overrides internal/budget.Default() fields
	// when a mission is created; zero fields keep the default.
	BudgetOverrides struct {
		MaxSteps             int     `json:"max_steps,omitempty"`
		MaxCostUSD           float64 `json:"max_cost_usd,omitempty"`
		MaxRuntimeSeconds    int     `json:"max_runtime_seconds,omitempty"`
		MaxIdleSeconds       int     `json:"max_idle_seconds,omitempty"`
		MaxConsecutiveErrors int     `json:"max_consecutive_errors,omitempty"`
		MaxRetriesPerTarget  int     `json:"max_retries_per_target,omitempty"`
		LoopDetectionWindow  int     `json:"loop_detection_window,omitempty"`
		SimilarityThreshold  float64 `json:"similarity_threshold,omitempty"`
	}

	// Mission is the identity and configuration record for one assessment run.
	Mission struct {
		MissionID      string          `json:"mission_id"`
		TenantID       string          `json:"tenant_id,omitempty"`
		UserID         string          `json:"user_id,omitempty"`
		Objective      string          `json:"objective"`
		Targets        []string        `json:"targets"`
		Scope          Scope           `json:"scope"`
		Budget         BudgetOverrides `json:"budget"`
		AutoPilot      bool            `json:"auto_pilot"`
		NotifyOnFind   bool            `json:"notify_on_finding"`
		Status         Status          `json:"status"`
		CreatedAt      time.Time       `json:"created_at"`
		StartedAt      *time.Time      `json:"started_at,omitempty"`
		CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	}

	// ToolCall is a single resolved tool invocation: the arguments have
	// already been validated against the named tool's ToolSchema by the
	// Guardrail Loop.
	ToolCall struct {
		ToolName       string         `json:"tool_name"`
		Arguments      map[string]any `json:"arguments"`
		Target         string         `json:"target"`
		Rationale      string         `json:"rationale,omitempty"`
		ExpectedOutput string         `json:"expected_output,omitempty"`
		TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	}

	// PlanStep is one node of an ExecutionPlan.
	PlanStep struct {
		ID          int      `json:"id"`
		Title       string   `json:"title"`
		Description string   `json:"description,omitempty"`
		Risk        Risk     `json:"risk"`
		CanSkip     bool     `json:"can_skip,omitempty"`
		Tool        ToolCall `json:"tool"`
		DependsOn   []int    `json:"depends_on,omitempty"`
	}

	// ExecutionPlan is the guardrail-validated proposal produced before a
	// mission enters AWAITING_APPROVAL (or EXECUTING, in auto-pilot).
	ExecutionPlan struct {
		PlanID            string     `json:"plan_id"`
		Objective         string     `json:"objective"`
		EstimatedDuration int        `json:"estimated_duration_seconds,omitempty"`
		EstimatedCostUSD  float64    `json:"estimated_cost_usd,omitempty"`
		Steps             []PlanStep `json:"steps"`
	}

	// Finding is an append-only record of discovered evidence.
	Finding struct {
		ID                   string     `json:"id"`
		MissionID            string     `json:"mission_id"`
		Severity             Severity   `json:"severity"`
		Title                string     `json:"title"`
		Description          string     `json:"description,omitempty"`
		AffectedAsset        string     `json:"affected_asset,omitempty"`
		Evidence             string     `json:"evidence,omitempty"`
		ReproductionSteps    string     `json:"reproduction_steps,omitempty"`
		Remediation          string     `json:"remediation,omitempty"`
		CWE                  string     `json:"cwe,omitempty"`
		CVSS                 float64    `json:"cvss,omitempty"`
		Confidence           float64    `json:"confidence"`
		FalsePositiveLikely  Confidence `json:"false_positive_likelihood"`
		OriginatingStepID    int        `json:"originating_step_id,omitempty"`
	}

	// ScanOutput is the Mission Workflow's terminal result.
	ScanOutput struct {
		MissionID      string    `json:"mission_id"`
		Status         Status    `json:"status"`
		Findings       []Finding `json:"findings"`
		StepsTaken     int       `json:"steps_taken"`
		CostUSD        float64   `json:"cost_usd"`
		RuntimeSeconds float64   `json:"runtime_seconds"`
		ErrorMessage   string    `json:"error_message,omitempty"`
	}
)

// Validate checks ExecutionPlan's structural invariants: dense,
// monotonically increasing step ids starting at 1, and depends_on
// references only to smaller ids.
func (p *ExecutionPlan) Validate() error {
	for i, s := range p.Steps {
		wantID := i + 1
		if s.ID != wantID {
			return fmt.Errorf("mission: plan %s step index %d has id %d, want dense id %d", p.PlanID, i, s.ID, wantID)
		}
		for _, dep := range s.DependsOn {
			if dep >= s.ID {
				return fmt.Errorf("mission: plan %s step %d depends_on %d, which is not a smaller id", p.PlanID, s.ID, dep)
			}
		}
	}
	return nil
}

// Step looks up a plan step by id.
func (p *ExecutionPlan) Step(id int) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}
