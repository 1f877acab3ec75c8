// Package budget implements the Cognitive Budget Enforcer (component B): the
// mission-level resource governor that bounds step count, spend, wall-clock
// runtime, idle time, consecutive tool errors, and repeated-action loops.
//
// Every check is advisory-return, not exception-based: callers call
// CheckCanProceed before each step and branch on the returned Violation.
package budget

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Violation names why a mission may no longer proceed.
type Violation string

const (
	None            Violation = ""
	StepLimit       Violation = "step_limit"
	CostLimit       Violation = "cost_limit"
	TimeLimit       Violation = "time_limit"
	IdleTimeout     Violation = "idle_timeout"
	ConsecutiveErr  Violation = "consecutive_errors"
	LoopDetected    Violation = "loop_detected"
	ManualKill      Violation = "manual_kill"
	ManualPause     Violation = "manual_pause"
)

// Budget declares the ceilings a mission operates under, mirroring the
// original CognitiveBudget defaults.
type Budget struct {
	MaxSteps             int
	MaxConsecutiveErrors int
	MaxRetriesPerTarget  int
	MaxCostUSD           float64
	WarningCostThreshold float64 // fraction of MaxCostUSD, e.g. 0.8
	MaxRuntime           time.Duration
	MaxIdle              time.Duration
	LoopDetectionWindow  int
	SimilarityThreshold  float64 // fraction, e.g. 0.8
	EnableHardKill       bool
	PauseOnWarning       bool
}

// Default mirrors the Python CognitiveBudget dataclass defaults.
func Default() Budget {
	return Budget{
		MaxSteps:             50,
		MaxConsecutiveErrors: 3,
		MaxRetriesPerTarget:  3,
		MaxCostUSD:           5.0,
		WarningCostThreshold: 0.8,
		MaxRuntime:           60 * time.Minute,
		MaxIdle:              120 * time.Second,
		LoopDetectionWindow:  10,
		SimilarityThreshold:  0.8,
		EnableHardKill:       true,
		PauseOnWarning:       false,
	}
}

// Status is a structured, percent-aware snapshot suitable for the get_status
// query and for Observer channel telemetry.
type Status struct {
	Steps struct {
		Used, Limit, Remaining int
		Percent                float64
	}
	Cost struct {
		Used, Limit, Remaining float64
		Percent                float64
	}
	Runtime struct {
		UsedSeconds, LimitSeconds float64
		Percent                   float64
	}
	Errors struct {
		Consecutive, Limit int
	}
	IsPaused   bool
	IsKilled   bool
	KillReason string
}

// state is the mutable, mission-scoped counters tracked across the step loop.
type state struct {
	stepsTaken        int
	totalCostUSD      float64
	errorsEncountered int
	consecutiveErrors int
	startedAt         time.Time
	lastActionAt      time.Time
	actionHistory     []string // bounded ring of action signatures, newest last
	retryCounts       map[string]int
	isPaused          bool
	isKilled          bool
	killReason        string
}

const actionHistoryCap = 50

// ViolationCallback is invoked whenever record actions trip a pause or kill.
type ViolationCallback func(v Violation, detail string)

// Enforcer tracks a single mission's budget state. Not safe for concurrent
// use from multiple goroutines without external synchronization beyond the
// internal mutex already held for state mutation; callers in the Mission
// Workflow invoke it from the single workflow goroutine.
type Enforcer struct {
	budget Budget
	st     state
	onViolation ViolationCallback

	mu sync.Mutex
}

// New creates an Enforcer with a fresh state clock started at now.
func New(b Budget, now time.Time, onViolation ViolationCallback) *Enforcer {
	return &Enforcer{
		budget: b,
		st: state{
			startedAt:    now,
			lastActionAt: now,
			retryCounts:  make(map[string]int),
		},
		onViolation: onViolation,
	}
}

// CheckCanProceed evaluates, in order: kill, pause, step limit, cost limit,
// runtime limit, idle timeout, consecutive errors. The first tripped check
// wins, matching the original's check order.
func (e *Enforcer) CheckCanProceed(now time.Time) (bool, Violation, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.isKilled {
		return false, ManualKill, e.st.killReason
	}
	if e.st.isPaused {
		return false, ManualPause, "mission is paused"
	}
	if e.st.stepsTaken >= e.budget.MaxSteps {
		return false, StepLimit, fmt.Sprintf("step limit reached (%d/%d)", e.st.stepsTaken, e.budget.MaxSteps)
	}
	if e.st.totalCostUSD >= e.budget.MaxCostUSD {
		return false, CostLimit, fmt.Sprintf("cost limit reached ($%.2f/$%.2f)", e.st.totalCostUSD, e.budget.MaxCostUSD)
	}
	if elapsed := now.Sub(e.st.startedAt); elapsed > e.budget.MaxRuntime {
		return false, TimeLimit, fmt.Sprintf("runtime limit exceeded (%s/%s)", elapsed, e.budget.MaxRuntime)
	}
	if idle := now.Sub(e.st.lastActionAt); idle > e.budget.MaxIdle {
		return false, IdleTimeout, fmt.Sprintf("idle timeout exceeded (%s/%s)", idle, e.budget.MaxIdle)
	}
	if e.st.consecutiveErrors >= e.budget.MaxConsecutiveErrors {
		return false, ConsecutiveErr, fmt.Sprintf("too many consecutive errors (%d/%d)", e.st.consecutiveErrors, e.budget.MaxConsecutiveErrors)
	}
	return true, None, ""
}

// RecordAction registers a completed tool invocation: increments steps and
// cost, resets the consecutive-error counter, appends the action signature to
// the bounded history, and evaluates warning/loop checks.
func (e *Enforcer) RecordAction(now time.Time, costUSD float64, action map[string]any) {
	e.mu.Lock()
	e.st.stepsTaken++
	e.st.totalCostUSD += costUSD
	e.st.consecutiveErrors = 0
	e.st.lastActionAt = now

	sig := computeActionSignature(action)
	e.st.actionHistory = append(e.st.actionHistory, sig)
	if len(e.st.actionHistory) > actionHistoryCap {
		e.st.actionHistory = e.st.actionHistory[len(e.st.actionHistory)-actionHistoryCap:]
	}
	e.mu.Unlock()

	e.checkWarnings()
	e.checkForLoops()
}

// RecordError registers a failed tool invocation.
func (e *Enforcer) RecordError(now time.Time) {
	e.mu.Lock()
	e.st.errorsEncountered++
	e.st.consecutiveErrors++
	e.st.lastActionAt = now
	e.mu.Unlock()
}

// RecordRetry increments the per-target retry counter and reports whether
// another retry against that target is still permitted.
func (e *Enforcer) RecordRetry(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(target))
	e.st.retryCounts[key]++
	return e.st.retryCounts[key] <= e.budget.MaxRetriesPerTarget
}

// AddCost adds to the running spend total without counting as a step, for
// costs incurred outside the main tool-call loop (e.g. plan generation).
func (e *Enforcer) AddCost(now time.Time, costUSD float64) {
	e.mu.Lock()
	e.st.totalCostUSD += costUSD
	e.st.lastActionAt = now
	e.mu.Unlock()
}

// Pause transitions the mission to paused, refusing further steps until Resume.
func (e *Enforcer) Pause() {
	e.mu.Lock()
	e.st.isPaused = true
	e.mu.Unlock()
}

// Resume clears a pause set by Pause or a warning threshold trip.
func (e *Enforcer) Resume() {
	e.mu.Lock()
	e.st.isPaused = false
	e.mu.Unlock()
}

// Kill marks the mission as permanently terminated with the given reason.
// Once killed, CheckCanProceed never again returns true.
func (e *Enforcer) Kill(reason string) {
	e.mu.Lock()
	e.st.isKilled = true
	e.st.killReason = reason
	e.mu.Unlock()
	if e.budget.EnableHardKill && e.onViolation != nil {
		e.onViolation(ManualKill, reason)
	}
}

// Status returns a structured, percent-annotated snapshot for the get_status
// query handler.
func (e *Enforcer) Status(now time.Time) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	var s Status
	s.Steps.Used, s.Steps.Limit = e.st.stepsTaken, e.budget.MaxSteps
	s.Steps.Remaining = max0(s.Steps.Limit - s.Steps.Used)
	s.Steps.Percent = pct(float64(s.Steps.Used), float64(s.Steps.Limit))

	s.Cost.Used, s.Cost.Limit = e.st.totalCostUSD, e.budget.MaxCostUSD
	s.Cost.Remaining = maxf0(s.Cost.Limit - s.Cost.Used)
	s.Cost.Percent = pct(s.Cost.Used, s.Cost.Limit)

	elapsed := now.Sub(e.st.startedAt).Seconds()
	s.Runtime.UsedSeconds = elapsed
	s.Runtime.LimitSeconds = e.budget.MaxRuntime.Seconds()
	s.Runtime.Percent = pct(elapsed, s.Runtime.LimitSeconds)

	s.Errors.Consecutive, s.Errors.Limit = e.st.consecutiveErrors, e.budget.MaxConsecutiveErrors
	s.IsPaused, s.IsKilled, s.KillReason = e.st.isPaused, e.st.isKilled, e.st.killReason
	return s
}

func (e *Enforcer) checkWarnings() {
	e.mu.Lock()
	costRatio := ratio(e.st.totalCostUSD, e.budget.MaxCostUSD)
	stepRatio := ratio(float64(e.st.stepsTaken), float64(e.budget.MaxSteps))
	pause := e.budget.PauseOnWarning
	e.mu.Unlock()

	if costRatio >= e.budget.WarningCostThreshold || stepRatio >= 0.9 {
		if pause {
			e.Pause()
		}
		if e.onViolation != nil {
			e.onViolation(CostLimit, fmt.Sprintf("approaching budget limits (cost %.0f%%, steps %.0f%%)", costRatio*100, stepRatio*100))
		}
	}
}

func (e *Enforcer) checkForLoops() {
	e.mu.Lock()
	window := e.budget.LoopDetectionWindow
	if window <= 0 || len(e.st.actionHistory) < window {
		e.mu.Unlock()
		return
	}
	recent := e.st.actionHistory[len(e.st.actionHistory)-window:]
	pause := e.budget.PauseOnWarning
	e.mu.Unlock()

	counts := make(map[string]int, len(recent))
	for _, sig := range recent {
		counts[sig]++
	}
	var topSig string
	var topCount int
	for sig, c := range counts {
		if c > topCount {
			topSig, topCount = sig, c
		}
	}
	if float64(topCount)/float64(window) >= e.budget.SimilarityThreshold {
		if pause {
			e.Pause()
		}
		if e.onViolation != nil {
			e.onViolation(LoopDetected, fmt.Sprintf("repeated action signature %s seen %d/%d times", topSig, topCount, window))
		}
	}
}

// computeActionSignature hashes the normalized action (dropping volatile
// fields like timestamp/request_id/session_id) to a short comparable string,
// matching the original's md5-of-sorted-keys approach.
func computeActionSignature(action map[string]any) string {
	keys := make([]string, 0, len(action))
	for k := range action {
		switch k {
		case "timestamp", "request_id", "session_id":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, action[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

func ratio(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit
}

func pct(used, limit float64) float64 { return ratio(used, limit) * 100 }

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func maxf0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
