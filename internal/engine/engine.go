// Package engine defines the durable-workflow abstractions the Mission
// Workflow runs against. The Mission Workflow code never imports Temporal (or
// any other backend) directly: it depends only on these interfaces, so the
// same orchestration logic runs unmodified against the in-memory engine used
// in tests and the Temporal-backed engine used in production.
package engine

import (
	"context"
	"time"

	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

type (
	// Engine abstracts workflow/activity registration and execution so
	// adapters (Temporal, in-memory) can be swapped without touching the
	// Mission Workflow.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the mission workflow entry point. It must be
	// deterministic under replay: no system time, randomness, or direct I/O —
	// those belong in activities.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to the workflow handler
	// within the deterministic execution environment. Implementations must
	// guarantee deterministic replay for ExecuteActivity and SignalChannel.
	//
	// WorkflowContext is bound to a single workflow execution and must not be
	// shared across goroutines.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current workflow time in a deterministic, replay-safe
		// manner (e.g. Temporal's workflow.Now).
		Now() time.Time

		// Sleep suspends the workflow for d in a deterministic, replay-safe
		// manner (e.g. Temporal's workflow.Sleep). Used for the idle-timeout
		// and between-step pacing checks.
		Sleep(ctx context.Context, d time.Duration) error
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc handles an activity invocation. Unlike workflows,
	// activities may perform side effects (LLM calls, tool dispatch, event
	// publication).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a mission workflow.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest contains the info needed to schedule an activity.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle allows callers outside the workflow (the Control API) to
	// interact with a running mission.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and activities.
	// Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes signal delivery in an engine-agnostic way. The
	// Mission Workflow's interrupt controller polls/blocks on these for
	// approve_plan/pause/resume/kill.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// DefaultRetryPolicy mirrors the two-attempt retry used around tool
// execution in the original mission loop.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, InitialInterval: time.Second, BackoffCoefficient: 2.0}
}
