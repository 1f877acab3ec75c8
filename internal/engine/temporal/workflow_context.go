package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

type workflowContext struct {
	engine     *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
	}
}

// Context returns context.Background(). Temporal's workflow.Context is not a
// context.Context, and workflow code must never perform direct I/O through
// it; callers use it only for propagating values to activities via
// ExecuteActivity/ExecuteActivityAsync, which thread the real deterministic
// workflow.Context internally.
func (w *workflowContext) Context() context.Context { return context.Background() }

func (w *workflowContext) WorkflowID() string { return w.workflowID }
func (w *workflowContext) RunID() string      { return w.runID }

func (w *workflowContext) Logger() telemetry.Logger   { return w.engine.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.engine.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.engine.tracer }

func (w *workflowContext) Now() time.Time { return workflow.Now(w.ctx) }

func (w *workflowContext) Sleep(_ context.Context, d time.Duration) error {
	return workflow.Sleep(w.ctx, d)
}

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(nil, req)
	if err != nil {
		return err
	}
	return fut.Get(nil, result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	opts := workflow.ActivityOptions{
		TaskQueue:           req.Queue,
		StartToCloseTimeout: req.Timeout,
	}
	if req.RetryPolicy.MaxAttempts != 0 || req.RetryPolicy.BackoffCoefficient != 0 {
		opts.RetryPolicy = convertRetryPolicy(req.RetryPolicy)
	}
	ctx := workflow.WithActivityOptions(w.ctx, opts)
	fut := workflow.ExecuteActivity(ctx, req.Name, req.Input)
	return &future{ctx: w.ctx, future: fut}, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

type future struct {
	ctx    workflow.Context
	future workflow.Future
}

func (f *future) Get(_ context.Context, result any) error {
	return normalizeError(f.future.Get(f.ctx, result))
}

func (f *future) IsReady() bool { return f.future.IsReady() }

type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest, nil)
}
