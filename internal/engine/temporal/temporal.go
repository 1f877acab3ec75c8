// Package temporal adapts Temporal as the durable execution backend for the
// Mission Workflow. Workflow state (plan, approvals, findings, budget
// counters) survives process restarts because Temporal persists the
// workflow's event history and replays it deterministically; the Mission
// Workflow itself only ever touches the engine abstractions in
// internal/engine, never the Temporal SDK directly.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions is
	// used to dial one.
	Client client.Client
	// ClientOptions describes how to dial a client when Client is nil.
	ClientOptions *client.Options
	// TaskQueue is the default queue; a worker is created per unique queue
	// encountered across registered workflows/activities.
	TaskQueue string
	// DisableTracing opts out of the OTEL Temporal tracing interceptor.
	// DisableMetrics has no effect: no metrics interceptor is installed.
	DisableTracing bool
	DisableMetrics bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine implements engine.Engine on top of a Temporal client and worker pool.
type Engine struct {
	client      client.Client
	closeClient bool
	defaultQueue string

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu         sync.Mutex
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]engine.ActivityDefinition
	workers    map[string]worker.Worker
	started    bool
}

// New dials (or reuses) a Temporal client and returns an Engine ready to
// register workflows and activities.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("temporal engine: default task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	c := opts.Client
	closeClient := false
	if c == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal engine: Client or ClientOptions must be provided")
		}
		co := *opts.ClientOptions
		if !opts.DisableTracing {
			interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal engine: otel interceptor: %w", err)
			}
			co.Interceptors = append(co.Interceptors, interceptor)
		}
		var err error
		c, err = client.Dial(co)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: dial: %w", err)
		}
		closeClient = true
	}

	return &Engine{
		client:       c,
		closeClient:  closeClient,
		defaultQueue: opts.TaskQueue,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		workflows:    make(map[string]engine.WorkflowDefinition),
		activities:   make(map[string]engine.ActivityDefinition),
		workers:      make(map[string]worker.Worker),
	}, nil
}

// Close stops all workers and, if this Engine dialed its own client, closes it.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.workers {
		w.Stop()
	}
	if e.closeClient {
		e.client.Close()
	}
}

func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if def.Name == "" || def.Handler == nil {
		return errors.New("temporal engine: invalid workflow definition")
	}
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if def.Name == "" || def.Handler == nil {
		return errors.New("temporal engine: invalid activity definition")
	}
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("temporal engine: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def
	return nil
}

// Worker lazily builds (if needed) and returns the worker for queue, wiring
// every registered workflow/activity whose queue (or the engine default)
// matches. Call Start to begin polling; the Mission Workflow bootstrap calls
// this once per configured task queue during process startup.
func (e *Engine) Worker(queue string) worker.Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if queue == "" {
		queue = e.defaultQueue
	}
	if w, ok := e.workers[queue]; ok {
		return w
	}
	w := worker.New(e.client, queue, worker.Options{})
	for name, def := range e.workflows {
		q := def.TaskQueue
		if q == "" {
			q = e.defaultQueue
		}
		if q != queue {
			continue
		}
		w.RegisterWorkflowWithOptions(e.wrapWorkflow(def), workflow.RegisterOptions{Name: name})
	}
	for name, def := range e.activities {
		q := def.Options.Queue
		if q == "" {
			q = e.defaultQueue
		}
		if q != queue {
			continue
		}
		handler := def.Handler
		w.RegisterActivityWithOptions(func(ctx context.Context, input any) (any, error) {
			return handler(ctx, input)
		}, worker.RegisterOptions{Name: name})
	}
	e.workers[queue] = w
	return w
}

// Start begins polling every worker created so far. Call after registering
// all workflows and activities.
func (e *Engine) Start() error {
	e.mu.Lock()
	workers := make([]worker.Worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.started = true
	e.mu.Unlock()
	for _, w := range workers {
		if err := w.Start(); err != nil {
			return fmt.Errorf("temporal engine: worker start: %w", err)
		}
	}
	return nil
}

func (e *Engine) wrapWorkflow(def engine.WorkflowDefinition) func(workflow.Context, any) (any, error) {
	return func(ctx workflow.Context, input any) (any, error) {
		wc := newWorkflowContext(e, ctx)
		return def.Handler(wc, input)
	}
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	queue := req.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	opts := client.StartWorkflowOptions{
		ID:                  req.ID,
		TaskQueue:           queue,
		Memo:                req.Memo,
		SearchAttributes:    req.SearchAttributes,
		WorkflowExecutionErrorWhenAlreadyStarted: false,
	}
	if req.RetryPolicy.MaxAttempts != 0 {
		opts.RetryPolicy = convertRetryPolicy(req.RetryPolicy)
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow: %w", err)
	}
	return &temporalHandle{client: e.client, run: run}, nil
}

type temporalHandle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *temporalHandle) Wait(ctx context.Context, result any) error {
	return normalizeError(h.run.Get(ctx, result))
}

func (h *temporalHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *temporalHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

func convertRetryPolicy(r engine.RetryPolicy) *sdktemporal.RetryPolicy {
	coeff := r.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	return &sdktemporal.RetryPolicy{
		MaximumAttempts:    int32(r.MaxAttempts),
		InitialInterval:    r.InitialInterval,
		BackoffCoefficient: coeff,
	}
}
