package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/engine"
)

func TestRegisterWorkflowRejectsDuplicatesAndInvalid(t *testing.T) {
	e := New()
	ctx := context.Background()

	err := e.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "", Handler: func(engine.WorkflowContext, any) (any, error) { return nil, nil }})
	require.Error(t, err)

	def := engine.WorkflowDefinition{Name: "w1", Handler: func(engine.WorkflowContext, any) (any, error) { return nil, nil }}
	require.NoError(t, e.RegisterWorkflow(ctx, def))
	require.Error(t, e.RegisterWorkflow(ctx, def))
}

func TestStartWorkflowRunsHandlerAndReturnsResult(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "echo",
		Handler: func(_ engine.WorkflowContext, input any) (any, error) {
			return input, nil
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-1", Workflow: "echo", Input: "hello"})
	require.NoError(t, err)

	var result string
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, "hello", result)
}

func TestStartWorkflowRejectsUnregisteredOrMissingID(t *testing.T) {
	e := New()
	ctx := context.Background()

	_, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "x", Workflow: "nope"})
	require.Error(t, err)

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    "w",
		Handler: func(engine.WorkflowContext, any) (any, error) { return nil, nil },
	}))
	_, err = e.StartWorkflow(ctx, engine.WorkflowStartRequest{Workflow: "w"})
	require.Error(t, err)
}

func TestWorkflowHandleSignalDeliversToSignalChannel(t *testing.T) {
	e := New()
	ctx := context.Background()

	received := make(chan string, 1)
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "signaled",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			ch := wfCtx.SignalChannel("greeting")
			var payload string
			if err := ch.Receive(wfCtx.Context(), &payload); err != nil {
				return nil, err
			}
			received <- payload
			return nil, nil
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "signaled"})
	require.NoError(t, err)

	require.NoError(t, handle.Signal(ctx, "greeting", "hi"))
	select {
	case got := <-received:
		require.Equal(t, "hi", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal delivery")
	}
	require.NoError(t, handle.Wait(ctx, nil))
}

func TestSignalChannelReceiveAsyncIsNonBlocking(t *testing.T) {
	e := New()
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "poller",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			ch := wfCtx.SignalChannel("maybe")
			close(started)
			var payload string
			for i := 0; i < 20; i++ {
				if ch.ReceiveAsync(&payload) {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			close(done)
			return payload, nil
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-3", Workflow: "poller"})
	require.NoError(t, err)

	<-started
	require.NoError(t, handle.Signal(ctx, "maybe", "value"))

	var result string
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, "value", result)
}

func TestExecuteActivityRetriesUntilSuccess(t *testing.T) {
	e := New()
	ctx := context.Background()

	var attempts int
	require.NoError(t, e.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "flaky",
		Handler: func(context.Context, any) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient failure")
			}
			return "ok", nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "retrier",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			var result string
			err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{
				Name:        "flaky",
				RetryPolicy: engine.RetryPolicy{MaxAttempts: 3},
			}, &result)
			return result, err
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-4", Workflow: "retrier"})
	require.NoError(t, err)

	var result string
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, "ok", result)
	require.Equal(t, 3, attempts)
}

func TestExecuteActivityUnregisteredReturnsError(t *testing.T) {
	e := New()
	ctx := context.Background()

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "callsMissing",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			return nil, wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{Name: "ghost"}, nil)
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-5", Workflow: "callsMissing"})
	require.NoError(t, err)
	require.Error(t, handle.Wait(ctx, nil))
}

func TestFutureIsReadyReflectsCompletion(t *testing.T) {
	e := New()
	ctx := context.Background()

	block := make(chan struct{})
	require.NoError(t, e.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "slow",
		Handler: func(context.Context, any) (any, error) {
			<-block
			return "done", nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "asyncCaller",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			fut, err := wfCtx.ExecuteActivityAsync(wfCtx.Context(), engine.ActivityRequest{Name: "slow"})
			if err != nil {
				return nil, err
			}
			notReady := fut.IsReady()
			close(block)
			var result string
			if err := fut.Get(wfCtx.Context(), &result); err != nil {
				return nil, err
			}
			return []any{notReady, result}, nil
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-6", Workflow: "asyncCaller"})
	require.NoError(t, err)

	var result []any
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, false, result[0])
	require.Equal(t, "done", result[1])
}
