package interrupt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/engine/inmem"
)

// runWithController starts a workflow that builds a Controller from its
// WorkflowContext and hands it to fn, returning fn's result via the engine's
// WorkflowHandle.
func runWithController(t *testing.T, name string, fn func(ctx context.Context, c *Controller) any) (engine.WorkflowHandle, context.Context) {
	t.Helper()
	e := inmem.New()
	ctx := context.Background()

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: name,
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			c := NewController(wfCtx)
			return fn(wfCtx.Context(), c), nil
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-" + name, Workflow: name})
	require.NoError(t, err)
	return handle, ctx
}

func TestPollApprovePlanReturnsFalseWhenEmpty(t *testing.T) {
	handle, ctx := runWithController(t, "poll-empty", func(_ context.Context, c *Controller) any {
		_, ok := c.PollApprovePlan()
		return ok
	})
	var result bool
	require.NoError(t, handle.Wait(ctx, &result))
	require.False(t, result)
}

func TestWaitApprovePlanBlocksUntilSignaled(t *testing.T) {
	handle, ctx := runWithController(t, "wait-approve", func(ctx context.Context, c *Controller) any {
		req, err := c.WaitApprovePlan(ctx)
		if err != nil {
			return nil
		}
		return req
	})

	require.NoError(t, handle.Signal(ctx, SignalApprovePlan, ApprovePlanRequest{ApprovedStepIDs: []string{"1", "2"}, RequestedBy: "operator"}))

	var result ApprovePlanRequest
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, []string{"1", "2"}, result.ApprovedStepIDs)
	require.Equal(t, "operator", result.RequestedBy)
}

func TestPollPauseResumeKillDrainSignals(t *testing.T) {
	started := make(chan struct{})
	done := make(chan struct{})
	var pauseOK, resumeOK, killOK bool
	var pause PauseRequest
	var kill KillRequest

	e := inmem.New()
	ctx := context.Background()
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "poll-all",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			c := NewController(wfCtx)
			close(started)
			for i := 0; i < 50; i++ {
				if p, ok := c.PollPause(); ok {
					pause, pauseOK = p, true
					break
				}
				time.Sleep(2 * time.Millisecond)
			}
			_, resumeOK = c.PollResume()
			for i := 0; i < 50 && !resumeOK; i++ {
				_, resumeOK = c.PollResume()
				time.Sleep(2 * time.Millisecond)
			}
			for i := 0; i < 50; i++ {
				if k, ok := c.PollKill(); ok {
					kill, killOK = k, true
					break
				}
				time.Sleep(2 * time.Millisecond)
			}
			close(done)
			return nil, nil
		},
	}))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-poll-all", Workflow: "poll-all"})
	require.NoError(t, err)

	<-started
	require.NoError(t, handle.Signal(ctx, SignalPause, PauseRequest{Reason: "investigate", RequestedBy: "ops"}))
	require.NoError(t, handle.Signal(ctx, SignalResume, ResumeRequest{RequestedBy: "ops"}))
	require.NoError(t, handle.Signal(ctx, SignalKill, KillRequest{Reason: "stop", RequestedBy: "ops"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signals to drain")
	}

	require.NoError(t, handle.Wait(ctx, nil))
	require.True(t, pauseOK)
	require.Equal(t, "investigate", pause.Reason)
	require.True(t, resumeOK)
	require.True(t, killOK)
	require.Equal(t, "stop", kill.Reason)
}

func TestControllerNilMethodsAreSafe(t *testing.T) {
	var c *Controller
	_, ok := c.PollApprovePlan()
	require.False(t, ok)
	_, ok = c.PollPause()
	require.False(t, ok)
	_, ok = c.PollResume()
	require.False(t, ok)
	_, ok = c.PollKill()
	require.False(t, ok)

	_, err := c.WaitApprovePlan(context.Background())
	require.Error(t, err)
}
