package mission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/engine/inmem"
	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/guardrail"
	"github.com/CharanRayudu/SentryAI/internal/guardrail/provider"
	"github.com/CharanRayudu/SentryAI/internal/interrupt"
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
		OutputFormat:   tools.OutputJSON,
		DefaultTimeout: 30,
		Parameters: []tools.Parameter{
			{Name: "target", Type: tools.TypeString, Required: true},
		},
	}
}

type scriptedProvider struct{ plan string }

func (p *scriptedProvider) Complete(context.Context, provider.Request) (provider.Response, error) {
	return provider.Response{Text: p.plan}, nil
}

type fakeDispatcher struct{ result tools.Result }

func (f *fakeDispatcher) Dispatch(context.Context, tools.Invocation) (tools.Result, error) {
	return f.result, nil
}

func newTestDeps(plan string, result tools.Result) (*Deps, events.Bus) {
	lookup := fakeLookup{"nmap": nmapSchema()}
	bus := events.NewBus()
	return &Deps{
		Guardrail:   &guardrail.Loop{Provider: &scriptedProvider{plan: plan}, Tools: lookup, System: IdentityPrompt},
		ToolLookup:  lookup,
		ToolCatalog: []*tools.Schema{nmapSchema()},
		Dispatcher:  &fakeDispatcher{result: result},
		Events:      bus,
		Notifier:    NoopNotifier{},
	}, bus
}

const onePlanStep = `{"plan_id":"p1","steps":[{"id":1,"title":"scan","risk":"low","tool":{"tool_name":"nmap","arguments":{"target":"example.com"},"target":"example.com"}}]}`

func runMission(t *testing.T, deps *Deps, input MissionInput) ScanOutput {
	t.Helper()
	e := inmem.New()
	ctx := context.Background()
	require.NoError(t, deps.Register(ctx, e, "test-queue"))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: input.MissionID, Workflow: WorkflowName, Input: input})
	require.NoError(t, err)

	var out ScanOutput
	require.NoError(t, handle.Wait(ctx, &out))
	return out
}

func TestRunAutoPilotCompletesAndRecordsFinding(t *testing.T) {
	deps, bus := newTestDeps(onePlanStep, tools.Result{
		Failure: tools.FailureNone,
		Parsed:  map[string]any{"severity": "high", "title": "open port"},
	})

	var seen []events.Event
	_, err := bus.Register(events.SubscriberFunc(func(_ context.Context, e events.Event) error {
		seen = append(seen, e)
		return nil
	}))
	require.NoError(t, err)

	out := runMission(t, deps, MissionInput{
		MissionID: "m1",
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
		Scope:     Scope{AllowedDomains: []string{"example.com", "*.example.com"}},
		AutoPilot: true,
	})

	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, 1, out.StepsTaken)
	require.Len(t, out.Findings, 1)
	require.Equal(t, Severity("high"), out.Findings[0].Severity)
	require.NotEmpty(t, seen, "step completion and finding events should have been published")
}

func TestRunSkipsToolCallOutsideScope(t *testing.T) {
	deps, _ := newTestDeps(onePlanStep, tools.Result{Failure: tools.FailureNone})

	out := runMission(t, deps, MissionInput{
		MissionID: "m2",
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
		Scope:     Scope{AllowedDomains: []string{"*.other.test"}},
		AutoPilot: true,
	})

	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, 0, out.StepsTaken, "an out-of-scope step must be skipped, not executed")
	require.Empty(t, out.Findings)
}

func TestRunFailsWhenPlanProposalInvalid(t *testing.T) {
	deps, _ := newTestDeps(`not valid json`, tools.Result{})

	out := runMission(t, deps, MissionInput{
		MissionID: "m3",
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
		AutoPilot: true,
	})

	require.Equal(t, StatusFailed, out.Status)
	require.NotEmpty(t, out.ErrorMessage)
}

func TestRunExhaustsOnStepBudget(t *testing.T) {
	twoSteps := `{"plan_id":"p1","steps":[` +
		`{"id":1,"title":"a","risk":"low","tool":{"tool_name":"nmap","arguments":{"target":"example.com"},"target":"example.com"}},` +
		`{"id":2,"title":"b","risk":"low","tool":{"tool_name":"nmap","arguments":{"target":"example.com"},"target":"example.com"}}` +
		`]}`
	deps, _ := newTestDeps(twoSteps, tools.Result{Failure: tools.FailureNone})

	out := runMission(t, deps, MissionInput{
		MissionID: "m4",
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
		Scope:     Scope{AllowedDomains: []string{"example.com", "*.example.com"}},
		Budget:    BudgetOverrides{MaxSteps: 1},
		AutoPilot: true,
	})

	require.Equal(t, StatusExhausted, out.Status)
	require.Equal(t, 1, out.StepsTaken)
}

func TestRunAwaitingApprovalRequiresApprovePlanSignal(t *testing.T) {
	deps, _ := newTestDeps(onePlanStep, tools.Result{Failure: tools.FailureNone})

	e := inmem.New()
	ctx := context.Background()
	require.NoError(t, deps.Register(ctx, e, "test-queue"))

	handle, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "m5",
		Workflow: WorkflowName,
		Input: MissionInput{
			MissionID: "m5",
			Objective: "scan example.com",
			Targets:   []string{"example.com"},
			Scope:     Scope{AllowedDomains: []string{"example.com", "*.example.com"}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, handle.Signal(ctx, interrupt.SignalApprovePlan, interrupt.ApprovePlanRequest{ApprovedStepIDs: []string{"1"}, RequestedBy: "operator"}))

	var out ScanOutput
	require.NoError(t, handle.Wait(ctx, &out))
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, 1, out.StepsTaken)
}
