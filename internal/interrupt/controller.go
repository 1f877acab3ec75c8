// Package interrupt drains the Mission Workflow's external signal channels:
// approve_plan, pause, resume, and kill. The Mission Workflow polls or
// blocks on a Controller instead of touching engine.SignalChannel directly,
// keeping the signal names and payload shapes in one place.
package interrupt

import (
	"context"
	"errors"

	"github.com/CharanRayudu/SentryAI/internal/engine"
)

// Signal names delivered to a running mission workflow.
const (
	SignalApprovePlan = "sentryai.mission.approve_plan"
	SignalPause       = "sentryai.mission.pause"
	SignalResume      = "sentryai.mission.resume"
	SignalKill        = "sentryai.mission.kill"
)

type (
	// ApprovePlanRequest carries the operator's approved step ids (decimal
	// strings of PlanStep.ID) for a proposed execution plan. Auto-pilot
	// missions approve every step themselves and never receive this signal.
	ApprovePlanRequest struct {
		ApprovedStepIDs []string
		RequestedBy     string
	}

	// PauseRequest carries metadata attached to a pause signal.
	PauseRequest struct {
		Reason      string
		RequestedBy string
	}

	// ResumeRequest carries metadata attached to a resume signal.
	ResumeRequest struct {
		RequestedBy string
	}

	// KillRequest carries the reason a mission is being terminated.
	KillRequest struct {
		Reason      string
		RequestedBy string
	}

	// Controller drains mission control signals for the workflow loop.
	Controller struct {
		approveCh engine.SignalChannel
		pauseCh   engine.SignalChannel
		resumeCh  engine.SignalChannel
		killCh    engine.SignalChannel
	}
)

// NewController wires a Controller to the workflow context's signal channels.
func NewController(wfCtx engine.WorkflowContext) *Controller {
	return &Controller{
		approveCh: wfCtx.SignalChannel(SignalApprovePlan),
		pauseCh:   wfCtx.SignalChannel(SignalPause),
		resumeCh:  wfCtx.SignalChannel(SignalResume),
		killCh:    wfCtx.SignalChannel(SignalKill),
	}
}

// PollApprovePlan attempts to dequeue a plan approval without blocking.
func (c *Controller) PollApprovePlan() (ApprovePlanRequest, bool) {
	if c == nil || c.approveCh == nil {
		return ApprovePlanRequest{}, false
	}
	var req ApprovePlanRequest
	if !c.approveCh.ReceiveAsync(&req) {
		return ApprovePlanRequest{}, false
	}
	return req, true
}

// PollPause attempts to dequeue a pause request without blocking.
func (c *Controller) PollPause() (PauseRequest, bool) {
	if c == nil || c.pauseCh == nil {
		return PauseRequest{}, false
	}
	var req PauseRequest
	if !c.pauseCh.ReceiveAsync(&req) {
		return PauseRequest{}, false
	}
	return req, true
}

// PollResume attempts to dequeue a resume request without blocking.
func (c *Controller) PollResume() (ResumeRequest, bool) {
	if c == nil || c.resumeCh == nil {
		return ResumeRequest{}, false
	}
	var req ResumeRequest
	if !c.resumeCh.ReceiveAsync(&req) {
		return ResumeRequest{}, false
	}
	return req, true
}

// PollKill attempts to dequeue a kill request without blocking.
func (c *Controller) PollKill() (KillRequest, bool) {
	if c == nil || c.killCh == nil {
		return KillRequest{}, false
	}
	var req KillRequest
	if !c.killCh.ReceiveAsync(&req) {
		return KillRequest{}, false
	}
	return req, true
}

// WaitApprovePlan blocks until a plan approval is delivered or the receive
// returns an error (for example ctx being done). It waits on the
// approve_plan channel only: a kill signal sent meanwhile does not end the
// wait. The Mission Workflow calls this after proposing a plan when the
// mission is not running in auto-pilot.
func (c *Controller) WaitApprovePlan(ctx context.Context) (ApprovePlanRequest, error) {
	if c == nil || c.approveCh == nil {
		return ApprovePlanRequest{}, errors.New("interrupt: approve_plan channel unavailable")
	}
	var req ApprovePlanRequest
	if err := c.approveCh.Receive(ctx, &req); err != nil {
		return ApprovePlanRequest{}, err
	}
	return req, nil
}
