// Package events implements the Event Fabric (component E): an in-process
// pub/sub bus for mission lifecycle events, decoupling the producer (the
// Mission Workflow, through its emit activities) from consumers (the
// Observer channel, the external event bridge, the Control API's
// projections).
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind enumerates the well-known mission events broadcast on the bus.
type Kind string

const (
	MissionStarted   Kind = "mission_started"
	MissionCompleted Kind = "mission_completed"
	MissionPaused    Kind = "mission_paused"
	MissionResumed   Kind = "mission_resumed"
	PlanProposed     Kind = "plan_proposed"
	PlanApproved     Kind = "plan_approved"
	StepStarted      Kind = "step_started"
	StepCompleted    Kind = "step_completed"
	ScopeViolation   Kind = "scope_violation"
	BudgetWarning    Kind = "budget_warning"
	BudgetExhausted  Kind = "budget_exhausted"
	FindingRecorded  Kind = "finding_recorded"
	MissionKilled    Kind = "mission_killed"
)

type (
	// Event is the interface every mission event implements. Subscribers
	// type-switch on the concrete type to read event-specific fields.
	Event interface {
		Kind() Kind
		MissionID() string
		Seq() uint64
	}

	base struct {
		kind      Kind
		missionID string
		seq       uint64
	}

	// MissionStartedEvent fires when a mission begins execution.
	MissionStartedEvent struct {
		base
		Objective string
		Targets   []string
	}

	// MissionCompletedEvent fires when a mission reaches a terminal status.
	MissionCompletedEvent struct {
		base
		Status string
		Error  string
	}

	// PlanProposedEvent fires when the Guardrail Loop emits a candidate plan
	// awaiting operator approval.
	PlanProposedEvent struct {
		base
		StepCount int
	}

	// PlanApprovedEvent fires when an operator (or auto-pilot) approves steps.
	PlanApprovedEvent struct {
		base
		ApprovedStepIDs []string
		AutoPilot       bool
	}

	// StepStartedEvent fires when a plan step begins dispatch.
	StepStartedEvent struct {
		base
		StepID string
		Tool   string
	}

	// StepCompletedEvent fires when a plan step's tool call returns.
	StepCompletedEvent struct {
		base
		StepID   string
		Tool     string
		Success  bool
		CostUSD  float64
	}

	// ScopeViolationEvent fires when the Scope Enforcer denies a target.
	ScopeViolationEvent struct {
		base
		Target   string
		Decision string
		Reason   string
	}

	// BudgetWarningEvent fires when the Budget Enforcer crosses a warning
	// threshold (cost, steps, or loop detection).
	BudgetWarningEvent struct {
		base
		Violation string
		Detail    string
	}

	// BudgetExhaustedEvent fires when a hard budget ceiling halts the mission.
	BudgetExhaustedEvent struct {
		base
		Violation string
		Detail    string
	}

	// FindingRecordedEvent fires when the mission records a new finding.
	FindingRecordedEvent struct {
		base
		FindingID string
		Severity  string
	}

	// MissionKilledEvent fires when a mission is manually terminated.
	MissionKilledEvent struct {
		base
		Reason      string
		RequestedBy string
	}
)

func (b base) Kind() Kind        { return b.kind }
func (b base) MissionID() string { return b.missionID }
func (b base) Seq() uint64       { return b.seq }

// newBase is used by publishers to stamp the mission ID and sequence number
// shared by every event.
func newBase(kind Kind, missionID string, seq uint64) base {
	return base{kind: kind, missionID: missionID, seq: seq}
}

// New constructs a base embeddable by event-specific fields, exported for
// packages (mission, scope, budget) that build concrete Event values.
func New(kind Kind, missionID string, seq uint64) Event { return newBase(kind, missionID, seq) }

// The NewXxxEvent constructors below let other packages (mission, scope,
// budget) build concrete, typed events without reaching into base, whose
// fields stay unexported so only this package can stamp kind/mission/seq.

// NewMissionStartedEvent builds a MissionStartedEvent.
func NewMissionStartedEvent(missionID string, seq uint64, objective string, targets []string) *MissionStartedEvent {
	return &MissionStartedEvent{base: newBase(MissionStarted, missionID, seq), Objective: objective, Targets: targets}
}

// NewMissionCompletedEvent builds a MissionCompletedEvent.
func NewMissionCompletedEvent(missionID string, seq uint64, status, errMsg string) *MissionCompletedEvent {
	return &MissionCompletedEvent{base: newBase(MissionCompleted, missionID, seq), Status: status, Error: errMsg}
}

// NewPlanProposedEvent builds a PlanProposedEvent.
func NewPlanProposedEvent(missionID string, seq uint64, stepCount int) *PlanProposedEvent {
	return &PlanProposedEvent{base: newBase(PlanProposed, missionID, seq), StepCount: stepCount}
}

// NewPlanApprovedEvent builds a PlanApprovedEvent.
func NewPlanApprovedEvent(missionID string, seq uint64, approvedStepIDs []string, autoPilot bool) *PlanApprovedEvent {
	return &PlanApprovedEvent{base: newBase(PlanApproved, missionID, seq), ApprovedStepIDs: approvedStepIDs, AutoPilot: autoPilot}
}

// NewStepStartedEvent builds a StepStartedEvent.
func NewStepStartedEvent(missionID string, seq uint64, stepID, tool string) *StepStartedEvent {
	return &StepStartedEvent{base: newBase(StepStarted, missionID, seq), StepID: stepID, Tool: tool}
}

// NewStepCompletedEvent builds a StepCompletedEvent.
func NewStepCompletedEvent(missionID string, seq uint64, stepID, tool string, success bool, costUSD float64) *StepCompletedEvent {
	return &StepCompletedEvent{base: newBase(StepCompleted, missionID, seq), StepID: stepID, Tool: tool, Success: success, CostUSD: costUSD}
}

// NewScopeViolationEvent builds a ScopeViolationEvent.
func NewScopeViolationEvent(missionID string, seq uint64, target, decision, reason string) *ScopeViolationEvent {
	return &ScopeViolationEvent{base: newBase(ScopeViolation, missionID, seq), Target: target, Decision: decision, Reason: reason}
}

// NewBudgetWarningEvent builds a BudgetWarningEvent.
func NewBudgetWarningEvent(missionID string, seq uint64, violation, detail string) *BudgetWarningEvent {
	return &BudgetWarningEvent{base: newBase(BudgetWarning, missionID, seq), Violation: violation, Detail: detail}
}

// NewBudgetExhaustedEvent builds a BudgetExhaustedEvent.
func NewBudgetExhaustedEvent(missionID string, seq uint64, violation, detail string) *BudgetExhaustedEvent {
	return &BudgetExhaustedEvent{base: newBase(BudgetExhausted, missionID, seq), Violation: violation, Detail: detail}
}

// NewFindingRecordedEvent builds a FindingRecordedEvent.
func NewFindingRecordedEvent(missionID string, seq uint64, findingID, severity string) *FindingRecordedEvent {
	return &FindingRecordedEvent{base: newBase(FindingRecorded, missionID, seq), FindingID: findingID, Severity: severity}
}

// NewMissionKilledEvent builds a MissionKilledEvent.
func NewMissionKilledEvent(missionID string, seq uint64, reason, requestedBy string) *MissionKilledEvent {
	return &MissionKilledEvent{base: newBase(MissionKilled, missionID, seq), Reason: reason, RequestedBy: requestedBy}
}

// Subscriber receives events published to a Bus.
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SubscriberFunc adapts an ordinary function into a Subscriber.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent implements Subscriber.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return fn(ctx, event) }

// Subscription is returned by Bus.Register and unregisters the subscriber
// when Close is called.
type Subscription interface {
	Close() error
}

// Bus fans out published events to every registered subscriber. A
// subscriber's error does not stop delivery to the remaining subscribers;
// Publish returns the first error encountered (if any) after all
// subscribers have been invoked.
type Bus interface {
	Register(sub Subscriber) (Subscription, error)
	Publish(ctx context.Context, event Event) error
}

type bus struct {
	mu   sync.RWMutex
	subs map[int]Subscriber
	next int
}

// NewBus constructs an empty, ready-to-use Bus.
func NewBus() Bus {
	return &bus{subs: make(map[int]Subscriber)}
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("events: cannot register nil subscriber")
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()
	return &subscription{bus: b, id: id}, nil
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		if err := s.HandleEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("events: subscriber error: %w", err)
		}
	}
	return firstErr
}

type subscription struct {
	bus *bus
	id  int
}

func (s *subscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}
