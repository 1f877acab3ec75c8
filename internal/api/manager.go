// Package api implements the Control API: a thin REST layer that
// forwards to workflow start/signal/query and does not itself own mission
// state. Mission rows live in internal/store; mission findings are
// projected from the event fabric into internal/store.FindingIndex; the
// Manager here only bridges HTTP requests to the engine.Engine/
// engine.WorkflowHandle pair and keeps an in-process table of live
// handles, since engine.Engine has no lookup-by-id of its own.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/interrupt"
	"github.com/CharanRayudu/SentryAI/internal/mission"
	"github.com/CharanRayudu/SentryAI/internal/store"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

// CreateMissionRequest is the POST /missions request body.
type CreateMissionRequest struct {
	TenantID     string                 `json:"tenant_id,omitempty"`
	UserID       string                 `json:"user_id,omitempty"`
	Objective    string                 `json:"objective"`
	Targets      []string               `json:"targets"`
	Scope        mission.Scope          `json:"scope"`
	Budget       mission.BudgetOverrides `json:"budget"`
	AutoPilot    bool                   `json:"auto_pilot"`
	NotifyOnFind bool                   `json:"notify_on_finding"`
}

// SignalRequest is the POST /missions/{id}/signal request body.
type SignalRequest struct {
	SignalName string `json:"signal_name"`
	Data       any    `json:"data"`
}

// Manager forwards Control API operations to the engine and keeps the
// mission-row store and finding index current.
type Manager struct {
	eng       engine.Engine
	taskQueue string
	store     store.MissionStore
	findings  *store.FindingIndex
	bus       events.Bus
	logger    telemetry.Logger

	mu      sync.RWMutex
	handles map[string]engine.WorkflowHandle
}

// NewManager constructs a Manager and subscribes it to the event bus so
// mission-row status and the finding index stay current without the
// Mission Workflow ever importing internal/store directly.
func NewManager(eng engine.Engine, taskQueue string, st store.MissionStore, findings *store.FindingIndex, bus events.Bus, logger telemetry.Logger) (*Manager, error) {
	m := &Manager{
		eng:       eng,
		taskQueue: taskQueue,
		store:     st,
		findings:  findings,
		bus:       bus,
		logger:    logger,
		handles:   make(map[string]engine.WorkflowHandle),
	}
	if _, err := bus.Register(events.SubscriberFunc(m.handleEvent)); err != nil {
		return nil, fmt.Errorf("api: register event subscriber: %w", err)
	}
	return m, nil
}

func (m *Manager) handleEvent(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case *events.FindingRecordedEvent:
		// FindingRecordedEvent carries only id/severity; the full Finding is
		// looked up by the Observer/bridge layer from the raw payload when
		// richer projections are needed. Here we record a minimal stub so
		// get_findings has something to serve even before that layer exists.
		m.findings.Append(e.MissionID(), mission.Finding{ID: e.FindingID, MissionID: e.MissionID(), Severity: mission.Severity(e.Severity)})
	case *events.MissionCompletedEvent:
		status := mission.Status(e.Status)
		if err := m.store.UpdateStatus(ctx, e.MissionID(), status, e.Error, time.Now()); err != nil && err != store.ErrNotFound {
			m.logger.Warn(ctx, "failed to record terminal mission status", "mission_id", e.MissionID(), "error", err)
		}
	case *events.MissionKilledEvent:
		if err := m.store.UpdateStatus(ctx, e.MissionID(), mission.StatusKilled, e.Reason, time.Now()); err != nil && err != store.ErrNotFound {
			m.logger.Warn(ctx, "failed to record killed mission status", "mission_id", e.MissionID(), "error", err)
		}
	case *events.PlanApprovedEvent:
		if err := m.store.UpdateStatus(ctx, e.MissionID(), mission.StatusRunning, "", time.Now()); err != nil && err != store.ErrNotFound {
			m.logger.Warn(ctx, "failed to record running mission status", "mission_id", e.MissionID(), "error", err)
		}
	}
	return nil
}

// CreateMission starts a new mission workflow and persists its row.
func (m *Manager) CreateMission(ctx context.Context, req CreateMissionRequest) (store.MissionRecord, error) {
	if req.Objective == "" {
		return store.MissionRecord{}, fmt.Errorf("api: objective is required")
	}
	if len(req.Targets) == 0 {
		return store.MissionRecord{}, fmt.Errorf("api: at least one target is required")
	}

	missionID := uuid.NewString()
	workflowID := fmt.Sprintf("mission-%s", missionID)

	input := mission.MissionInput{
		MissionID:    missionID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		Objective:    req.Objective,
		Targets:      req.Targets,
		Scope:        req.Scope,
		Budget:       req.Budget,
		AutoPilot:    req.AutoPilot,
		NotifyOnFind: req.NotifyOnFind,
	}

	handle, err := m.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        workflowID,
		Workflow:  mission.WorkflowName,
		TaskQueue: m.taskQueue,
		Input:     input,
	})
	if err != nil {
		return store.MissionRecord{}, fmt.Errorf("api: start mission workflow: %w", err)
	}

	m.mu.Lock()
	m.handles[missionID] = handle
	m.mu.Unlock()

	rec := store.MissionRecord{
		MissionID:  missionID,
		WorkflowID: workflowID,
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Objective:  req.Objective,
		Targets:    req.Targets,
		Scope:      req.Scope,
		Budget:     req.Budget,
		AutoPilot:  req.AutoPilot,
		Status:     mission.StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return store.MissionRecord{}, fmt.Errorf("api: persist mission row: %w", err)
	}
	return rec, nil
}

// GetMission returns a mission's current row (maps to the workflow's
// status() query — served here by the store-backed read model per the
// recorded Open Question decision, since engine.Engine has no live query
// mechanism).
func (m *Manager) GetMission(ctx context.Context, missionID string) (store.MissionRecord, error) {
	return m.store.Get(ctx, missionID)
}

// ListMissions returns mission rows for a tenant, optionally filtered by status.
func (m *Manager) ListMissions(ctx context.Context, tenantID string, statuses []mission.Status) ([]store.MissionRecord, error) {
	return m.store.List(ctx, tenantID, statuses)
}

// Findings returns the findings recorded for a mission.
func (m *Manager) Findings(missionID string) []mission.Finding {
	return m.findings.List(missionID)
}

// Cancel sends a graceful kill signal ("user cancel").
func (m *Manager) Cancel(ctx context.Context, missionID string) error {
	return m.signalKill(ctx, missionID, "user cancel")
}

// Terminate sends a forced kill signal.
func (m *Manager) Terminate(ctx context.Context, missionID string) error {
	return m.signalKill(ctx, missionID, "forced")
}

func (m *Manager) signalKill(ctx context.Context, missionID, reason string) error {
	handle, err := m.handle(missionID)
	if err != nil {
		return err
	}
	if err := handle.Signal(ctx, interrupt.SignalKill, interrupt.KillRequest{Reason: reason, RequestedBy: "api"}); err != nil {
		return err
	}
	// Cancel propagates into whatever activity is in flight (tool execution,
	// most notably) so a kill mid-step doesn't wait for that call to return
	// on its own. The in-memory engine's Cancel is a no-op; only the
	// signal-driven path applies there.
	return handle.Cancel(ctx)
}

// Signal forwards one of the three operator-facing signal names
// (approve_plan, pause, resume) to the mission's running workflow,
// decoding data into the payload shape the interrupt.Controller expects.
// kill is not reachable through this endpoint — use Cancel/Terminate.
func (m *Manager) Signal(ctx context.Context, missionID string, req SignalRequest) error {
	handle, err := m.handle(missionID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(req.Data)
	if err != nil {
		return fmt.Errorf("api: encode signal payload: %w", err)
	}
	switch strings.TrimSpace(req.SignalName) {
	case "approve_plan":
		var payload interrupt.ApprovePlanRequest
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("api: decode approve_plan payload: %w", err)
		}
		return handle.Signal(ctx, interrupt.SignalApprovePlan, payload)
	case "pause":
		var payload interrupt.PauseRequest
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("api: decode pause payload: %w", err)
		}
		return handle.Signal(ctx, interrupt.SignalPause, payload)
	case "resume":
		var payload interrupt.ResumeRequest
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("api: decode resume payload: %w", err)
		}
		return handle.Signal(ctx, interrupt.SignalResume, payload)
	default:
		return fmt.Errorf("api: unknown signal_name %q", req.SignalName)
	}
}

// Delete forgets the mission's workflow handle and leaves its row in the
// store, returning store.ErrNotFound if there is no such row. It does not
// signal or cancel a running workflow.
func (m *Manager) Delete(ctx context.Context, missionID string) error {
	m.mu.Lock()
	delete(m.handles, missionID)
	m.mu.Unlock()
	// internal/store.MissionStore has no Delete method: rows are treated as
	// an append-only audit trail once created, matching "findings are
	// append-only within a mission" applied to mission rows too.
	_, err := m.store.Get(ctx, missionID)
	return err
}

func (m *Manager) handle(missionID string) (engine.WorkflowHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[missionID]
	if !ok {
		return nil, fmt.Errorf("api: no running workflow handle for mission %q", missionID)
	}
	return h, nil
}
