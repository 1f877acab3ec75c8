// Package store defines the narrow collaborator interfaces the Mission
// Execution Core consumes from external storage systems it does not own
// (component G, the Adapter surface). The Core never embeds a concrete
// relational database: mission rows are created by the Control API,
// mutated only by the Mission Workflow's event stream, and become
// read-only on termination, exactly as a row in any relational store would
// behave — callers outside this module supply the concrete implementation
// (Postgres, SQLite, or an in-memory fake for tests).
//
// Shape grounded on runtime/agent/session.Store: a small, explicit
// CRUD-plus-list contract over durable records, not a general-purpose ORM
// surface.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CharanRayudu/SentryAI/internal/mission"
)

var (
	// ErrNotFound is returned when a mission row does not exist.
	ErrNotFound = errors.New("store: mission not found")
	// ErrTerminal is returned when a caller attempts to mutate a mission
	// row that has already reached a terminal status.
	ErrTerminal = errors.New("store: mission is terminal and read-only")
)

// MissionRecord is the persisted row layout: identity, workflow binding,
// scan configuration, and lifecycle timestamps. Findings and events are
// explicitly not part of this record — the Core does not own their
// long-term storage.
type MissionRecord struct {
	MissionID   string
	WorkflowID  string
	TenantID    string
	UserID      string
	Objective   string
	Targets     []string
	Scope       mission.Scope
	Budget      mission.BudgetOverrides
	AutoPilot   bool
	Status      mission.Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ErrorMessage string
}

// MissionStore persists mission rows. Implementations must treat a
// terminal-status record as immutable: UpdateStatus on an already-terminal
// record returns ErrTerminal rather than silently overwriting history.
type MissionStore interface {
	Create(ctx context.Context, rec MissionRecord) error
	Get(ctx context.Context, missionID string) (MissionRecord, error)
	// UpdateStatus transitions a mission's status and, for terminal
	// statuses, stamps CompletedAt and records errMsg (empty on success).
	UpdateStatus(ctx context.Context, missionID string, status mission.Status, errMsg string, at time.Time) error
	// List returns mission rows for a tenant, optionally filtered by
	// status; an empty statuses slice returns every status.
	List(ctx context.Context, tenantID string, statuses []mission.Status) ([]MissionRecord, error)
}

// InMemoryStore is a MissionStore backed by a guarded map, used by the
// in-memory engine path and by tests; not durable across process restarts.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[string]MissionRecord
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]MissionRecord)}
}

// Create implements MissionStore.
func (s *InMemoryStore) Create(_ context.Context, rec MissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.MissionID] = rec
	return nil
}

// Get implements MissionStore.
func (s *InMemoryStore) Get(_ context.Context, missionID string) (MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[missionID]
	if !ok {
		return MissionRecord{}, ErrNotFound
	}
	return rec, nil
}

// UpdateStatus implements MissionStore.
func (s *InMemoryStore) UpdateStatus(_ context.Context, missionID string, status mission.Status, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[missionID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrTerminal
	}
	rec.Status = status
	if status == mission.StatusRunning && rec.StartedAt == nil {
		t := at
		rec.StartedAt = &t
	}
	if status.Terminal() {
		t := at
		rec.CompletedAt = &t
		rec.ErrorMessage = errMsg
	}
	s.rows[missionID] = rec
	return nil
}

// List implements MissionStore.
func (s *InMemoryStore) List(_ context.Context, tenantID string, statuses []mission.Status) ([]MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[mission.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]MissionRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		if len(want) > 0 && !want[rec.Status] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindingIndex is an observer-side projection of a mission's findings,
// rebuilt from the event fabric rather than owned by the workflow itself:
// findings and events are persisted by observers, not the Core. The
// Control API subscribes to the event bus and calls Append as
// finding_recorded events arrive, so its get_findings endpoint has
// something to serve without querying a live workflow.
type FindingIndex struct {
	mu       sync.RWMutex
	byMission map[string][]mission.Finding
}

// NewFindingIndex constructs an empty FindingIndex.
func NewFindingIndex() *FindingIndex {
	return &FindingIndex{byMission: make(map[string][]mission.Finding)}
}

// Append records one more finding for a mission.
func (idx *FindingIndex) Append(missionID string, f mission.Finding) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byMission[missionID] = append(idx.byMission[missionID], f)
}

// List returns the findings recorded for a mission, oldest first.
func (idx *FindingIndex) List(missionID string) []mission.Finding {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]mission.Finding, len(idx.byMission[missionID]))
	copy(out, idx.byMission[missionID])
	return out
}
