package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/mission"
)

func TestInMemoryStoreCreateGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	rec := MissionRecord{MissionID: "m1", TenantID: "t1", Status: mission.StatusPending}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.TenantID)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStoreUpdateStatusStampsTimestamps(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, MissionRecord{MissionID: "m1", Status: mission.StatusPending}))
	require.NoError(t, s.UpdateStatus(ctx, "m1", mission.StatusRunning, "", now))

	rec, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, rec.StartedAt)
	require.Equal(t, now, *rec.StartedAt)
	require.Nil(t, rec.CompletedAt)

	completedAt := now.Add(time.Minute)
	require.NoError(t, s.UpdateStatus(ctx, "m1", mission.StatusCompleted, "", completedAt))
	rec, err = s.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, rec.CompletedAt)
	require.Equal(t, completedAt, *rec.CompletedAt)
}

func TestInMemoryStoreUpdateStatusRejectsTerminalMutation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Create(ctx, MissionRecord{MissionID: "m1", Status: mission.StatusCompleted}))
	err := s.UpdateStatus(ctx, "m1", mission.StatusRunning, "", now)
	require.ErrorIs(t, err, ErrTerminal)
}

func TestInMemoryStoreUpdateStatusUnknownMission(t *testing.T) {
	s := NewInMemoryStore()
	err := s.UpdateStatus(context.Background(), "ghost", mission.StatusRunning, "", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStoreListFiltersByTenantAndStatus(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, MissionRecord{MissionID: "m1", TenantID: "a", Status: mission.StatusRunning}))
	require.NoError(t, s.Create(ctx, MissionRecord{MissionID: "m2", TenantID: "a", Status: mission.StatusCompleted}))
	require.NoError(t, s.Create(ctx, MissionRecord{MissionID: "m3", TenantID: "b", Status: mission.StatusRunning}))

	rows, err := s.List(ctx, "a", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = s.List(ctx, "a", []mission.Status{mission.StatusRunning})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "m1", rows[0].MissionID)

	rows, err = s.List(ctx, "", []mission.Status{mission.StatusRunning})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestFindingIndexAppendAndList(t *testing.T) {
	idx := NewFindingIndex()
	idx.Append("m1", mission.Finding{ID: "f1", Severity: mission.SeverityHigh})
	idx.Append("m1", mission.Finding{ID: "f2", Severity: mission.SeverityLow})
	idx.Append("m2", mission.Finding{ID: "f3"})

	got := idx.List("m1")
	require.Len(t, got, 2)
	require.Equal(t, "f1", got[0].ID)
	require.Equal(t, "f2", got[1].ID)

	require.Empty(t, idx.List("unknown"))
}
