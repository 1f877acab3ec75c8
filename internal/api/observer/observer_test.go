package observer

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/api"
	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/engine/inmem"
	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/interrupt"
	"github.com/CharanRayudu/SentryAI/internal/mission"
	"github.com/CharanRayudu/SentryAI/internal/store"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

func TestTopicForKind(t *testing.T) {
	cases := []struct {
		kind  events.Kind
		topic string
		ok    bool
	}{
		{events.PlanProposed, TopicPlanProposal, true},
		{events.StepCompleted, TopicStepComplete, true},
		{events.FindingRecorded, TopicFinding, true},
		{events.MissionKilled, TopicStatus, true},
		{events.Kind("unmapped"), "", false},
	}
	for _, tt := range cases {
		topic, ok := topicForKind(tt.kind)
		require.Equal(t, tt.ok, ok)
		require.Equal(t, tt.topic, topic)
	}
}

func TestClientSubscribeUnsubscribe(t *testing.T) {
	c := &client{channels: make(map[string]bool)}
	require.False(t, c.subscribed(TopicFinding))
	c.subscribe(TopicFinding)
	require.True(t, c.subscribed(TopicFinding))
	c.unsubscribe(TopicFinding)
	require.False(t, c.subscribed(TopicFinding))
}

func newTestHub(t *testing.T) (*Hub, *api.Manager, events.Bus, string) {
	t.Helper()
	e := inmem.New()
	ctx := context.Background()

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: mission.WorkflowName,
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			killCh := wfCtx.SignalChannel(interrupt.SignalKill)
			var req interrupt.KillRequest
			_ = killCh.Receive(wfCtx.Context(), &req)
			return req.Reason, nil
		},
	}))

	bus := events.NewBus()
	mgr, err := api.NewManager(e, "test-queue", store.NewInMemoryStore(), store.NewFindingIndex(), bus, telemetry.NewNoopLogger())
	require.NoError(t, err)

	rec, err := mgr.CreateMission(ctx, api.CreateMissionRequest{Objective: "scan example.com", Targets: []string{"example.com"}})
	require.NoError(t, err)

	hub, err := NewHub(mgr, bus, telemetry.NewNoopLogger())
	require.NoError(t, err)
	return hub, mgr, bus, rec.MissionID
}

func TestHubBroadcastsSubscribedTopicToConnectedClient(t *testing.T) {
	hub, _, bus, missionID := newTestHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "subscribe", Channel: TopicFinding}))
	time.Sleep(50 * time.Millisecond) // let readPump process the subscribe frame

	require.NoError(t, bus.Publish(context.Background(), events.NewFindingRecordedEvent(missionID, 1, "f1", "high")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, TopicFinding, env.Topic)
	require.Equal(t, missionID, env.MissionID)
}

func TestHubIgnoresUnsubscribedTopic(t *testing.T) {
	hub, _, bus, missionID := newTestHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "subscribe", Channel: TopicFinding}))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), events.NewStepCompletedEvent(missionID, 1, "1", "nmap", true, 0.05)))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env Envelope
	err = conn.ReadJSON(&env)
	require.Error(t, err, "a step_complete event must not reach a client subscribed only to finding")
}

func TestHubHandlesCancelFrame(t *testing.T) {
	hub, mgr, _, missionID := newTestHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "cancel", MissionID: missionID}))
	time.Sleep(50 * time.Millisecond)

	rec, err := mgr.GetMission(context.Background(), missionID)
	require.NoError(t, err)
	_ = rec // only checks that the mission row is still readable after a cancel frame; the kill signal itself is not observed here
}
