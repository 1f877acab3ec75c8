// Package observer implements the Observer channel: a long-lived,
// bidirectional websocket stream broadcasting every mission event envelope
// to subscribed clients, and accepting a small set of client-originated
// control frames (subscribe, unsubscribe, approve_plan, cancel).
//
// Connection/read/write-pump shape grounded on
// itsneelabh-gomind/ui/transports/websocket's WebSocketTransport (upgrader
// config, per-client send channel, ping/pong keepalive, separate
// readPump/writePump goroutines); subscription bookkeeping grounded on the
// Event Fabric's own subscribe/unsubscribe/broadcast model.
package observer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/CharanRayudu/SentryAI/internal/api"
	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/interrupt"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

// Topics a client may subscribe to. Most map 1:1 from an events.Kind;
// agent_thought and graph_update are reserved for the LLM Guardrail Loop's
// reasoning trace and the graph-store adapter respectively — neither has a
// publisher wired into the Event Fabric yet (see DESIGN.md), so no
// events.Kind currently maps to them.
const (
	TopicPlanProposal   = "plan_proposal"
	TopicStepBegin      = "step_begin"
	TopicStepComplete   = "step_complete"
	TopicScopeViolation = "scope_violation"
	TopicBudgetWarning  = "budget_warning"
	TopicFinding        = "finding"
	TopicStatus         = "status"
	TopicAgentThought   = "agent_thought"
	TopicGraphUpdate    = "graph_update"
)

// Envelope is the wire shape of one broadcast event:
// {mission_id, topic, kind, timestamp, payload}, plus a snowflake-derived
// seq tiebreaker for events that share a timestamp.
type Envelope struct {
	MissionID string    `json:"mission_id"`
	Topic     string    `json:"topic"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
	Payload   any       `json:"payload"`
}

// clientFrame is a client->server control message: {type, channel, plan_id,
// approved_steps, mission_id}.
type clientFrame struct {
	Type          string   `json:"type"`
	Channel       string   `json:"channel,omitempty"`
	PlanID        string   `json:"plan_id,omitempty"`
	ApprovedSteps []string `json:"approved_steps,omitempty"`
	MissionID     string   `json:"mission_id,omitempty"`
}

// Hub fans broadcast event envelopes out to subscribed websocket clients
// and applies client control frames (approve_plan, cancel) back onto the
// mission Manager.
type Hub struct {
	mgr    *api.Manager
	logger telemetry.Logger
	node   *snowflake.Node

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub constructs a Hub, subscribes it to bus, and registers node 1 for
// snowflake sequence generation (a single-process deployment needs only one
// node id; a horizontally scaled Observer tier would assign one per
// replica).
func NewHub(mgr *api.Manager, bus events.Bus, logger telemetry.Logger) (*Hub, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		mgr:     mgr,
		logger:  logger,
		node:    node,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if _, err := bus.Register(events.SubscriberFunc(h.handleEvent)); err != nil {
		return nil, err
	}
	return h, nil
}

// ServeHTTP upgrades the connection and starts the client's read/write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	c := &client{
		sessionID: uuid.NewString(),
		conn:      conn,
		send:      make(chan Envelope, 256),
		channels:  make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c.sessionID] = c
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) handleEvent(ctx context.Context, ev events.Event) error {
	topic, ok := topicForKind(ev.Kind())
	if !ok {
		return nil
	}
	env := Envelope{
		MissionID: ev.MissionID(),
		Topic:     topic,
		Kind:      string(ev.Kind()),
		Timestamp: time.Now(),
		Seq:       h.node.Generate().Int64(),
		Payload:   ev,
	}
	h.broadcast(topic, env)
	return nil
}

// broadcast delivers env to every client subscribed to topic; a client
// whose send queue is full is evicted (its connection is closed, and its
// read pump then removes it) rather than blocking the publisher.
func (h *Hub) broadcast(topic string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.subscribed(topic) {
			continue
		}
		select {
		case c.send <- env:
		default:
			h.logger.Warn(context.Background(), "observer: evicting slow client", "session_id", c.sessionID, "topic", topic)
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) removeClient(sessionID string) {
	h.mu.Lock()
	delete(h.clients, sessionID)
	h.mu.Unlock()
}

func topicForKind(kind events.Kind) (string, bool) {
	switch kind {
	case events.PlanProposed:
		return TopicPlanProposal, true
	case events.StepStarted:
		return TopicStepBegin, true
	case events.StepCompleted:
		return TopicStepComplete, true
	case events.ScopeViolation:
		return TopicScopeViolation, true
	case events.BudgetWarning, events.BudgetExhausted:
		return TopicBudgetWarning, true
	case events.FindingRecorded:
		return TopicFinding, true
	case events.MissionStarted, events.MissionCompleted, events.MissionPaused,
		events.MissionResumed, events.MissionKilled, events.PlanApproved:
		return TopicStatus, true
	default:
		return "", false
	}
}

type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan Envelope

	mu       sync.RWMutex
	channels map[string]bool
}

func (c *client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[topic]
}

func (c *client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[topic] = true
}

func (c *client) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, topic)
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.removeClient(c.sessionID)
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		h.handleFrame(c, frame)
	}
}

func (h *Hub) handleFrame(c *client, frame clientFrame) {
	ctx := context.Background()
	switch frame.Type {
	case "subscribe":
		c.subscribe(frame.Channel)
	case "unsubscribe":
		c.unsubscribe(frame.Channel)
	case "approve_plan":
		stepIDs := make([]string, len(frame.ApprovedSteps))
		copy(stepIDs, frame.ApprovedSteps)
		if err := h.mgr.Signal(ctx, frame.MissionID, api.SignalRequest{
			SignalName: "approve_plan",
			Data:       interrupt.ApprovePlanRequest{ApprovedStepIDs: stepIDs, RequestedBy: c.sessionID},
		}); err != nil {
			h.logger.Warn(ctx, "observer: approve_plan signal failed", "mission_id", frame.MissionID, "error", err)
		}
	case "cancel":
		if err := h.mgr.Cancel(ctx, frame.MissionID); err != nil {
			h.logger.Warn(ctx, "observer: cancel failed", "mission_id", frame.MissionID, "error", err)
		}
	default:
		h.logger.Warn(ctx, "observer: unknown client frame type", "type", frame.Type)
	}
}

