package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CharanRayudu/SentryAI/internal/events"
)

// Envelope wraps a mission event for transmission over a Pulse stream.
type Envelope struct {
	Kind      string          `json:"kind"`
	MissionID string          `json:"mission_id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publisher subscribes to the in-process events.Bus and republishes every
// event onto the mission's Pulse stream ("mission/<mission_id>"). Register it
// once per process when the bridge is enabled (config.Bridge.Enabled); one
// Publisher serves every mission, routing each event by its mission id.
type Publisher struct {
	client Client
}

// NewPublisher builds a Publisher bound to client.
func NewPublisher(client Client) *Publisher { return &Publisher{client: client} }

// Register subscribes the Publisher to bus so every published mission event
// is forwarded to Redis. Returns the subscription so callers can detach it
// on shutdown.
func (p *Publisher) Register(bus events.Bus) (events.Subscription, error) {
	return bus.Register(events.SubscriberFunc(p.HandleEvent))
}

// HandleEvent implements events.Subscriber.
func (p *Publisher) HandleEvent(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bridge: marshal event: %w", err)
	}
	env := Envelope{
		Kind:      string(evt.Kind()),
		MissionID: evt.MissionID(),
		Seq:       evt.Seq(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bridge: marshal envelope: %w", err)
	}
	stream, err := p.client.Stream(streamName(evt.MissionID()))
	if err != nil {
		return err
	}
	_, err = stream.Add(ctx, env.Kind, body)
	return err
}

// Subscriber consumes a mission's Pulse stream for external observers that
// read from Redis rather than from the in-process websocket hub. No Control
// API route uses it; the hub at /observe reads the in-process bus.
type Subscriber struct {
	client Client
	group  string
}

// NewSubscriber builds a Subscriber using group as its Pulse consumer group
// name. Multiple processes sharing the same group split the stream; give
// each independent observer its own group name.
func NewSubscriber(client Client, group string) *Subscriber {
	if group == "" {
		group = "sentryai_bridge_subscriber"
	}
	return &Subscriber{client: client, group: group}
}

// Subscribe opens a sink on the mission's stream and returns a channel of
// decoded envelopes plus a cancel function that stops consumption.
func (s *Subscriber) Subscribe(ctx context.Context, missionID string) (<-chan Envelope, context.CancelFunc, error) {
	stream, err := s.client.Stream(streamName(missionID))
	if err != nil {
		return nil, nil, err
	}
	sink, err := stream.NewSink(ctx, s.group)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Envelope, 64)
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		ch := sink.Subscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal(raw.Payload, &env); err != nil {
					continue
				}
				select {
				case out <- env:
				case <-runCtx.Done():
					return
				}
				_ = sink.Ack(runCtx, raw)
			}
		}
	}()

	return out, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func streamName(missionID string) string {
	if missionID == "" {
		missionID = "unknown"
	}
	return fmt.Sprintf("mission/%s", missionID)
}
