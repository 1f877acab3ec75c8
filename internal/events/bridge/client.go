// Package bridge publishes mission events onto Redis-backed Pulse streams so
// external consumers (a SOC dashboard, a SIEM forwarder) can observe a
// mission without holding a connection to the process running it. It is a
// thin wrapper around goa.design/pulse streams, mirroring the layering used
// elsewhere in the codebase: callers build a Redis client, pass it to NewClient,
// and get back a typed Client exposing only the operations the bridge needs.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// ClientOptions configures the Pulse client.
	ClientOptions struct {
		// Redis is the Redis connection backing Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero uses
		// the Pulse default.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client exposes the subset of Pulse operations the bridge needs.
	Client interface {
		Stream(name string) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream publishes events to, and reads events from, one named Pulse
	// stream (one per mission: "mission/<mission_id>").
	Stream interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
		NewSink(ctx context.Context, name string) (Sink, error)
	}

	// Sink is a Pulse consumer group reading from a Stream.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}
)

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// NewClient constructs a Pulse client backed by the provided Redis
// connection.
func NewClient(opts ClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("bridge: redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("bridge: stream name is required")
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: create stream: %w", err)
	}
	return &streamHandle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op; callers own the Redis connection's lifecycle.
func (c *client) Close(context.Context) error { return nil }

type streamHandle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *streamHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("bridge: event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("bridge: add: %w", err)
	}
	return id, nil
}

func (h *streamHandle) NewSink(ctx context.Context, name string) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("bridge: new sink: %w", err)
	}
	return sinkAdapter{sink}, nil
}

type sinkAdapter struct{ *streaming.Sink }

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
