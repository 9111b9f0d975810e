package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"

	"flatnotify/internal/delivery"
)

// DefaultPollWait bounds how long one Next call waits for a message.
const DefaultPollWait = 5 * time.Second

// Consumer pulls delivery tasks from the stream one at a time.
type Consumer struct {
	cons     jetstream.Consumer
	pollWait time.Duration
}

// NewConsumer ensures the stream and the durable consumer exist.
//
// At most one message is in flight: a negatively acknowledged message is
// redelivered before any later one, which keeps per-chat order.
func NewConsumer(ctx context.Context, nc *nats.Conn, opts Options) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	stream, err := EnsureStream(ctx, js, opts)
	if err != nil {
		return nil, err
	}

	ackWait := opts.AckWait
	if ackWait <= 0 {
		ackWait = 5 * time.Minute
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       DurableName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: 1,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", DurableName, err)
	}
	return &Consumer{cons: cons, pollWait: DefaultPollWait}, nil
}

// SetPollWait overrides how long Next waits for a message.
func (c *Consumer) SetPollWait(d time.Duration) {
	c.pollWait = d
}

// Next returns the next message, or delivery.ErrNoMessage when none arrived in time.
func (c *Consumer) Next(ctx context.Context) (delivery.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := c.cons.Next(jetstream.FetchMaxWait(c.pollWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, delivery.ErrNoMessage
		}
		return nil, fmt.Errorf("fetch task: %w", err)
	}
	return &Message{Msg: msg}, nil
}

// Message is a stream message carrying one delivery task.
type Message struct {
	jetstream.Msg
}

// Context returns parent enriched with the trace context the publisher attached.
func (m *Message) Context(parent context.Context) context.Context {
	carrier := &nats.Msg{Header: m.Headers()}
	return otel.GetTextMapPropagator().Extract(parent, (*headerCarrier)(carrier))
}
