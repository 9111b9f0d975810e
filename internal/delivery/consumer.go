// Package delivery sends queued delivery tasks to the chat API.
//
// The consumer handles one message at a time. Every message ends in exactly one
// of three states: acknowledged after a 200, requeued after a transient failure
// (429, other statuses, transport errors) or discarded when it can never succeed
// (malformed payload, empty text, 400). Only context cancellation stops the loop.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrNoMessage is returned by a Source when no message arrived within its poll window.
var ErrNoMessage = errors.New("no message available")

// Delivery is one queue entry. Ack removes it, Nak requeues it for redelivery and
// Term discards it without redelivery.
type Delivery interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// Source yields queue entries. Next may block while waiting for one.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
}

// traced is implemented by deliveries that carry a publisher's trace context.
type traced interface {
	Context(parent context.Context) context.Context
}

// Outcome is the final state of a handled delivery.
type Outcome int

// Delivery outcomes.
const (
	OutcomeAcked Outcome = iota
	OutcomeRequeued
	OutcomeDiscarded
	// OutcomeAbandoned leaves the entry unacknowledged for later redelivery.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Result describes how a delivery was handled and how long to pause afterwards.
type Result struct {
	Outcome Outcome
	Wait    time.Duration
}

// Policy holds the pauses applied after each outcome.
type Policy struct {
	// AckDelay paces successful calls under the chat API's rate limit.
	AckDelay time.Duration
	// MalformedDelay follows discarding a payload that failed validation.
	MalformedDelay time.Duration
	// BadRequestDelay follows a 400 response.
	BadRequestDelay time.Duration
	// RetryDelay follows any other failure.
	RetryDelay time.Duration
	// DefaultRetryAfter is used for a 429 without a usable retry hint.
	DefaultRetryAfter time.Duration
	// IdleDelay follows a failure to fetch from the queue.
	IdleDelay time.Duration
}

// DefaultPolicy returns the production pauses.
func DefaultPolicy() Policy {
	return Policy{
		AckDelay:          1500 * time.Millisecond,
		MalformedDelay:    time.Second,
		BadRequestDelay:   time.Second,
		RetryDelay:        10 * time.Second,
		DefaultRetryAfter: 60 * time.Second,
		IdleDelay:         time.Second,
	}
}

// Stats counts handled deliveries by outcome.
type Stats struct {
	Acked     int64 `json:"acked"`
	Requeued  int64 `json:"requeued"`
	Discarded int64 `json:"discarded"`
}

// Consumer pulls tasks from a Source and performs them against the chat API.
type Consumer struct {
	source Source
	client HTTPClient
	policy Policy
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration)

	acked     atomic.Int64
	requeued  atomic.Int64
	discarded atomic.Int64
}

// NewConsumer creates a Consumer.
func NewConsumer(source Source, client HTTPClient, policy Policy, log *slog.Logger) *Consumer {
	return &Consumer{
		source: source,
		client: client,
		policy: policy,
		log:    log,
		sleep:  sleepContext,
	}
}

// SetSleeper replaces the pause function (useful for testing).
func (c *Consumer) SetSleeper(sleep func(ctx context.Context, d time.Duration)) {
	c.sleep = sleep
}

// Stats returns the outcome counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Acked:     c.acked.Load(),
		Requeued:  c.requeued.Load(),
		Discarded: c.discarded.Load(),
	}
}

// Run consumes until ctx is cancelled. No single message can stop it.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("waiting for tasks")
	for {
		if ctx.Err() != nil {
			return
		}

		d, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrNoMessage) {
				continue
			}
			c.log.Warn("fetch task", "error", err)
			c.sleep(ctx, c.policy.IdleDelay)
			continue
		}

		res := c.Handle(ctx, d)
		if res.Outcome == OutcomeAbandoned {
			return
		}
		c.sleep(ctx, res.Wait)
	}
}

// Handle drives one delivery to its final state. It does not pause; the returned
// Result says how long the caller should wait before the next delivery.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Result {
	task, err := Decode(d.Data())
	if err != nil {
		c.log.Warn("discarding malformed task", "error", err, "body", truncate(d.Data(), 512))
		return c.discard(d, c.policy.MalformedDelay)
	}

	chatID := paramString(task.Params["chat_id"])
	method := Method(task.URL)

	if err := Validate(task); err != nil {
		c.log.Warn("discarding invalid task", "error", err, "method", method, "chat_id", chatID)
		return c.discard(d, c.policy.MalformedDelay)
	}

	reqCtx := ctx
	if t, ok := d.(traced); ok {
		reqCtx = t.Context(ctx)
	}

	resp, err := Post(reqCtx, c.client, task)
	if err != nil {
		if ctx.Err() != nil {
			c.log.Info("stopped during dispatch, task left for redelivery", "method", method, "chat_id", chatID)
			return Result{Outcome: OutcomeAbandoned}
		}
		c.log.Warn("dispatch failed", "method", method, "chat_id", chatID, "error", err)
		return c.requeue(d, c.policy.RetryDelay)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := d.Ack(); err != nil {
			c.log.Error("ack task", "method", method, "chat_id", chatID, "error", err)
		}
		c.acked.Add(1)
		c.log.Debug("task delivered", "method", method, "chat_id", chatID)
		return Result{Outcome: OutcomeAcked, Wait: c.policy.AckDelay}

	case http.StatusTooManyRequests:
		wait := RetryAfter(resp, c.policy.DefaultRetryAfter)
		c.log.Warn("rate limited",
			"method", method, "chat_id", chatID, "retry_after", wait, "body", truncate(resp.Body, 512))
		return c.requeue(d, wait)

	case http.StatusBadRequest:
		c.log.Warn("discarding task rejected by chat api",
			"method", method, "chat_id", chatID, "status", resp.StatusCode, "body", truncate(resp.Body, 512))
		return c.discard(d, c.policy.BadRequestDelay)

	default:
		c.log.Warn("chat api failure",
			"method", method, "chat_id", chatID, "status", resp.StatusCode, "body", truncate(resp.Body, 512))
		return c.requeue(d, c.policy.RetryDelay)
	}
}

func (c *Consumer) discard(d Delivery, wait time.Duration) Result {
	if err := d.Term(); err != nil {
		c.log.Error("reject task", "error", err)
	}
	c.discarded.Add(1)
	return Result{Outcome: OutcomeDiscarded, Wait: wait}
}

func (c *Consumer) requeue(d Delivery, wait time.Duration) Result {
	if err := d.Nak(); err != nil {
		c.log.Error("requeue task", "error", err)
	}
	c.requeued.Add(1)
	return Result{Outcome: OutcomeRequeued, Wait: wait}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
