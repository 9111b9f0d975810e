// Package queue connects to the NATS JetStream broker that carries delivery tasks
// between the crawler and the sender.
//
// The queue is a single durable stream capturing one subject. Messages stay in the
// stream until the sender acknowledges or terminates them.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sethvargo/go-retry"
)

// DefaultSubject is the subject delivery tasks are published on.
const DefaultSubject = "telegram"

// DurableName names the sender's durable consumer.
const DurableName = "sender"

// Options configures the broker connection.
type Options struct {
	URL      string
	User     string
	Password string
	Subject  string
	// Name identifies the client to the broker.
	Name string

	// MaxRetries bounds connection attempts after the first one. Zero retries
	// until the context ends.
	MaxRetries uint64
	RetryDelay time.Duration

	// AckWait is how long the broker waits for an ack before redelivering.
	AckWait time.Duration
}

func (o Options) subject() string {
	if o.Subject == "" {
		return DefaultSubject
	}
	return o.Subject
}

// StreamName derives the stream name from the subject.
func (o Options) StreamName() string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(o.subject()))
}

// Connect dials the broker, retrying with a constant delay until it answers,
// MaxRetries is exhausted or ctx ends.
func Connect(ctx context.Context, opts Options, log *slog.Logger) (*nats.Conn, error) {
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	backoff := retry.NewConstant(delay)
	if opts.MaxRetries > 0 {
		backoff = retry.WithMaxRetries(opts.MaxRetries, backoff)
	}

	natsOpts := []nats.Option{nats.Name(opts.Name)}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}

	var nc *nats.Conn
	attempt := 0
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		attempt++
		c, err := nats.Connect(opts.URL, natsOpts...)
		if err != nil {
			log.Info("waiting for broker", "url", opts.URL, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		nc = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", opts.URL, err)
	}
	log.Info("connected to broker", "url", opts.URL)
	return nc, nil
}

// EnsureStream creates or updates the durable stream holding delivery tasks.
func EnsureStream(ctx context.Context, js jetstream.JetStream, opts Options) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      opts.StreamName(),
		Subjects:  []string{opts.subject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", opts.StreamName(), err)
	}
	return stream, nil
}
