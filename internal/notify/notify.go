// Package notify announces new exposes on the configured channels.
package notify

import (
	"context"

	"flatnotify/internal/model"
)

// Notifier announces one expose. An error means the expose must not be marked as seen.
type Notifier interface {
	Deliver(ctx context.Context, e model.Expose) error
}

// TaskSink accepts delivery tasks, usually by publishing them to the queue.
type TaskSink interface {
	Publish(ctx context.Context, task model.DeliveryTask) error
}

// SubscriberLister returns chats that subscribed through the bot.
type SubscriberLister interface {
	ListSubscribers(ctx context.Context) ([]model.Subscriber, error)
}
