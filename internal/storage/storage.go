// Package storage defines the persistence interfaces and their implementations.
package storage

import (
	"context"

	"flatnotify/internal/model"
)

// Dedup is the persistent set of listings that were already notified.
// It is append-only: there is no way to forget a listing.
type Dedup interface {
	IsNew(ctx context.Context, id model.ListingID) (bool, error)
	MarkSeen(ctx context.Context, id model.ListingID) error
	CountSeen(ctx context.Context) (int, error)
	Close() error
}

// Subscribers stores the chats that subscribed through the bot.
type Subscribers interface {
	AddSubscriber(ctx context.Context, sub *model.Subscriber) error
	RemoveSubscriber(ctx context.Context, chatID int64) (bool, error)
	ListSubscribers(ctx context.Context) ([]model.Subscriber, error)
}
