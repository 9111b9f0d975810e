package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"flatnotify/internal/model"
	"flatnotify/internal/telegram"
)

// Telegram renders exposes into Bot API calls and hands them to a TaskSink.
type Telegram struct {
	renderer    *telegram.Renderer
	receivers   []int64
	subscribers SubscriberLister
	sink        TaskSink
	log         *slog.Logger
}

// NewTelegram creates a Telegram notifier. subscribers may be nil.
func NewTelegram(renderer *telegram.Renderer, receivers []int64, subscribers SubscriberLister, sink TaskSink, log *slog.Logger) *Telegram {
	return &Telegram{
		renderer:    renderer,
		receivers:   receivers,
		subscribers: subscribers,
		sink:        sink,
		log:         log,
	}
}

// Deliver publishes the full task sequence for every recipient, in order.
// It stops at the first task the sink refuses.
func (t *Telegram) Deliver(ctx context.Context, e model.Expose) error {
	chatIDs, err := t.recipients(ctx)
	if err != nil {
		return err
	}
	if len(chatIDs) == 0 {
		t.log.Warn("no telegram recipients configured", "listing_id", e.ID)
		return nil
	}

	tasks := t.renderer.Render(e, chatIDs)
	for i, task := range tasks {
		if err := t.sink.Publish(ctx, task); err != nil {
			return fmt.Errorf("publish task %d/%d for listing %s: %w", i+1, len(tasks), e.ID, err)
		}
	}
	t.log.Debug("listing queued", "listing_id", e.ID, "chats", len(chatIDs), "tasks", len(tasks))
	return nil
}

// Alive sends text to every recipient, outside of any listing.
func (t *Telegram) Alive(ctx context.Context, text string) error {
	chatIDs, err := t.recipients(ctx)
	if err != nil {
		return err
	}
	for _, task := range t.renderer.Message(text, chatIDs) {
		if err := t.sink.Publish(ctx, task); err != nil {
			return fmt.Errorf("publish heartbeat: %w", err)
		}
	}
	return nil
}

// recipients merges configured receivers with subscribers, keeping the
// configured order first and dropping duplicates.
func (t *Telegram) recipients(ctx context.Context) ([]int64, error) {
	ids := slices.Clone(t.receivers)
	if t.subscribers != nil {
		subs, err := t.subscribers.ListSubscribers(ctx)
		if err != nil {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		for _, s := range subs {
			ids = append(ids, s.ChatID)
		}
	}

	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
