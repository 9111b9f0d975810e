package bot

import (
	"context"
	"fmt"
	"slices"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"flatnotify/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to flatnotify!

New flat listings from your saved searches are posted here as soon as they show up.

Quick start:
1. /subscribe - receive new listings in this chat
2. /status - see what is being watched

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/subscribe - receive new listings in this chat
/unsubscribe - stop receiving listings
/status - searches, subscribers and seen listings`)
}

func (b *Bot) handleSubscribe(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if b.isReceiver(chatID) {
		b.reply(chatID, "This chat already receives every listing.")
		return
	}

	sub := &model.Subscriber{ChatID: chatID, CreatedAt: time.Now().UTC()}
	if msg.From != nil {
		sub.Username = msg.From.UserName
	}
	if err := b.subs.AddSubscriber(ctx, sub); err != nil {
		b.log.Error("add subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to subscribe: %v", err))
		return
	}

	b.log.Info("subscribed", "chat_id", chatID, "username", sub.Username)
	b.reply(chatID, "Subscribed. New listings will be posted here.")
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64) {
	subscribed, err := b.isSubscribed(ctx, chatID)
	if err != nil {
		b.log.Error("list subscribers", "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to load subscription: %v", err))
		return
	}
	if !subscribed {
		b.reply(chatID, "This chat is not subscribed.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, "Stop receiving new listings in this chat?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, unsubscribe", cmdUnsubscribe+":confirm"),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send unsubscribe confirmation", "error", err)
	}
}

func (b *Bot) removeSubscriber(ctx context.Context, chatID int64) {
	removed, err := b.subs.RemoveSubscriber(ctx, chatID)
	if err != nil {
		b.log.Error("remove subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to unsubscribe: %v", err))
		return
	}
	if !removed {
		b.reply(chatID, "This chat is not subscribed.")
		return
	}
	b.log.Info("unsubscribed", "chat_id", chatID)
	b.reply(chatID, "Unsubscribed. Use /subscribe to start again.")
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	subs, err := b.subs.ListSubscribers(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to load subscribers: %v", err))
		return
	}
	seen, err := b.seen.CountSeen(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to count listings: %v", err))
		return
	}

	st := Status{
		Searches:    len(b.cfg.SearchURLs),
		Receivers:   len(b.cfg.ReceiverIDs),
		Subscribers: len(subs),
		Seen:        seen,
		Receiving:   b.isReceiver(chatID) || containsChat(subs, chatID),
		Looping:     b.cfg.LoopActive,
		Interval:    b.cfg.LoopInterval,
	}
	b.reply(chatID, FormatStatus(st))
}

func (b *Bot) isReceiver(chatID int64) bool {
	return slices.Contains(b.cfg.ReceiverIDs, chatID)
}

func (b *Bot) isSubscribed(ctx context.Context, chatID int64) (bool, error) {
	subs, err := b.subs.ListSubscribers(ctx)
	if err != nil {
		return false, err
	}
	return containsChat(subs, chatID), nil
}

func containsChat(subs []model.Subscriber, chatID int64) bool {
	return slices.ContainsFunc(subs, func(s model.Subscriber) bool { return s.ChatID == chatID })
}
