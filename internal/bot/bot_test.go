package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"flatnotify/internal/config"
	"flatnotify/internal/model"
	"flatnotify/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID  int64
	Text    string
	Buttons bool
}

type mockAPI struct {
	mu        sync.Mutex
	sent      []sentMsg
	callbacks int
	updates   chan tgbotapi.Update
	stopped   bool
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Buttons: msg.ReplyMarkup != nil})
	case tgbotapi.CallbackConfig:
		m.callbacks++
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates == nil {
		m.updates = make(chan tgbotapi.Update)
	}
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockAPI) lastSent() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.lastSent().Text
}

// --- helpers ---

func newTestBot(t *testing.T, cfg *config.Config) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	b := &Bot{
		api:  api,
		subs: store,
		seen: store,
		cfg:  cfg,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api, store
}

func command(chatID, userID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: userID, UserName: "alice"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func callback(chatID, userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: userID, UserName: "alice"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func chatIDs(t *testing.T, store *storage.SQLite) []int64 {
	t.Helper()
	subs, err := store.ListSubscribers(context.Background())
	if err != nil {
		t.Fatalf("list subscribers: %v", err)
	}
	var ids []int64
	for _, s := range subs {
		ids = append(ids, s.ChatID)
	}
	return ids
}

// --- tests ---

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, &config.Config{})

	b.handleUpdate(ctx, command(100, 1, "/subscribe"))
	b.handleUpdate(ctx, command(100, 1, "/subscribe"))

	if !strings.Contains(api.lastText(), "Subscribed") {
		t.Errorf("unexpected reply %q", api.lastText())
	}
	if diff := cmp.Diff([]int64{100}, chatIDs(t, store)); diff != "" {
		t.Errorf("subscribers mismatch (-want +got):\n%s", diff)
	}

	subs, err := store.ListSubscribers(ctx)
	if err != nil {
		t.Fatalf("list subscribers: %v", err)
	}
	if diff := cmp.Diff("alice", subs[0].Username); diff != "" {
		t.Errorf("username mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeConfiguredReceiver(t *testing.T) {
	b, api, store := newTestBot(t, &config.Config{ReceiverIDs: []int64{100}})

	b.handleUpdate(context.Background(), command(100, 1, "/subscribe"))

	if !strings.Contains(api.lastText(), "already receives") {
		t.Errorf("unexpected reply %q", api.lastText())
	}
	if ids := chatIDs(t, store); len(ids) != 0 {
		t.Errorf("expected no subscribers, got %v", ids)
	}
}

func TestUnsubscribeFlow(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, &config.Config{})
	if err := store.AddSubscriber(ctx, &model.Subscriber{ChatID: 100, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}

	b.handleUpdate(ctx, command(100, 1, "/unsubscribe"))
	if !api.lastSent().Buttons {
		t.Fatalf("expected confirmation buttons, got %+v", api.lastSent())
	}
	if diff := cmp.Diff([]int64{100}, chatIDs(t, store)); diff != "" {
		t.Errorf("subscriber removed before confirmation (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, callback(100, 1, "noop:0"))
	if diff := cmp.Diff([]int64{100}, chatIDs(t, store)); diff != "" {
		t.Errorf("cancel must keep subscriber (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, callback(100, 1, "unsubscribe:confirm"))
	if ids := chatIDs(t, store); len(ids) != 0 {
		t.Errorf("expected subscriber removed, got %v", ids)
	}
	if !strings.Contains(api.lastText(), "Unsubscribed") {
		t.Errorf("unexpected reply %q", api.lastText())
	}
	if diff := cmp.Diff(2, api.callbacks); diff != "" {
		t.Errorf("callback acks mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeWhenNotSubscribed(t *testing.T) {
	b, api, _ := newTestBot(t, &config.Config{})

	b.handleUpdate(context.Background(), command(100, 1, "/unsubscribe"))
	if diff := cmp.Diff("This chat is not subscribed.", api.lastText()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		SearchURLs:   []string{"https://a", "https://b"},
		ReceiverIDs:  []int64{7},
		LoopActive:   true,
		LoopInterval: 10 * time.Minute,
	}
	b, api, store := newTestBot(t, cfg)
	for _, id := range []model.ListingID{"1", "2", "3"} {
		if err := store.MarkSeen(ctx, id); err != nil {
			t.Fatalf("mark seen: %v", err)
		}
	}

	b.handleUpdate(ctx, command(7, 1, "/status"))

	want := "Searches: 2\nChecked every 10m0s\nListings seen: 3\nRecipients: 1 configured, 0 subscribed\n\nThis chat receives new listings."
	if diff := cmp.Diff(want, api.lastText()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessDenied(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, &config.Config{AllowedUsers: []int64{42}})

	b.handleUpdate(ctx, command(100, 1, "/subscribe"))
	if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, callback(100, 1, "unsubscribe:confirm"))
	if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
		t.Errorf("callback reply mismatch (-want +got):\n%s", diff)
	}

	b.handleUpdate(ctx, command(100, 42, "/subscribe"))
	if diff := cmp.Diff([]int64{100}, chatIDs(t, store)); diff != "" {
		t.Errorf("allowed user should subscribe (-want +got):\n%s", diff)
	}
}

func TestCommandReplies(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		contains string
	}{
		{name: "start", text: "/start", contains: "Welcome"},
		{name: "help", text: "/help", contains: "/unsubscribe"},
		{name: "unknown", text: "/frobnicate", contains: "Unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t, &config.Config{})
			b.handleUpdate(context.Background(), command(5, 1, tt.text))
			if !strings.Contains(api.lastText(), tt.contains) {
				t.Errorf("reply %q does not contain %q", api.lastText(), tt.contains)
			}
		})
	}
}

func TestIgnoresPlainMessages(t *testing.T) {
	b, api, _ := newTestBot(t, &config.Config{})
	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: 5},
		From: &tgbotapi.User{ID: 1},
	}})
	if got := api.lastText(); got != "" {
		t.Errorf("expected no reply, got %q", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b, api, _ := newTestBot(t, &config.Config{})
	api.updates = make(chan tgbotapi.Update)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	api.updates <- command(5, 1, "/help")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Error("expected updates to be stopped")
	}
}

func TestFormatStatusNotSubscribed(t *testing.T) {
	got := FormatStatus(Status{Searches: 1, Seen: 0})
	want := "Searches: 1\nChecked once per run\nListings seen: 0\nRecipients: 0 configured, 0 subscribed\n\nThis chat is not subscribed. Use /subscribe."
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatStatus mismatch (-want +got):\n%s", diff)
	}
}
