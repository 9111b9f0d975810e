package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"flatnotify/internal/model"
)

var ignoreCreatedAt = cmpopts.IgnoreFields(model.Subscriber{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	isNew, err := s.IsNew(ctx, "42")
	if err != nil {
		t.Fatalf("is new: %v", err)
	}
	if !isNew {
		t.Fatal("expected unseen listing to be new")
	}

	for i := 0; i < 2; i++ {
		if err := s.MarkSeen(ctx, "42"); err != nil {
			t.Fatalf("mark seen #%d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		isNew, err := s.IsNew(ctx, "42")
		if err != nil {
			t.Fatalf("is new: %v", err)
		}
		if isNew {
			t.Fatalf("call %d: expected seen listing to be reported as not new", i)
		}
	}

	other, err := s.IsNew(ctx, "43")
	if err != nil {
		t.Fatalf("is new: %v", err)
	}
	if !other {
		t.Error("expected a different listing to stay new")
	}

	count, err := s.CountSeen(ctx)
	if err != nil {
		t.Fatalf("count seen: %v", err)
	}
	if diff := cmp.Diff(1, count); diff != "" {
		t.Errorf("CountSeen mismatch (-want +got):\n%s", diff)
	}

	rec, err := s.SeenRecord(ctx, "42")
	if err != nil {
		t.Fatalf("seen record: %v", err)
	}
	if rec.SeenAt.IsZero() {
		t.Error("expected SeenAt to be set")
	}
}

func TestDedupSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dedup.db")

	first, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, id := range []model.ListingID{"1001", "1002"} {
		if err := first.MarkSeen(ctx, id); err != nil {
			t.Fatalf("mark seen %s: %v", id, err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	tests := []struct {
		id   model.ListingID
		want bool
	}{
		{id: "1001", want: false},
		{id: "1002", want: false},
		{id: "1003", want: true},
	}
	for _, tt := range tests {
		got, err := second.IsNew(ctx, tt.id)
		if err != nil {
			t.Fatalf("is new %s: %v", tt.id, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("IsNew(%s) mismatch (-want +got):\n%s", tt.id, diff)
		}
	}
}

func TestSubscribers(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	subs := []model.Subscriber{
		{ChatID: 30, Username: "carol"},
		{ChatID: 10, Username: "alice"},
	}
	for i := range subs {
		if err := s.AddSubscriber(ctx, &subs[i]); err != nil {
			t.Fatalf("add subscriber: %v", err)
		}
		if subs[i].CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	}

	renamed := model.Subscriber{ChatID: 10, Username: "alice2"}
	if err := s.AddSubscriber(ctx, &renamed); err != nil {
		t.Fatalf("re-add subscriber: %v", err)
	}

	got, err := s.ListSubscribers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Subscriber{
		{ChatID: 10, Username: "alice2"},
		{ChatID: 30, Username: "carol"},
	}
	if diff := cmp.Diff(want, got, ignoreCreatedAt); diff != "" {
		t.Errorf("ListSubscribers mismatch (-want +got):\n%s", diff)
	}

	removed, err := s.RemoveSubscriber(ctx, 30)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("expected subscriber 30 to be removed")
	}
	removed, err = s.RemoveSubscriber(ctx, 30)
	if err != nil {
		t.Fatalf("remove again: %v", err)
	}
	if removed {
		t.Error("expected second removal to report false")
	}

	got, err = s.ListSubscribers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]model.Subscriber{{ChatID: 10, Username: "alice2"}}, got, ignoreCreatedAt); diff != "" {
		t.Errorf("ListSubscribers after remove mismatch (-want +got):\n%s", diff)
	}
}
