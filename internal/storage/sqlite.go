package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"flatnotify/internal/model"
	"flatnotify/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Dedup and Subscribers backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []struct {
		stmt string
		desc string
	}{
		{"PRAGMA journal_mode=WAL", "set WAL mode"},
		{"PRAGMA synchronous=FULL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.desc, err)
		}
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// MarkSeen records that a listing has been notified. Marking twice is a no-op.
func (s *SQLite) MarkSeen(ctx context.Context, id model.ListingID) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_exposes (listing_id, seen_at) VALUES (?, ?)`,
		string(id), now,
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsNew reports whether a listing has not been notified yet.
func (s *SQLite) IsNew(ctx context.Context, id model.ListingID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_exposes WHERE listing_id = ?`, string(id),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count == 0, nil
}

// CountSeen returns the number of listings recorded so far.
func (s *SQLite) CountSeen(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_exposes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return count, nil
}

// SeenRecord returns the dedup record of a listing.
func (s *SQLite) SeenRecord(ctx context.Context, id model.ListingID) (*model.DedupRecord, error) {
	var seenAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT seen_at FROM seen_exposes WHERE listing_id = ?`, string(id),
	).Scan(&seenAt)
	if err != nil {
		return nil, fmt.Errorf("scan seen record: %w", err)
	}
	rec := &model.DedupRecord{ID: id}
	rec.SeenAt, _ = time.Parse(timeLayout, seenAt)
	return rec, nil
}

// AddSubscriber stores a chat subscription and populates CreatedAt.
// Subscribing an existing chat updates its username.
func (s *SQLite) AddSubscriber(ctx context.Context, sub *model.Subscriber) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET username = excluded.username`,
		sub.ChatID, sub.Username, now,
	)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// RemoveSubscriber deletes a chat subscription and reports whether it existed.
func (s *SQLite) RemoveSubscriber(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("delete subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSubscribers returns all subscribed chats ordered by chat ID.
func (s *SQLite) ListSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, username, created_at FROM subscribers ORDER BY chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscriber
	for rows.Next() {
		var sub model.Subscriber
		var created string
		if err := rows.Scan(&sub.ChatID, &sub.Username, &created); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(timeLayout, created)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
