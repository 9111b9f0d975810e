package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"flatnotify/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS seen_exposes (
	listing_id TEXT PRIMARY KEY,
	seen_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Postgres implements Dedup on a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to connStr, pings the server and creates the schema if missing.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// MarkSeen records that a listing has been notified. Marking twice is a no-op.
func (p *Postgres) MarkSeen(ctx context.Context, id model.ListingID) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO seen_exposes (listing_id) VALUES ($1) ON CONFLICT (listing_id) DO NOTHING`,
		string(id),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsNew reports whether a listing has not been notified yet.
func (p *Postgres) IsNew(ctx context.Context, id model.ListingID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_exposes WHERE listing_id = $1)`, string(id),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return !exists, nil
}

// CountSeen returns the number of listings recorded so far.
func (p *Postgres) CountSeen(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM seen_exposes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return count, nil
}
