package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store shared by several planner instances
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the chunk table
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gear_chunks (
			key TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create chunk table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get retrieves a record by key
func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT payload, fetched_at FROM gear_chunks WHERE key = $1`, key,
	).Scan(&rec.Payload, &rec.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put stores a record, replacing any previous one
func (s *PostgresStore) Put(ctx context.Context, key string, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gear_chunks (key, payload, fetched_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at
	`, key, rec.Payload, rec.FetchedAt.UTC().Truncate(time.Microsecond))
	return err
}

// Clear removes every record regardless of version
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM gear_chunks`)
	return err
}

// DeleteWithoutPrefix removes records written under another schema version
func (s *PostgresStore) DeleteWithoutPrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gear_chunks WHERE left(key, $1) <> $2`, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
