package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists chunk payloads in a local sqlite database
type SQLiteStore struct {
	db *sql.DB
}

// DefaultPath returns the cache database location in the user's config dir
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	return filepath.Join(configDir, "GearPlanner", "chunks.db")
}

// OpenSQLite opens (and creates if needed) the cache database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty cache db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init applies pragmas and creates the schema
func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			fetched_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Get retrieves a record by key
func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	var fetchedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, fetched_at FROM chunks WHERE key = ?",
		key,
	).Scan(&rec.Payload, &fetchedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.FetchedAt = time.UnixMilli(fetchedAt)
	return rec, true, nil
}

// Put stores a record, replacing any previous one
func (s *SQLiteStore) Put(ctx context.Context, key string, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO chunks (key, payload, fetched_at) VALUES (?, ?, ?)",
		key, rec.Payload, rec.FetchedAt.UnixMilli(),
	)
	return err
}

// Clear removes every record regardless of version
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks")
	return err
}

// DeleteWithoutPrefix removes records written under another schema version
func (s *SQLiteStore) DeleteWithoutPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE substr(key, 1, ?) <> ?",
		len(prefix), prefix,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
