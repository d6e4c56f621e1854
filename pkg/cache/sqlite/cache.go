// Package sqlite is a durable cache Store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/goscli/pkg/cache"
)

// Store keeps encoded cache records in a single table.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS durable_entries (
	key TEXT PRIMARY KEY,
	record BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_durable_entries_expires ON durable_entries(expires_at);
`

// New opens or creates the cache database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get retrieves the record for key.
func (s *Store) Get(ctx context.Context, key string) (cache.Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM durable_entries WHERE key = ?`, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Record{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Record{}, fmt.Errorf("cache get: %w", err)
	}
	return cache.DecodeRecord(data)
}

// Put stores rec, replacing any existing record.
func (s *Store) Put(ctx context.Context, rec cache.Record) error {
	data, err := cache.EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO durable_entries (key, record, expires_at) VALUES (?, ?, ?)`,
		rec.Key, data, rec.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM durable_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM durable_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Purge removes records that expired before now and records that cannot be
// decoded or are stored under the wrong key.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM durable_entries WHERE expires_at < ?`, now.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}

	bad, err := s.unreadable(ctx)
	if err != nil {
		return int(n), fmt.Errorf("cache purge: %w", err)
	}
	for _, key := range bad {
		if err := s.Delete(ctx, key); err != nil {
			return int(n), fmt.Errorf("cache purge: %w", err)
		}
		n++
	}
	return int(n), nil
}

func (s *Store) unreadable(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, record FROM durable_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bad []string
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, err
		}
		if rec, err := cache.DecodeRecord(data); err != nil || rec.Key != key {
			bad = append(bad, key)
		}
	}
	return bad, rows.Err()
}

// Len returns the number of stored records.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM durable_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache stats: %w", err)
	}
	return count, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
