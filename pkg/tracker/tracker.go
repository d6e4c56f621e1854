// Package tracker persists one usage row per answered request.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/goscli/pkg/models"
)

// Tracker records and queries token usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Recent returns the newest records, at most limit of them.
	Recent(ctx context.Context, limit int) ([]models.UsageRecord, error)
	// TotalTokens returns the tokens spent since a given time, restricted to
	// one model when model is non-empty.
	TotalTokens(ctx context.Context, model string, since time.Time) (int64, error)
	// Summary returns usage grouped by provider and model since a given time.
	// A zero since covers all records.
	Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

var _ Tracker = (*SQLiteTracker)(nil)

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	fell_back INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_records(created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record. A zero CreatedAt is set to the current time.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cache_hit, attempts, fell_back, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CacheHit, rec.Attempts, rec.FellBack, rec.LatencyMs, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cache_hit, attempts, fell_back, latency_ms, created_at
		 FROM usage_records ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Provider, &r.Model, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.CacheHit, &r.Attempts, &r.FellBack, &r.LatencyMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalTokens sums total_tokens since a given time.
func (t *SQLiteTracker) TotalTokens(ctx context.Context, model string, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE created_at >= ?`
	args := []any{since.UnixNano()}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, model)
	}
	var total int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by provider and model.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error) {
	query := `SELECT provider, model, COUNT(*), SUM(cache_hit), SUM(fell_back), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
		 FROM usage_records`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, since.UnixNano())
	}
	query += ` GROUP BY provider, model ORDER BY provider, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Provider, &s.Model, &s.RequestCount, &s.CacheHits, &s.Fallbacks, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
