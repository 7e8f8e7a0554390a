package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nazarhussain/form-guard/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	identity     TEXT    NOT NULL,
	submitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_identity ON submissions (identity, submitted_at);
`

// SQLiteStore keeps one row per recorded submission. SQLite's own write lock
// serializes Record across processes sharing the file.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, retention time.Duration) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate limit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate rate limit db: %w", err)
	}
	return NewSQLiteStore(db, retention), nil
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(db *sql.DB, retention time.Duration) *SQLiteStore {
	if retention <= 0 {
		retention = DefaultWindow
	}
	return &SQLiteStore{db: db, retention: retention}
}

func (s *SQLiteStore) Admit(ctx context.Context, identity string, now time.Time, window time.Duration, max int) bool {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE identity = ? AND submitted_at >= ?
	`, identity, now.Add(-window).Unix()).Scan(&count)
	if err != nil {
		logging.FromContext(ctx).Warn("rate limit db unreadable, admitting", "err", err)
		return true
	}
	return count < max
}

func (s *SQLiteStore) Record(ctx context.Context, identity string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rate limit tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE submitted_at < ?`,
		now.Add(-s.retention).Unix()); err != nil {
		return fmt.Errorf("failed to prune rate limit rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO submissions (identity, submitted_at) VALUES (?, ?)`,
		identity, now.Unix()); err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate limit tx: %w", err)
	}
	return nil
}

// Snapshot returns the stored rows in the same shape as the JSON file store.
func (s *SQLiteStore) Snapshot(ctx context.Context) (map[string][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, submitted_at FROM submissions ORDER BY identity, submitted_at, rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]int64{}
	for rows.Next() {
		var id string
		var ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = append(out[id], ts)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
