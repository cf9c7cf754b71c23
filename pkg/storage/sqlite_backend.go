package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS q_tables (
	key            TEXT PRIMARY KEY,
	payload        BLOB NOT NULL,
	format_version INTEGER NOT NULL,
	revision       TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// SQLiteBackend keeps one row per key in a SQLite database
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database and runs migrations
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close closes the underlying database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Read(ctx context.Context, key string) (Blob, error) {
	var (
		blob    Blob
		updated string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT payload, revision, updated_at FROM q_tables WHERE key = ?`, key,
	).Scan(&blob.Data, &blob.Revision, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Blob{}, fmt.Errorf("query q-table: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		blob.SavedAt = t
	}
	return blob, nil
}

// Write upserts the row for key in a single transaction
func (b *SQLiteBackend) Write(ctx context.Context, key string, blob Blob) error {
	if blob.Revision == "" {
		blob.Revision = uuid.New().String()
	}
	if blob.SavedAt.IsZero() {
		blob.SavedAt = time.Now()
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO q_tables (key, payload, format_version, revision, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			format_version = excluded.format_version,
			revision = excluded.revision,
			updated_at = excluded.updated_at`,
		key, blob.Data, FormatVersion, blob.Revision, blob.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert q-table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Keys lists stored table keys in order
func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM q_tables ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list q-tables: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
