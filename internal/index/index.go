// Package index implements the metadata index (C3): a SQLite-backed table
// of (method, url) pairs indicating that a response has been cached for
// that pair at least once. It makes no uniqueness guarantee — the same
// pair may be inserted more than once — matching the blob store, which is
// the real source of truth.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/coreyja/caje-go/internal/migrate"
)

var migrations = []migrate.Migration{
	{
		Version: 1,
		Name:    "create_pages",
		SQL: `CREATE TABLE IF NOT EXISTS Pages (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			method TEXT NOT NULL,
			url    TEXT NOT NULL
		)`,
	},
	{
		Version: 2,
		Name:    "create_sessions",
		SQL: `CREATE TABLE IF NOT EXISTS Sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE
		)`,
	},
}

// Row is one entry read back from the index.
type Row struct {
	ID     int64
	Method string
	URL    string
}

// Index is a handle on the metadata database.
type Index struct {
	db *sql.DB
}

// Open opens (and migrates) the database at dsn, a database/sql data
// source name understood by the mattn/go-sqlite3 driver (a file path, or
// ":memory:").
func Open(ctx context.Context, dsn string) (*Index, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	// SQLite only tolerates one writer at a time; a single connection
	// avoids SQLITE_BUSY under our own concurrent request load instead of
	// depending on busy_timeout tuning.
	db.SetMaxOpenConns(1)
	if err := migrate.Run(ctx, db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (x *Index) Close() error { return x.db.Close() }

// Insert records that method/url has been cached.
func (x *Index) Insert(ctx context.Context, method, url string) error {
	_, err := x.db.ExecContext(ctx, `INSERT INTO Pages (method, url) VALUES (?, ?)`, method, url)
	if err != nil {
		return fmt.Errorf("index: insert: %w", err)
	}
	return nil
}

// List returns every row currently in the index, in no particular order.
func (x *Index) List(ctx context.Context) ([]Row, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id, method, url FROM Pages`)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Method, &r.URL); err != nil {
			return nil, fmt.Errorf("index: list: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Clear deletes every row from the index. The blob store is unaffected.
func (x *Index) Clear(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM Pages`); err != nil {
		return fmt.Errorf("index: clear: %w", err)
	}
	return nil
}

// CreateSession records a new session row for the given opaque token.
func (x *Index) CreateSession(ctx context.Context, token string) error {
	_, err := x.db.ExecContext(ctx, `INSERT INTO Sessions (session_id) VALUES (?)`, token)
	if err != nil {
		return fmt.Errorf("index: create session: %w", err)
	}
	return nil
}

// HasSession reports whether token matches a known session.
func (x *Index) HasSession(ctx context.Context, token string) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Sessions WHERE session_id = ?`, token).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("index: check session: %w", err)
	}
	return n > 0, nil
}
