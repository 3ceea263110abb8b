// Package migrate applies forward-only SQL migrations to a database/sql
// handle at startup, tracking which have already run in a
// schema_migrations table. It is intentionally small: the retrieval pack's
// examples only ever reference a migration framework (golang-migrate) from
// a go.mod listing, never from source exercising it, so there is nothing
// concrete to port — see DESIGN.md.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one forward step, identified by a monotonically increasing
// version. Name is informational only (used in error messages and
// recorded in schema_migrations).
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Run applies every migration in migrations whose Version is not already
// recorded in schema_migrations, in ascending Version order, each
// inside its own transaction. It creates the tracking table if necessary.
func Run(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name    TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrate: read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("migrate: scan version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate: read schema_migrations: %w", err)
	}
	rows.Close()

	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate: begin %d %s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: apply %d %s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: record %d %s: %w", m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit %d %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}
