// Package migrate applies the embedded user_roles schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockKey serializes migrations across instances starting at the same time.
const lockKey int64 = 0x647269707465636b // "driptech"

// Migration is one embedded schema file.
type Migration struct {
	Version string
	File    string
}

// Available lists embedded migrations in apply order.
func Available() ([]Migration, error) {
	return list(migrationsFS)
}

func list(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		out = append(out, Migration{Version: strings.TrimSuffix(e.Name(), ".sql"), File: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Run applies every pending migration. It is safe to call repeatedly and from
// several processes at once.
func Run(ctx context.Context, db *sql.DB) error {
	if err := ensureTable(ctx, db); err != nil {
		return err
	}

	migrations, err := Available()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the migrations not yet recorded in schema_migrations.
func Pending(ctx context.Context, db *sql.DB) ([]Migration, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := Available()
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, m := range migrations {
		var done bool
		if err := db.QueryRowContext(ctx, existsQuery, m.Version).Scan(&done); err != nil {
			return nil, fmt.Errorf("check migration %s: %w", m.File, err)
		}
		if !done {
			out = append(out, m)
		}
	}
	return out, nil
}

const existsQuery = `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`

func ensureTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	body, err := migrationsFS.ReadFile("migrations/" + m.File)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.File, err)
	}

	return withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}

		// Checked under the lock so a concurrent instance cannot apply it twice.
		var done bool
		if err := tx.QueryRowContext(ctx, existsQuery, m.Version).Scan(&done); err != nil {
			return fmt.Errorf("check migration %s: %w", m.File, err)
		}
		if done {
			return nil
		}

		slog.Default().InfoContext(ctx, "applying migration", "component", "migrations", "version", m.Version)
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", m.File, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.File, err)
		}
		return nil
	})
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
