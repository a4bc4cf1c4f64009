package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are applied in order; applied versions are recorded in
// schema_migrations and never re-run.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "transcript table",
		SQL: `
			CREATE TABLE IF NOT EXISTS transcript (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL UNIQUE,
				client_id    TEXT NOT NULL,
				sender_id    TEXT NOT NULL,
				text         TEXT NOT NULL,
				mode         TEXT NOT NULL,
				delivered_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_transcript_client_seq ON transcript (client_id, seq);
		`,
	},
	{
		Version:     "002",
		Description: "sender lookup index",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_transcript_sender ON transcript (client_id, sender_id);`,
	},
}

// Migrate applies every pending migration, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return errors.Wrap(err, "create migration table")
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return errors.Wrapf(err, "apply migration %s", m.Version)
		}
	}
	return nil
}

// AppliedVersions lists the recorded migration versions.
func AppliedVersions(ctx context.Context, db *sql.DB) ([]string, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(applied))
	for _, m := range migrations {
		if applied[m.Version] {
			versions = append(versions, m.Version)
		}
	}
	return versions, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "query applied migrations")
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, errors.Wrap(err, "scan migration version")
		}
		applied[version] = true
	}
	return applied, errors.Wrap(rows.Err(), "iterate migrations")
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return errors.Wrap(err, "execute migration")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description); err != nil {
		return errors.Wrap(err, "record migration")
	}
	return errors.Wrap(tx.Commit(), "commit migration")
}
