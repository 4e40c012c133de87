package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

type schemaDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		public_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		signature TEXT NOT NULL DEFAULT '',
		verified BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_ts_idx ON audit_logs (ts DESC)`,
}

// EnsureSchema applies the idempotent DDL the service relies on. It is
// called once at startup when a database is configured.
func EnsureSchema(ctx context.Context, db schemaDB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
