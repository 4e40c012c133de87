package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rolegate/pkg/models"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRecorder mirrors audit entries into the audit_logs table.
type PostgresRecorder struct {
	DB auditDB
}

func (r *PostgresRecorder) Record(ctx context.Context, entry models.AuditLogEntry) error {
	verified := false
	if entry.Verified != nil {
		verified = *entry.Verified
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO audit_logs(id, ts, action, actor, details, status, signature, verified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.Timestamp, entry.Action, entry.Actor, entry.Details, entry.Status, entry.Signature, verified)
	return err
}

// Recent loads the newest entries from the durable copy, most recent first.
func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, ts, action, actor, details, status, COALESCE(signature, ''), verified
		FROM audit_logs ORDER BY ts DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AuditLogEntry, 0, limit)
	for rows.Next() {
		var entry models.AuditLogEntry
		var ts time.Time
		var verified bool
		if err := rows.Scan(&entry.ID, &ts, &entry.Action, &entry.Actor, &entry.Details, &entry.Status, &entry.Signature, &verified); err != nil {
			return nil, err
		}
		entry.Timestamp = ts
		entry.Verified = &verified
		out = append(out, entry)
	}
	return out, rows.Err()
}
