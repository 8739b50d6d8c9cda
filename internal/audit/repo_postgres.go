package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to reconcile_audit_events. The table has no UPDATE or
// DELETE grants for the application role.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO reconcile_audit_events (id, type, call_sid, task_id, account_sid, attempts, total_price, target, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	if _, err := r.DB.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.CallSid,
		e.TaskID,
		e.AccountSid,
		e.Attempts,
		e.TotalPrice,
		e.Target,
		e.Message,
		e.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
