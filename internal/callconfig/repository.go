package callconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm-dialer/pkg/utils"
)

// Repository persists rules, actions and the aggregate that owns them.
// Every tenant-scoped read filters by crmToken.
type Repository interface {
	ForwardingByNumber(ctx context.Context, crmToken, number string) (CallForwardingRule, error)
	ForwardingByID(ctx context.Context, crmToken, id string) (CallForwardingRule, error)
	CreateForwarding(ctx context.Context, r CallForwardingRule) error
	UpdateForwarding(ctx context.Context, r CallForwardingRule) error
	DeleteForwarding(ctx context.Context, crmToken, id string) error
	// EnabledForwarding looks up an enabled rule by number across tenants.
	EnabledForwarding(ctx context.Context, number string) (CallForwardingRule, error)

	ActionByNumber(ctx context.Context, crmToken, applyNumber string) (MissedCallAction, error)
	ActionByID(ctx context.Context, crmToken, id string) (MissedCallAction, error)
	CreateAction(ctx context.Context, a MissedCallAction) error
	UpdateAction(ctx context.Context, a MissedCallAction) error
	DeleteAction(ctx context.Context, crmToken, id string) error
	// ActionForNumber looks up an action by apply number across tenants.
	ActionForNumber(ctx context.Context, applyNumber string) (MissedCallAction, error)

	TenantConfig(ctx context.Context, crmToken string) (TenantConfig, error)
	SetPlanTier(ctx context.Context, crmToken string, tier PlanTier) error
}

// PostgresRepo stores the aggregate in tenant_configs; rules and actions
// reference it by crm_token.
type PostgresRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db, Now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const forwardingColumns = `id, crm_token, is_enabled, forwarded_number, to_phone_number, created_at, updated_at`

func scanForwarding(row rowScanner) (CallForwardingRule, error) {
	var r CallForwardingRule
	if err := row.Scan(&r.ID, &r.CRMToken, &r.IsEnabled, &r.ForwardedNumber, &r.ToPhoneNumber, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallForwardingRule{}, ErrNotFound
		}
		return CallForwardingRule{}, err
	}
	return r, nil
}

const actionColumns = `id, crm_token, action_type, apply_number, from_number, message, template_name, created_at, updated_at`

func scanAction(row rowScanner) (MissedCallAction, error) {
	var a MissedCallAction
	var typ string
	if err := row.Scan(&a.ID, &a.CRMToken, &typ, &a.ApplyNumber, &a.FromNumber, &a.Message, &a.TemplateName, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MissedCallAction{}, ErrNotFound
		}
		return MissedCallAction{}, err
	}
	a.ActionType = ActionType(typ)
	return a, nil
}

func (r *PostgresRepo) ForwardingByNumber(ctx context.Context, crmToken, number string) (CallForwardingRule, error) {
	q := `SELECT ` + forwardingColumns + ` FROM call_forwarding_rules WHERE crm_token = $1 AND forwarded_number = $2`
	return scanForwarding(r.DB.QueryRowContext(ctx, q, crmToken, number))
}

func (r *PostgresRepo) ForwardingByID(ctx context.Context, crmToken, id string) (CallForwardingRule, error) {
	q := `SELECT ` + forwardingColumns + ` FROM call_forwarding_rules WHERE id = $1 AND crm_token = $2`
	return scanForwarding(r.DB.QueryRowContext(ctx, q, id, crmToken))
}

func (r *PostgresRepo) EnabledForwarding(ctx context.Context, number string) (CallForwardingRule, error) {
	q := `SELECT ` + forwardingColumns + ` FROM call_forwarding_rules WHERE forwarded_number = $1 AND is_enabled`
	return scanForwarding(r.DB.QueryRowContext(ctx, q, number))
}

func (r *PostgresRepo) CreateForwarding(ctx context.Context, rule CallForwardingRule) error {
	return utils.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureTenant(ctx, tx, rule.CRMToken, rule.CreatedAt); err != nil {
			return err
		}
		const q = `
INSERT INTO call_forwarding_rules (id, crm_token, is_enabled, forwarded_number, to_phone_number, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
		if _, err := tx.ExecContext(ctx, q, rule.ID, rule.CRMToken, rule.IsEnabled, rule.ForwardedNumber, rule.ToPhoneNumber, rule.CreatedAt, rule.UpdatedAt); err != nil {
			if utils.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert call forwarding: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) UpdateForwarding(ctx context.Context, rule CallForwardingRule) error {
	const q = `
UPDATE call_forwarding_rules
SET is_enabled = $3, to_phone_number = $4, updated_at = $5
WHERE id = $1 AND crm_token = $2
`
	res, err := r.DB.ExecContext(ctx, q, rule.ID, rule.CRMToken, rule.IsEnabled, rule.ToPhoneNumber, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update call forwarding %s: %w", rule.ID, err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) DeleteForwarding(ctx context.Context, crmToken, id string) error {
	return r.deleteMember(ctx, crmToken, id, `DELETE FROM call_forwarding_rules WHERE id = $1 AND crm_token = $2`)
}

func (r *PostgresRepo) ActionByNumber(ctx context.Context, crmToken, applyNumber string) (MissedCallAction, error) {
	q := `SELECT ` + actionColumns + ` FROM missed_call_actions WHERE crm_token = $1 AND apply_number = $2`
	return scanAction(r.DB.QueryRowContext(ctx, q, crmToken, applyNumber))
}

func (r *PostgresRepo) ActionByID(ctx context.Context, crmToken, id string) (MissedCallAction, error) {
	q := `SELECT ` + actionColumns + ` FROM missed_call_actions WHERE id = $1 AND crm_token = $2`
	return scanAction(r.DB.QueryRowContext(ctx, q, id, crmToken))
}

func (r *PostgresRepo) ActionForNumber(ctx context.Context, applyNumber string) (MissedCallAction, error) {
	q := `SELECT ` + actionColumns + ` FROM missed_call_actions WHERE apply_number = $1`
	return scanAction(r.DB.QueryRowContext(ctx, q, applyNumber))
}

func (r *PostgresRepo) CreateAction(ctx context.Context, a MissedCallAction) error {
	return utils.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureTenant(ctx, tx, a.CRMToken, a.CreatedAt); err != nil {
			return err
		}
		const q = `
INSERT INTO missed_call_actions (id, crm_token, action_type, apply_number, from_number, message, template_name, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
		if _, err := tx.ExecContext(ctx, q, a.ID, a.CRMToken, string(a.ActionType), a.ApplyNumber, a.FromNumber, a.Message, a.TemplateName, a.CreatedAt, a.UpdatedAt); err != nil {
			if utils.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert missed call action: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) UpdateAction(ctx context.Context, a MissedCallAction) error {
	const q = `
UPDATE missed_call_actions
SET action_type = $3, apply_number = $4, from_number = $5, message = $6, template_name = $7, updated_at = $8
WHERE id = $1 AND crm_token = $2
`
	res, err := r.DB.ExecContext(ctx, q, a.ID, a.CRMToken, string(a.ActionType), a.ApplyNumber, a.FromNumber, a.Message, a.TemplateName, a.UpdatedAt)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update missed call action %s: %w", a.ID, err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) DeleteAction(ctx context.Context, crmToken, id string) error {
	return r.deleteMember(ctx, crmToken, id, `DELETE FROM missed_call_actions WHERE id = $1 AND crm_token = $2`)
}

// deleteMember removes a rule or action while holding the aggregate row, so
// membership and the member row change together.
func (r *PostgresRepo) deleteMember(ctx context.Context, crmToken, id, deleteQuery string) error {
	return utils.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		const lock = `SELECT crm_token FROM tenant_configs WHERE crm_token = $1 FOR UPDATE`
		var got string
		if err := tx.QueryRowContext(ctx, lock, crmToken).Scan(&got); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		res, err := tx.ExecContext(ctx, deleteQuery, id, crmToken)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE tenant_configs SET updated_at = $2 WHERE crm_token = $1`, crmToken, r.Now().UTC())
		return err
	})
}

func (r *PostgresRepo) TenantConfig(ctx context.Context, crmToken string) (TenantConfig, error) {
	const q = `SELECT crm_token, plan_tier, created_at, updated_at FROM tenant_configs WHERE crm_token = $1`
	var tc TenantConfig
	var tier string
	if err := r.DB.QueryRowContext(ctx, q, crmToken).Scan(&tc.CRMToken, &tier, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TenantConfig{}, ErrNotFound
		}
		return TenantConfig{}, err
	}
	tc.PlanTier = PlanTier(tier)

	var err error
	if tc.CallForwarding, err = r.memberIDs(ctx, `SELECT id FROM call_forwarding_rules WHERE crm_token = $1 ORDER BY created_at`, crmToken); err != nil {
		return TenantConfig{}, err
	}
	if tc.MissedCallActions, err = r.memberIDs(ctx, `SELECT id FROM missed_call_actions WHERE crm_token = $1 ORDER BY created_at`, crmToken); err != nil {
		return TenantConfig{}, err
	}
	return tc, nil
}

func (r *PostgresRepo) memberIDs(ctx context.Context, q, crmToken string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, q, crmToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) SetPlanTier(ctx context.Context, crmToken string, tier PlanTier) error {
	const q = `
INSERT INTO tenant_configs (crm_token, plan_tier, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (crm_token) DO UPDATE SET plan_tier = EXCLUDED.plan_tier, updated_at = EXCLUDED.updated_at
`
	if _, err := r.DB.ExecContext(ctx, q, crmToken, string(tier), r.Now().UTC()); err != nil {
		return fmt.Errorf("set plan tier: %w", err)
	}
	return nil
}

func ensureTenant(ctx context.Context, tx *sql.Tx, crmToken string, now time.Time) error {
	const q = `
INSERT INTO tenant_configs (crm_token, plan_tier, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (crm_token) DO UPDATE SET updated_at = EXCLUDED.updated_at
`
	if _, err := tx.ExecContext(ctx, q, crmToken, string(PlanPaid), now); err != nil {
		return fmt.Errorf("ensure tenant config: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
