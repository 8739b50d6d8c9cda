package provisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-dialer/pkg/utils"
)

type Repository interface {
	SubaccountByEmail(ctx context.Context, email string) (Subaccount, error)
	// SubaccountByToken returns the tenant's active subaccount.
	SubaccountByToken(ctx context.Context, crmToken string) (Subaccount, error)
	SubaccountByAccountSid(ctx context.Context, accountSid string) (Subaccount, error)
	SetSubaccountStatus(ctx context.Context, id string, st SubaccountStatus, at time.Time) error

	// SaveProvisioning stores a new subaccount (when isNew) and the number
	// attempt in one transaction. num may be nil.
	SaveProvisioning(ctx context.Context, sub Subaccount, isNew bool, num *PhoneNumber) error
	AssignMember(ctx context.Context, crmToken, phoneSid, email string, at time.Time) error
	// SetPaymentStatus updates the payment status of the tenant's number.
	SetPaymentStatus(ctx context.Context, crmToken, phoneNumber, status string, at time.Time) error
}

type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

const subaccountColumns = `id, email, crm_token, account_sid, auth_token, credits, status, metadata, created_at, updated_at`

func scanSubaccount(row interface{ Scan(...any) error }) (Subaccount, error) {
	var s Subaccount
	var status string
	var meta []byte
	if err := row.Scan(&s.ID, &s.Email, &s.CRMToken, &s.AccountSid, &s.AuthToken, &s.Credits, &status, &meta, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subaccount{}, ErrNotFound
		}
		return Subaccount{}, err
	}
	s.Status = SubaccountStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return Subaccount{}, fmt.Errorf("decode subaccount metadata: %w", err)
		}
	}
	return s, nil
}

func (r *PostgresRepo) SubaccountByEmail(ctx context.Context, email string) (Subaccount, error) {
	q := `SELECT ` + subaccountColumns + ` FROM subaccounts WHERE lower(email) = lower($1)`
	return scanSubaccount(r.DB.QueryRowContext(ctx, q, email))
}

func (r *PostgresRepo) SubaccountByToken(ctx context.Context, crmToken string) (Subaccount, error) {
	q := `SELECT ` + subaccountColumns + ` FROM subaccounts WHERE crm_token = $1 AND status = 'active' ORDER BY created_at LIMIT 1`
	return scanSubaccount(r.DB.QueryRowContext(ctx, q, crmToken))
}

func (r *PostgresRepo) SubaccountByAccountSid(ctx context.Context, accountSid string) (Subaccount, error) {
	q := `SELECT ` + subaccountColumns + ` FROM subaccounts WHERE account_sid = $1 ORDER BY created_at LIMIT 1`
	return scanSubaccount(r.DB.QueryRowContext(ctx, q, accountSid))
}

func (r *PostgresRepo) SetSubaccountStatus(ctx context.Context, id string, st SubaccountStatus, at time.Time) error {
	const q = `UPDATE subaccounts SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, q, id, string(st), at)
	if err != nil {
		return fmt.Errorf("set subaccount status: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) SaveProvisioning(ctx context.Context, sub Subaccount, isNew bool, num *PhoneNumber) error {
	return utils.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		if isNew {
			meta, err := json.Marshal(sub.Metadata)
			if err != nil {
				return err
			}
			const q = `
INSERT INTO subaccounts (id, email, crm_token, account_sid, auth_token, credits, status, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
			if _, err := tx.ExecContext(ctx, q, sub.ID, sub.Email, sub.CRMToken, sub.AccountSid, sub.AuthToken, sub.Credits, string(sub.Status), meta, sub.CreatedAt, sub.UpdatedAt); err != nil {
				if utils.IsUniqueViolation(err) {
					return ErrDuplicate
				}
				return fmt.Errorf("insert subaccount: %w", err)
			}
		}
		if num == nil {
			return nil
		}
		caps, err := json.Marshal(num.Capabilities)
		if err != nil {
			return err
		}
		const q = `
INSERT INTO phone_numbers (id, subaccount_id, crm_token, phone_number, friendly_name, phone_sid, capabilities, status, payment_status, price_paid, messaging_service_sid, member_email, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14)
`
		if _, err := tx.ExecContext(ctx, q, num.ID, sub.ID, num.CRMToken, num.PhoneNumber, num.FriendlyName, num.PhoneSid, caps,
			string(num.Status), num.PaymentStatus, num.PricePaid, num.MessagingServiceSid, num.MemberEmail, num.CreatedAt, num.UpdatedAt); err != nil {
			if utils.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert phone number: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) AssignMember(ctx context.Context, crmToken, phoneSid, email string, at time.Time) error {
	const q = `
UPDATE phone_numbers
SET member_email = COALESCE(NULLIF($3,''), member_email), updated_at = $4
WHERE phone_sid = $1 AND crm_token = $2
`
	res, err := r.DB.ExecContext(ctx, q, phoneSid, crmToken, email, at)
	if err != nil {
		return fmt.Errorf("assign member: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) SetPaymentStatus(ctx context.Context, crmToken, phoneNumber, status string, at time.Time) error {
	const q = `
UPDATE phone_numbers
SET payment_status = $3, updated_at = $4
WHERE crm_token = $1 AND phone_number = $2
`
	res, err := r.DB.ExecContext(ctx, q, crmToken, phoneNumber, status, at)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return requireRow(res)
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
