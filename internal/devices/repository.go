package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Repository interface {
	// Upsert stores credentials and token; presence and message are kept on update.
	Upsert(ctx context.Context, d DeviceIdentity) (DeviceIdentity, error)
	Get(ctx context.Context, callerID string) (DeviceIdentity, error)
	SetPresence(ctx context.Context, callerID string, p Presence, message string, at time.Time) error
}

type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

const deviceColumns = `caller_id, identity, account_sid, twiml_app_sid, api_key, api_secret, token, presence, unavailable_message, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (DeviceIdentity, error) {
	var d DeviceIdentity
	var presence string
	if err := row.Scan(&d.CallerID, &d.Identity, &d.AccountSid, &d.TwimlAppSid, &d.APIKey, &d.APISecret, &d.Token, &presence, &d.UnavailableMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeviceIdentity{}, ErrNotFound
		}
		return DeviceIdentity{}, err
	}
	d.Presence = Presence(presence)
	return d, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, d DeviceIdentity) (DeviceIdentity, error) {
	q := `
INSERT INTO device_identities (caller_id, identity, account_sid, twiml_app_sid, api_key, api_secret, token, presence, unavailable_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'',$9,$9)
ON CONFLICT (caller_id) DO UPDATE SET
  identity = EXCLUDED.identity,
  account_sid = EXCLUDED.account_sid,
  twiml_app_sid = EXCLUDED.twiml_app_sid,
  api_key = EXCLUDED.api_key,
  api_secret = EXCLUDED.api_secret,
  token = EXCLUDED.token,
  updated_at = EXCLUDED.updated_at
RETURNING ` + deviceColumns
	out, err := scanDevice(r.DB.QueryRowContext(ctx, q,
		d.CallerID, d.Identity, d.AccountSid, d.TwimlAppSid, d.APIKey, d.APISecret, d.Token, string(PresenceActive), d.UpdatedAt,
	))
	if err != nil {
		return DeviceIdentity{}, fmt.Errorf("upsert device %s: %w", d.CallerID, err)
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, callerID string) (DeviceIdentity, error) {
	q := `SELECT ` + deviceColumns + ` FROM device_identities WHERE caller_id = $1`
	return scanDevice(r.DB.QueryRowContext(ctx, q, callerID))
}

func (r *PostgresRepo) SetPresence(ctx context.Context, callerID string, p Presence, message string, at time.Time) error {
	const q = `
UPDATE device_identities
SET presence = $2, unavailable_message = $3, updated_at = $4
WHERE caller_id = $1
`
	res, err := r.DB.ExecContext(ctx, q, callerID, string(p), message, at)
	if err != nil {
		return fmt.Errorf("set presence %s: %w", callerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]DeviceIdentity
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byID: map[string]DeviceIdentity{}} }

func (m *MemoryRepo) Upsert(ctx context.Context, d DeviceIdentity) (DeviceIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[d.CallerID]; ok {
		d.CreatedAt = cur.CreatedAt
		d.Presence = cur.Presence
		d.UnavailableMessage = cur.UnavailableMessage
	} else {
		d.CreatedAt = d.UpdatedAt
		d.Presence = PresenceActive
	}
	m.byID[d.CallerID] = d
	return d, nil
}

func (m *MemoryRepo) Get(ctx context.Context, callerID string) (DeviceIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[callerID]
	if !ok {
		return DeviceIdentity{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryRepo) SetPresence(ctx context.Context, callerID string, p Presence, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[callerID]
	if !ok {
		return ErrNotFound
	}
	d.Presence = p
	d.UnavailableMessage = message
	d.UpdatedAt = at
	m.byID[callerID] = d
	return nil
}
