package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crm-dialer/pkg/utils"
)

// Ledger is the append-only store of reconciled calls keyed by CallSid.
type Ledger interface {
	// Insert writes r. A record whose CallSid already exists is left untouched
	// and Insert reports inserted=false with a nil error.
	Insert(ctx context.Context, r CallRecord) (inserted bool, err error)
	GetByCallSid(ctx context.Context, callSid string) (CallRecord, error)
}

// PostgresLedger stores records in the call_records table.
//
// call_records.call_sid carries a UNIQUE constraint; the constraint is the
// final guard against duplicate webhook deliveries.
type PostgresLedger struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{DB: db, Now: time.Now}
}

func (l *PostgresLedger) Insert(ctx context.Context, r CallRecord) (bool, error) {
	if l.DB == nil {
		return false, fmt.Errorf("ledger db is nil")
	}
	if strings.TrimSpace(r.CallSid) == "" {
		return false, ErrInvalidArgument
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now().UTC()
	}

	const q = `
INSERT INTO call_records (
  call_sid, parent_call_sid, account_sid, tenant_token,
  from_number, to_number, direction, status,
  started_at, ended_at, duration_seconds, recording_url,
  leg_price, parent_leg_price, currency, total_price, priced, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`
	_, err := l.DB.ExecContext(ctx, q,
		r.CallSid,
		nullString(r.ParentCallSid),
		r.AccountSid,
		nullString(r.TenantToken),
		r.From,
		r.To,
		string(r.Direction),
		string(r.Status),
		r.StartedAt,
		r.EndedAt,
		r.DurationSeconds,
		nullString(r.RecordingURL),
		nullString(r.LegPrice),
		nullString(r.ParentLegPrice),
		r.Currency,
		r.TotalPrice,
		r.Priced,
		r.CreatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert call record %s: %w", r.CallSid, err)
	}
	return true, nil
}

func (l *PostgresLedger) GetByCallSid(ctx context.Context, callSid string) (CallRecord, error) {
	const q = `
SELECT id, call_sid, COALESCE(parent_call_sid, ''), account_sid, COALESCE(tenant_token, ''),
       from_number, to_number, direction, status,
       started_at, ended_at, duration_seconds, COALESCE(recording_url, ''),
       COALESCE(leg_price, ''), COALESCE(parent_leg_price, ''), currency, total_price, priced, created_at
FROM call_records
WHERE call_sid = $1
`
	var (
		r         CallRecord
		started   sql.NullTime
		ended     sql.NullTime
		direction string
		status    string
	)
	err := l.DB.QueryRowContext(ctx, q, callSid).Scan(
		&r.ID,
		&r.CallSid,
		&r.ParentCallSid,
		&r.AccountSid,
		&r.TenantToken,
		&r.From,
		&r.To,
		&direction,
		&status,
		&started,
		&ended,
		&r.DurationSeconds,
		&r.RecordingURL,
		&r.LegPrice,
		&r.ParentLegPrice,
		&r.Currency,
		&r.TotalPrice,
		&r.Priced,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	r.Direction = Direction(direction)
	r.Status = Status(status)
	if started.Valid {
		t := started.Time
		r.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// MemoryLedger is an in-memory Ledger for tests and local runs.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]CallRecord
	order   []string
	nextID  int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: map[string]CallRecord{}}
}

func (m *MemoryLedger) Insert(_ context.Context, r CallRecord) (bool, error) {
	if strings.TrimSpace(r.CallSid) == "" {
		return false, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.CallSid]; ok {
		return false, nil
	}
	m.nextID++
	r.ID = m.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.records[r.CallSid] = r
	m.order = append(m.order, r.CallSid)
	return true, nil
}

func (m *MemoryLedger) GetByCallSid(_ context.Context, callSid string) (CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[callSid]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return r, nil
}

// All returns records in insertion order.
func (m *MemoryLedger) All() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, 0, len(m.order))
	for _, sid := range m.order {
		out = append(out, m.records[sid])
	}
	return out
}
