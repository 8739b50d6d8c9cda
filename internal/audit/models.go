package audit

import "time"

// Event is an immutable record of how one reconciliation chain ended.
//
// Invariants:
// - Events are never updated or deleted.
// - call_sid is required.
// - Audit is best-effort; a failed append never affects the chain.
type Event struct {
	ID      string    `json:"id" db:"id"`
	Type    EventType `json:"type" db:"type"`
	CallSid string    `json:"call_sid" db:"call_sid"`
	TaskID  string    `json:"task_id,omitempty" db:"task_id"`

	AccountSid string  `json:"account_sid,omitempty" db:"account_sid"`
	Attempts   int     `json:"attempts" db:"attempts"`
	TotalPrice float64 `json:"total_price" db:"total_price"`

	// Target names the downstream system for push failures.
	Target  string `json:"target,omitempty" db:"target"`
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypePriced       EventType = "priced"
	EventTypeUnpriced     EventType = "unpriced"
	EventTypeDuplicate    EventType = "duplicate"
	EventTypeLedgerFailed EventType = "ledger_failed"
	EventTypePushFailed   EventType = "push_failed"
	EventTypeCanceled     EventType = "canceled"
)
