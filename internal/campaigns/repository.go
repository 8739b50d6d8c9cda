// Package campaigns tracks the delivery status of outbound campaign calls.
package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("campaign message not found")

// Message is one campaign call attempt.
type Message struct {
	ID        string    `json:"id" db:"id"`
	CallSid   string    `json:"call_sid,omitempty" db:"call_sid"`
	Status    string    `json:"status" db:"status"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PostgresRepo updates rows of campaign_messages.
type PostgresRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db, Now: time.Now}
}

func (r *PostgresRepo) UpdateMessageStatusByID(ctx context.Context, messageID, status string) error {
	const q = `
UPDATE campaign_messages
SET status = $2, updated_at = $3
WHERE id = $1
`
	res, err := r.DB.ExecContext(ctx, q, messageID, status, r.Now().UTC())
	if err != nil {
		return fmt.Errorf("update campaign message %s: %w", messageID, err)
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

// UpdateMessageStatusByCallID updates the message correlated with callSid.
// Calls that did not originate from a campaign match no row; that is not an error.
func (r *PostgresRepo) UpdateMessageStatusByCallID(ctx context.Context, callSid, status string) error {
	const q = `
UPDATE campaign_messages
SET status = $2, updated_at = $3
WHERE call_sid = $1
`
	if _, err := r.DB.ExecContext(ctx, q, callSid, status, r.Now().UTC()); err != nil {
		return fmt.Errorf("update campaign message for call %s: %w", callSid, err)
	}
	return nil
}

// MemoryRepo is an in-memory store for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	messages map[string]Message
}

func NewMemoryRepo(seed ...Message) *MemoryRepo {
	m := &MemoryRepo{messages: map[string]Message{}}
	for _, msg := range seed {
		m.messages[msg.ID] = msg
	}
	return m
}

func (m *MemoryRepo) UpdateMessageStatusByID(_ context.Context, messageID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	msg.UpdatedAt = time.Now().UTC()
	m.messages[messageID] = msg
	return nil
}

func (m *MemoryRepo) UpdateMessageStatusByCallID(_ context.Context, callSid, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.messages {
		if msg.CallSid == callSid {
			msg.Status = status
			msg.UpdatedAt = time.Now().UTC()
			m.messages[id] = msg
		}
	}
	return nil
}

func (m *MemoryRepo) Get(id string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok
}
