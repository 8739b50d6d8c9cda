package calls

import (
	"time"

	"crm-dialer/pkg/utils"
)

// StatusEvent is a parsed provider status callback.
type StatusEvent struct {
	CallSid       string
	ParentCallSid string
	AccountSid    string
	From          string
	To            string
	Direction     Direction
	Status        Status

	DurationSeconds int
	RecordingURL    string

	// MessageID correlates the call with an outbound campaign message.
	MessageID string

	// OwnerNumber is the tenant number carried on the callback URL of dialed
	// legs. Child legs report the dial direction, not the call's.
	OwnerNumber string

	ReceivedAt time.Time
}

// TenantNumber is the tenant-owned number on the leg: OwnerNumber when the
// callback carried one, else the called number for incoming calls and the
// caller for outgoing ones.
func (e StatusEvent) TenantNumber() string {
	if e.OwnerNumber != "" {
		return utils.AddPlusInNumber(utils.ExtractNumberFromClient(e.OwnerNumber))
	}
	n := e.To
	if e.Direction == DirectionOutgoing {
		n = e.From
	}
	return utils.AddPlusInNumber(utils.ExtractNumberFromClient(n))
}

// Record builds the ledger row for e. Prices are filled in by the caller.
func (e StatusEvent) Record() CallRecord {
	r := CallRecord{
		CallSid:         e.CallSid,
		ParentCallSid:   e.ParentCallSid,
		AccountSid:      e.AccountSid,
		From:            utils.ExtractNumberFromClient(e.From),
		To:              utils.ExtractNumberFromClient(e.To),
		Direction:       e.Direction,
		Status:          e.Status,
		DurationSeconds: e.DurationSeconds,
		RecordingURL:    e.RecordingURL,
	}
	if !e.ReceivedAt.IsZero() {
		end := e.ReceivedAt.UTC()
		start := end.Add(-time.Duration(e.DurationSeconds) * time.Second)
		r.EndedAt = &end
		r.StartedAt = &start
	}
	return r
}
