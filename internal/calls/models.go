package calls

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// CallRecord is one reconciled call leg as stored in the call ledger.
//
// A record is written at most once per CallSid, only after price resolution
// has finished, and is never updated afterwards.
type CallRecord struct {
	ID            int64  `json:"id" db:"id"`
	CallSid       string `json:"call_sid" db:"call_sid"`
	ParentCallSid string `json:"parent_call_sid,omitempty" db:"parent_call_sid"`
	AccountSid    string `json:"account_sid" db:"account_sid"`
	TenantToken   string `json:"tenant_token,omitempty" db:"tenant_token"`

	From      string    `json:"from" db:"from_number"`
	To        string    `json:"to" db:"to_number"`
	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration" db:"duration_seconds"`
	RecordingURL    string     `json:"recording_url,omitempty" db:"recording_url"`

	// Raw provider prices, as reported.
	LegPrice       string `json:"leg_price,omitempty" db:"leg_price"`
	ParentLegPrice string `json:"parent_leg_price,omitempty" db:"parent_leg_price"`
	Currency       string `json:"currency" db:"currency"`

	TotalPrice float64 `json:"total_price" db:"total_price"`
	Priced     bool    `json:"priced" db:"priced"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ParseDirection maps provider direction strings ("inbound", "outbound-dial",
// "outbound-api", "incoming", "outgoing") onto Direction.
func ParseDirection(s string) Direction {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "incoming", strings.HasPrefix(s, "inbound"):
		return DirectionIncoming
	case s == "outgoing", strings.HasPrefix(s, "outbound"):
		return DirectionOutgoing
	default:
		return DirectionIncoming
	}
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusBusy       Status = "busy"
	StatusCanceled   Status = "canceled"
	StatusUnknown    Status = "unknown"
)

// ParseStatus normalizes a provider status. Unrecognized values map to StatusUnknown.
func ParseStatus(s string) Status {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	switch st := Status(s); st {
	case StatusQueued, StatusRinging, StatusInProgress, StatusCompleted,
		StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return st
	case "cancelled":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// StatusRule describes how one status flows through the downstream systems.
type StatusRule struct {
	BillingEligible   bool
	MissedCallTrigger bool
	CampaignValue     string
}

var statusTable = map[Status]StatusRule{
	StatusCompleted:  {BillingEligible: true, CampaignValue: "completed"},
	StatusNoAnswer:   {BillingEligible: true, MissedCallTrigger: true, CampaignValue: "no-answer"},
	StatusBusy:       {BillingEligible: true, MissedCallTrigger: true, CampaignValue: "busy"},
	StatusFailed:     {BillingEligible: true, CampaignValue: "failed"},
	StatusCanceled:   {BillingEligible: true, CampaignValue: "busy"},
	StatusInProgress: {CampaignValue: "busy"},
	StatusQueued:     {CampaignValue: "busy"},
	StatusRinging:    {CampaignValue: "busy"},
}

// Rule returns the downstream rule for s. Unknown statuses are neither billed
// nor treated as missed, and report "busy" to campaigns.
func (s Status) Rule() StatusRule {
	if r, ok := statusTable[s]; ok {
		return r
	}
	return StatusRule{CampaignValue: "busy"}
}

func (s Status) BillingEligible() bool   { return s.Rule().BillingEligible }
func (s Status) MissedCallTrigger() bool { return s.Rule().MissedCallTrigger }
func (s Status) CampaignValue() string   { return s.Rule().CampaignValue }

// Terminal reports whether the provider will send no further status for the leg.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return true
	}
	return false
}

// Counterpart returns the remote party's number for the record's direction.
func (r CallRecord) Counterpart() string {
	if r.Direction == DirectionOutgoing {
		return r.To
	}
	return r.From
}
