// Package callconfig stores per-tenant call forwarding rules and missed-call
// actions, grouped under a TenantConfig aggregate keyed by CRM token.
package callconfig

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("callconfig: not found")
	ErrInvalidArgument = errors.New("callconfig: invalid argument")
	ErrDuplicate       = errors.New("callconfig: number already configured")
)

// ActionType selects the channel used to react to a missed call. The empty
// value disables the action.
type ActionType string

const (
	ActionNone     ActionType = ""
	ActionSMS      ActionType = "sms"
	ActionWhatsApp ActionType = "whatsapp"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionNone, ActionSMS, ActionWhatsApp:
		return true
	default:
		return false
	}
}

type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPaid PlanTier = "paid"
)

// CallForwardingRule forwards calls arriving at ForwardedNumber to ToPhoneNumber.
type CallForwardingRule struct {
	ID              string    `json:"id" db:"id"`
	CRMToken        string    `json:"crmToken" db:"crm_token"`
	IsEnabled       bool      `json:"isEnabled" db:"is_enabled"`
	ForwardedNumber string    `json:"forwardedNumber" db:"forwarded_number"`
	ToPhoneNumber   string    `json:"toPhoneNumber" db:"to_phone_number"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// MissedCallAction sends a message to callers who were not answered on ApplyNumber.
type MissedCallAction struct {
	ID           string     `json:"id" db:"id"`
	CRMToken     string     `json:"crmToken" db:"crm_token"`
	ActionType   ActionType `json:"actionType" db:"action_type"`
	ApplyNumber  string     `json:"applyNumber" db:"apply_number"`
	FromNumber   string     `json:"fromNumber" db:"from_number"`
	Message      string     `json:"message" db:"message"`
	TemplateName string     `json:"templateName" db:"template_name"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// Enabled reports whether the action should fire at all.
func (a MissedCallAction) Enabled() bool { return a.ActionType != ActionNone }

// ActionPatch is a partial update. Empty fields keep the stored value.
type ActionPatch struct {
	ActionType   ActionType `json:"actionType"`
	ApplyNumber  string     `json:"applyNumber"`
	FromNumber   string     `json:"fromNumber"`
	Message      string     `json:"message"`
	TemplateName string     `json:"templateName"`
}

func (p ActionPatch) apply(a MissedCallAction) MissedCallAction {
	if p.ActionType != "" {
		a.ActionType = p.ActionType
	}
	if p.ApplyNumber != "" {
		a.ApplyNumber = p.ApplyNumber
	}
	if p.FromNumber != "" {
		a.FromNumber = p.FromNumber
	}
	if p.Message != "" {
		a.Message = p.Message
	}
	if p.TemplateName != "" {
		a.TemplateName = p.TemplateName
	}
	return a
}

// TenantConfig is the aggregate owning a tenant's rules and actions.
type TenantConfig struct {
	CRMToken          string    `json:"crmToken" db:"crm_token"`
	PlanTier          PlanTier  `json:"planTier" db:"plan_tier"`
	CallForwarding    []string  `json:"callForwarding"`
	MissedCallActions []string  `json:"missedCallAction"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}
