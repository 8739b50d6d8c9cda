// Package provisioning manages tenant Twilio subaccounts and the phone
// numbers bought into them.
package provisioning

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crm-dialer/internal/telephony"
)

var (
	ErrNotFound         = errors.New("provisioning: not found")
	ErrInvalidArgument  = errors.New("provisioning: invalid argument")
	ErrDuplicate        = errors.New("provisioning: duplicate")
	ErrValidationFailed = errors.New("provisioning: caller id validation failed")
	ErrPurchaseFailed   = errors.New("provisioning: number purchase failed")
)

type SubaccountStatus string

const (
	SubaccountActive    SubaccountStatus = "active"
	SubaccountInactive  SubaccountStatus = "inactive"
	SubaccountSuspended SubaccountStatus = "suspended"
)

// Subaccount is a tenant's Twilio subaccount. Emails are unique ignoring case.
// Closing a subaccount moves it to inactive; rows are never deleted.
type Subaccount struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	CRMToken   string            `json:"-"`
	AccountSid string            `json:"accountSid"`
	AuthToken  string            `json:"-"`
	Credits    decimal.Decimal   `json:"credits"`
	Status     SubaccountStatus  `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type NumberStatus string

const (
	NumberPending   NumberStatus = "pending"
	NumberPurchased NumberStatus = "purchased"
	NumberFailed    NumberStatus = "failed"
)

// PhoneNumber is one purchase attempt. Status leaves pending exactly once.
type PhoneNumber struct {
	ID                  string                 `json:"id"`
	SubaccountID        string                 `json:"subaccountId"`
	CRMToken            string                 `json:"-"`
	PhoneNumber         string                 `json:"phoneNumber"`
	FriendlyName        string                 `json:"friendlyName,omitempty"`
	PhoneSid            string                 `json:"phoneSid,omitempty"`
	Capabilities        telephony.Capabilities `json:"capabilities"`
	Status              NumberStatus           `json:"status"`
	PaymentStatus       string                 `json:"paymentStatus"`
	PricePaid           decimal.Decimal        `json:"pricePaid"`
	MessagingServiceSid string                 `json:"messagingServiceSid,omitempty"`
	MemberEmail         string                 `json:"memberEmail,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

func normalizeEmail(e string) (string, bool) {
	e = strings.ToLower(strings.TrimSpace(e))
	if e == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || !strings.Contains(e[strings.LastIndex(e, "@"):], ".") {
		return "", false
	}
	return e, true
}
