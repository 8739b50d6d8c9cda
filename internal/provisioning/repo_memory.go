package provisioning

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu          sync.Mutex
	subaccounts []Subaccount
	numbers     []PhoneNumber
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (m *MemoryRepo) find(match func(Subaccount) bool) (Subaccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subaccounts {
		if match(s) {
			return s, nil
		}
	}
	return Subaccount{}, ErrNotFound
}

func (m *MemoryRepo) SubaccountByEmail(ctx context.Context, email string) (Subaccount, error) {
	return m.find(func(s Subaccount) bool { return strings.EqualFold(s.Email, email) })
}

func (m *MemoryRepo) SubaccountByToken(ctx context.Context, crmToken string) (Subaccount, error) {
	return m.find(func(s Subaccount) bool { return s.CRMToken == crmToken && s.Status == SubaccountActive })
}

func (m *MemoryRepo) SubaccountByAccountSid(ctx context.Context, accountSid string) (Subaccount, error) {
	return m.find(func(s Subaccount) bool { return s.AccountSid == accountSid })
}

func (m *MemoryRepo) SetSubaccountStatus(ctx context.Context, id string, st SubaccountStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subaccounts {
		if m.subaccounts[i].ID == id {
			m.subaccounts[i].Status = st
			m.subaccounts[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryRepo) SaveProvisioning(ctx context.Context, sub Subaccount, isNew bool, num *PhoneNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isNew {
		for _, s := range m.subaccounts {
			if strings.EqualFold(s.Email, sub.Email) || (s.CRMToken == sub.CRMToken && s.AccountSid == sub.AccountSid) {
				return ErrDuplicate
			}
		}
	}
	if num != nil && num.PhoneSid != "" {
		for _, n := range m.numbers {
			if n.PhoneSid == num.PhoneSid {
				return ErrDuplicate
			}
		}
	}
	if isNew {
		m.subaccounts = append(m.subaccounts, sub)
	}
	if num != nil {
		n := *num
		n.SubaccountID = sub.ID
		m.numbers = append(m.numbers, n)
	}
	return nil
}

func (m *MemoryRepo) AssignMember(ctx context.Context, crmToken, phoneSid, email string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.numbers {
		if n.PhoneSid == phoneSid && n.CRMToken == crmToken {
			if email != "" {
				m.numbers[i].MemberEmail = email
			}
			m.numbers[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryRepo) SetPaymentStatus(ctx context.Context, crmToken, phoneNumber, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i, n := range m.numbers {
		if n.CRMToken == crmToken && n.PhoneNumber == phoneNumber {
			m.numbers[i].PaymentStatus = status
			m.numbers[i].UpdatedAt = at
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Numbers returns a copy of the stored numbers.
func (m *MemoryRepo) Numbers() []PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PhoneNumber(nil), m.numbers...)
}
