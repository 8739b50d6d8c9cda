package callconfig

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	tenants map[string]TenantConfig
	rules   map[string]CallForwardingRule
	actions map[string]MissedCallAction
	Now     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tenants: map[string]TenantConfig{},
		rules:   map[string]CallForwardingRule{},
		actions: map[string]MissedCallAction{},
		Now:     time.Now,
	}
}

func (m *MemoryRepo) ForwardingByNumber(ctx context.Context, crmToken, number string) (CallForwardingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.CRMToken == crmToken && r.ForwardedNumber == number {
			return r, nil
		}
	}
	return CallForwardingRule{}, ErrNotFound
}

func (m *MemoryRepo) ForwardingByID(ctx context.Context, crmToken, id string) (CallForwardingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.CRMToken != crmToken {
		return CallForwardingRule{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepo) EnabledForwarding(ctx context.Context, number string) (CallForwardingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ForwardedNumber == number && r.IsEnabled {
			return r, nil
		}
	}
	return CallForwardingRule{}, ErrNotFound
}

func (m *MemoryRepo) CreateForwarding(ctx context.Context, rule CallForwardingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ForwardedNumber == rule.ForwardedNumber {
			return ErrDuplicate
		}
	}
	m.rules[rule.ID] = rule
	tc := m.ensureTenantLocked(rule.CRMToken, rule.CreatedAt)
	tc.CallForwarding = append(tc.CallForwarding, rule.ID)
	m.tenants[rule.CRMToken] = tc
	return nil
}

func (m *MemoryRepo) UpdateForwarding(ctx context.Context, rule CallForwardingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rules[rule.ID]
	if !ok || cur.CRMToken != rule.CRMToken {
		return ErrNotFound
	}
	cur.IsEnabled = rule.IsEnabled
	cur.ToPhoneNumber = rule.ToPhoneNumber
	cur.UpdatedAt = rule.UpdatedAt
	m.rules[rule.ID] = cur
	return nil
}

func (m *MemoryRepo) DeleteForwarding(ctx context.Context, crmToken, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.tenants[crmToken]
	if !ok {
		return ErrNotFound
	}
	r, ok := m.rules[id]
	if !ok || r.CRMToken != crmToken {
		return ErrNotFound
	}
	delete(m.rules, id)
	tc.CallForwarding = without(tc.CallForwarding, id)
	m.tenants[crmToken] = tc
	return nil
}

func (m *MemoryRepo) ActionByNumber(ctx context.Context, crmToken, applyNumber string) (MissedCallAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a.CRMToken == crmToken && a.ApplyNumber == applyNumber {
			return a, nil
		}
	}
	return MissedCallAction{}, ErrNotFound
}

func (m *MemoryRepo) ActionByID(ctx context.Context, crmToken, id string) (MissedCallAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok || a.CRMToken != crmToken {
		return MissedCallAction{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryRepo) ActionForNumber(ctx context.Context, applyNumber string) (MissedCallAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a.ApplyNumber == applyNumber {
			return a, nil
		}
	}
	return MissedCallAction{}, ErrNotFound
}

func (m *MemoryRepo) CreateAction(ctx context.Context, a MissedCallAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.actions {
		if cur.ApplyNumber == a.ApplyNumber {
			return ErrDuplicate
		}
	}
	m.actions[a.ID] = a
	tc := m.ensureTenantLocked(a.CRMToken, a.CreatedAt)
	tc.MissedCallActions = append(tc.MissedCallActions, a.ID)
	m.tenants[a.CRMToken] = tc
	return nil
}

func (m *MemoryRepo) UpdateAction(ctx context.Context, a MissedCallAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.actions[a.ID]
	if !ok || cur.CRMToken != a.CRMToken {
		return ErrNotFound
	}
	for id, other := range m.actions {
		if id != a.ID && other.ApplyNumber == a.ApplyNumber {
			return ErrDuplicate
		}
	}
	a.CreatedAt = cur.CreatedAt
	m.actions[a.ID] = a
	return nil
}

func (m *MemoryRepo) DeleteAction(ctx context.Context, crmToken, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.tenants[crmToken]
	if !ok {
		return ErrNotFound
	}
	a, ok := m.actions[id]
	if !ok || a.CRMToken != crmToken {
		return ErrNotFound
	}
	delete(m.actions, id)
	tc.MissedCallActions = without(tc.MissedCallActions, id)
	m.tenants[crmToken] = tc
	return nil
}

func (m *MemoryRepo) TenantConfig(ctx context.Context, crmToken string) (TenantConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.tenants[crmToken]
	if !ok {
		return TenantConfig{}, ErrNotFound
	}
	tc.CallForwarding = append([]string{}, tc.CallForwarding...)
	tc.MissedCallActions = append([]string{}, tc.MissedCallActions...)
	return tc, nil
}

func (m *MemoryRepo) SetPlanTier(ctx context.Context, crmToken string, tier PlanTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.ensureTenantLocked(crmToken, m.Now().UTC())
	tc.PlanTier = tier
	m.tenants[crmToken] = tc
	return nil
}

func (m *MemoryRepo) ensureTenantLocked(crmToken string, now time.Time) TenantConfig {
	tc, ok := m.tenants[crmToken]
	if !ok {
		tc = TenantConfig{CRMToken: crmToken, PlanTier: PlanPaid, CreatedAt: now}
	}
	tc.UpdatedAt = now
	return tc
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
