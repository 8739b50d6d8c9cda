package callconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"crm-dialer/pkg/utils"
)

// TokenResolver maps a provider number to the CRM token of its tenant.
type TokenResolver interface {
	GetTokenFromNumber(ctx context.Context, number string) (string, error)
}

type Service struct {
	repo   Repository
	tokens TokenResolver
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(repo Repository, tokens TokenResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, logger: logger, now: time.Now, newID: uuid.NewString}
}

// ForwardingInput is the body of the forwarding setup and edit calls.
type ForwardingInput struct {
	IsEnabled       bool   `json:"isEnabled" form:"isEnabled"`
	ForwardedNumber string `json:"forwardedNumber" form:"forwardedNumber"`
	ToPhoneNumber   string `json:"toPhoneNumber" form:"toPhoneNumber"`
}

func normalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	if utils.IsPhoneNumber(n) {
		return utils.AddPlusInNumber(n)
	}
	return n
}

// SetupForwarding creates the rule for in.ForwardedNumber or updates the
// tenant's existing one. created reports which happened.
func (s *Service) SetupForwarding(ctx context.Context, crmToken string, in ForwardingInput) (rule CallForwardingRule, created bool, err error) {
	in.ForwardedNumber = normalizeNumber(in.ForwardedNumber)
	in.ToPhoneNumber = normalizeNumber(in.ToPhoneNumber)
	if crmToken == "" || in.ForwardedNumber == "" || in.ToPhoneNumber == "" {
		return CallForwardingRule{}, false, fmt.Errorf("%w: forwardedNumber and toPhoneNumber are required", ErrInvalidArgument)
	}
	now := s.now().UTC()

	cur, err := s.repo.ForwardingByNumber(ctx, crmToken, in.ForwardedNumber)
	switch {
	case err == nil:
		cur.IsEnabled = in.IsEnabled
		cur.ToPhoneNumber = in.ToPhoneNumber
		cur.UpdatedAt = now
		if err := s.repo.UpdateForwarding(ctx, cur); err != nil {
			return CallForwardingRule{}, false, err
		}
		return cur, false, nil
	case !errors.Is(err, ErrNotFound):
		return CallForwardingRule{}, false, err
	}

	rule = CallForwardingRule{
		ID:              s.newID(),
		CRMToken:        crmToken,
		IsEnabled:       in.IsEnabled,
		ForwardedNumber: in.ForwardedNumber,
		ToPhoneNumber:   in.ToPhoneNumber,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateForwarding(ctx, rule); err != nil {
		return CallForwardingRule{}, false, err
	}
	s.logger.Info("call forwarding created", "rule_id", rule.ID, "forwarded_number", rule.ForwardedNumber)
	return rule, true, nil
}

// EditForwarding sets enabled and destination on a rule owned by crmToken.
func (s *Service) EditForwarding(ctx context.Context, crmToken, id string, isEnabled bool, toPhoneNumber string) (CallForwardingRule, error) {
	cur, err := s.repo.ForwardingByID(ctx, crmToken, id)
	if err != nil {
		return CallForwardingRule{}, err
	}
	cur.IsEnabled = isEnabled
	if to := normalizeNumber(toPhoneNumber); to != "" {
		cur.ToPhoneNumber = to
	}
	cur.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateForwarding(ctx, cur); err != nil {
		return CallForwardingRule{}, err
	}
	return cur, nil
}

func (s *Service) GetForwarding(ctx context.Context, crmToken, forwardedNumber string) (CallForwardingRule, error) {
	return s.repo.ForwardingByNumber(ctx, crmToken, normalizeNumber(forwardedNumber))
}

func (s *Service) DeleteForwarding(ctx context.Context, crmToken, id string) error {
	return s.repo.DeleteForwarding(ctx, crmToken, id)
}

// SetupMissedCallAction creates the action for p.ApplyNumber or patches the
// tenant's existing one.
func (s *Service) SetupMissedCallAction(ctx context.Context, crmToken string, p ActionPatch) (MissedCallAction, bool, error) {
	p.ApplyNumber = normalizeNumber(p.ApplyNumber)
	p.FromNumber = strings.TrimSpace(p.FromNumber)
	if crmToken == "" || p.ApplyNumber == "" {
		return MissedCallAction{}, false, fmt.Errorf("%w: applyNumber is required", ErrInvalidArgument)
	}
	if !p.ActionType.Valid() {
		return MissedCallAction{}, false, fmt.Errorf("%w: unknown actionType %q", ErrInvalidArgument, p.ActionType)
	}
	now := s.now().UTC()

	cur, err := s.repo.ActionByNumber(ctx, crmToken, p.ApplyNumber)
	switch {
	case err == nil:
		next := p.apply(cur)
		next.UpdatedAt = now
		if err := s.repo.UpdateAction(ctx, next); err != nil {
			return MissedCallAction{}, false, err
		}
		return next, false, nil
	case !errors.Is(err, ErrNotFound):
		return MissedCallAction{}, false, err
	}

	a := p.apply(MissedCallAction{ID: s.newID(), CRMToken: crmToken, CreatedAt: now})
	a.UpdatedAt = now
	if err := s.repo.CreateAction(ctx, a); err != nil {
		return MissedCallAction{}, false, err
	}
	s.logger.Info("missed call action created", "action_id", a.ID, "apply_number", a.ApplyNumber, "action_type", string(a.ActionType))
	return a, true, nil
}

// EditMissedCallAction applies a partial update to an action owned by crmToken.
func (s *Service) EditMissedCallAction(ctx context.Context, crmToken, id string, p ActionPatch) (MissedCallAction, error) {
	if !p.ActionType.Valid() {
		return MissedCallAction{}, fmt.Errorf("%w: unknown actionType %q", ErrInvalidArgument, p.ActionType)
	}
	p.ApplyNumber = normalizeNumber(p.ApplyNumber)
	cur, err := s.repo.ActionByID(ctx, crmToken, id)
	if err != nil {
		return MissedCallAction{}, err
	}
	next := p.apply(cur)
	next.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateAction(ctx, next); err != nil {
		return MissedCallAction{}, err
	}
	return next, nil
}

func (s *Service) GetMissedCallAction(ctx context.Context, crmToken, applyNumber string) (MissedCallAction, error) {
	return s.repo.ActionByNumber(ctx, crmToken, normalizeNumber(applyNumber))
}

func (s *Service) DeleteMissedCallAction(ctx context.Context, crmToken, id string) error {
	return s.repo.DeleteAction(ctx, crmToken, id)
}

func (s *Service) TenantConfig(ctx context.Context, crmToken string) (TenantConfig, error) {
	return s.repo.TenantConfig(ctx, crmToken)
}

func (s *Service) SetPlanTier(ctx context.Context, crmToken string, tier PlanTier) error {
	tier = PlanTier(strings.ToLower(strings.TrimSpace(string(tier))))
	if crmToken == "" || tier == "" {
		return fmt.Errorf("%w: planTier is required", ErrInvalidArgument)
	}
	return s.repo.SetPlanTier(ctx, crmToken, tier)
}

// ForwardingFor returns the enabled rule for a dialed number, if any.
func (s *Service) ForwardingFor(ctx context.Context, number string) (CallForwardingRule, bool, error) {
	r, err := s.repo.EnabledForwarding(ctx, normalizeNumber(number))
	if errors.Is(err, ErrNotFound) {
		return CallForwardingRule{}, false, nil
	}
	if err != nil {
		return CallForwardingRule{}, false, err
	}
	return r, true, nil
}

// ActionFor returns the missed-call action configured for a called number.
func (s *Service) ActionFor(ctx context.Context, applyNumber string) (MissedCallAction, bool, error) {
	a, err := s.repo.ActionForNumber(ctx, normalizeNumber(applyNumber))
	if errors.Is(err, ErrNotFound) {
		return MissedCallAction{}, false, nil
	}
	if err != nil {
		return MissedCallAction{}, false, err
	}
	return a, true, nil
}

// PlanTierFor resolves the plan of the tenant owning number. A tenant without
// a stored aggregate reports an empty tier.
func (s *Service) PlanTierFor(ctx context.Context, number string) (PlanTier, error) {
	if s.tokens == nil {
		return "", nil
	}
	token, err := s.tokens.GetTokenFromNumber(ctx, normalizeNumber(number))
	if err != nil {
		return "", err
	}
	tc, err := s.repo.TenantConfig(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tc.PlanTier, nil
}
