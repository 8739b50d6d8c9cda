package zoho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/crmapi"
	"crm-dialer/pkg/utils"
)

// ErrNotConfigured means the tenant has no Zoho integration.
var ErrNotConfigured = errors.New("zoho: tenant not configured")

// ConfigSource returns a tenant's CRM integration settings.
type ConfigSource interface {
	GetCRMConfig(ctx context.Context, tenantToken string) (crmapi.CRMConfig, error)
}

type Pusher struct {
	client  *Client
	configs ConfigSource
	logger  *slog.Logger
}

func NewPusher(client *Client, configs ConfigSource, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{client: client, configs: configs, logger: logger}
}

// PushCallActivity links rec to every matching lead and contact and returns
// the number of activities created. Leads and contacts are searched
// independently; a failure in one does not stop the other.
func (p *Pusher) PushCallActivity(ctx context.Context, tenantToken string, rec calls.CallRecord) (int, error) {
	cfg, err := p.configs.GetCRMConfig(ctx, tenantToken)
	if err != nil {
		if errors.Is(err, crmapi.ErrNotFound) {
			return 0, ErrNotConfigured
		}
		return 0, fmt.Errorf("zoho: load crm config: %w", err)
	}
	tc := TenantConfig{
		RefreshToken:  cfg.ZohoRefreshToken,
		AccountServer: cfg.ZohoAccountServer,
		APIDomain:     cfg.ZohoAPIDomain,
	}
	token, err := p.client.AccessToken(ctx, tenantToken, tc)
	if err != nil {
		return 0, err
	}

	variants := utils.PhoneVariants(rec.Counterpart())
	log := p.logger.With("call_sid", rec.CallSid)

	var errs []error
	created := 0
	for _, module := range []string{ModuleLeads, ModuleContacts} {
		ids, err := p.find(ctx, tc, token, module, variants)
		if err != nil {
			errs = append(errs, fmt.Errorf("search %s: %w", module, err))
			continue
		}
		for _, id := range ids {
			if err := p.client.CreateActivity(ctx, tc, token, BuildCallActivity(rec, module, id)); err != nil {
				errs = append(errs, fmt.Errorf("create call for %s %s: %w", module, id, err))
				continue
			}
			created++
		}
		log.Debug("zoho module processed", "module", module, "matches", len(ids))
	}
	return created, errors.Join(errs...)
}

// find tries each phone variant in turn and stops at the first that matches.
func (p *Pusher) find(ctx context.Context, tc TenantConfig, token, module string, variants []string) ([]string, error) {
	var lastErr error
	for _, v := range variants {
		ids, err := p.client.Search(ctx, tc, token, module, v)
		if err != nil {
			lastErr = err
			continue
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return nil, lastErr
}
