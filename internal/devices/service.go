package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crm-dialer/internal/auth"
	"crm-dialer/pkg/utils"
)

// TokenIssuer signs voice access tokens.
type TokenIssuer interface {
	Issue(req auth.VoiceTokenRequest) (string, error)
}

// VoiceMessages returns a tenant's configured unavailability message.
type VoiceMessages interface {
	GetVoiceMessage(ctx context.Context, tenantToken string) (string, error)
}

type Service struct {
	repo     Repository
	issuer   TokenIssuer
	messages VoiceMessages
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, issuer TokenIssuer, messages VoiceMessages, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, issuer: issuer, messages: messages, logger: logger, now: time.Now}
}

// TokenRequest is the device registration body.
type TokenRequest struct {
	ProviderNumber  string `json:"provider_number" form:"provider_number"`
	AccountSid      string `json:"account_sid" form:"account_sid"`
	TwimlAppSid     string `json:"twiml_app_sid" form:"twiml_app_sid"`
	TwilioAPIKey    string `json:"twilio_api_key" form:"twilio_api_key"`
	TwilioAPISecret string `json:"twilio_api_secret" form:"twilio_api_secret"`
}

// IssueToken signs a token whose identity is the provider number and stores
// the device, replacing any previous token for that number.
func (s *Service) IssueToken(ctx context.Context, req TokenRequest) (DeviceIdentity, error) {
	identity := strings.TrimSpace(req.ProviderNumber)
	if identity == "" {
		return DeviceIdentity{}, fmt.Errorf("%w: provider_number is required", ErrInvalidArgument)
	}
	tok, err := s.issuer.Issue(auth.VoiceTokenRequest{
		AccountSid:  req.AccountSid,
		APIKey:      req.TwilioAPIKey,
		APISecret:   req.TwilioAPISecret,
		TwimlAppSid: req.TwimlAppSid,
		Identity:    identity,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidVoiceToken) {
			return DeviceIdentity{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return DeviceIdentity{}, err
	}

	d, err := s.repo.Upsert(ctx, DeviceIdentity{
		CallerID:    callerKey(identity),
		Identity:    identity,
		AccountSid:  req.AccountSid,
		TwimlAppSid: req.TwimlAppSid,
		APIKey:      req.TwilioAPIKey,
		APISecret:   req.TwilioAPISecret,
		Token:       tok,
		UpdatedAt:   s.now().UTC(),
	})
	if err != nil {
		return DeviceIdentity{}, err
	}
	s.logger.Info("voice token generated", "caller_id", d.CallerID)
	return d, nil
}

// SetPresence marks a device available or not. Going inactive without a
// message falls back to the tenant's CRM voice message when one exists.
func (s *Service) SetPresence(ctx context.Context, crmToken, callerID string, p Presence, message string) (DeviceIdentity, error) {
	if !p.Valid() {
		return DeviceIdentity{}, fmt.Errorf("%w: status must be active or inactive", ErrInvalidArgument)
	}
	key := callerKey(callerID)
	if key == "" {
		return DeviceIdentity{}, fmt.Errorf("%w: callerId is required", ErrInvalidArgument)
	}
	message = strings.TrimSpace(message)
	if p == PresenceInactive && message == "" && s.messages != nil && crmToken != "" {
		if m, err := s.messages.GetVoiceMessage(ctx, crmToken); err == nil {
			message = m
		} else {
			s.logger.Debug("no tenant voice message", "error", err)
		}
	}
	if err := s.repo.SetPresence(ctx, key, p, message, s.now().UTC()); err != nil {
		return DeviceIdentity{}, err
	}
	return s.repo.Get(ctx, key)
}

// Lookup returns the device answering for a provider number.
func (s *Service) Lookup(ctx context.Context, callerID string) (DeviceIdentity, bool, error) {
	d, err := s.repo.Get(ctx, callerKey(callerID))
	if errors.Is(err, ErrNotFound) {
		return DeviceIdentity{}, false, nil
	}
	if err != nil {
		return DeviceIdentity{}, false, err
	}
	return d, true, nil
}

func callerKey(n string) string {
	n = strings.TrimSpace(utils.ExtractNumberFromClient(n))
	if utils.IsPhoneNumber(n) {
		return utils.AddPlusInNumber(n)
	}
	return n
}
