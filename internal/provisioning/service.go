package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm-dialer/internal/crmapi"
	"crm-dialer/internal/pricing"
	"crm-dialer/internal/reporting"
	"crm-dialer/internal/telephony"
	"crm-dialer/pkg/utils"
)

// TwilioAPI is the slice of the Twilio REST API provisioning drives. One
// value is bound to one account's credentials.
type TwilioAPI interface {
	AccountSid() string
	CreateSubaccount(ctx context.Context, friendlyName string) (telephony.Account, error)
	CloseAccount(ctx context.Context, accountSid string) error
	RequestCallerIDValidation(ctx context.Context, phone, friendlyName string) error
	EnsureApplication(ctx context.Context, friendlyName, voiceURL string) (string, error)
	EnsureMessagingService(ctx context.Context, friendlyName, inboundURL string) (string, error)
	BuyNumber(ctx context.Context, phone string) (telephony.IncomingNumber, error)
	UpdateIncomingNumber(ctx context.Context, sid string, u telephony.NumberUpdate) error
	ListIncomingNumbers(ctx context.Context) ([]telephony.IncomingNumber, error)
	SearchAvailable(ctx context.Context, country string, kind telephony.NumberType, f telephony.AvailableFilter) ([]telephony.AvailableNumber, error)
	LookupCountry(ctx context.Context, phone string) (string, error)
	CreateAPIKey(ctx context.Context, friendlyName string) (telephony.APIKey, error)
	ListCalls(ctx context.Context, f telephony.CallFilter) ([]telephony.Call, error)
	LatestRecordingURL(ctx context.Context, callSid string) (string, error)
}

type ClientFactory func(pricing.Credentials) TwilioAPI

// ProviderRegistry registers purchased numbers as CRM sending providers.
type ProviderRegistry interface {
	AddTwilioSMSProvider(ctx context.Context, tenantToken string, p crmapi.SMSProvider) error
	AddTwilioVoiceProvider(ctx context.Context, tenantToken string, p crmapi.VoiceProvider) error
}

type Config struct {
	Master              pricing.Credentials
	VoiceAppURL         string
	MessagingInboundURL string
	AppName             string
	MessagingName       string
	APIKeyName          string
	SearchLimit         int
}

func (c Config) withDefaults() Config {
	if c.AppName == "" {
		c.AppName = "CRM Messaging Voice App"
	}
	if c.MessagingName == "" {
		c.MessagingName = "CRM Messaging Service"
	}
	if c.APIKeyName == "" {
		c.APIKeyName = "CRM Messaging API Key"
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 100
	}
	return c
}

type Service struct {
	cfg       Config
	repo      Repository
	clients   ClientFactory
	providers ProviderRegistry
	reports   *reporting.Service
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(cfg Config, repo Repository, clients ClientFactory, providers ProviderRegistry, reports *reporting.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reports == nil {
		reports = reporting.NewService()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		clients:   clients,
		providers: providers,
		reports:   reports,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *Service) master() TwilioAPI { return s.clients(s.cfg.Master) }

func (s *Service) clientFor(sub Subaccount) TwilioAPI {
	return s.clients(pricing.Credentials{AccountSid: sub.AccountSid, AuthToken: sub.AuthToken})
}

type NumberTypes struct {
	Local    bool `json:"local"`
	Mobile   bool `json:"mobile"`
	TollFree bool `json:"tollFree"`
}

type SearchInput struct {
	Country      string `json:"country"`
	Digits       string `json:"digits"`
	Capabilities *struct {
		Voice bool `json:"voice"`
		SMS   bool `json:"sms"`
	} `json:"capabilities"`
	NumberTypes NumberTypes `json:"numberTypes"`
}

// SearchNumbers lists purchasable numbers on the master account, local first,
// then mobile, then toll-free.
func (s *Service) SearchNumbers(ctx context.Context, in SearchInput) ([]telephony.AvailableNumber, error) {
	if strings.TrimSpace(in.Country) == "" {
		return nil, fmt.Errorf("%w: Country is required", ErrInvalidArgument)
	}
	f := telephony.AvailableFilter{Contains: in.Digits, Limit: s.cfg.SearchLimit}
	if in.Capabilities != nil {
		voice, sms := in.Capabilities.Voice, in.Capabilities.SMS
		f.VoiceEnabled, f.SMSEnabled = &voice, &sms
	}

	kinds := make([]telephony.NumberType, 0, 3)
	if in.NumberTypes.Local {
		kinds = append(kinds, telephony.NumberLocal)
	}
	if in.NumberTypes.Mobile {
		kinds = append(kinds, telephony.NumberMobile)
	}
	if in.NumberTypes.TollFree {
		kinds = append(kinds, telephony.NumberTollFree)
	}

	client := s.master()
	out := []telephony.AvailableNumber{}
	for _, k := range kinds {
		nums, err := client.SearchAvailable(ctx, in.Country, k, f)
		if err != nil {
			return nil, fmt.Errorf("search %s numbers: %w", k, err)
		}
		out = append(out, nums...)
	}
	return out, nil
}

type PurchaseInput struct {
	Email         string          `json:"email"`
	PhoneNumber   string          `json:"phoneNumber"`
	PaymentStatus string          `json:"paymentStatus"`
	PricePaid     decimal.Decimal `json:"pricePaid"`
}

type PurchaseResult struct {
	PaymentStatus string       `json:"paymentStatus"`
	Status        NumberStatus `json:"status"`
}

// PurchaseNumber finds or creates the tenant's subaccount for in.Email, then
// validates and buys the number into it and registers it with the CRM.
// A newly created subaccount is stored even when validation or the purchase
// fails; a failed purchase also stores the number with status failed.
func (s *Service) PurchaseNumber(ctx context.Context, crmToken string, in PurchaseInput) (PurchaseResult, error) {
	email, ok := normalizeEmail(in.Email)
	phone := strings.TrimSpace(in.PhoneNumber)
	if crmToken == "" || !ok || phone == "" {
		return PurchaseResult{}, fmt.Errorf("%w: email and phoneNumber are required", ErrInvalidArgument)
	}
	now := s.now().UTC()
	master := s.master()

	sub, err := s.repo.SubaccountByEmail(ctx, email)
	isNew := errors.Is(err, ErrNotFound)
	switch {
	case isNew:
		acct, err := master.CreateSubaccount(ctx, email)
		if err != nil {
			return PurchaseResult{}, fmt.Errorf("create subaccount: %w", err)
		}
		sub = Subaccount{
			ID:         s.newID(),
			Email:      email,
			CRMToken:   crmToken,
			AccountSid: acct.Sid,
			AuthToken:  acct.AuthToken,
			Credits:    decimal.Zero,
			Status:     SubaccountActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.logger.Info("subaccount created", "account_sid", sub.AccountSid)
	case err != nil:
		return PurchaseResult{}, err
	}

	if err := master.RequestCallerIDValidation(ctx, phone, email); err != nil {
		s.logger.Warn("caller id validation failed", "error", err)
		if isNew {
			if serr := s.repo.SaveProvisioning(ctx, sub, true, nil); serr != nil {
				return PurchaseResult{}, serr
			}
		}
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	num := PhoneNumber{
		ID:            s.newID(),
		CRMToken:      crmToken,
		PhoneNumber:   phone,
		Status:        NumberPending,
		PaymentStatus: in.PaymentStatus,
		PricePaid:     in.PricePaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.buy(ctx, master, sub, crmToken, &num); err != nil {
		s.logger.Error("number purchase failed", "phone", phone, "account_sid", sub.AccountSid, "error", err)
		num.Status = NumberFailed
		if serr := s.repo.SaveProvisioning(ctx, sub, isNew, &num); serr != nil {
			return PurchaseResult{}, serr
		}
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrPurchaseFailed, err)
	}

	num.Status = NumberPurchased
	if err := s.repo.SaveProvisioning(ctx, sub, isNew, &num); err != nil {
		return PurchaseResult{}, err
	}
	s.logger.Info("number purchased", "phone", num.PhoneNumber, "phone_sid", num.PhoneSid, "account_sid", sub.AccountSid)
	return PurchaseResult{PaymentStatus: in.PaymentStatus, Status: NumberPurchased}, nil
}

// buy runs the subaccount side of a purchase and fills num from the result.
func (s *Service) buy(ctx context.Context, master TwilioAPI, sub Subaccount, crmToken string, num *PhoneNumber) error {
	client := s.clientFor(sub)

	appSid, err := client.EnsureApplication(ctx, s.cfg.AppName, s.cfg.VoiceAppURL)
	if err != nil {
		return fmt.Errorf("twiml app: %w", err)
	}
	msgSid, err := client.EnsureMessagingService(ctx, s.cfg.MessagingName, s.cfg.MessagingInboundURL)
	if err != nil {
		return fmt.Errorf("messaging service: %w", err)
	}

	bought, err := client.BuyNumber(ctx, num.PhoneNumber)
	if err != nil {
		return fmt.Errorf("buy: %w", err)
	}
	num.PhoneSid = bought.Sid
	num.FriendlyName = bought.FriendlyName
	num.Capabilities = bought.Capabilities
	num.MessagingServiceSid = msgSid

	if err := client.UpdateIncomingNumber(ctx, bought.Sid, telephony.NumberUpdate{MessagingServiceSid: msgSid}); err != nil {
		return fmt.Errorf("map messaging service: %w", err)
	}
	if err := client.UpdateIncomingNumber(ctx, bought.Sid, telephony.NumberUpdate{VoiceApplicationSid: appSid}); err != nil {
		return fmt.Errorf("map twiml app: %w", err)
	}

	country, err := master.LookupCountry(ctx, bought.PhoneNumber)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	key, err := client.CreateAPIKey(ctx, s.cfg.APIKeyName)
	if err != nil {
		return fmt.Errorf("api key: %w", err)
	}

	providerNumber := utils.SanitizePhoneNumber(bought.PhoneNumber)
	if bought.Capabilities.SMS {
		err := s.providers.AddTwilioSMSProvider(ctx, crmToken, crmapi.SMSProvider{
			PhoneNumber:  providerNumber,
			Country:      country,
			MsgServiceID: msgSid,
			AccountSid:   sub.AccountSid,
			AccountToken: sub.AuthToken,
		})
		if err != nil {
			return fmt.Errorf("register sms provider: %w", err)
		}
	}
	if bought.Capabilities.Voice {
		err := s.providers.AddTwilioVoiceProvider(ctx, crmToken, crmapi.VoiceProvider{
			PhoneNumber:  providerNumber,
			Country:      country,
			TwimlAppSid:  appSid,
			AccountSid:   sub.AccountSid,
			AccountToken: sub.AuthToken,
			APIKey:       key.Sid,
			APISecret:    key.Secret,
		})
		if err != nil {
			return fmt.Errorf("register voice provider: %w", err)
		}
	}
	return nil
}

// PurchasedNumbers lists the numbers on the tenant's subaccount as Twilio
// reports them.
func (s *Service) PurchasedNumbers(ctx context.Context, crmToken string) ([]telephony.IncomingNumber, error) {
	sub, err := s.repo.SubaccountByToken(ctx, crmToken)
	if err != nil {
		return nil, err
	}
	nums, err := s.clientFor(sub).ListIncomingNumbers(ctx)
	if err != nil {
		return nil, err
	}
	if nums == nil {
		nums = []telephony.IncomingNumber{}
	}
	return nums, nil
}

func (s *Service) CallStatistics(ctx context.Context, crmToken, voiceNumber string) (reporting.CallStatistics, error) {
	sub, err := s.repo.SubaccountByToken(ctx, crmToken)
	if err != nil {
		return reporting.CallStatistics{}, err
	}
	return s.reports.CallStatistics(ctx, twilioCallSource{s.clientFor(sub)}, voiceNumber)
}

func (s *Service) CallLogs(ctx context.Context, crmToken string, q reporting.LogQuery) (reporting.LogPage, error) {
	sub, err := s.repo.SubaccountByToken(ctx, crmToken)
	if err != nil {
		return reporting.LogPage{}, err
	}
	return s.reports.CallLogs(ctx, twilioCallSource{s.clientFor(sub)}, q)
}

// AssignMember sets the member a number belongs to. An empty email keeps the
// current assignment.
func (s *Service) AssignMember(ctx context.Context, crmToken, phoneSid, email string) error {
	if crmToken == "" || phoneSid == "" {
		return fmt.Errorf("%w: phoneSid is required", ErrInvalidArgument)
	}
	if email != "" {
		e, ok := normalizeEmail(email)
		if !ok {
			return fmt.Errorf("%w: invalid memberEmail", ErrInvalidArgument)
		}
		email = e
	}
	return s.repo.AssignMember(ctx, crmToken, phoneSid, email, s.now().UTC())
}

// CloseSubaccount closes the tenant's subaccount at Twilio and marks it inactive.
func (s *Service) CloseSubaccount(ctx context.Context, crmToken string) error {
	sub, err := s.repo.SubaccountByToken(ctx, crmToken)
	if err != nil {
		return err
	}
	if err := s.master().CloseAccount(ctx, sub.AccountSid); err != nil {
		return fmt.Errorf("close subaccount: %w", err)
	}
	if err := s.repo.SetSubaccountStatus(ctx, sub.ID, SubaccountInactive, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("subaccount closed", "account_sid", sub.AccountSid)
	return nil
}

// SetPaymentStatus records the payment outcome of a checkout.
func (s *Service) SetPaymentStatus(ctx context.Context, crmToken, phoneNumber, status string) error {
	if crmToken == "" || phoneNumber == "" || status == "" {
		return fmt.Errorf("%w: token, phoneNumber and status are required", ErrInvalidArgument)
	}
	return s.repo.SetPaymentStatus(ctx, crmToken, phoneNumber, status, s.now().UTC())
}

// CredentialsFor returns the API credentials of accountSid: the master pair
// for the master account, otherwise the stored subaccount pair.
func (s *Service) CredentialsFor(ctx context.Context, accountSid string) (pricing.Credentials, error) {
	if accountSid == "" {
		return pricing.Credentials{}, fmt.Errorf("%w: accountSid is required", ErrInvalidArgument)
	}
	if accountSid == s.cfg.Master.AccountSid {
		return s.cfg.Master, nil
	}
	sub, err := s.repo.SubaccountByAccountSid(ctx, accountSid)
	if err != nil {
		return pricing.Credentials{}, err
	}
	return pricing.Credentials{AccountSid: sub.AccountSid, AuthToken: sub.AuthToken}, nil
}

// AuthTokenFor returns the auth token webhooks from accountSid are signed with.
func (s *Service) AuthTokenFor(ctx context.Context, accountSid string) (string, error) {
	c, err := s.CredentialsFor(ctx, accountSid)
	if err != nil {
		return "", err
	}
	return c.AuthToken, nil
}

// twilioCallSource adapts a Twilio client to reporting.CallSource.
type twilioCallSource struct {
	api TwilioAPI
}

func (t twilioCallSource) ListCalls(ctx context.Context, since time.Time, limit int) ([]reporting.Call, error) {
	raw, err := t.api.ListCalls(ctx, telephony.CallFilter{StartedAfter: since, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]reporting.Call, 0, len(raw))
	for _, c := range raw {
		out = append(out, reporting.Call{
			Sid:             c.Sid,
			From:            c.From,
			To:              c.To,
			Direction:       c.Direction,
			Status:          c.Status,
			StartTime:       c.StartTime,
			EndTime:         c.EndTime,
			DurationSeconds: c.DurationSeconds(),
		})
	}
	return out, nil
}

func (t twilioCallSource) RecordingURL(ctx context.Context, callSid string) (string, error) {
	return t.api.LatestRecordingURL(ctx, callSid)
}
