package provisioning

import (
	"context"
	"errors"
	"sync"

	"crm-dialer/internal/crmapi"
	"crm-dialer/internal/pricing"
	"crm-dialer/internal/telephony"
)

// fakeTwilio records calls across every account the factory hands out.
type fakeTwilio struct {
	mu sync.Mutex

	validateErr error
	buyErr      error
	bought      telephony.IncomingNumber
	incoming    []telephony.IncomingNumber
	calls       []telephony.Call
	available   map[telephony.NumberType][]telephony.AvailableNumber

	created  []string
	closed   []string
	updates  []telephony.NumberUpdate
	accounts []string
	filters  []telephony.AvailableFilter
}

func (f *fakeTwilio) factory() ClientFactory {
	return func(c pricing.Credentials) TwilioAPI {
		f.mu.Lock()
		f.accounts = append(f.accounts, c.AccountSid)
		f.mu.Unlock()
		return &fakeAccount{f: f, sid: c.AccountSid}
	}
}

type fakeAccount struct {
	f   *fakeTwilio
	sid string
}

func (a *fakeAccount) AccountSid() string { return a.sid }

func (a *fakeAccount) CreateSubaccount(ctx context.Context, name string) (telephony.Account, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	a.f.created = append(a.f.created, name)
	return telephony.Account{Sid: "AC-sub", AuthToken: "sub-token", FriendlyName: name, Status: "active"}, nil
}

func (a *fakeAccount) CloseAccount(ctx context.Context, sid string) error {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	a.f.closed = append(a.f.closed, sid)
	return nil
}

func (a *fakeAccount) RequestCallerIDValidation(ctx context.Context, phone, name string) error {
	return a.f.validateErr
}

func (a *fakeAccount) EnsureApplication(ctx context.Context, name, voiceURL string) (string, error) {
	return "AP1", nil
}

func (a *fakeAccount) EnsureMessagingService(ctx context.Context, name, inboundURL string) (string, error) {
	return "MG1", nil
}

func (a *fakeAccount) BuyNumber(ctx context.Context, phone string) (telephony.IncomingNumber, error) {
	if a.f.buyErr != nil {
		return telephony.IncomingNumber{}, a.f.buyErr
	}
	return a.f.bought, nil
}

func (a *fakeAccount) UpdateIncomingNumber(ctx context.Context, sid string, u telephony.NumberUpdate) error {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	a.f.updates = append(a.f.updates, u)
	return nil
}

func (a *fakeAccount) ListIncomingNumbers(ctx context.Context) ([]telephony.IncomingNumber, error) {
	return a.f.incoming, nil
}

func (a *fakeAccount) SearchAvailable(ctx context.Context, country string, kind telephony.NumberType, f telephony.AvailableFilter) ([]telephony.AvailableNumber, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	a.f.filters = append(a.f.filters, f)
	if country == "XX" {
		return nil, errors.New("unknown country")
	}
	return a.f.available[kind], nil
}

func (a *fakeAccount) LookupCountry(ctx context.Context, phone string) (string, error) {
	return "US", nil
}

func (a *fakeAccount) CreateAPIKey(ctx context.Context, name string) (telephony.APIKey, error) {
	return telephony.APIKey{Sid: "SK1", Secret: "secret"}, nil
}

func (a *fakeAccount) ListCalls(ctx context.Context, f telephony.CallFilter) ([]telephony.Call, error) {
	return a.f.calls, nil
}

func (a *fakeAccount) LatestRecordingURL(ctx context.Context, callSid string) (string, error) {
	return "https://rec/" + callSid, nil
}

type fakeProviders struct {
	sms   []crmapi.SMSProvider
	voice []crmapi.VoiceProvider
	err   error
}

func (p *fakeProviders) AddTwilioSMSProvider(ctx context.Context, token string, sp crmapi.SMSProvider) error {
	p.sms = append(p.sms, sp)
	return p.err
}

func (p *fakeProviders) AddTwilioVoiceProvider(ctx context.Context, token string, vp crmapi.VoiceProvider) error {
	p.voice = append(p.voice, vp)
	return p.err
}

func callsFixture() []telephony.Call {
	return []telephony.Call{
		{Sid: "CA1", From: "+15551230000", To: "+15550001111", Direction: "inbound", Status: "completed", Duration: "30"},
		{Sid: "CA2", From: "client:agent", To: "+15550001111", Direction: "inbound", Status: "completed", Duration: "30"},
	}
}
