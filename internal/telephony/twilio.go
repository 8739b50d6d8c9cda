package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	lookups "github.com/twilio/twilio-go/rest/lookups/v2"
	messaging "github.com/twilio/twilio-go/rest/messaging/v1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crm-dialer/internal/pricing"
	"crm-dialer/pkg/httpclient"
)

var twilioTracer = otel.Tracer("crm-dialer.internal.telephony")

// twilioTimeLayout is the RFC 2822 layout used by the 2010-04-01 API.
const twilioTimeLayout = time.RFC1123Z

var ErrNoCredentials = errors.New("telephony: account sid and auth token are required")

// TwilioClient is a REST client bound to one account's credentials. It is
// cheap to build; callers create one per tenant operation.
type TwilioClient struct {
	creds pricing.Credentials
	rest  *twilio.RestClient
}

// NewTwilioClient builds an SDK client whose HTTP traffic runs through hc,
// so provider calls share its retry policy and metrics.
func NewTwilioClient(hc *httpclient.Client, creds pricing.Credentials) *TwilioClient {
	if hc == nil {
		hc = httpclient.New(httpclient.Config{Service: "twilio", MaxRetries: 2})
	}
	return &TwilioClient{creds: creds, rest: newRestClient(hc.HTTPClient(twilioOperation), creds)}
}

func newRestClient(hc *http.Client, creds pricing.Credentials) *twilio.RestClient {
	base := &client.Client{
		Credentials: client.NewCredentials(creds.AccountSid, creds.AuthToken),
		HTTPClient:  hc,
	}
	base.SetAccountSid(creds.AccountSid)
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   creds.AccountSid,
		Password:   creds.AuthToken,
		AccountSid: creds.AccountSid,
		Client:     base,
	})
}

// TwilioFetcherFactory builds price fetchers for the reconcile pipeline.
func TwilioFetcherFactory(hc *httpclient.Client) pricing.FetcherFactory {
	return func(c pricing.Credentials) pricing.PriceFetcher {
		return NewTwilioClient(hc, c)
	}
}

func (c *TwilioClient) AccountSid() string { return c.creds.AccountSid }

// ready guards every SDK call: the SDK takes no context.
func (c *TwilioClient) ready(ctx context.Context) error {
	if c.creds.AccountSid == "" || c.creds.AuthToken == "" {
		return ErrNoCredentials
	}
	return ctx.Err()
}

// twilioOperation labels a request by its method and resource, skipping
// sids, numbers and country codes in the path.
func twilioOperation(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		p := strings.TrimSuffix(parts[i], ".json")
		if p == "" || isPathID(p) {
			continue
		}
		return strings.ToLower(r.Method) + "_" + strings.ToLower(p)
	}
	return strings.ToLower(r.Method)
}

func isPathID(p string) bool {
	switch {
	case strings.HasPrefix(p, "+") || (p[0] >= '0' && p[0] <= '9'):
		return true
	case len(p) == 34 && strings.ToUpper(p[:2]) == p[:2]:
		return true
	case len(p) == 2 && strings.ToUpper(p) == p:
		return true
	}
	return false
}

// IsNotFound reports whether err is a 404 answer from Twilio.
func IsNotFound(err error) bool {
	var restErr *client.TwilioRestError
	return errors.As(err, &restErr) && restErr.Status == http.StatusNotFound
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Call is one entry of the Calls resource.
type Call struct {
	Sid           string  `json:"sid"`
	ParentCallSid string  `json:"parent_call_sid"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	Status        string  `json:"status"`
	Direction     string  `json:"direction"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	Duration      string  `json:"duration"`
	Price         *string `json:"price"`
	PriceUnit     string  `json:"price_unit"`
}

func callFrom(r twilioapi.ApiV2010Call) Call {
	return Call{
		Sid:           str(r.Sid),
		ParentCallSid: str(r.ParentCallSid),
		From:          str(r.From),
		To:            str(r.To),
		Status:        str(r.Status),
		Direction:     str(r.Direction),
		StartTime:     str(r.StartTime),
		EndTime:       str(r.EndTime),
		Duration:      str(r.Duration),
		Price:         r.Price,
		PriceUnit:     str(r.PriceUnit),
	}
}

// DurationSeconds parses the string duration Twilio reports.
func (c Call) DurationSeconds() int {
	n, _ := strconv.Atoi(c.Duration)
	return n
}

// Started parses StartTime; the zero time is returned when absent.
func (c Call) Started() time.Time {
	t, _ := time.Parse(twilioTimeLayout, c.StartTime)
	return t
}

// FetchCallPrice reads the billed price of one call leg. A nil price means
// Twilio has not priced the call yet.
func (c *TwilioClient) FetchCallPrice(ctx context.Context, callSid string) (string, string, error) {
	ctx, span := twilioTracer.Start(ctx, "twilio.fetch_call_price",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("call_sid", callSid)),
	)
	defer span.End()

	if err := c.ready(ctx); err != nil {
		return "", "", err
	}
	call, err := c.rest.Api.FetchCall(callSid, &twilioapi.FetchCallParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch call")
		return "", "", err
	}
	return str(call.Price), str(call.PriceUnit), nil
}

type CallFilter struct {
	// StartedAfter limits to calls started after the given time.
	StartedAfter time.Time
	// Limit caps the number of calls returned; 0 reads every page.
	Limit int
}

// ListCalls pages through the Calls resource, newest first.
func (c *TwilioClient) ListCalls(ctx context.Context, f CallFilter) ([]Call, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	params := &twilioapi.ListCallParams{}
	params.SetPageSize(100)
	if f.Limit > 0 {
		params.SetLimit(f.Limit)
		if f.Limit < 100 {
			params.SetPageSize(f.Limit)
		}
	}
	if !f.StartedAfter.IsZero() {
		params.SetStartTimeAfter(f.StartedAfter.UTC())
	}
	rows, err := c.rest.Api.ListCall(params)
	if err != nil {
		return nil, err
	}
	out := make([]Call, 0, len(rows))
	for _, r := range rows {
		out = append(out, callFrom(r))
	}
	return out, nil
}

// LatestRecordingURL returns the API URL of the newest recording of a call,
// or "" when the call was not recorded.
func (c *TwilioClient) LatestRecordingURL(ctx context.Context, callSid string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	params := &twilioapi.ListRecordingParams{}
	params.SetCallSid(callSid)
	params.SetPageSize(1)
	params.SetLimit(1)
	recs, err := c.rest.Api.ListRecording(params)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 || str(recs[0].Sid) == "" {
		return "", nil
	}
	return "https://api.twilio.com/2010-04-01/Accounts/" + c.creds.AccountSid + "/Recordings/" + str(recs[0].Sid), nil
}

type Account struct {
	Sid          string `json:"sid"`
	AuthToken    string `json:"auth_token"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// CreateSubaccount creates a subaccount under the client's (master) account.
func (c *TwilioClient) CreateSubaccount(ctx context.Context, friendlyName string) (Account, error) {
	if err := c.ready(ctx); err != nil {
		return Account{}, err
	}
	params := &twilioapi.CreateAccountParams{}
	params.SetFriendlyName(friendlyName)
	a, err := c.rest.Api.CreateAccount(params)
	if err != nil {
		return Account{}, err
	}
	return Account{Sid: str(a.Sid), AuthToken: str(a.AuthToken), FriendlyName: str(a.FriendlyName), Status: str(a.Status)}, nil
}

// CloseAccount permanently closes a subaccount.
func (c *TwilioClient) CloseAccount(ctx context.Context, accountSid string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	params := &twilioapi.UpdateAccountParams{}
	params.SetStatus("closed")
	_, err := c.rest.Api.UpdateAccount(accountSid, params)
	return err
}

// RequestCallerIDValidation starts caller id verification for phone.
func (c *TwilioClient) RequestCallerIDValidation(ctx context.Context, phone, friendlyName string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	params := &twilioapi.CreateValidationRequestParams{}
	params.SetPhoneNumber(phone)
	params.SetFriendlyName(friendlyName)
	_, err := c.rest.Api.CreateValidationRequest(params)
	return err
}

// EnsureApplication returns the first TwiML application of the account,
// creating one pointed at voiceURL when none exists.
func (c *TwilioClient) EnsureApplication(ctx context.Context, friendlyName, voiceURL string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	list := &twilioapi.ListApplicationParams{}
	list.SetPageSize(1)
	list.SetLimit(1)
	apps, err := c.rest.Api.ListApplication(list)
	if err != nil {
		return "", err
	}
	if len(apps) > 0 {
		return str(apps[0].Sid), nil
	}
	params := &twilioapi.CreateApplicationParams{}
	params.SetFriendlyName(friendlyName)
	params.SetVoiceUrl(voiceURL)
	params.SetVoiceMethod(http.MethodPost)
	app, err := c.rest.Api.CreateApplication(params)
	if err != nil {
		return "", err
	}
	return str(app.Sid), nil
}

// EnsureMessagingService returns the first messaging service of the account,
// creating one with inboundURL as its inbound webhook when none exists.
func (c *TwilioClient) EnsureMessagingService(ctx context.Context, friendlyName, inboundURL string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	list := &messaging.ListServiceParams{}
	list.SetPageSize(1)
	list.SetLimit(1)
	services, err := c.rest.MessagingV1.ListService(list)
	if err != nil {
		return "", err
	}
	if len(services) > 0 {
		return str(services[0].Sid), nil
	}
	params := &messaging.CreateServiceParams{}
	params.SetFriendlyName(friendlyName)
	params.SetInboundRequestUrl(inboundURL)
	params.SetInboundMethod(http.MethodPost)
	svc, err := c.rest.MessagingV1.CreateService(params)
	if err != nil {
		return "", err
	}
	return str(svc.Sid), nil
}

type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"sms"`
	MMS   bool `json:"mms"`
	Fax   bool `json:"fax"`
}

// UnmarshalJSON accepts both the lower and upper case capability keys
// Twilio uses across resources.
func (c *Capabilities) UnmarshalJSON(b []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		switch strings.ToLower(k) {
		case "voice":
			c.Voice = v
		case "sms":
			c.SMS = v
		case "mms":
			c.MMS = v
		case "fax":
			c.Fax = v
		}
	}
	return nil
}

// capabilitiesOf maps any SDK capabilities struct through its JSON form.
func capabilitiesOf(v any) Capabilities {
	var c Capabilities
	if b, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(b, &c)
	}
	return c
}

type IncomingNumber struct {
	Sid          string       `json:"sid"`
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	DateCreated  string       `json:"date_created"`
	DateUpdated  string       `json:"date_updated"`
	Capabilities Capabilities `json:"capabilities"`
	Status       string       `json:"status"`
}

func incomingFrom(n twilioapi.ApiV2010IncomingPhoneNumber) IncomingNumber {
	return IncomingNumber{
		Sid:          str(n.Sid),
		PhoneNumber:  str(n.PhoneNumber),
		FriendlyName: str(n.FriendlyName),
		DateCreated:  str(n.DateCreated),
		DateUpdated:  str(n.DateUpdated),
		Capabilities: capabilitiesOf(n.Capabilities),
		Status:       str(n.Status),
	}
}

// BuyNumber purchases phone on the client's account.
func (c *TwilioClient) BuyNumber(ctx context.Context, phone string) (IncomingNumber, error) {
	if err := c.ready(ctx); err != nil {
		return IncomingNumber{}, err
	}
	params := &twilioapi.CreateIncomingPhoneNumberParams{}
	params.SetPhoneNumber(phone)
	n, err := c.rest.Api.CreateIncomingPhoneNumber(params)
	if err != nil {
		return IncomingNumber{}, err
	}
	return incomingFrom(*n), nil
}

// NumberUpdate maps a purchased number onto a messaging service, a TwiML
// application, or both. Empty fields are left alone.
type NumberUpdate struct {
	MessagingServiceSid string
	VoiceApplicationSid string
}

func (c *TwilioClient) UpdateIncomingNumber(ctx context.Context, sid string, u NumberUpdate) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	if u.MessagingServiceSid != "" {
		params := &messaging.CreatePhoneNumberParams{}
		params.SetPhoneNumberSid(sid)
		if _, err := c.rest.MessagingV1.CreatePhoneNumber(u.MessagingServiceSid, params); err != nil {
			return err
		}
	}
	if u.VoiceApplicationSid != "" {
		params := &twilioapi.UpdateIncomingPhoneNumberParams{}
		params.SetVoiceApplicationSid(u.VoiceApplicationSid)
		if _, err := c.rest.Api.UpdateIncomingPhoneNumber(sid, params); err != nil {
			return err
		}
	}
	return nil
}

func (c *TwilioClient) ListIncomingNumbers(ctx context.Context) ([]IncomingNumber, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	params := &twilioapi.ListIncomingPhoneNumberParams{}
	params.SetPageSize(100)
	rows, err := c.rest.Api.ListIncomingPhoneNumber(params)
	if err != nil {
		return nil, err
	}
	out := make([]IncomingNumber, 0, len(rows))
	for _, r := range rows {
		out = append(out, incomingFrom(r))
	}
	return out, nil
}

type NumberType string

const (
	NumberLocal    NumberType = "Local"
	NumberMobile   NumberType = "Mobile"
	NumberTollFree NumberType = "TollFree"
)

type AvailableFilter struct {
	Contains     string
	VoiceEnabled *bool
	SMSEnabled   *bool
	Limit        int
}

type AvailableNumber struct {
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	Locality     string       `json:"locality"`
	Region       string       `json:"region"`
	ISOCountry   string       `json:"iso_country"`
	Capabilities Capabilities `json:"capabilities"`
	Type         NumberType   `json:"type"`
}

// SearchAvailable lists purchasable numbers of one type in a country.
func (c *TwilioClient) SearchAvailable(ctx context.Context, country string, kind NumberType, f AvailableFilter) ([]AvailableNumber, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	country = strings.ToUpper(country)

	// The three resources share one JSON shape; decode them through it.
	var rows any
	var err error
	switch kind {
	case NumberMobile:
		params := &twilioapi.ListAvailablePhoneNumberMobileParams{}
		if f.Contains != "" {
			params.SetContains(f.Contains)
		}
		if f.VoiceEnabled != nil {
			params.SetVoiceEnabled(*f.VoiceEnabled)
		}
		if f.SMSEnabled != nil {
			params.SetSmsEnabled(*f.SMSEnabled)
		}
		if f.Limit > 0 {
			params.SetPageSize(f.Limit)
			params.SetLimit(f.Limit)
		}
		rows, err = c.rest.Api.ListAvailablePhoneNumberMobile(country, params)
	case NumberTollFree:
		params := &twilioapi.ListAvailablePhoneNumberTollFreeParams{}
		if f.Contains != "" {
			params.SetContains(f.Contains)
		}
		if f.VoiceEnabled != nil {
			params.SetVoiceEnabled(*f.VoiceEnabled)
		}
		if f.SMSEnabled != nil {
			params.SetSmsEnabled(*f.SMSEnabled)
		}
		if f.Limit > 0 {
			params.SetPageSize(f.Limit)
			params.SetLimit(f.Limit)
		}
		rows, err = c.rest.Api.ListAvailablePhoneNumberTollFree(country, params)
	default:
		kind = NumberLocal
		params := &twilioapi.ListAvailablePhoneNumberLocalParams{}
		if f.Contains != "" {
			params.SetContains(f.Contains)
		}
		if f.VoiceEnabled != nil {
			params.SetVoiceEnabled(*f.VoiceEnabled)
		}
		if f.SMSEnabled != nil {
			params.SetSmsEnabled(*f.SMSEnabled)
		}
		if f.Limit > 0 {
			params.SetPageSize(f.Limit)
			params.SetLimit(f.Limit)
		}
		rows, err = c.rest.Api.ListAvailablePhoneNumberLocal(country, params)
	}
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var out []AvailableNumber
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Type = kind
	}
	return out, nil
}

// LookupCountry returns the ISO country code of phone.
func (c *TwilioClient) LookupCountry(ctx context.Context, phone string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	n, err := c.rest.LookupsV2.FetchPhoneNumber(phone, &lookups.FetchPhoneNumberParams{})
	if err != nil {
		return "", err
	}
	return str(n.CountryCode), nil
}

type APIKey struct {
	Sid    string `json:"sid"`
	Secret string `json:"secret"`
}

// CreateAPIKey mints a standard API key used to sign voice access tokens.
func (c *TwilioClient) CreateAPIKey(ctx context.Context, friendlyName string) (APIKey, error) {
	if err := c.ready(ctx); err != nil {
		return APIKey{}, err
	}
	params := &twilioapi.CreateNewKeyParams{}
	params.SetFriendlyName(friendlyName)
	k, err := c.rest.Api.CreateNewKey(params)
	if err != nil {
		return APIKey{}, err
	}
	return APIKey{Sid: str(k.Sid), Secret: str(k.Secret)}, nil
}
