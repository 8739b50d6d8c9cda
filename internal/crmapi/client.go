// Package crmapi talks to the tenant CRM API: provider directory lookups,
// token-by-number resolution, billing pushes, messaging dispatch and CRM
// integration config.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"crm-dialer/pkg/httpclient"
)

var crmTracer = otel.Tracer("crm-dialer.internal.crmapi")

var ErrNotFound = errors.New("crmapi: not found")

type Config struct {
	BaseURL string
	HTTP    *httpclient.Client
	Logger  *slog.Logger
}

type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("crmapi: base url is required")
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = httpclient.New(httpclient.Config{Service: "crmapi", MaxRetries: 2})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: base, http: hc, logger: logger}, nil
}

// ProviderDetails is the voice provider identity registered for a tenant number.
type ProviderDetails struct {
	ProviderName    string `json:"provider_name"`
	AccountSid      string `json:"account_sid"`
	AccountToken    string `json:"account_token"`
	TwimlAppSid     string `json:"twiml_app_sid"`
	TwilioAPIKey    string `json:"twilio_api_key"`
	TwilioAPISecret string `json:"twilio_api_secret"`
	ProviderNumber  string `json:"provider_number"`
}

func (p ProviderDetails) present() bool { return p.AccountSid != "" }

// GetProviderDetails resolves tenantToken + providerNumber to credentials.
func (c *Client) GetProviderDetails(ctx context.Context, tenantToken, providerNumber string) (ProviderDetails, error) {
	ctx, span := crmTracer.Start(ctx, "crmapi.fetch_provider_details")
	defer span.End()

	body, ctype, err := multipartBody(map[string]string{"provider_number": providerNumber})
	if err != nil {
		return ProviderDetails{}, err
	}
	data, err := c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.baseURL + "/api/fetchProviderDetails",
		Body:        body,
		ContentType: ctype,
		Header:      bearer(tenantToken),
		Operation:   "fetch_provider_details",
	})
	if err != nil {
		span.RecordError(err)
		return ProviderDetails{}, err
	}
	var out ProviderDetails
	if err := decodeMaybeWrapped(data, &out); err != nil {
		return ProviderDetails{}, err
	}
	if !out.present() {
		return ProviderDetails{}, ErrNotFound
	}
	return out, nil
}

// GetTokenFromNumber returns the CRM token of the tenant owning number.
func (c *Client) GetTokenFromNumber(ctx context.Context, number string) (string, error) {
	ctx, span := crmTracer.Start(ctx, "crmapi.fetch_token")
	defer span.End()
	span.SetAttributes(attribute.String("provider_number", number))

	data, err := c.http.Do(ctx, httpclient.Request{
		URL:       c.baseURL + "/api/fetch-token",
		Query:     url.Values{"provider_number": {number}},
		Operation: "fetch_token",
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	var out struct {
		Token *string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("crmapi: decode token: %w", err)
	}
	if out.Token == nil || *out.Token == "" {
		return "", ErrNotFound
	}
	return *out.Token, nil
}

// CallRecordRequest is the billing push payload.
type CallRecordRequest struct {
	To            string
	From          string
	RecordingURL  string
	CallDuration  int
	CallDirection string
	Price         float64
	Currency      string
	CallSid       string
}

// AddCallRecord pushes a finalized call to the tenant's billing endpoint.
func (c *Client) AddCallRecord(ctx context.Context, tenantToken string, r CallRecordRequest) error {
	ctx, span := crmTracer.Start(ctx, "crmapi.add_call_record")
	defer span.End()
	span.SetAttributes(attribute.String("call_sid", r.CallSid))

	body, ctype, err := multipartBody(map[string]string{
		"to":             r.To,
		"from":           r.From,
		"url":            r.RecordingURL,
		"call_duration":  strconv.Itoa(r.CallDuration),
		"call_direction": r.CallDirection,
		"price":          strconv.FormatFloat(r.Price, 'f', -1, 64),
		"currency":       r.Currency,
		"callSid":        r.CallSid,
	})
	if err != nil {
		return err
	}
	_, err = c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.baseURL + "/api/addCallRecord",
		Body:        body,
		ContentType: ctype,
		Header:      bearer(tenantToken),
		Operation:   "add_call_record",
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// MessageRequest dispatches an SMS or WhatsApp message through the CRM.
type MessageRequest struct {
	ToNumber     string
	FromNumber   string
	Message      string
	TemplateName string
	ActionType   string
}

func (c *Client) SendMessage(ctx context.Context, tenantToken string, m MessageRequest) error {
	ctx, span := crmTracer.Start(ctx, "crmapi.send_message")
	defer span.End()

	body, ctype, err := multipartBody(map[string]string{
		"toNumber":     m.ToNumber,
		"fromNumber":   m.FromNumber,
		"message":      m.Message,
		"templateName": m.TemplateName,
		"actionType":   m.ActionType,
	})
	if err != nil {
		return err
	}
	_, err = c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.baseURL + "/Api/sendMessage",
		Body:        body,
		ContentType: ctype,
		Header:      bearer(tenantToken),
		Operation:   "send_message",
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// CRMConfig holds the Zoho integration settings of a tenant.
type CRMConfig struct {
	ZohoRefreshToken  string `json:"zohoRefreshToken"`
	ZohoAccountServer string `json:"zohoAccountServer"`
	ZohoAPIDomain     string `json:"zohoApiDomain"`
}

func (c *Client) GetCRMConfig(ctx context.Context, tenantToken string) (CRMConfig, error) {
	ctx, span := crmTracer.Start(ctx, "crmapi.get_crm_config")
	defer span.End()

	data, err := c.http.Do(ctx, httpclient.Request{
		URL:       c.baseURL + "/Api/getCRMConfig",
		Header:    bearer(tenantToken),
		Operation: "get_crm_config",
	})
	if err != nil {
		if httpclient.IsNotFound(err) {
			return CRMConfig{}, ErrNotFound
		}
		span.RecordError(err)
		return CRMConfig{}, err
	}
	var out CRMConfig
	if err := decodeMaybeWrapped(data, &out); err != nil {
		return CRMConfig{}, err
	}
	if out.ZohoRefreshToken == "" {
		return CRMConfig{}, ErrNotFound
	}
	return out, nil
}

// GetVoiceMessage returns the tenant's configured unavailability message.
func (c *Client) GetVoiceMessage(ctx context.Context, tenantToken string) (string, error) {
	data, err := c.http.Do(ctx, httpclient.Request{
		URL:       c.baseURL + "/Api/getVoiceMessage",
		Header:    bearer(tenantToken),
		Operation: "get_voice_message",
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Message *string `json:"message"`
	}
	if err := decodeMaybeWrapped(data, &out); err != nil {
		return "", err
	}
	if out.Message == nil || *out.Message == "" {
		return "", ErrNotFound
	}
	return *out.Message, nil
}

// SMSProvider registers a purchased number as a tenant SMS provider.
type SMSProvider struct {
	PhoneNumber  string
	Country      string
	MsgServiceID string
	AccountSid   string
	AccountToken string
}

func (c *Client) AddTwilioSMSProvider(ctx context.Context, tenantToken string, p SMSProvider) error {
	body, ctype, err := multipartBody(map[string]string{
		"token":         tenantToken,
		"phoneNumber":   p.PhoneNumber,
		"country":       p.Country,
		"msgServiceId":  p.MsgServiceID,
		"account_sid":   p.AccountSid,
		"account_token": p.AccountToken,
	})
	if err != nil {
		return err
	}
	_, err = c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.baseURL + "/Api/addTwilioSmsProvider",
		Body:        body,
		ContentType: ctype,
		Header:      bearer(tenantToken),
		Operation:   "add_sms_provider",
	})
	return err
}

// VoiceProvider registers a purchased number as a tenant voice provider.
type VoiceProvider struct {
	PhoneNumber  string
	Country      string
	TwimlAppSid  string
	AccountSid   string
	AccountToken string
	APIKey       string
	APISecret    string
}

func (c *Client) AddTwilioVoiceProvider(ctx context.Context, tenantToken string, p VoiceProvider) error {
	body, ctype, err := multipartBody(map[string]string{
		"token":             tenantToken,
		"phoneNumber":       p.PhoneNumber,
		"country":           p.Country,
		"twiml_app_sid":     p.TwimlAppSid,
		"account_sid":       p.AccountSid,
		"account_token":     p.AccountToken,
		"twilio_api_key":    p.APIKey,
		"twilio_api_secret": p.APISecret,
	})
	if err != nil {
		return err
	}
	_, err = c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.baseURL + "/Api/addTwilioVoiceProvider",
		Body:        body,
		ContentType: ctype,
		Header:      bearer(tenantToken),
		Operation:   "add_voice_provider",
	})
	return err
}

func bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func multipartBody(fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("crmapi: write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("crmapi: close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// decodeMaybeWrapped accepts either a bare object or one wrapped in "data".
func decodeMaybeWrapped(data []byte, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrNotFound
	}
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err == nil && len(wrapper.Data) > 0 && wrapper.Data[0] == '{' {
		trimmed = wrapper.Data
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("crmapi: decode response: %w", err)
	}
	return nil
}
