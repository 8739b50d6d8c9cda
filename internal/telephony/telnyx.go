package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/pkg/httpclient"
	"crm-dialer/pkg/utils"
)

const DefaultTelnyxBaseURL = "https://api.telnyx.com/v2"

// TelnyxClient wraps the Telnyx v2 endpoints used for WebRTC logins and
// call history. The API key and connection id come from the tenant's
// provider details, so every call takes them explicitly.
type TelnyxClient struct {
	base string
	http *httpclient.Client
}

func NewTelnyxClient(baseURL string, hc *httpclient.Client) *TelnyxClient {
	if baseURL == "" {
		baseURL = DefaultTelnyxBaseURL
	}
	if hc == nil {
		hc = httpclient.New(httpclient.Config{Service: "telnyx", MaxRetries: 2})
	}
	return &TelnyxClient{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func telnyxAuth(apiKey string) http.Header {
	return http.Header{"Authorization": {"Bearer " + apiKey}}
}

// LoginToken creates a telephony credential on connectionID and returns a
// login token for it.
func (c *TelnyxClient) LoginToken(ctx context.Context, apiKey, connectionID string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("connection_id", connectionID); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	data, err := c.http.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         c.base + "/telephony_credentials",
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
		Header:      telnyxAuth(apiKey),
		Operation:   "create_credential",
	})
	if err != nil {
		return "", err
	}
	var cred struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &cred); err != nil {
		return "", fmt.Errorf("telnyx: decode credential: %w", err)
	}
	if cred.Data.ID == "" {
		return "", ErrTelnyxNotFound
	}

	tok, err := c.http.Do(ctx, httpclient.Request{
		Method:    http.MethodPost,
		URL:       c.base + "/telephony_credentials/" + url.PathEscape(cred.Data.ID) + "/token",
		Body:      []byte("{}"),
		Header:    telnyxAuth(apiKey),
		Operation: "create_login_token",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(tok)), nil
}

var ErrTelnyxNotFound = errors.New("telnyx: credential not created")

type telnyxRecording struct {
	ID                 string `json:"id"`
	From               string `json:"from"`
	To                 string `json:"to"`
	Status             string `json:"status"`
	RecordingStartedAt string `json:"recording_started_at"`
	RecordingEndedAt   string `json:"recording_ended_at"`
	DurationMillis     int64  `json:"duration_millis"`
	DownloadURLs       struct {
		WAV string `json:"wav"`
	} `json:"download_urls"`
}

type TelnyxLogQuery struct {
	ConnectionID string
	VoiceNumber  string
	// ToNumber narrows the result to calls with one counterpart.
	ToNumber string
	Page     int
	PageSize int
}

// CallLogs reads recordings on the connection and maps those involving the
// voice number to CallLog rows.
func (c *TelnyxClient) CallLogs(ctx context.Context, apiKey string, q TelnyxLogQuery) ([]calls.CallLog, error) {
	params := url.Values{
		"page[number]":          {strconv.Itoa(max(q.Page, 1))},
		"page[size]":            {strconv.Itoa(max(q.PageSize, 1))},
		"filter[connection_id]": {q.ConnectionID},
	}
	data, err := c.http.Do(ctx, httpclient.Request{
		URL:       c.base + "/recordings",
		Query:     params,
		Header:    telnyxAuth(apiKey),
		Operation: "list_recordings",
	})
	if err != nil {
		return nil, err
	}
	var page struct {
		Data []telnyxRecording `json:"data"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("telnyx: decode recordings: %w", err)
	}

	voice := utils.AddPlusInNumber(q.VoiceNumber)
	to := ""
	if q.ToNumber != "" {
		to = utils.AddPlusInNumber(q.ToNumber)
	}
	out := make([]calls.CallLog, 0, len(page.Data))
	for _, r := range page.Data {
		if !strings.HasPrefix(r.From, "+") || !strings.HasPrefix(r.To, "+") {
			continue
		}
		if r.From != voice && r.To != voice {
			continue
		}
		if to != "" && r.From != to && r.To != to {
			continue
		}
		dir := "incoming"
		if r.From == voice {
			dir = "outgoing"
		}
		out = append(out, calls.CallLog{
			Sid:          r.ID,
			From:         r.From,
			To:           r.To,
			Status:       r.Status,
			StartTime:    r.RecordingStartedAt,
			EndTime:      r.RecordingEndedAt,
			Duration:     int(time.Duration(r.DurationMillis) * time.Millisecond / time.Second),
			RecordingURL: r.DownloadURLs.WAV,
			Direction:    dir,
		})
	}
	return out, nil
}
