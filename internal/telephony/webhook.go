package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/routing"
)

// Voice webhooks arrive as application/x-www-form-urlencoded. The browser
// device adds Provider_Number to outbound requests.

var ErrMissingCallSid = errors.New("telephony: CallSid missing")

// ParseVoiceRequest reads the fields routing needs from a voice webhook.
func ParseVoiceRequest(r *http.Request) (routing.Input, error) {
	if err := r.ParseForm(); err != nil {
		return routing.Input{}, err
	}
	return routing.Input{
		CallSid:        r.PostFormValue("CallSid"),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		ProviderNumber: strings.TrimSpace(r.PostFormValue("Provider_Number")),
	}, nil
}

// ParseStatusCallback reads a call status callback. The campaign message id
// may come in the form body or in the callback URL query.
//
// Dialed child legs report Direction=outbound-dial even when the parent call
// is inbound, so the callback URL registered by routing carries direction and
// tenantNumber query parameters that win over the form. Without them, an
// outbound-dial leg ringing a client: identity is an inbound call answered
// in the browser.
func ParseStatusCallback(r *http.Request, receivedAt time.Time) (calls.StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return calls.StatusEvent{}, err
	}
	ev := calls.StatusEvent{
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		ParentCallSid: strings.TrimSpace(r.PostFormValue("ParentCallSid")),
		AccountSid:    strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:          strings.TrimSpace(r.PostFormValue("From")),
		To:            strings.TrimSpace(r.PostFormValue("To")),
		Direction:     calls.ParseDirection(r.PostFormValue("Direction")),
		Status:        calls.ParseStatus(r.PostFormValue("CallStatus")),
		RecordingURL:  strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		MessageID:     firstNonEmpty(r.Form.Get("messageId"), r.Form.Get("MessageId")),
		OwnerNumber:   strings.TrimSpace(r.URL.Query().Get(routing.TenantNumberParam)),
		ReceivedAt:    receivedAt,
	}
	switch hint := strings.TrimSpace(r.URL.Query().Get(routing.DirectionParam)); {
	case hint != "":
		ev.Direction = calls.ParseDirection(hint)
	case isDialLeg(r.PostFormValue("Direction")) && strings.HasPrefix(ev.To, "client:"):
		ev.Direction = calls.DirectionIncoming
	}
	dur := r.PostFormValue("CallDuration")
	if dur == "" {
		dur = r.PostFormValue("DialCallDuration")
	}
	if n, err := strconv.Atoi(strings.TrimSpace(dur)); err == nil && n > 0 {
		ev.DurationSeconds = n
	}
	if ev.CallSid == "" {
		return ev, ErrMissingCallSid
	}
	return ev, nil
}

// RecordingEvent is a recording status callback.
type RecordingEvent struct {
	CallSid         string
	RecordingSid    string
	RecordingURL    string
	RecordingStatus string
	DurationSeconds int
}

func ParseRecordingCallback(r *http.Request) (RecordingEvent, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingEvent{}, err
	}
	ev := RecordingEvent{
		CallSid:         r.PostFormValue("CallSid"),
		RecordingSid:    r.PostFormValue("RecordingSid"),
		RecordingURL:    r.PostFormValue("RecordingUrl"),
		RecordingStatus: r.PostFormValue("RecordingStatus"),
	}
	ev.DurationSeconds, _ = strconv.Atoi(r.PostFormValue("RecordingDuration"))
	return ev, nil
}

func isDialLeg(direction string) bool {
	return strings.EqualFold(strings.TrimSpace(direction), "outbound-dial")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
