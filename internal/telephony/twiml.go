package telephony

import (
	"errors"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"crm-dialer/internal/routing"
)

const (
	recordFromAnswer = "record-from-answer-dual"
	callbackEvents   = "completed"
)

// RenderTwiML maps a routing decision to a TwiML voice response.
func RenderTwiML(d routing.Decision) (string, error) {
	var verbs []twiml.Element

	if s := strings.TrimSpace(d.Say); s != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: s})
	}
	if d.Dial != nil {
		dial, err := renderDial(*d.Dial)
		if err != nil {
			return "", err
		}
		verbs = append(verbs, dial)
	}
	if len(verbs) == 0 {
		return "", errors.New("telephony: decision has nothing to render")
	}
	return twiml.Voice(verbs)
}

func renderDial(d routing.Dial) (*twiml.VoiceDial, error) {
	target := strings.TrimSpace(d.Target)
	if target == "" {
		return nil, errors.New("telephony: dial target required")
	}
	dial := &twiml.VoiceDial{CallerId: d.CallerID}
	if d.Record {
		dial.Record = recordFromAnswer
	}

	var cbEvent, cbMethod string
	if d.StatusCallback != "" {
		cbEvent, cbMethod = callbackEvents, http.MethodPost
	}
	switch d.Kind {
	case routing.TargetNumber:
		dial.InnerElements = []twiml.Element{&twiml.VoiceNumber{
			PhoneNumber:          target,
			StatusCallback:       d.StatusCallback,
			StatusCallbackEvent:  cbEvent,
			StatusCallbackMethod: cbMethod,
		}}
	case routing.TargetClient:
		dial.InnerElements = []twiml.Element{&twiml.VoiceClient{
			Identity:             target,
			StatusCallback:       d.StatusCallback,
			StatusCallbackEvent:  cbEvent,
			StatusCallbackMethod: cbMethod,
		}}
	default:
		return nil, errors.New("telephony: unknown dial target kind")
	}
	return dial, nil
}
