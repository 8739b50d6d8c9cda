// Package routing decides what a voice call does when the provider asks for
// instructions: ring the tenant's browser device, forward, or play a message.
package routing

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"crm-dialer/internal/callconfig"
	"crm-dialer/internal/devices"
	"crm-dialer/pkg/utils"
)

// PlanSource resolves the plan tier of the tenant owning a number.
type PlanSource interface {
	PlanTierFor(ctx context.Context, number string) (callconfig.PlanTier, error)
}

// ForwardingSource returns the enabled forwarding rule for a number.
type ForwardingSource interface {
	ForwardingFor(ctx context.Context, number string) (callconfig.CallForwardingRule, bool, error)
}

// DeviceSource returns the device answering for a number.
type DeviceSource interface {
	Lookup(ctx context.Context, callerID string) (devices.DeviceIdentity, bool, error)
}

type Metrics interface {
	ObserveRouting(branch string)
}

type Messages struct {
	Greeting    string
	Hold        string
	Unavailable string
	FreePlan    string
}

// Input carries the voice webhook fields routing looks at. ProviderNumber is
// set by the browser device on outbound calls and absent on inbound ones.
type Input struct {
	CallSid        string
	From           string
	To             string
	ProviderNumber string
}

func (in Input) outbound() bool { return in.To != "" && in.ProviderNumber != "" }

// Engine evaluates, in order for inbound calls:
//  1. free plan: play the free plan message
//  2. enabled forwarding rule: hold message, then dial the forward-to number
//  3. device inactive or unknown: play the device or default message
//  4. otherwise dial the device identity
//
// Outbound calls dial the destination with the provider number as caller id.
// Lookups never fail a decision; an error skips the rule or, for the device
// lookup, plays the unavailable message.
type Engine struct {
	Plans      PlanSource
	Forwarding ForwardingSource
	Devices    DeviceSource
	Metrics    Metrics
	Messages   Messages

	// StatusCallbackURL receives the status events of dialed legs.
	StatusCallbackURL string

	Logger *slog.Logger
}

func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	in.To = strings.TrimSpace(in.To)
	in.ProviderNumber = strings.TrimSpace(in.ProviderNumber)

	var d Decision
	switch {
	case in.ProviderNumber == "" && in.To != "":
		d = e.inbound(ctx, in)
	case in.outbound():
		d = e.outbound(in)
	default:
		d = Decision{Branch: BranchGreeting, Say: e.Messages.Greeting}
	}
	if e.Metrics != nil {
		e.Metrics.ObserveRouting(string(d.Branch))
	}
	e.logger().Debug("voice routed", "call_sid", in.CallSid, "to", in.To, "branch", string(d.Branch))
	return d
}

func (e *Engine) inbound(ctx context.Context, in Input) Decision {
	log := e.logger().With("call_sid", in.CallSid, "to", in.To)

	if e.Plans != nil {
		tier, err := e.Plans.PlanTierFor(ctx, in.To)
		switch {
		case err != nil:
			log.Warn("plan lookup failed", "error", err)
		case tier == callconfig.PlanFree:
			return Decision{Branch: BranchFreePlan, Say: e.Messages.FreePlan}
		}
	}

	if e.Forwarding != nil {
		rule, ok, err := e.Forwarding.ForwardingFor(ctx, in.To)
		switch {
		case err != nil:
			log.Warn("forwarding lookup failed", "error", err)
		case ok:
			return Decision{
				Branch: BranchForward,
				Say:    e.Messages.Hold,
				Dial:   e.dial("", rule.ToPhoneNumber, TargetNumber, "incoming", in.To),
			}
		}
	}

	if e.Devices == nil {
		return e.unavailable("")
	}
	dev, ok, err := e.Devices.Lookup(ctx, in.To)
	if err != nil {
		log.Warn("device lookup failed", "error", err)
		return e.unavailable("")
	}
	if !ok || dev.Identity == "" {
		return e.unavailable("")
	}
	if !dev.Available() {
		return e.unavailable(dev.UnavailableMessage)
	}
	return Decision{Branch: BranchClient, Dial: e.dial("", dev.Identity, TargetClient, "incoming", in.To)}
}

func (e *Engine) outbound(in Input) Decision {
	if utils.IsPhoneNumber(in.To) {
		return Decision{Branch: BranchOutboundNumber, Dial: e.dial(in.ProviderNumber, in.To, TargetNumber, "outgoing", in.ProviderNumber)}
	}
	return Decision{Branch: BranchOutboundClient, Dial: e.dial(in.ProviderNumber, in.To, TargetClient, "outgoing", in.ProviderNumber)}
}

func (e *Engine) unavailable(msg string) Decision {
	if strings.TrimSpace(msg) == "" {
		msg = e.Messages.Unavailable
	}
	return Decision{Branch: BranchUnavailable, Say: msg}
}

func (e *Engine) dial(callerID, target string, kind TargetKind, direction, tenantNumber string) *Dial {
	return &Dial{
		CallerID:       callerID,
		Target:         target,
		Kind:           kind,
		Record:         true,
		StatusCallback: e.callbackURL(direction, tenantNumber),
	}
}

// Query parameters added to the status callback of dialed legs.
const (
	DirectionParam    = "direction"
	TenantNumberParam = "tenantNumber"
)

func (e *Engine) callbackURL(direction, tenantNumber string) string {
	if e.StatusCallbackURL == "" {
		return ""
	}
	u, err := url.Parse(e.StatusCallbackURL)
	if err != nil {
		e.logger().Warn("status callback url invalid", "error", err)
		return e.StatusCallbackURL
	}
	q := u.Query()
	q.Set(DirectionParam, direction)
	if n := utils.AddPlusInNumber(utils.ExtractNumberFromClient(tenantNumber)); n != "" {
		q.Set(TenantNumberParam, n)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
