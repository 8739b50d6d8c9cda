// Package missedcall sends a follow-up message to callers whose incoming
// call went unanswered.
package missedcall

import (
	"context"
	"fmt"
	"log/slog"

	"crm-dialer/internal/callconfig"
	"crm-dialer/internal/calls"
	"crm-dialer/internal/crmapi"
	"crm-dialer/pkg/utils"
)

// ActionSource finds the action configured for a called number.
type ActionSource interface {
	ActionFor(ctx context.Context, applyNumber string) (callconfig.MissedCallAction, bool, error)
}

// Messenger dispatches SMS/WhatsApp messages on behalf of a tenant.
type Messenger interface {
	SendMessage(ctx context.Context, tenantToken string, m crmapi.MessageRequest) error
}

// Metrics counts reactions by result.
type Metrics interface {
	ObserveMissedCall(result string)
}

const (
	ResultSent     = "sent"
	ResultSkipped  = "skipped"
	ResultNoAction = "no_action"
	ResultFailed   = "failed"
)

type Reactor struct {
	actions   ActionSource
	messenger Messenger
	metrics   Metrics
	logger    *slog.Logger
}

func NewReactor(actions ActionSource, messenger Messenger, metrics Metrics, logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{actions: actions, messenger: messenger, metrics: metrics, logger: logger}
}

// Handle fires only for an incoming no-answer or busy call whose called
// number has an enabled action.
func (r *Reactor) Handle(ctx context.Context, ev calls.StatusEvent) error {
	if !ev.Status.MissedCallTrigger() || ev.Direction != calls.DirectionIncoming {
		r.observe(ResultSkipped)
		return nil
	}
	called := ev.TenantNumber()
	caller := utils.AddPlusInNumber(utils.ExtractNumberFromClient(ev.From))
	log := r.logger.With("call_sid", ev.CallSid, "called", called)

	action, ok, err := r.actions.ActionFor(ctx, called)
	if err != nil {
		r.observe(ResultFailed)
		return fmt.Errorf("missed call action lookup: %w", err)
	}
	if !ok || !action.Enabled() {
		r.observe(ResultNoAction)
		log.Debug("no missed call action configured")
		return nil
	}

	from := action.FromNumber
	if from == "" {
		from = called
	}
	err = r.messenger.SendMessage(ctx, action.CRMToken, crmapi.MessageRequest{
		ToNumber:     caller,
		FromNumber:   from,
		Message:      action.Message,
		TemplateName: action.TemplateName,
		ActionType:   string(action.ActionType),
	})
	if err != nil {
		r.observe(ResultFailed)
		return fmt.Errorf("send missed call %s: %w", action.ActionType, err)
	}
	r.observe(ResultSent)
	log.Info("missed call message sent", "action_type", string(action.ActionType), "to", caller)
	return nil
}

func (r *Reactor) observe(result string) {
	if r.metrics != nil {
		r.metrics.ObserveMissedCall(result)
	}
}
