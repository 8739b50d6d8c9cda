// Package fanout pushes a finalized call record to the downstream systems:
// tenant billing, Zoho CRM and campaign message status.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/crmapi"
	"crm-dialer/internal/zoho"
)

const (
	TargetBilling  = "billing"
	TargetCRM      = "zoho"
	TargetCampaign = "campaign"
)

type Billing interface {
	AddCallRecord(ctx context.Context, tenantToken string, r crmapi.CallRecordRequest) error
}

type CRMActivity interface {
	PushCallActivity(ctx context.Context, tenantToken string, rec calls.CallRecord) (int, error)
}

type Campaigns interface {
	UpdateMessageStatusByID(ctx context.Context, messageID, status string) error
	UpdateMessageStatusByCallID(ctx context.Context, callSid, status string) error
}

type Metrics interface {
	ObservePush(target string, err error, skipped bool)
}

// Input is what a push round needs besides the ledger row.
type Input struct {
	Record      calls.CallRecord
	TenantToken string
	MessageID   string
}

// PushResult is the outcome of one target. Skipped pushes carry a reason.
type PushResult struct {
	Target  string
	Err     error
	Skipped bool
	Reason  string
}

type Dispatcher struct {
	billing   Billing
	crm       CRMActivity
	campaigns Campaigns
	metrics   Metrics
	logger    *slog.Logger
}

func NewDispatcher(billing Billing, crm CRMActivity, campaigns Campaigns, metrics Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{billing: billing, crm: crm, campaigns: campaigns, metrics: metrics, logger: logger}
}

// Push runs the three pushes concurrently and waits for all of them. Each
// failure is logged and reported; none affects the others.
func (d *Dispatcher) Push(ctx context.Context, in Input) []PushResult {
	pushes := []struct {
		target string
		run    func(context.Context, Input) PushResult
	}{
		{TargetBilling, d.pushBilling},
		{TargetCRM, d.pushCRM},
		{TargetCampaign, d.pushCampaign},
	}

	results := make([]PushResult, len(pushes))
	var wg sync.WaitGroup
	for i, p := range pushes {
		wg.Add(1)
		go func(i int, target string, run func(context.Context, Input) PushResult) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = PushResult{Target: target, Err: errors.New("push panicked")}
					d.logger.Error("push panicked", "target", target, "call_sid", in.Record.CallSid, "panic", r)
				}
			}()
			res := run(ctx, in)
			res.Target = target
			results[i] = res
		}(i, p.target, p.run)
	}
	wg.Wait()

	for _, r := range results {
		if d.metrics != nil {
			d.metrics.ObservePush(r.Target, r.Err, r.Skipped)
		}
		switch {
		case r.Err != nil:
			d.logger.Warn("downstream push failed", "target", r.Target, "call_sid", in.Record.CallSid, "error", r.Err)
		case r.Skipped:
			d.logger.Debug("downstream push skipped", "target", r.Target, "call_sid", in.Record.CallSid, "reason", r.Reason)
		}
	}
	return results
}

func (d *Dispatcher) pushBilling(ctx context.Context, in Input) PushResult {
	rec := in.Record
	switch {
	case d.billing == nil:
		return PushResult{Skipped: true, Reason: "billing not configured"}
	case !rec.Status.BillingEligible():
		return PushResult{Skipped: true, Reason: "status not billing eligible"}
	case in.TenantToken == "":
		return PushResult{Skipped: true, Reason: "tenant token unknown"}
	}
	err := d.billing.AddCallRecord(ctx, in.TenantToken, crmapi.CallRecordRequest{
		To:            rec.To,
		From:          rec.From,
		RecordingURL:  rec.RecordingURL,
		CallDuration:  rec.DurationSeconds,
		CallDirection: string(rec.Direction),
		Price:         rec.TotalPrice,
		Currency:      rec.Currency,
		CallSid:       rec.CallSid,
	})
	return PushResult{Err: err}
}

func (d *Dispatcher) pushCRM(ctx context.Context, in Input) PushResult {
	if d.crm == nil {
		return PushResult{Skipped: true, Reason: "crm not configured"}
	}
	if in.TenantToken == "" {
		return PushResult{Skipped: true, Reason: "tenant token unknown"}
	}
	_, err := d.crm.PushCallActivity(ctx, in.TenantToken, in.Record)
	if errors.Is(err, zoho.ErrNotConfigured) {
		return PushResult{Skipped: true, Reason: "tenant has no crm integration"}
	}
	return PushResult{Err: err}
}

func (d *Dispatcher) pushCampaign(ctx context.Context, in Input) PushResult {
	if d.campaigns == nil {
		return PushResult{Skipped: true, Reason: "campaigns not configured"}
	}
	status := in.Record.Status.CampaignValue()
	if in.MessageID != "" {
		return PushResult{Err: d.campaigns.UpdateMessageStatusByID(ctx, in.MessageID, status)}
	}
	return PushResult{Err: d.campaigns.UpdateMessageStatusByCallID(ctx, in.Record.CallSid, status)}
}
