package reconcile

import (
	"context"
	"log/slog"

	"crm-dialer/internal/audit"
	"crm-dialer/internal/calls"
	"crm-dialer/internal/fanout"
	"crm-dialer/internal/pricing"
)

type PriceResolver interface {
	Resolve(ctx context.Context, task *pricing.ReconcileTask) pricing.Quote
}

type Pusher interface {
	Push(ctx context.Context, in fanout.Input) []fanout.PushResult
}

type TenantResolver interface {
	GetTokenFromNumber(ctx context.Context, number string) (string, error)
}

type AuditLog interface {
	Append(ctx context.Context, e audit.Event) error
	RecordPushFailure(ctx context.Context, callSid, taskID, target string, cause error) error
}

type Metrics interface {
	ObserveOutcome(outcome string, attempts int)
}

const defaultCurrency = "USD"

// Pipeline is one reconciliation chain: resolve price, compute the billable
// total, write the ledger row once, then fan out.
type Pipeline struct {
	Resolver   PriceResolver
	Calculator pricing.Calculator
	Ledger     calls.Ledger
	Tenants    TenantResolver
	Fanout     Pusher
	Audit      AuditLog
	Metrics    Metrics
	Logger     *slog.Logger
}

// Outcome summarizes a finished chain.
type Outcome struct {
	Type   audit.EventType
	Record calls.CallRecord
	Quote  pricing.Quote
	Pushes []fanout.PushResult
	Err    error
}

// Run never returns an error to a caller; every failure ends up in logs,
// metrics and the audit log.
func (p *Pipeline) Run(ctx context.Context, task *pricing.ReconcileTask, ev calls.StatusEvent) Outcome {
	log := p.logger().With("task_id", task.ID, "call_sid", task.CallSid)

	var quote pricing.Quote
	if task.Credentials.AuthToken == "" {
		log.Warn("no provider credentials for account, skipping price resolution", "account_sid", task.Credentials.AccountSid)
		quote = pricing.Quote{Exhausted: true}
	} else {
		quote = p.Resolver.Resolve(ctx, task)
	}

	rec := ev.Record()
	if quote.Canceled {
		return p.finish(ctx, log, task, Outcome{Type: audit.EventTypeCanceled, Record: rec, Quote: quote})
	}

	total, priced := p.Calculator.Apply(quote)
	rec.LegPrice = quote.LegPrice
	rec.ParentLegPrice = quote.ParentPrice
	rec.Currency = quote.Currency
	if rec.Currency == "" {
		rec.Currency = defaultCurrency
	}
	rec.TotalPrice = total
	rec.Priced = priced
	rec.TenantToken = p.tenantToken(ctx, log, ev)

	inserted, err := p.Ledger.Insert(ctx, rec)
	switch {
	case err != nil:
		log.Error("ledger write failed", "error", err)
		return p.finish(ctx, log, task, Outcome{Type: audit.EventTypeLedgerFailed, Record: rec, Quote: quote, Err: err})
	case !inserted:
		log.Info("call already in ledger, skipping fan-out")
		return p.finish(ctx, log, task, Outcome{Type: audit.EventTypeDuplicate, Record: rec, Quote: quote})
	}

	out := Outcome{Type: audit.EventTypePriced, Record: rec, Quote: quote}
	if !priced {
		out.Type = audit.EventTypeUnpriced
	}
	if p.Fanout != nil {
		out.Pushes = p.Fanout.Push(ctx, fanout.Input{
			Record:      rec,
			TenantToken: rec.TenantToken,
			MessageID:   ev.MessageID,
		})
		for _, r := range out.Pushes {
			if r.Err != nil && p.Audit != nil {
				if err := p.Audit.RecordPushFailure(ctx, rec.CallSid, task.ID, r.Target, r.Err); err != nil {
					log.Warn("audit append failed", "error", err)
				}
			}
		}
	}
	return p.finish(ctx, log, task, out)
}

func (p *Pipeline) tenantToken(ctx context.Context, log *slog.Logger, ev calls.StatusEvent) string {
	if p.Tenants == nil {
		return ""
	}
	number := ev.TenantNumber()
	if number == "" {
		return ""
	}
	tok, err := p.Tenants.GetTokenFromNumber(ctx, number)
	if err != nil {
		log.Warn("tenant token lookup failed", "number", number, "error", err)
		return ""
	}
	return tok
}

func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, task *pricing.ReconcileTask, out Outcome) Outcome {
	if p.Metrics != nil {
		p.Metrics.ObserveOutcome(string(out.Type), out.Quote.Attempts)
	}
	if p.Audit != nil {
		msg := ""
		if out.Err != nil {
			msg = out.Err.Error()
		}
		// the chain may have been canceled; the audit row is still wanted
		if err := p.Audit.Append(context.WithoutCancel(ctx), audit.Event{
			Type:       out.Type,
			CallSid:    task.CallSid,
			TaskID:     task.ID,
			AccountSid: task.Credentials.AccountSid,
			Attempts:   out.Quote.Attempts,
			TotalPrice: out.Record.TotalPrice,
			Message:    msg,
		}); err != nil {
			log.Warn("audit append failed", "error", err)
		}
	}
	log.Info("reconciliation finished",
		"outcome", out.Type,
		"attempts", out.Quote.Attempts,
		"total_price", out.Record.TotalPrice,
	)
	return out
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
