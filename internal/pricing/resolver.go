package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var resolverTracer = otel.Tracer("crm-dialer.internal.pricing")

// PriceFetcher reads the provider price of one call leg. An empty price with
// a nil error means the provider has not priced the leg yet.
type PriceFetcher interface {
	FetchCallPrice(ctx context.Context, callSid string) (price, currency string, err error)
}

// FetcherFactory builds a fetcher bound to one tenant's credentials.
type FetcherFactory func(Credentials) PriceFetcher

type ResolverConfig struct {
	RetryDelay  time.Duration
	MaxAttempts int
}

// Resolver polls the provider until the leg (and parent leg) prices appear
// or the attempt budget runs out. Provider errors never escape; they are
// logged and the attempt is retried.
type Resolver struct {
	cfg        ResolverConfig
	newFetcher FetcherFactory
	logger     *slog.Logger
}

func NewResolver(cfg ResolverConfig, newFetcher FetcherFactory, logger *slog.Logger) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, newFetcher: newFetcher, logger: logger}
}

var errPriceMissing = errors.New("price not yet available")

// Resolve runs the attempt chain for task. task.Attempt is advanced in place.
func (r *Resolver) Resolve(ctx context.Context, task *ReconcileTask) Quote {
	if !task.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	fetcher := r.newFetcher(task.Credentials)
	log := r.logger.With("task_id", task.ID, "call_sid", task.CallSid)

	var acc Quote
	policy := retrypolicy.NewBuilder[Quote]().
		WithDelay(r.cfg.RetryDelay).
		WithMaxAttempts(r.cfg.MaxAttempts).
		HandleIf(func(q Quote, err error) bool {
			return err != nil || !q.complete(task.HasParent())
		}).
		Build()

	_, err := failsafe.With(policy).WithContext(ctx).Get(func() (Quote, error) {
		task.Attempt++
		acc.Attempts = task.Attempt
		r.attempt(ctx, fetcher, task, &acc, log)
		if !acc.complete(task.HasParent()) {
			return acc, errPriceMissing
		}
		return acc, nil
	})

	switch {
	case err == nil:
		return acc
	case errors.Is(ctx.Err(), context.Canceled):
		acc.Canceled = true
	default:
		acc.Exhausted = true
	}
	log.Warn("price resolution finished without full price",
		"attempts", acc.Attempts,
		"canceled", acc.Canceled,
		"leg_price", acc.LegPrice,
		"parent_price", acc.ParentPrice,
	)
	return acc
}

// attempt fetches whatever is still missing. The leg and the parent leg are
// fetched independently so a parent failure does not block the leg.
func (r *Resolver) attempt(ctx context.Context, f PriceFetcher, task *ReconcileTask, acc *Quote, log *slog.Logger) {
	ctx, span := resolverTracer.Start(ctx, "pricing.resolve_attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("call_sid", task.CallSid),
		attribute.Int("attempt", task.Attempt),
	)

	if acc.LegPrice == "" {
		price, currency, err := f.FetchCallPrice(ctx, task.CallSid)
		if err != nil {
			span.RecordError(err)
			log.Warn("leg price fetch failed", "attempt", task.Attempt, "error", err)
		} else if price != "" {
			acc.LegPrice = price
			if currency != "" {
				acc.Currency = currency
			}
		}
	}

	if task.HasParent() && acc.ParentPrice == "" {
		price, currency, err := f.FetchCallPrice(ctx, task.ParentCallSid)
		if err != nil {
			span.RecordError(err)
			log.Warn("parent price fetch failed", "attempt", task.Attempt, "parent_call_sid", task.ParentCallSid, "error", err)
		} else if price != "" {
			acc.ParentPrice = price
			if acc.Currency == "" {
				acc.Currency = currency
			}
		}
	}
}
