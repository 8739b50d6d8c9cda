package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialer/internal/audit"
	"crm-dialer/internal/calls"
	"crm-dialer/internal/crmapi"
	"crm-dialer/internal/fanout"
	"crm-dialer/internal/pricing"
)

type priceTable struct {
	mu     sync.Mutex
	prices map[string]string
	calls  int
}

func (p *priceTable) FetchCallPrice(_ context.Context, sid string) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.prices[sid], "USD", nil
}

type tenants map[string]string

func (t tenants) GetTokenFromNumber(_ context.Context, n string) (string, error) {
	if tok, ok := t[n]; ok {
		return tok, nil
	}
	return "", crmapi.ErrNotFound
}

type credsByAccount map[string]string

func (c credsByAccount) CredentialsFor(_ context.Context, sid string) (pricing.Credentials, error) {
	tok, ok := c[sid]
	if !ok {
		return pricing.Credentials{}, errors.New("unknown account")
	}
	return pricing.Credentials{AccountSid: sid, AuthToken: tok}, nil
}

type recordingBilling struct {
	mu  sync.Mutex
	got []crmapi.CallRecordRequest
}

func (b *recordingBilling) AddCallRecord(_ context.Context, _ string, r crmapi.CallRecordRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, r)
	return nil
}

type recordingCRM struct {
	mu    sync.Mutex
	calls int
}

func (c *recordingCRM) PushCallActivity(context.Context, string, calls.CallRecord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1, nil
}

type recordingReactor struct {
	mu  sync.Mutex
	got []calls.StatusEvent
}

func (r *recordingReactor) Handle(_ context.Context, ev calls.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

type harness struct {
	mr       *miniredis.Miniredis
	svc      *Service
	sched    *Scheduler
	ledger   *calls.MemoryLedger
	audit    *audit.MemoryRepo
	prices   *priceTable
	billing  *recordingBilling
	crm      *recordingCRM
	reactor  *recordingReactor
	attempts int
}

func newHarness(t *testing.T, attempts int) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := &harness{
		mr:       mr,
		ledger:   calls.NewMemoryLedger(),
		audit:    audit.NewMemoryRepo(),
		prices:   &priceTable{prices: map[string]string{}},
		billing:  &recordingBilling{},
		crm:      &recordingCRM{},
		reactor:  &recordingReactor{},
		attempts: attempts,
	}
	auditSvc := audit.NewService(h.audit)
	h.sched = NewScheduler(context.Background(), nil)
	resolver := pricing.NewResolver(
		pricing.ResolverConfig{RetryDelay: time.Millisecond, MaxAttempts: attempts},
		func(pricing.Credentials) pricing.PriceFetcher { return h.prices },
		nil,
	)
	pipeline := &Pipeline{
		Resolver:   resolver,
		Calculator: pricing.NewCalculator(1.4, -0.1),
		Ledger:     h.ledger,
		Tenants:    tenants{"+15550002222": "tenant-1"},
		Fanout:     fanout.NewDispatcher(h.billing, h.crm, nil, nil, nil),
		Audit:      auditSvc,
	}
	h.svc = NewService(Config{
		SettleDelay: 5 * time.Millisecond,
		RetryDelay:  time.Millisecond,
		MaxAttempts: attempts,
		ClaimTTL:    time.Minute,
	}, Deps{
		Scheduler:   h.sched,
		Pipeline:    pipeline,
		Claims:      RedisClaimer{RDB: rdb},
		Credentials: credsByAccount{"AC1": "secret"},
		Reactor:     h.reactor,
		Audit:       auditSvc,
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))
}

func inbound(status calls.Status) calls.StatusEvent {
	return calls.StatusEvent{
		CallSid:         "CA1",
		AccountSid:      "AC1",
		From:            "+15550001111",
		To:              "+15550002222",
		Direction:       calls.DirectionIncoming,
		Status:          status,
		DurationSeconds: 42,
		ReceivedAt:      time.Now(),
	}
}

func TestSubmit_PricedCallIsWrittenOnceAndFannedOut(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.prices["CA1"] = "-0.0175"

	res, err := h.svc.Submit(context.Background(), inbound(calls.StatusCompleted))
	require.NoError(t, err)
	assert.True(t, res.Scheduled)
	h.wait(t)

	rec, err := h.ledger.GetByCallSid(context.Background(), "CA1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0245, rec.TotalPrice, 1e-12)
	assert.True(t, rec.Priced)
	assert.Equal(t, "tenant-1", rec.TenantToken)
	assert.Len(t, h.billing.got, 1)
	assert.Equal(t, 1, h.crm.calls)
	assert.Len(t, h.audit.ByType(audit.EventTypePriced), 1)
	assert.Empty(t, h.reactor.got)
	assert.True(t, h.mr.Exists("reconcile:CA1"), "a written chain keeps its claim")
}

func TestSubmit_InboundClientChildLegBillsTenant(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.prices["CA-child"] = "-0.0040"
	h.prices.prices["CA-parent"] = "-0.0085"

	// child leg of an inbound call rung in the browser, as parsed from a
	// callback registered with direction=incoming
	ev := calls.StatusEvent{
		CallSid:       "CA-child",
		ParentCallSid: "CA-parent",
		AccountSid:    "AC1",
		From:          "+15550001111",
		To:            "client:15550002222",
		Direction:     calls.ParseDirection("incoming"),
		Status:        calls.StatusNoAnswer,
		OwnerNumber:   "+15550002222",
		ReceivedAt:    time.Now(),
	}
	res, err := h.svc.Submit(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Scheduled)
	h.wait(t)

	rec, err := h.ledger.GetByCallSid(context.Background(), "CA-child")
	require.NoError(t, err)
	assert.Equal(t, calls.DirectionIncoming, rec.Direction)
	assert.Equal(t, "tenant-1", rec.TenantToken)
	assert.InDelta(t, 0.0175, rec.TotalPrice, 1e-12)
	require.Len(t, h.reactor.got, 1)
	assert.Equal(t, "+15550002222", h.reactor.got[0].TenantNumber())
	assert.Len(t, h.billing.got, 1)
	assert.Equal(t, 1, h.crm.calls)
}

func TestSubmit_ParentLegAddsToTotal(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.prices["CA1"] = "0.0075"
	h.prices.prices["CA0"] = "0.0050"

	ev := inbound(calls.StatusCompleted)
	ev.ParentCallSid = "CA0"
	_, err := h.svc.Submit(context.Background(), ev)
	require.NoError(t, err)
	h.wait(t)

	rec, err := h.ledger.GetByCallSid(context.Background(), "CA1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0175, rec.TotalPrice, 1e-12)
	assert.Equal(t, "0.0050", rec.ParentLegPrice)
}

func TestSubmit_ExhaustionWritesSentinel(t *testing.T) {
	h := newHarness(t, 3)

	_, err := h.svc.Submit(context.Background(), inbound(calls.StatusNoAnswer))
	require.NoError(t, err)
	h.wait(t)

	rec, err := h.ledger.GetByCallSid(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, -0.1, rec.TotalPrice)
	assert.False(t, rec.Priced)
	assert.Equal(t, 3, h.prices.calls)
	assert.Len(t, h.audit.ByType(audit.EventTypeUnpriced), 1)
	// missed inbound call triggers the reactor and still bills the sentinel
	assert.Len(t, h.reactor.got, 1)
	require.Len(t, h.billing.got, 1)
	assert.Equal(t, -0.1, h.billing.got[0].Price)
}

func TestSubmit_DuplicateCallbackIgnored(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.prices["CA1"] = "-0.01"

	first, err := h.svc.Submit(context.Background(), inbound(calls.StatusBusy))
	require.NoError(t, err)
	second, err := h.svc.Submit(context.Background(), inbound(calls.StatusBusy))
	require.NoError(t, err)
	h.wait(t)

	assert.True(t, first.Scheduled)
	assert.False(t, second.Scheduled)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Len(t, h.ledger.All(), 1)
	assert.Len(t, h.reactor.got, 1)
	assert.Len(t, h.audit.ByType(audit.EventTypeDuplicate), 1)
}

func TestSubmit_NonTerminalStatusNotScheduled(t *testing.T) {
	h := newHarness(t, 10)
	res, err := h.svc.Submit(context.Background(), inbound(calls.StatusRinging))
	require.NoError(t, err)
	assert.False(t, res.Scheduled)
	assert.Equal(t, ReasonNonTerminal, res.Reason)
	assert.Equal(t, 0, h.sched.InFlight())
}

func TestSubmit_UnknownAccountSkipsPolling(t *testing.T) {
	h := newHarness(t, 10)
	ev := inbound(calls.StatusCompleted)
	ev.AccountSid = "AC-unknown"

	_, err := h.svc.Submit(context.Background(), ev)
	require.NoError(t, err)
	h.wait(t)

	rec, err := h.ledger.GetByCallSid(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, -0.1, rec.TotalPrice)
	assert.Equal(t, 0, h.prices.calls)
}

func TestSubmit_CancelBeforeSettleWritesNothing(t *testing.T) {
	h := newHarness(t, 10)
	h.svc.cfg.SettleDelay = time.Hour

	res, err := h.svc.Submit(context.Background(), inbound(calls.StatusCompleted))
	require.NoError(t, err)
	assert.True(t, h.svc.Cancel(res.TaskID))
	h.wait(t)
	assert.Empty(t, h.ledger.All())
	assert.False(t, h.mr.Exists("reconcile:CA1"))
}

func TestSubmit_LedgerFailureReleasesClaim(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.prices["CA1"] = "-0.01"
	h.svc.pipeline.Ledger = failingLedger{}

	_, err := h.svc.Submit(context.Background(), inbound(calls.StatusCompleted))
	require.NoError(t, err)
	h.wait(t)
	assert.False(t, h.mr.Exists("reconcile:CA1"))

	// a redelivered callback gets a fresh chain
	h.svc.pipeline.Ledger = h.ledger
	again, err := h.svc.Submit(context.Background(), inbound(calls.StatusCompleted))
	require.NoError(t, err)
	assert.True(t, again.Scheduled)
	h.wait(t)
	_, err = h.ledger.GetByCallSid(context.Background(), "CA1")
	require.NoError(t, err)
}

func TestSubmit_ClosedSchedulerReleasesClaim(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.sched.Shutdown(context.Background()))

	res, err := h.svc.Submit(context.Background(), inbound(calls.StatusCompleted))
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	assert.False(t, res.Scheduled)
	assert.False(t, h.mr.Exists("reconcile:CA1"))
}

func TestSubmit_RedeliveryAfterReleaseDoesNotRepeatMissedCallMessage(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.prices["CA1"] = "-0.01"
	h.svc.pipeline.Ledger = failingLedger{}

	_, err := h.svc.Submit(context.Background(), inbound(calls.StatusNoAnswer))
	require.NoError(t, err)
	h.wait(t)

	h.svc.pipeline.Ledger = h.ledger
	_, err = h.svc.Submit(context.Background(), inbound(calls.StatusNoAnswer))
	require.NoError(t, err)
	h.wait(t)

	assert.Len(t, h.ledger.All(), 1)
	assert.Len(t, h.reactor.got, 1)
}

func TestSubmit_RejectsEmptyCallSid(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.svc.Submit(context.Background(), calls.StatusEvent{Status: calls.StatusCompleted})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

type failingLedger struct{}

func (failingLedger) Insert(context.Context, calls.CallRecord) (bool, error) {
	return false, errors.New("db down")
}

func (failingLedger) GetByCallSid(context.Context, string) (calls.CallRecord, error) {
	return calls.CallRecord{}, calls.ErrNotFound
}

func TestPipeline_LedgerFailureEndsChainWithoutFanout(t *testing.T) {
	billing := &recordingBilling{}
	repo := audit.NewMemoryRepo()
	p := &Pipeline{
		Resolver: pricing.NewResolver(pricing.ResolverConfig{RetryDelay: time.Millisecond, MaxAttempts: 1},
			func(pricing.Credentials) pricing.PriceFetcher {
				return &priceTable{prices: map[string]string{"CA1": "-0.01"}}
			}, nil),
		Calculator: pricing.NewCalculator(1.4, -0.1),
		Ledger:     failingLedger{},
		Fanout:     fanout.NewDispatcher(billing, nil, nil, nil, nil),
		Audit:      audit.NewService(repo),
	}
	task := &pricing.ReconcileTask{ID: "t1", CallSid: "CA1", Credentials: pricing.Credentials{AccountSid: "AC1", AuthToken: "x"}}
	out := p.Run(context.Background(), task, inbound(calls.StatusCompleted))

	assert.Equal(t, audit.EventTypeLedgerFailed, out.Type)
	assert.Error(t, out.Err)
	assert.Empty(t, billing.got)
	assert.Len(t, repo.ByType(audit.EventTypeLedgerFailed), 1)
}
