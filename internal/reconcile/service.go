// Package reconcile turns provider call-status callbacks into reconciled
// ledger rows. A callback is acknowledged immediately; pricing, ledger write
// and fan-out run later as a scheduled task.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"crm-dialer/internal/audit"
	"crm-dialer/internal/calls"
	"crm-dialer/internal/pricing"
)

var ErrInvalidEvent = errors.New("reconcile: invalid status event")

// Claimer grants at most one owner per key until ttl expires. Release hands
// the key back early so a redelivered callback can start a new chain.
type Claimer interface {
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

const releaseTimeout = 2 * time.Second

// CredentialSource resolves provider credentials for an account.
type CredentialSource interface {
	CredentialsFor(ctx context.Context, accountSid string) (pricing.Credentials, error)
}

// MissedCallReactor reacts to unanswered incoming calls.
type MissedCallReactor interface {
	Handle(ctx context.Context, ev calls.StatusEvent) error
}

type Config struct {
	SettleDelay time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
	ClaimTTL    time.Duration
}

// deadline bounds a chain at the settle delay plus its full retry budget,
// doubled for provider latency.
func (c Config) deadline(now time.Time) time.Time {
	budget := c.SettleDelay + 2*time.Duration(c.MaxAttempts)*c.RetryDelay + time.Minute
	return now.Add(budget)
}

type Service struct {
	cfg       Config
	scheduler *Scheduler
	pipeline  *Pipeline
	claims    Claimer
	creds     CredentialSource
	reactor   MissedCallReactor
	audit     AuditLog
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Deps struct {
	Scheduler   *Scheduler
	Pipeline    *Pipeline
	Claims      Claimer
	Credentials CredentialSource
	Reactor     MissedCallReactor
	Audit       AuditLog
	Logger      *slog.Logger
}

func NewService(cfg Config, d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 24 * time.Hour
	}
	return &Service{
		cfg:       cfg,
		scheduler: d.Scheduler,
		pipeline:  d.Pipeline,
		claims:    d.Claims,
		creds:     d.Credentials,
		reactor:   d.Reactor,
		audit:     d.Audit,
		logger:    log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SubmitResult tells the webhook what happened to an event.
type SubmitResult struct {
	TaskID    string
	Scheduled bool
	Reason    string
}

const (
	ReasonScheduled   = "scheduled"
	ReasonNonTerminal = "non_terminal"
	ReasonDuplicate   = "duplicate"
)

// Submit schedules reconciliation for ev. It does no provider I/O beyond the
// claim and credential lookups and returns quickly.
func (s *Service) Submit(ctx context.Context, ev calls.StatusEvent) (SubmitResult, error) {
	if ev.CallSid == "" {
		return SubmitResult{}, ErrInvalidEvent
	}
	if !ev.Status.Terminal() {
		return SubmitResult{Reason: ReasonNonTerminal}, nil
	}

	taskID := s.newID()
	log := s.logger.With("task_id", taskID, "call_sid", ev.CallSid)

	claimKey := "reconcile:" + ev.CallSid
	claimed := false
	if s.claims != nil {
		ok, err := s.claims.Claim(ctx, claimKey, taskID, s.cfg.ClaimTTL)
		claimed = ok
		switch {
		case err != nil:
			// the ledger unique key still guards duplicates
			log.Warn("reconcile claim failed, continuing", "error", err)
		case !ok:
			log.Info("duplicate status callback ignored")
			if s.audit != nil {
				_ = s.audit.Append(ctx, audit.Event{Type: audit.EventTypeDuplicate, CallSid: ev.CallSid, TaskID: taskID, Message: "duplicate callback"})
			}
			return SubmitResult{TaskID: taskID, Reason: ReasonDuplicate}, nil
		}
	}

	if s.reactor != nil && ev.Status.MissedCallTrigger() && ev.Direction == calls.DirectionIncoming && s.firstReaction(ctx, log, ev.CallSid, taskID) {
		reactorEv := ev
		if err := s.scheduler.Schedule(taskID+":missed-call", 0, func(ctx context.Context) {
			if err := s.reactor.Handle(ctx, reactorEv); err != nil {
				log.Warn("missed-call reaction failed", "error", err)
			}
		}); err != nil {
			log.Warn("could not schedule missed-call reaction", "error", err)
		}
	}

	creds := pricing.Credentials{AccountSid: ev.AccountSid}
	if s.creds != nil {
		c, err := s.creds.CredentialsFor(ctx, ev.AccountSid)
		if err != nil {
			log.Warn("credential lookup failed", "account_sid", ev.AccountSid, "error", err)
		} else {
			creds = c
		}
	}

	task := &pricing.ReconcileTask{
		ID:            taskID,
		CallSid:       ev.CallSid,
		ParentCallSid: ev.ParentCallSid,
		Credentials:   creds,
		Deadline:      s.cfg.deadline(s.now()),
	}
	release := func() {
		if claimed {
			s.release(log, claimKey, taskID)
		}
	}
	err := s.scheduler.ScheduleWithDrop(taskID, s.cfg.SettleDelay, func(ctx context.Context) {
		out := s.pipeline.Run(ctx, task, ev)
		switch out.Type {
		case audit.EventTypeCanceled, audit.EventTypeLedgerFailed:
			release()
		}
	}, release)
	if err != nil {
		release()
		return SubmitResult{TaskID: taskID}, err
	}
	log.Debug("reconciliation scheduled", "settle_delay", s.cfg.SettleDelay)
	return SubmitResult{TaskID: taskID, Scheduled: true, Reason: ReasonScheduled}, nil
}

// firstReaction holds a separate claim that is never released, so a callback
// redelivered after a released chain does not message the caller twice.
func (s *Service) firstReaction(ctx context.Context, log *slog.Logger, callSid, owner string) bool {
	if s.claims == nil {
		return true
	}
	ok, err := s.claims.Claim(ctx, "missed-call:"+callSid, owner, s.cfg.ClaimTTL)
	if err != nil {
		log.Warn("missed-call claim failed, continuing", "error", err)
		return true
	}
	return ok
}

// release runs on a fresh context: the chain's own context is usually
// canceled by the time a claim has to be handed back.
func (s *Service) release(log *slog.Logger, key, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.claims.Release(ctx, key, owner); err != nil {
		log.Warn("reconcile claim release failed", "error", err)
		return
	}
	log.Info("reconcile claim released")
}

// Cancel stops a scheduled chain by task id.
func (s *Service) Cancel(taskID string) bool { return s.scheduler.Cancel(taskID) }
