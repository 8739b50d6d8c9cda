package pricing

import (
	"errors"
	"time"
)

var (
	ErrInvalidPrice = errors.New("invalid price")
	ErrInvalidTask  = errors.New("invalid reconcile task")
)

// Credentials scope a provider client to one tenant account.
type Credentials struct {
	AccountSid string
	AuthToken  string
}

// ReconcileTask is one deferred price resolution for a finished call leg.
// It carries everything an attempt needs; nothing is read from request state.
type ReconcileTask struct {
	ID            string
	CallSid       string
	ParentCallSid string
	Credentials   Credentials

	// Attempt is the number of fetch attempts made so far.
	Attempt int
	// Deadline bounds the whole chain when non-zero.
	Deadline time.Time
}

func (t ReconcileTask) HasParent() bool { return t.ParentCallSid != "" }

func (t ReconcileTask) Validate() error {
	if t.CallSid == "" || t.Credentials.AccountSid == "" {
		return ErrInvalidTask
	}
	return nil
}

// Quote is the outcome of resolving prices for a task.
type Quote struct {
	LegPrice    string
	ParentPrice string
	Currency    string
	Attempts    int

	// Exhausted is set when the attempt budget or deadline ran out before
	// every required price was reported.
	Exhausted bool
	// Canceled is set when the chain was canceled explicitly.
	Canceled bool
}

func (q Quote) complete(hasParent bool) bool {
	if q.LegPrice == "" {
		return false
	}
	return !hasParent || q.ParentPrice != ""
}
