package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	readyAt map[string]int
	prices  map[string]string
	fail    map[string]bool
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		calls:   map[string]int{},
		readyAt: map[string]int{},
		prices:  map[string]string{},
		fail:    map[string]bool{},
	}
}

func (f *scriptedFetcher) FetchCallPrice(_ context.Context, callSid string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[callSid]++
	if f.fail[callSid] {
		return "", "", errors.New("provider unavailable")
	}
	if f.calls[callSid] < f.readyAt[callSid] {
		return "", "", nil
	}
	return f.prices[callSid], "USD", nil
}

func testResolver(f *scriptedFetcher, attempts int) *Resolver {
	return NewResolver(
		ResolverConfig{RetryDelay: time.Millisecond, MaxAttempts: attempts},
		func(Credentials) PriceFetcher { return f },
		nil,
	)
}

func TestResolve_SucceedsOnceLegPriced(t *testing.T) {
	f := newScriptedFetcher()
	f.prices["CA1"] = "-0.013"
	f.readyAt["CA1"] = 3

	task := &ReconcileTask{ID: "t1", CallSid: "CA1", Credentials: Credentials{AccountSid: "AC1"}}
	q := testResolver(f, 10).Resolve(context.Background(), task)

	if q.Exhausted || q.Canceled {
		t.Fatalf("expected success, got %+v", q)
	}
	if q.LegPrice != "-0.013" || q.Currency != "USD" {
		t.Fatalf("unexpected quote %+v", q)
	}
	if task.Attempt != 3 || q.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got task=%d quote=%d", task.Attempt, q.Attempts)
	}
}

func TestResolve_WaitsForParent(t *testing.T) {
	f := newScriptedFetcher()
	f.prices["CA1"] = "-0.013"
	f.prices["CA0"] = "-0.0085"
	f.readyAt["CA0"] = 2

	task := &ReconcileTask{ID: "t1", CallSid: "CA1", ParentCallSid: "CA0", Credentials: Credentials{AccountSid: "AC1"}}
	q := testResolver(f, 10).Resolve(context.Background(), task)

	if q.Exhausted {
		t.Fatalf("expected success, got %+v", q)
	}
	if q.ParentPrice != "-0.0085" {
		t.Fatalf("expected parent price, got %+v", q)
	}
	if f.calls["CA1"] != 1 {
		t.Fatalf("leg price should be fetched once after it appears, got %d", f.calls["CA1"])
	}
}

func TestResolve_ParentFailureDoesNotBlockLeg(t *testing.T) {
	f := newScriptedFetcher()
	f.prices["CA1"] = "-0.013"
	f.fail["CA0"] = true

	task := &ReconcileTask{ID: "t1", CallSid: "CA1", ParentCallSid: "CA0", Credentials: Credentials{AccountSid: "AC1"}}
	q := testResolver(f, 4).Resolve(context.Background(), task)

	if !q.Exhausted {
		t.Fatalf("expected exhaustion while parent keeps failing, got %+v", q)
	}
	if q.LegPrice != "-0.013" {
		t.Fatalf("leg price should still be captured, got %+v", q)
	}
	if task.Attempt != 4 {
		t.Fatalf("expected full budget of 4 attempts, got %d", task.Attempt)
	}
}

func TestResolve_ExhaustsBudget(t *testing.T) {
	f := newScriptedFetcher()
	f.readyAt["CA1"] = 100

	task := &ReconcileTask{ID: "t1", CallSid: "CA1", Credentials: Credentials{AccountSid: "AC1"}}
	q := testResolver(f, 10).Resolve(context.Background(), task)

	if !q.Exhausted {
		t.Fatalf("expected exhausted, got %+v", q)
	}
	if f.calls["CA1"] != 10 {
		t.Fatalf("expected 10 fetches, got %d", f.calls["CA1"])
	}
}

func TestResolve_Canceled(t *testing.T) {
	f := newScriptedFetcher()
	f.readyAt["CA1"] = 100

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &ReconcileTask{ID: "t1", CallSid: "CA1", Credentials: Credentials{AccountSid: "AC1"}}
	q := NewResolver(
		ResolverConfig{RetryDelay: time.Hour, MaxAttempts: 10},
		func(Credentials) PriceFetcher { return f },
		nil,
	).Resolve(ctx, task)

	if !q.Canceled {
		t.Fatalf("expected canceled quote, got %+v", q)
	}
}

func TestReconcileTaskValidate(t *testing.T) {
	if err := (ReconcileTask{}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
	if err := (ReconcileTask{CallSid: "CA1", Credentials: Credentials{AccountSid: "AC1"}}).Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
