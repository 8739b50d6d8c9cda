package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsAfterDelayAndWaits(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	var ran int32
	start := time.Now()
	if err := s.Schedule("t1", 20*time.Millisecond, func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
	}); err != nil {
		t.Fatal(err)
	}
	if !s.Pending("t1") {
		t.Fatalf("expected t1 pending")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("job did not run")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("job ran before its delay")
	}
	if s.InFlight() != 0 {
		t.Fatalf("expected empty registry, got %d", s.InFlight())
	}
}

func TestScheduler_DetachedFromCallerContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	s := NewScheduler(parent, nil)

	errCh := make(chan error, 1)
	_ = s.Schedule("t1", 10*time.Millisecond, func(ctx context.Context) {
		errCh <- ctx.Err()
	})
	cancelParent()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("job context should survive parent cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("job did not run")
	}
}

func TestScheduler_CancelPending(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	var ran int32
	var finished int32
	s.OnLifecycle(nil, func() { atomic.AddInt32(&finished, 1) })

	_ = s.Schedule("t1", time.Hour, func(context.Context) { atomic.StoreInt32(&ran, 1) })
	if !s.Cancel("t1") {
		t.Fatalf("expected cancel to find t1")
	}
	if s.Cancel("t1") {
		t.Fatalf("second cancel should report unknown id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("canceled job ran")
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatalf("expected finish hook once, got %d", finished)
	}
}

func TestScheduler_CancelRunning(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	started := make(chan struct{})
	stopped := make(chan struct{})
	_ = s.Schedule("t1", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})
	<-started
	s.Cancel("t1")
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("running job not canceled")
	}
}

func TestScheduler_RejectsDuplicateAndClosed(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	_ = s.Schedule("t1", time.Hour, func(context.Context) {})
	if err := s.Schedule("t1", time.Hour, func(context.Context) {}); err != ErrDuplicateTask {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); err == nil {
		t.Fatalf("expected shutdown to time out with a pending task")
	}
	if s.InFlight() != 0 {
		t.Fatalf("shutdown should cancel remaining tasks")
	}
	if err := s.Schedule("t2", 0, func(context.Context) {}); err != ErrSchedulerClosed {
		t.Fatalf("expected ErrSchedulerClosed, got %v", err)
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	_ = s.Schedule("t1", 0, func(context.Context) { panic("boom") })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestScheduler_DropHookRunsOnlyForUnstartedJobs(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	var dropped, ran int32

	_ = s.ScheduleWithDrop("pending", time.Hour, func(context.Context) { atomic.AddInt32(&ran, 1) },
		func() { atomic.AddInt32(&dropped, 1) })
	_ = s.ScheduleWithDrop("quick", time.Millisecond, func(context.Context) { atomic.AddInt32(&ran, 1) },
		func() { atomic.AddInt32(&dropped, 1) })

	time.Sleep(20 * time.Millisecond)
	s.Cancel("pending")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Fatalf("expected only the quick job to run, got %d", got)
	}
	if got := atomic.LoadInt32(&dropped); got != 1 {
		t.Fatalf("expected one drop, got %d", got)
	}
}
