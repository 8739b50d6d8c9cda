package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crm-dialer/pkg/logger"
)

var (
	ErrSchedulerClosed = errors.New("reconcile: scheduler closed")
	ErrDuplicateTask   = errors.New("reconcile: task already scheduled")
)

// Job is the body of a scheduled task.
type Job func(ctx context.Context)

// Scheduler runs named jobs after a delay, detached from the caller's
// request. Every job has an id, can be canceled and is tracked until it
// returns so shutdown can wait for in-flight work.
type Scheduler struct {
	base   context.Context
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*scheduled
	closed bool
	wg     sync.WaitGroup

	onStart  func()
	onFinish func()
}

type scheduled struct {
	timer   *time.Timer
	cancel  context.CancelFunc
	dropped func()
}

// NewScheduler derives job contexts from base with its cancellation
// stripped; jobs end only when they return or are canceled by id.
func NewScheduler(base context.Context, log *slog.Logger) *Scheduler {
	if base == nil {
		base = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		base:   logger.Detach(base),
		logger: log,
		tasks:  map[string]*scheduled{},
	}
}

// OnLifecycle registers hooks called when a job is scheduled and when it
// finishes or is canceled before running.
func (s *Scheduler) OnLifecycle(start, finish func()) {
	s.onStart = start
	s.onFinish = finish
}

// Schedule runs job after delay under id.
func (s *Scheduler) Schedule(id string, delay time.Duration, job Job) error {
	return s.ScheduleWithDrop(id, delay, job, nil)
}

// ScheduleWithDrop is Schedule with a hook that runs instead of job when the
// task is canceled before it starts.
func (s *Scheduler) ScheduleWithDrop(id string, delay time.Duration, job Job, dropped func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if _, ok := s.tasks[id]; ok {
		return ErrDuplicateTask
	}

	ctx, cancel := context.WithCancel(s.base)
	st := &scheduled{cancel: cancel, dropped: dropped}
	s.tasks[id] = st
	s.wg.Add(1)
	if s.onStart != nil {
		s.onStart()
	}

	st.timer = time.AfterFunc(delay, func() {
		defer s.finish(id)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled task panicked", "task_id", id, "panic", r)
			}
		}()
		if ctx.Err() != nil {
			st.drop()
			return
		}
		job(ctx)
	})
	return nil
}

func (st *scheduled) drop() {
	if st.dropped != nil {
		st.dropped()
	}
}

func (s *Scheduler) finish(id string) {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	st.cancel()
	if s.onFinish != nil {
		s.onFinish()
	}
	s.wg.Done()
}

// Cancel stops a pending job or cancels the context of a running one.
// It reports whether id was known.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	st, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if st.timer.Stop() {
		// never started; the timer func will not run
		st.drop()
		s.finish(id)
		return true
	}
	st.cancel()
	return true
}

// InFlight returns the number of pending or running jobs.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Pending reports whether id is pending or running.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Wait blocks until every job has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for in-flight ones. When ctx
// expires first, remaining jobs are canceled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.Wait(ctx)
	if err == nil {
		return nil
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Cancel(id)
	}
	s.logger.Warn("scheduler shutdown canceled in-flight tasks", "count", len(ids))
	return err
}
