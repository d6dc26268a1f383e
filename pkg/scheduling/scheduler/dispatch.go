package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/scheduling/task"
)

// RunTasks dispatches queued tasks until the registry is empty and no task
// is in flight, then returns. Tasks submitted while it runs, including from
// inside other tasks, are picked up before it returns.
func (s *Scheduler) RunTasks() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Info("dispatch started",
		"mode", "run_to_completion",
		"max_concurrency", s.limiter.Capacity(),
		"order", s.registry.Order().String(),
		"pending", s.registry.Len())

	s.dispatch(context.Background(), false)
	s.tasksWg.Wait()

	s.logStopped()
	return nil
}

// Serve dispatches tasks as they arrive and parks while idle. It returns
// after ctx is canceled or the scheduler is closed:
//
//   - on cancellation it stops dispatching at once, waits for the tasks
//     already in flight and leaves the rest queued;
//   - after Close it keeps dispatching until the registry is empty.
//
// The scheduler is closed for new submissions when Serve returns.
func (s *Scheduler) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Info("dispatch started",
		"mode", "long_lived",
		"max_concurrency", s.limiter.Capacity(),
		"order", s.registry.Order().String(),
		"pending", s.registry.Len())

	s.dispatch(ctx, true)
	_ = s.Close()
	s.tasksWg.Wait()

	s.logStopped()
	return nil
}

// dispatch is the single loop that moves tasks from the registry to
// goroutines. It returns when ctx is done, or when the registry is empty with
// nothing in flight and the loop is not long-lived (or the scheduler is
// closed).
func (s *Scheduler) dispatch(ctx context.Context, longLived bool) {
	for {
		if ctx.Err() != nil {
			return
		}

		// closed is read first: once it is set no CreateTask is still adding,
		// so an empty registry below is final.
		closed := s.closed.Load()

		// Only this loop increments in-flight, so a zero here means nothing
		// can enqueue from inside a running task until we dispatch again.
		idle := s.limiter.InUse() == 0

		// This loop is the only consumer, so a non-empty registry still holds
		// a task after the slot is taken. No slot is taken for an empty one.
		if s.registry.Len() == 0 {
			if idle && (!longLived || closed) {
				return
			}
			if !s.wait(ctx) {
				return
			}
			continue
		}

		if !s.limiter.Acquire() {
			s.backoffs.Add(1)
			s.recorder.backoff()
			if !s.wait(ctx) {
				return
			}
			continue
		}

		t, ok := s.registry.Dequeue()
		if !ok {
			s.limiter.Release()
			continue
		}

		s.launch(t)
	}
}

// wait parks the loop until a task finishes or is submitted, the backoff
// elapses, or ctx is done. It returns false only for ctx.
func (s *Scheduler) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()

	select {
	case <-s.wake:
		return true
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// launch hands a dequeued task to its own goroutine. The caller already holds
// the in-flight slot for it.
func (s *Scheduler) launch(t *task.Task) {
	t.Advance(task.Pending, task.Dispatched)
	s.dispatched.Add(1)
	s.recorder.dispatched()
	s.recorder.pending(s.registry.Len())

	s.tasksWg.Add(1)
	go s.execute(t)
}

// execute runs one task. Whatever the work does, the slot is released and
// the loop woken exactly once.
func (s *Scheduler) execute(t *task.Task) {
	defer s.tasksWg.Done()
	defer s.notify()
	defer s.limiter.Release()

	start := time.Now()
	defer func() {
		s.finish(t, start, recover())
	}()

	t.Advance(task.Dispatched, task.Running)
	s.recorder.started(start.Sub(t.Created()))
	s.logger.Info("task started", "task_name", t.Name(), "task_id", uint64(t.ID()))

	if s.config.OnTaskStart != nil {
		s.callSafely("start callback", t, func() { s.config.OnTaskStart(t.Info()) })
	}

	t.Run()
}

// finish records the outcome of a task. recovered is the value returned by
// recover() in execute.
func (s *Scheduler) finish(t *task.Task, start time.Time, recovered interface{}) {
	duration := time.Since(start)

	var failure error
	if recovered != nil {
		perr := &PanicError{Value: recovered, Stack: string(debug.Stack())}
		failure = perr
		s.failed.Add(1)
		s.logger.Error("task panicked",
			"task_name", t.Name(),
			"task_id", uint64(t.ID()),
			"panic", fmt.Sprint(recovered),
			"stack", perr.Stack)
	} else {
		s.completed.Add(1)
	}

	t.Advance(task.Running, task.Completed)

	result := Result{
		Task:     t.Info(),
		Err:      failure,
		Started:  start,
		Duration: duration,
	}
	s.recorder.finished(result)

	s.logger.Info("task finished",
		"task_name", t.Name(),
		"task_id", uint64(t.ID()),
		"duration", duration,
		"failed", failure != nil)

	if recovered != nil && s.config.PanicHandler != nil {
		s.callSafely("panic handler", t, func() { s.config.PanicHandler(result.Task, recovered) })
	}
	if s.config.OnTaskComplete != nil {
		s.callSafely("completion callback", t, func() { s.config.OnTaskComplete(result) })
	}
}

// callSafely runs a user callback and keeps its panic from escaping the
// task goroutine.
func (s *Scheduler) callSafely(what string, t *task.Task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(what+" panicked",
				"task_name", t.Name(),
				"task_id", uint64(t.ID()),
				"panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (s *Scheduler) logStopped() {
	st := s.Stats()
	s.logger.Info("dispatch stopped",
		"submitted", st.Submitted,
		"completed", st.Completed,
		"failed", st.Failed,
		"pending", st.Pending,
		"peak_in_flight", st.PeakInFlight,
		"backoffs", st.Backoffs)
}
