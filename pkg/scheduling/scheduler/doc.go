/*
Package scheduler runs named units of work on goroutines with a hard bound on
how many run at the same time.

Tasks are submitted with CreateTask and wait in a registry until the dispatch
loop hands them to a goroutine. A slot is taken with an atomic
compare-and-increment before a task is dequeued, so the number of tasks in
flight never exceeds MaxConcurrency. When every slot is taken the loop sleeps
for at most Config.Backoff, or less if a running task finishes first.

Basic usage:

	s, err := scheduler.New(scheduler.Config{MaxConcurrency: 4})
	if err != nil {
		return err
	}

	for _, url := range urls {
		url := url
		s.CreateTask("fetch "+url, func() { fetch(url) })
	}

	// Returns once every task, including ones submitted by running tasks,
	// has finished.
	if err := s.RunTasks(); err != nil {
		return err
	}

Long-lived mode:

Serve keeps dispatching as new tasks arrive and parks while idle. It returns
when its context is canceled, after waiting for in-flight tasks, or after
Close once the registry has drained.

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go s.Serve(ctx)

Failures:

A panic inside a task is recovered at the goroutine boundary. It is logged,
counted as failed, passed to Config.PanicHandler and reported on the Result
given to Config.OnTaskComplete as a *PanicError. Other tasks are unaffected.
Tasks have no return value and errors never reach the submitter.

Observability:

Every task start and finish is logged through the configured *slog.Logger
with task_name and task_id attributes. Prometheus metrics are recorded when
Config.Metrics.Enabled is set.
*/
package scheduler
