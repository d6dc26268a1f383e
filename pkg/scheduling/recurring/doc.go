/*
Package recurring submits work to a scheduler on a timetable.

A Feeder owns a set of entries, each pairing a unit of work with a schedule:

  - a cron expression (Add), in the standard five-field format, with an
    optional leading seconds field, or a descriptor such as "@hourly" or
    "@every 30s";
  - a fixed interval (AddInterval), first firing one interval after it is
    added;
  - a single point in time (AddAt), after which the entry is removed.

Every TickInterval the feeder checks which entries are due and hands their
work to its Submitter through CreateTask. The feeder never runs work itself,
so the scheduler's concurrency limit applies to recurring work like any other
task. A rejected submission, for example after the scheduler is closed, is
logged and counted and the entry stays registered.

Basic usage:

	s, _ := scheduler.New(scheduler.Config{MaxConcurrency: 4})
	go s.Serve(ctx)

	feeder, _ := recurring.New(s, recurring.Config{Location: time.UTC})
	feeder.Add("cleanup", "0 0/2 * * *", "remove stale files", cleanup)
	feeder.AddInterval("heartbeat", 30*time.Second, "heartbeat", ping)

	feeder.Start()
	defer func() { <-feeder.Stop() }()

Expressions can be checked up front with Validate, and NextRuns lists the
upcoming activation times of an expression.
*/
package recurring
