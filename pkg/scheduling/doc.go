/*
Package scheduling groups the building blocks of bounded-concurrency task
execution:

  - task: a named unit of work with an id and a lifecycle state
  - registry: the ordered collection of tasks waiting to run
  - scheduler: the dispatch loop that runs tasks with at most a fixed number
    in flight
  - recurring: submits work into a scheduler on cron and interval schedules

Typical use:

	s, _ := scheduler.New(scheduler.Config{MaxConcurrency: 8})

	for _, f := range files {
		f := f
		s.CreateTask("compress "+f, func() { compress(f) })
	}
	s.RunTasks() // returns when everything has run

For services, run the scheduler with Serve and feed it from request handlers
or a recurring.Feeder.
*/
package scheduling
