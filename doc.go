/*
Package taskrun runs named units of deferred work on goroutines with a hard
cap on how many run at once.

Task Scheduling (pkg/scheduling):
  - scheduler: bounded-concurrency dispatch, run-to-completion or long-lived
  - registry: FIFO or LIFO pending queue
  - task: task identity and lifecycle state
  - recurring: cron and interval submissions into a scheduler

Supporting packages:
  - pkg/ratelimit/concurrency: the CAS slot counter bounding in-flight work
  - pkg/metrics: Prometheus collectors for all of the above
  - pkg/common/errors, pkg/common/validation: error types and config checks

Example usage:

	import "github.com/vnykmshr/taskrun/pkg/scheduling/scheduler"

	s, err := scheduler.New(scheduler.Config{MaxConcurrency: 4})
	if err != nil {
		log.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		i := i
		s.CreateTask(fmt.Sprintf("job-%d", i), func() { process(i) })
	}

	if err := s.RunTasks(); err != nil {
		log.Fatal(err)
	}

See the examples/ directory for long-lived and metrics-enabled programs.
*/
package taskrun
