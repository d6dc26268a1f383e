// Package metrics provides Prometheus instrumentation for taskrun components.
//
// # Quick Start
//
// Enable metrics through the component configuration:
//
//	s, err := scheduler.New(scheduler.Config{
//		Name:    "thumbnails",
//		Metrics: metrics.Config{Enabled: true},
//	})
//
// Then expose them via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// # Custom Registry
//
// Use a custom Prometheus registry for isolation, for example in tests:
//
//	reg := prometheus.NewRegistry()
//	cfg := metrics.Config{Enabled: true, Registry: reg}
//
// Building two Registry values on the same registerer is allowed; the second
// reuses the collectors of the first.
//
// # Available Metrics
//
// Concurrency:
//
//   - taskrun_concurrency_active: slots currently held
//   - taskrun_concurrency_capacity: maximum number of slots
//   - taskrun_concurrency_rejected_total: acquire attempts refused at capacity
//
// Scheduler:
//
//   - taskrun_scheduler_tasks_created_total
//   - taskrun_scheduler_tasks_dispatched_total
//   - taskrun_scheduler_tasks_completed_total
//   - taskrun_scheduler_tasks_failed_total
//   - taskrun_scheduler_tasks_pending
//   - taskrun_scheduler_task_duration_seconds
//   - taskrun_scheduler_task_queue_wait_seconds
//   - taskrun_scheduler_dispatch_backoffs_total
//
// Recurring submission:
//
//   - taskrun_recurring_fired_total
//   - taskrun_recurring_errors_total
//
// # Labels
//
//   - limiter_name: name of the concurrency limiter (the scheduler name)
//   - scheduler_name: Config.Name of the scheduler
//   - feeder_name, job_id: recurring feeder and entry
package metrics
