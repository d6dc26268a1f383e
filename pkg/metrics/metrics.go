// Package metrics provides Prometheus instrumentation for taskrun components.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metric instances for taskrun components.
type Registry struct {
	// Concurrency Metrics
	ConcurrencyActive   *prometheus.GaugeVec
	ConcurrencyCapacity *prometheus.GaugeVec
	ConcurrencyRejected *prometheus.CounterVec

	// Scheduler Metrics
	TasksCreated          *prometheus.CounterVec
	TasksDispatched       *prometheus.CounterVec
	TasksCompleted        *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TasksPending          *prometheus.GaugeVec
	TaskExecutionDuration *prometheus.HistogramVec
	TaskQueueWait         *prometheus.HistogramVec
	DispatchBackoffs      *prometheus.CounterVec

	// Recurring Submission Metrics
	RecurringFired  *prometheus.CounterVec
	RecurringErrors *prometheus.CounterVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry bound to prometheus.DefaultRegisterer.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// For returns the registry described by cfg. A nil cfg.Registry selects Default.
func For(cfg Config) *Registry {
	if cfg.Registry == nil && cfg.Namespace == "" && len(cfg.Labels) == 0 {
		return Default()
	}
	return NewRegistryWithConfig(cfg)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring the namespace and constant
// labels of cfg. Registering the same metric family twice on one registerer
// reuses the existing collector.
func NewRegistryWithConfig(cfg Config) *Registry {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	f := factory{reg: reg, ns: ns, labels: cfg.Labels}

	return &Registry{
		ConcurrencyActive: f.gauge("concurrency", "active",
			"Number of slots currently held", "limiter_name"),
		ConcurrencyCapacity: f.gauge("concurrency", "capacity",
			"Maximum number of slots", "limiter_name"),
		ConcurrencyRejected: f.counter("concurrency", "rejected_total",
			"Total number of acquire attempts refused at capacity", "limiter_name"),

		TasksCreated: f.counter("scheduler", "tasks_created_total",
			"Total number of tasks submitted", "scheduler_name"),
		TasksDispatched: f.counter("scheduler", "tasks_dispatched_total",
			"Total number of tasks handed to a goroutine", "scheduler_name"),
		TasksCompleted: f.counter("scheduler", "tasks_completed_total",
			"Total number of tasks that returned normally", "scheduler_name"),
		TasksFailed: f.counter("scheduler", "tasks_failed_total",
			"Total number of tasks that panicked", "scheduler_name"),
		TasksPending: f.gauge("scheduler", "tasks_pending",
			"Number of tasks waiting in the registry", "scheduler_name"),
		TaskExecutionDuration: f.histogram("scheduler", "task_duration_seconds",
			"Time spent executing tasks", "scheduler_name"),
		TaskQueueWait: f.histogram("scheduler", "task_queue_wait_seconds",
			"Time between submission and start of execution", "scheduler_name"),
		DispatchBackoffs: f.counter("scheduler", "dispatch_backoffs_total",
			"Number of times the dispatch loop waited for capacity", "scheduler_name"),

		RecurringFired: f.counter("recurring", "fired_total",
			"Total number of recurring submissions", "feeder_name", "job_id"),
		RecurringErrors: f.counter("recurring", "errors_total",
			"Total number of recurring submissions that were rejected", "feeder_name", "job_id"),
	}
}

type factory struct {
	reg    prometheus.Registerer
	ns     string
	labels prometheus.Labels
}

func (f factory) counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return register(f.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   f.ns,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: f.labels,
	}, labels))
}

func (f factory) gauge(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return register(f.reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   f.ns,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: f.labels,
	}, labels))
}

func (f factory) histogram(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return register(f.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   f.ns,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: f.labels,
		Buckets:     prometheus.DefBuckets,
	}, labels))
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
