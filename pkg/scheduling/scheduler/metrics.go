package scheduler

import (
	"time"

	"github.com/vnykmshr/taskrun/pkg/metrics"
)

// recorder receives dispatch events. The no-op version is used when metrics
// are disabled so the hot path does not branch on configuration.
type recorder interface {
	created()
	dispatched()
	pending(n int)
	started(queueWait time.Duration)
	finished(result Result)
	backoff()
}

func newRecorder(name string, cfg metrics.Config) recorder {
	if !cfg.Enabled {
		return noopRecorder{}
	}
	return &promRecorder{name: name, registry: metrics.For(cfg)}
}

type noopRecorder struct{}

func (noopRecorder) created()              {}
func (noopRecorder) dispatched()           {}
func (noopRecorder) pending(int)           {}
func (noopRecorder) started(time.Duration) {}
func (noopRecorder) finished(Result)       {}
func (noopRecorder) backoff()              {}

// promRecorder reports to a metrics.Registry, labelled with the scheduler name.
type promRecorder struct {
	name     string
	registry *metrics.Registry
}

func (r *promRecorder) created() {
	r.registry.TasksCreated.WithLabelValues(r.name).Inc()
}

func (r *promRecorder) dispatched() {
	r.registry.TasksDispatched.WithLabelValues(r.name).Inc()
}

func (r *promRecorder) pending(n int) {
	r.registry.TasksPending.WithLabelValues(r.name).Set(float64(n))
}

func (r *promRecorder) started(queueWait time.Duration) {
	r.registry.TaskQueueWait.WithLabelValues(r.name).Observe(queueWait.Seconds())
}

func (r *promRecorder) finished(result Result) {
	r.registry.TaskExecutionDuration.WithLabelValues(r.name).Observe(result.Duration.Seconds())
	if result.Err != nil {
		r.registry.TasksFailed.WithLabelValues(r.name).Inc()
		return
	}
	r.registry.TasksCompleted.WithLabelValues(r.name).Inc()
}

func (r *promRecorder) backoff() {
	r.registry.DispatchBackoffs.WithLabelValues(r.name).Inc()
}
