package concurrency

import (
	"sync/atomic"

	"github.com/vnykmshr/taskrun/pkg/metrics"
)

// MetricsLimiter wraps a concurrency Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	limiter  Limiter
	name     string
	registry atomic.Pointer[metrics.Registry]
	enabled  atomic.Bool
}

// NewWithMetrics creates a limiter that reports to the registry selected by cfg.
// If cfg.Enabled is false the plain limiter is returned.
func NewWithMetrics(config Config, name string, cfg metrics.Config) (Limiter, error) {
	base, err := NewWithConfigSafe(config)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return base, nil
	}

	ml := &MetricsLimiter{limiter: base, name: name}
	ml.registry.Store(metrics.For(cfg))
	ml.enabled.Store(true)
	ml.registry.Load().ConcurrencyCapacity.WithLabelValues(name).Set(float64(base.Capacity()))
	ml.updateMetrics()

	return ml, nil
}

func (ml *MetricsLimiter) updateMetrics() {
	if !ml.enabled.Load() {
		return
	}
	ml.registry.Load().ConcurrencyActive.WithLabelValues(ml.name).Set(float64(ml.limiter.InUse()))
}

// Acquire attempts to take one slot without blocking.
func (ml *MetricsLimiter) Acquire() bool {
	ok := ml.limiter.Acquire()

	if ml.enabled.Load() {
		if !ok {
			ml.registry.Load().ConcurrencyRejected.WithLabelValues(ml.name).Inc()
		}
		ml.updateMetrics()
	}

	return ok
}

// Release returns one slot to the limiter.
func (ml *MetricsLimiter) Release() {
	ml.limiter.Release()
	ml.updateMetrics()
}

// Capacity returns the maximum number of concurrent operations allowed.
func (ml *MetricsLimiter) Capacity() int {
	return ml.limiter.Capacity()
}

// Available returns the number of slots currently free.
func (ml *MetricsLimiter) Available() int {
	return ml.limiter.Available()
}

// InUse returns the number of slots currently held.
func (ml *MetricsLimiter) InUse() int {
	return ml.limiter.InUse()
}

// Peak returns the highest InUse value observed.
func (ml *MetricsLimiter) Peak() int {
	return ml.limiter.Peak()
}

// EnableMetrics enables metrics collection.
func (ml *MetricsLimiter) EnableMetrics(config metrics.Config) error {
	if config.Registry != nil {
		ml.registry.Store(metrics.NewRegistryWithConfig(config))
	}
	ml.enabled.Store(config.Enabled)
	ml.updateMetrics()
	return nil
}

// DisableMetrics disables metrics collection.
func (ml *MetricsLimiter) DisableMetrics() {
	ml.enabled.Store(false)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (ml *MetricsLimiter) MetricsEnabled() bool {
	return ml.enabled.Load()
}
