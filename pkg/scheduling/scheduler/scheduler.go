package scheduler

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/common/validation"
	"github.com/vnykmshr/taskrun/pkg/metrics"
	"github.com/vnykmshr/taskrun/pkg/ratelimit/concurrency"
	"github.com/vnykmshr/taskrun/pkg/scheduling/registry"
	"github.com/vnykmshr/taskrun/pkg/scheduling/task"
)

const (
	// DefaultBackoff is how long the dispatch loop waits at capacity before
	// checking again.
	DefaultBackoff = 250 * time.Millisecond

	// MinBackoff and MaxBackoff bound Config.Backoff.
	MinBackoff = time.Millisecond
	MaxBackoff = time.Second

	// DefaultName labels logs and metrics when Config.Name is empty.
	DefaultName = "taskrun"
)

// Result describes one finished task. It is delivered to OnTaskComplete and
// never returned to the submitter.
type Result struct {
	// Task is a snapshot of the finished task.
	Task task.Info

	// Err is a *PanicError if the work panicked, nil otherwise.
	Err error

	// Started is when the work began executing.
	Started time.Time

	// Duration is how long the work ran.
	Duration time.Duration
}

// PanicError wraps a recovered panic value and its stack trace.
type PanicError struct {
	Value interface{}
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", p.Value)
}

// Config holds configuration options for creating a Scheduler.
type Config struct {
	// Name labels log records and metrics. Defaults to "taskrun".
	Name string

	// MaxConcurrency is the maximum number of tasks running at once.
	// Zero selects the number of logical CPUs at construction time.
	MaxConcurrency int

	// Order selects FIFO (default) or LIFO dequeue.
	Order registry.Order

	// Backoff is the longest the dispatch loop sleeps while every slot is
	// taken. A finishing task wakes it earlier. Zero selects DefaultBackoff.
	Backoff time.Duration

	// Logger receives task start, finish and failure records.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics enables Prometheus collection when Metrics.Enabled is true.
	Metrics metrics.Config

	// PanicHandler is called after a task panics, with the recovered value.
	PanicHandler func(info task.Info, recovered interface{})

	// OnTaskStart is called right before a task's work runs.
	OnTaskStart func(info task.Info)

	// OnTaskComplete is called after a task finishes, whether or not it panicked.
	OnTaskComplete func(result Result)
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	ID             string
	Name           string
	StartTime      time.Time
	MaxConcurrency int
	InFlight       int
	PeakInFlight   int
	Pending        int
	Submitted      int64
	Dispatched     int64
	Completed      int64
	Failed         int64
	Backoffs       int64
	Running        bool
	Closed         bool
}

// Scheduler runs submitted tasks with at most MaxConcurrency of them in
// flight at any instant.
type Scheduler struct {
	id        uuid.UUID
	name      string
	config    Config
	backoff   time.Duration
	startTime time.Time
	logger    *slog.Logger
	recorder  recorder

	registry *registry.Registry
	limiter  concurrency.Limiter

	wake      chan struct{}
	running   atomic.Bool
	submitMu  sync.RWMutex // held for reading across the closed check and the add
	closed    atomic.Bool
	closeOnce sync.Once
	tasksWg   sync.WaitGroup

	submitted  atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	backoffs   atomic.Int64
}

// New creates an empty scheduler.
func New(config Config) (*Scheduler, error) {
	if err := validation.ValidateNonNegative("scheduler", "max_concurrency", config.MaxConcurrency); err != nil {
		return nil, err
	}
	if config.Backoff != 0 {
		if err := validation.ValidateDurationRange("scheduler", "backoff", config.Backoff, MinBackoff, MaxBackoff); err != nil {
			return nil, err
		}
	}

	maxConcurrency := config.MaxConcurrency
	if maxConcurrency == 0 {
		maxConcurrency = runtime.NumCPU()
	}

	name := config.Name
	if name == "" {
		name = DefaultName
	}

	backoff := config.Backoff
	if backoff == 0 {
		backoff = DefaultBackoff
	}

	limiter, err := concurrency.NewWithMetrics(concurrency.Config{Capacity: maxConcurrency}, name, config.Metrics)
	if err != nil {
		return nil, errors.NewOperationError("scheduler", "New", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.Must(uuid.NewV7())
	config.Name = name
	config.MaxConcurrency = maxConcurrency
	config.Backoff = backoff

	return &Scheduler{
		id:        id,
		name:      name,
		config:    config,
		backoff:   backoff,
		startTime: time.Now(),
		logger:    logger.With("scheduler", name, "scheduler_id", id.String()),
		recorder:  newRecorder(name, config.Metrics),
		registry:  registry.New(config.Order),
		limiter:   limiter,
		wake:      make(chan struct{}, 1),
	}, nil
}

// NewDefault creates a scheduler with one slot per logical CPU, FIFO order
// and the default logger.
func NewDefault() *Scheduler {
	s, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return s
}

// CreateTask wraps work into a task, queues it and returns its id.
// It never blocks. It fails only for a nil work function or after Close.
func (s *Scheduler) CreateTask(name string, work func()) (task.ID, error) {
	if work == nil {
		return 0, errors.NewValidationError("scheduler", "work", nil, "cannot be nil").
			WithHint("provide the function to run")
	}

	s.submitMu.RLock()
	if s.closed.Load() {
		s.submitMu.RUnlock()
		return 0, errors.NewOperationError("scheduler", "CreateTask", errors.ErrClosed).
			WithContext("task " + name)
	}
	t := s.registry.Add(name, work)
	s.submitMu.RUnlock()

	s.submitted.Add(1)
	s.recorder.created()
	s.recorder.pending(s.registry.Len())
	s.notify()

	return t.ID(), nil
}

// Close stops accepting new tasks. Tasks already queued still run: a
// running Serve drains them and returns, and RunTasks may be called to do
// the same.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.submitMu.Lock()
		s.closed.Store(true)
		s.submitMu.Unlock()
		s.notify()
	})
	return nil
}

// ID returns the unique id of this scheduler instance.
func (s *Scheduler) ID() string { return s.id.String() }

// Name returns the configured name.
func (s *Scheduler) Name() string { return s.name }

// StartTime returns when the scheduler was created.
func (s *Scheduler) StartTime() time.Time { return s.startTime }

// MaxConcurrency returns the concurrency limit fixed at construction.
func (s *Scheduler) MaxConcurrency() int { return s.limiter.Capacity() }

// InFlight returns the number of tasks currently dispatched or running.
func (s *Scheduler) InFlight() int { return s.limiter.InUse() }

// Pending returns the number of queued tasks. Diagnostics only.
func (s *Scheduler) Pending() int { return s.registry.Len() }

// Order returns the dequeue policy.
func (s *Scheduler) Order() registry.Order { return s.registry.Order() }

// Stats returns a snapshot of counters and gauges.
func (s *Scheduler) Stats() Stats {
	return Stats{
		ID:             s.id.String(),
		Name:           s.name,
		StartTime:      s.startTime,
		MaxConcurrency: s.limiter.Capacity(),
		InFlight:       s.limiter.InUse(),
		PeakInFlight:   s.limiter.Peak(),
		Pending:        s.registry.Len(),
		Submitted:      s.submitted.Load(),
		Dispatched:     s.dispatched.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Backoffs:       s.backoffs.Load(),
		Running:        s.running.Load(),
		Closed:         s.closed.Load(),
	}
}

// notify wakes the dispatch loop without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
