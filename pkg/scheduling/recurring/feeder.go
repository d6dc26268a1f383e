package recurring

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/common/validation"
	"github.com/vnykmshr/taskrun/pkg/metrics"
	"github.com/vnykmshr/taskrun/pkg/scheduling/task"
)

const (
	// DefaultTickInterval is how often due entries are checked.
	DefaultTickInterval = 50 * time.Millisecond

	// DefaultMaxEntries caps the number of registered entries.
	DefaultMaxEntries = 10000

	// MaxIDLength is the longest accepted entry id.
	MaxIDLength = 255
)

// Submitter accepts work for execution. *scheduler.Scheduler satisfies it.
type Submitter interface {
	CreateTask(name string, work func()) (task.ID, error)
}

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds feeder configuration.
type Config struct {
	// Name labels log records and metrics. Defaults to "recurring".
	Name string

	// TickInterval is how often due entries are checked (default 50ms).
	TickInterval time.Duration

	// MaxEntries caps the number of registered entries (default 10000).
	MaxEntries int

	// Location is used to evaluate cron expressions (default time.Local).
	Location *time.Location

	// Clock defaults to the wall clock.
	Clock Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics enables Prometheus collection when Metrics.Enabled is true.
	Metrics metrics.Config
}

// Entry is a snapshot of one registered recurring submission.
type Entry struct {
	ID       string
	Name     string
	Cron     string        // empty for interval and one-shot entries
	Interval time.Duration // zero for cron and one-shot entries
	Next     time.Time
	Last     time.Time
	Runs     int64
	Errors   int64
	LastTask task.ID
	Created  time.Time
}

type entry struct {
	id       string
	name     string
	expr     string
	interval time.Duration
	schedule cron.Schedule
	work     func()
	next     time.Time
	last     time.Time
	runs     int64
	errors   int64
	lastTask task.ID
	created  time.Time
}

func (e *entry) snapshot() Entry {
	return Entry{
		ID:       e.id,
		Name:     e.name,
		Cron:     e.expr,
		Interval: e.interval,
		Next:     e.next,
		Last:     e.last,
		Runs:     e.runs,
		Errors:   e.errors,
		LastTask: e.lastTask,
		Created:  e.created,
	}
}

// Feeder submits work to a Submitter on cron schedules, fixed intervals or
// once at a given time. It never runs work itself.
type Feeder struct {
	submitter  Submitter
	name       string
	tick       time.Duration
	maxEntries int
	location   *time.Location
	clock      Clock
	logger     *slog.Logger
	registry   *metrics.Registry

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// New creates a stopped feeder that submits to sub.
func New(sub Submitter, cfg Config) (*Feeder, error) {
	if err := validation.ValidateNotNil("recurring", "submitter", sub); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("recurring", "max_entries", cfg.MaxEntries); err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "recurring"
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feeder{
		submitter:  sub,
		name:       name,
		tick:       tick,
		maxEntries: maxEntries,
		location:   loc,
		clock:      clock,
		logger:     logger.With("feeder", name),
		entries:    make(map[string]*entry),
	}
	if cfg.Metrics.Enabled {
		f.registry = metrics.For(cfg.Metrics)
	}
	return f, nil
}

// Add registers work to be submitted under name at every activation of the
// cron expression expr.
func (f *Feeder) Add(id, expr, name string, work func()) error {
	schedule, err := Parse(expr)
	if err != nil {
		return err
	}
	return f.add(&entry{id: id, name: name, expr: expr, schedule: schedule, work: work},
		func(now time.Time) time.Time { return schedule.Next(now.In(f.location)) })
}

// AddInterval registers work to be submitted every interval, starting one
// interval from now.
func (f *Feeder) AddInterval(id string, interval time.Duration, name string, work func()) error {
	if interval <= 0 {
		return errors.NewValidationError("recurring", "interval", interval, "must be positive")
	}
	schedule := everySchedule{interval: interval}
	return f.add(&entry{id: id, name: name, interval: interval, schedule: schedule, work: work},
		func(now time.Time) time.Time { return schedule.Next(now) })
}

// AddAt registers work to be submitted once at runAt. The entry is removed
// after it fires.
func (f *Feeder) AddAt(id string, runAt time.Time, name string, work func()) error {
	if runAt.IsZero() {
		return errors.NewValidationError("recurring", "run_at", runAt, "cannot be zero")
	}
	return f.add(&entry{id: id, name: name, schedule: onceSchedule{}, work: work},
		func(time.Time) time.Time { return runAt })
}

func (f *Feeder) add(e *entry, first func(now time.Time) time.Time) error {
	if err := validation.ValidateNotEmpty("recurring", "id", e.id); err != nil {
		return err
	}
	if err := validation.ValidateMaxLength("recurring", "id", e.id, MaxIDLength); err != nil {
		return err
	}
	if e.work == nil {
		return errors.NewValidationError("recurring", "work", nil, "cannot be nil")
	}
	if e.name == "" {
		e.name = e.id
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[e.id]; exists {
		return errors.NewValidationError("recurring", "id", e.id, "already registered").
			WithHint("remove the existing entry first or use a different id")
	}
	if len(f.entries) >= f.maxEntries {
		return errors.NewOperationError("recurring", "Add", errors.ErrCapacityExceeded).
			WithContext(fmt.Sprintf("max %d entries", f.maxEntries))
	}

	now := f.clock.Now()
	e.created = now
	e.next = first(now)
	f.entries[e.id] = e
	return nil
}

// Remove unregisters an entry. It reports whether the id was registered.
func (f *Feeder) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[id]; !exists {
		return false
	}
	delete(f.entries, id)
	return true
}

// RemoveAll unregisters every entry.
func (f *Feeder) RemoveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]*entry)
}

// Get returns a snapshot of one entry.
func (f *Feeder) Get(id string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// List returns snapshots of all entries ordered by next activation.
func (f *Feeder) List() []Entry {
	f.mu.Lock()
	entries := make([]Entry, 0, len(f.entries))
	for _, e := range f.entries {
		entries = append(entries, e.snapshot())
	}
	f.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Next.Equal(entries[j].Next) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Next.Before(entries[j].Next)
	})
	return entries
}

// Len returns the number of registered entries.
func (f *Feeder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Start begins checking for due entries every TickInterval.
func (f *Feeder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return errors.NewOperationError("recurring", "Start", errors.ErrAlreadyRunning).
			WithContext("call Stop first")
	}

	f.running = true
	f.done = make(chan struct{})
	f.stopped = make(chan struct{})

	go f.run(f.done, f.stopped)
	f.logger.Info("feeder started", "entries", len(f.entries), "tick", f.tick)
	return nil
}

// Stop ends the check loop. The returned channel closes once the loop has
// exited. Work already submitted is not affected.
func (f *Feeder) Stop() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		stopped := make(chan struct{})
		close(stopped)
		return stopped
	}

	f.running = false
	close(f.done)
	return f.stopped
}

func (f *Feeder) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			f.logger.Info("feeder stopped")
			return
		case <-ticker.C:
			f.safeProcessDue()
		}
	}
}

func (f *Feeder) safeProcessDue() {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("processing due entries panicked", "panic", fmt.Sprint(r))
		}
	}()
	f.processDue()
}

// processDue submits every entry whose activation time has passed and
// returns how many submissions succeeded.
func (f *Feeder) processDue() int {
	now := f.clock.Now()

	f.mu.Lock()
	due := make([]*entry, 0)
	for id, e := range f.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, e)

		next := e.schedule.Next(now.In(f.location))
		if next.IsZero() {
			delete(f.entries, id)
		}
		e.next = next
	}
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })

	submitted := 0
	for _, e := range due {
		taskID, err := f.submitter.CreateTask(e.name, e.work)

		f.mu.Lock()
		e.last = now
		if err != nil {
			e.errors++
		} else {
			e.runs++
			e.lastTask = taskID
		}
		f.mu.Unlock()

		if err != nil {
			f.logger.Warn("recurring submission rejected", "entry_id", e.id, "task_name", e.name, "error", err)
			if f.registry != nil {
				f.registry.RecurringErrors.WithLabelValues(f.name, e.id).Inc()
			}
			continue
		}

		submitted++
		f.logger.Debug("recurring submission", "entry_id", e.id, "task_name", e.name, "task_id", uint64(taskID))
		if f.registry != nil {
			f.registry.RecurringFired.WithLabelValues(f.name, e.id).Inc()
		}
	}
	return submitted
}
