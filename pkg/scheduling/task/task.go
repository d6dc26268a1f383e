package task

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ID identifies a task within one scheduler. IDs start at 1.
type ID uint64

// State is the lifecycle position of a task.
type State int32

const (
	// Pending tasks sit in the registry waiting for a free slot.
	Pending State = iota
	// Dispatched tasks hold a slot but have not started running yet.
	Dispatched
	// Running tasks are executing their work function.
	Running
	// Completed tasks have returned or panicked.
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Dispatched:
		return "dispatched"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Task is a named unit of deferred work.
type Task struct {
	id      ID
	name    string
	work    func()
	created time.Time
	state   atomic.Int32
}

// New wraps work into a Pending task.
func New(id ID, name string, work func()) *Task {
	return &Task{
		id:      id,
		name:    name,
		work:    work,
		created: time.Now(),
	}
}

// ID returns the task identifier.
func (t *Task) ID() ID { return t.id }

// Name returns the diagnostic label.
func (t *Task) Name() string { return t.name }

// Created returns when the task was submitted.
func (t *Task) Created() time.Time { return t.created }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Advance moves the task forward from one state to the next.
// It returns false if the task is not currently in from, or if from is
// Completed.
func (t *Task) Advance(from, to State) bool {
	if from >= Completed || to != from+1 {
		return false
	}
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// Run invokes the work function. The caller owns panic recovery.
func (t *Task) Run() {
	t.work()
}

// Info returns an immutable snapshot for callbacks and logs.
func (t *Task) Info() Info {
	return Info{
		ID:      t.id,
		Name:    t.name,
		Created: t.created,
		State:   t.State(),
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("%s:%d", t.name, t.id)
}

// Info is a read-only view of a task.
type Info struct {
	ID      ID
	Name    string
	Created time.Time
	State   State
}
