package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/stacks/arraystack"

	trerrors "github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/scheduling/task"
)

// Order selects which pending task Dequeue hands out next.
type Order int

const (
	// FIFO hands out tasks in submission order.
	FIFO Order = iota
	// LIFO hands out the most recently submitted task first.
	LIFO
)

func (o Order) String() string {
	switch o {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

// ParseOrder converts "fifo" or "lifo" (any case) to an Order.
// An empty string yields FIFO.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return FIFO, trerrors.NewValidationError("registry", "order", s, "unknown order").
			WithHint(`use "fifo" or "lifo"`)
	}
}

// container is the minimal ordered collection the registry needs.
type container interface {
	put(t *task.Task)
	take() (*task.Task, bool)
	size() int
	clear()
}

type fifo struct{ q *linkedlistqueue.Queue }

func (f fifo) put(t *task.Task) { f.q.Enqueue(t) }
func (f fifo) size() int        { return f.q.Size() }
func (f fifo) clear()           { f.q.Clear() }
func (f fifo) take() (*task.Task, bool) {
	v, ok := f.q.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(*task.Task), true
}

type lifo struct{ s *arraystack.Stack }

func (l lifo) put(t *task.Task) { l.s.Push(t) }
func (l lifo) size() int        { return l.s.Size() }
func (l lifo) clear()           { l.s.Clear() }
func (l lifo) take() (*task.Task, bool) {
	v, ok := l.s.Pop()
	if !ok {
		return nil, false
	}
	return v.(*task.Task), true
}

// Registry is the shared collection of pending tasks.
// All methods are safe for concurrent use; the lock is held only for the
// duration of a single collection operation.
type Registry struct {
	mu      sync.Mutex
	order   Order
	pending container
	seq     task.ID
}

// New creates an empty registry with the given order.
// Unknown orders fall back to FIFO.
func New(order Order) *Registry {
	r := &Registry{order: order}
	switch order {
	case LIFO:
		r.pending = lifo{s: arraystack.New()}
	default:
		r.order = FIFO
		r.pending = fifo{q: linkedlistqueue.New()}
	}
	return r
}

// Add wraps work into a new task and enqueues it. IDs come from a counter
// advanced under the registry lock, so they are unique and increase in
// insertion order regardless of how many tasks have been dequeued.
func (r *Registry) Add(name string, work func()) *task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	t := task.New(r.seq, name, work)
	r.pending.put(t)
	return t
}

// Enqueue adds an existing task to the pending collection.
func (r *Registry) Enqueue(t *task.Task) {
	r.mu.Lock()
	r.pending.put(t)
	r.mu.Unlock()
}

// Dequeue removes and returns the next task, or false if none is pending.
func (r *Registry) Dequeue() (*task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.take()
}

// Len returns the number of pending tasks. The value is stale as soon as it
// is returned and must only be used for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.size()
}

// Drain removes every pending task and returns them in dequeue order.
func (r *Registry) Drain() []*task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*task.Task, 0, r.pending.size())
	for {
		t, ok := r.pending.take()
		if !ok {
			break
		}
		out = append(out, t)
	}
	r.pending.clear()
	return out
}

// Order reports the dequeue policy.
func (r *Registry) Order() Order {
	return r.order
}
