package concurrency

import (
	"sync/atomic"

	"github.com/vnykmshr/taskrun/pkg/common/errors"
)

// Limiter bounds the number of operations that may run at once.
// The check against capacity and the increment happen as one atomic step,
// so concurrent callers can never push InUse above Capacity.
type Limiter interface {
	// Acquire attempts to take one slot without blocking.
	// It returns true if a slot was free.
	Acquire() bool

	// Release returns one slot to the limiter.
	// It panics if more slots are released than were acquired.
	Release()

	// Capacity returns the maximum number of concurrent operations allowed.
	Capacity() int

	// Available returns the number of slots currently free.
	Available() int

	// InUse returns the number of slots currently held.
	InUse() int

	// Peak returns the highest InUse value observed since creation.
	Peak() int
}

// Config holds configuration options for creating a new concurrency Limiter.
type Config struct {
	// Capacity is the maximum number of concurrent operations allowed.
	Capacity int
}

// concurrencyLimiter implements Limiter with a compare-and-swap counter.
type concurrencyLimiter struct {
	capacity int64
	inUse    atomic.Int64
	peak     atomic.Int64
}

// New creates a limiter and panics on an invalid capacity.
func New(capacity int) Limiter {
	l, err := NewSafe(capacity)
	if err != nil {
		panic("invalid concurrency limiter configuration: " + err.Error())
	}
	return l
}

// NewSafe creates a new concurrency limiter with validation that returns an error instead of panicking.
// This is the recommended way to create concurrency limiters for production use.
func NewSafe(capacity int) (Limiter, error) {
	return NewWithConfigSafe(Config{Capacity: capacity})
}

// NewWithConfigSafe creates a new concurrency limiter with validation that returns an error instead of panicking.
func NewWithConfigSafe(config Config) (Limiter, error) {
	if config.Capacity <= 0 {
		return nil, errors.NewValidationError("concurrency", "capacity", config.Capacity, "capacity must be positive").
			WithHint("capacity determines how many concurrent operations are allowed")
	}

	return &concurrencyLimiter{capacity: int64(config.Capacity)}, nil
}
