package testutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// Eventually polls cond every tick until it returns true or waitFor elapses.
func Eventually(t testing.TB, cond func() bool, waitFor, tick time.Duration) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", waitFor)
		}
		time.Sleep(tick)
	}
}

// Gate blocks any number of goroutines until Open is called.
type Gate struct {
	ch   chan struct{}
	once sync.Once
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait blocks until the gate opens.
func (g *Gate) Wait() { <-g.ch }

// Open releases all current and future waiters. Safe to call repeatedly.
func (g *Gate) Open() { g.once.Do(func() { close(g.ch) }) }

// PeakTracker records how many callers are inside a section at once and the
// highest value ever seen.
type PeakTracker struct {
	current atomic.Int64
	peak    atomic.Int64
}

// Enter marks one more caller inside the section.
func (p *PeakTracker) Enter() {
	n := p.current.Add(1)
	for {
		m := p.peak.Load()
		if n <= m || p.peak.CompareAndSwap(m, n) {
			return
		}
	}
}

// Exit marks one caller leaving the section.
func (p *PeakTracker) Exit() { p.current.Add(-1) }

// Current returns how many callers are inside now.
func (p *PeakTracker) Current() int64 { return p.current.Load() }

// Peak returns the highest concurrent count observed.
func (p *PeakTracker) Peak() int64 { return p.peak.Load() }

// CallbackTracker counts invocations of a callback and keeps the last value.
type CallbackTracker struct {
	mu    sync.Mutex
	count int
	value interface{}
}

// NewCallbackTracker creates an empty tracker.
func NewCallbackTracker() *CallbackTracker {
	return &CallbackTracker{}
}

// Mark records one call, optionally storing a value.
func (c *CallbackTracker) Mark(v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if len(v) > 0 {
		c.value = v[0]
	}
}

// CallCount returns the number of recorded calls.
func (c *CallbackTracker) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Value returns the last stored value.
func (c *CallbackTracker) Value() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
