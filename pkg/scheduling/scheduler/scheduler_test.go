package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/taskrun/internal/logging"
	"github.com/vnykmshr/taskrun/internal/testutil"
	"github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/metrics"
	"github.com/vnykmshr/taskrun/pkg/scheduling/registry"
	"github.com/vnykmshr/taskrun/pkg/scheduling/task"
)

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

// runAsync starts RunTasks in the background and returns a channel that
// receives its result.
func runAsync(s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.RunTasks() }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testutil.TestTimeout):
		t.Fatal("dispatch did not return")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantMax int
		wantErr bool
	}{
		{"defaults", Config{}, runtime.NumCPU(), false},
		{"explicit limit", Config{MaxConcurrency: 3}, 3, false},
		{"negative limit", Config{MaxConcurrency: -1}, 0, true},
		{"backoff too short", Config{Backoff: time.Microsecond}, 0, true},
		{"backoff too long", Config{Backoff: 2 * time.Second}, 0, true},
		{"backoff at bound", Config{Backoff: MaxBackoff, MaxConcurrency: 1}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = logging.Discard()
			s, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, s.MaxConcurrency())
			assert.Equal(t, 0, s.InFlight())
			assert.Equal(t, 0, s.Pending())
			assert.Equal(t, DefaultName, s.Name())
			assert.NotEmpty(t, s.ID())
			assert.False(t, s.StartTime().IsZero())
			assert.Equal(t, registry.FIFO, s.Order())
		})
	}
}

func TestNewDefault(t *testing.T) {
	s := NewDefault()
	assert.Equal(t, runtime.NumCPU(), s.MaxConcurrency())
	assert.NotEqual(t, NewDefault().ID(), s.ID())
}

func TestCreateTask(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 2})

	t.Run("nil work", func(t *testing.T) {
		_, err := s.CreateTask("nil", nil)
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
		assert.Equal(t, 0, s.Pending())
	})

	t.Run("ids strictly increasing", func(t *testing.T) {
		var last task.ID
		for i := 0; i < 100; i++ {
			id, err := s.CreateTask(fmt.Sprintf("t%d", i), func() {})
			require.NoError(t, err)
			assert.Greater(t, id, last)
			last = id
		}
		assert.Equal(t, task.ID(100), last)
		assert.Equal(t, 100, s.Pending())
	})

	t.Run("ids not reused after dispatch", func(t *testing.T) {
		require.NoError(t, s.RunTasks())
		id, err := s.CreateTask("after", func() {})
		require.NoError(t, err)
		assert.Equal(t, task.ID(101), id)
		require.NoError(t, s.RunTasks())
	})
}

func TestCreateTaskConcurrentIDsUnique(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 4})

	const producers, perProducer = 8, 50
	var (
		mu   sync.Mutex
		seen = make(map[task.ID]bool)
		wg   sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id, err := s.CreateTask("p", func() {})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, producers*perProducer)
	require.NoError(t, s.RunTasks())
	assert.Equal(t, int64(producers*perProducer), s.Stats().Completed)
}

func TestConcurrencyBound(t *testing.T) {
	const limit = 3
	s := newTestScheduler(t, Config{MaxConcurrency: limit, Backoff: 5 * time.Millisecond})

	gate := testutil.NewGate()
	var tracker testutil.PeakTracker
	for i := 0; i < 3*limit; i++ {
		_, err := s.CreateTask(fmt.Sprintf("blocked-%d", i), func() {
			tracker.Enter()
			defer tracker.Exit()
			gate.Wait()
		})
		require.NoError(t, err)
	}

	done := runAsync(s)
	testutil.Eventually(t, func() bool { return tracker.Current() == limit }, testutil.TestTimeout, time.Millisecond)

	// give the loop time to overshoot if it could
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, limit, s.InFlight())
	assert.Equal(t, 2*limit, s.Pending())

	gate.Open()
	waitDone(t, done)

	assert.Equal(t, int64(limit), tracker.Peak())
	assert.Equal(t, limit, s.Stats().PeakInFlight)
	assert.Equal(t, 0, s.InFlight())
}

func TestNoLossNoDuplication(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 8})

	const n = 1000
	var counter atomic.Int64
	for i := 0; i < n; i++ {
		_, err := s.CreateTask("inc", func() { counter.Add(1) })
		require.NoError(t, err)
	}

	require.NoError(t, s.RunTasks())

	assert.Equal(t, int64(n), counter.Load())
	st := s.Stats()
	assert.Equal(t, int64(n), st.Submitted)
	assert.Equal(t, int64(n), st.Dispatched)
	assert.Equal(t, int64(n), st.Completed)
	assert.Equal(t, 0, st.Pending)
}

func TestRunToCompletion(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 2})

	var flag atomic.Bool
	_, err := s.CreateTask("slow", func() {
		time.Sleep(200 * time.Millisecond)
		flag.Store(true)
	})
	require.NoError(t, err)

	require.NoError(t, s.RunTasks())
	assert.True(t, flag.Load())
}

func TestRunTasksPicksUpNestedSubmissions(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 2})

	var count atomic.Int64
	var spawn func(depth int) func()
	spawn = func(depth int) func() {
		return func() {
			count.Add(1)
			if depth == 0 {
				return
			}
			_, err := s.CreateTask("child", spawn(depth-1))
			assert.NoError(t, err)
		}
	}
	_, err := s.CreateTask("root", spawn(5))
	require.NoError(t, err)

	require.NoError(t, s.RunTasks())
	assert.Equal(t, int64(6), count.Load())
}

func TestRunTasksEmpty(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 1})
	require.NoError(t, s.RunTasks())

	st := s.Stats()
	assert.Equal(t, int64(0), st.Dispatched)
	assert.Equal(t, 0, st.PeakInFlight, "no slot is taken without a task")
	assert.Equal(t, int64(0), st.Backoffs)
}

func TestIdleServeTakesNoSlot(t *testing.T) {
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}
	s := newTestScheduler(t, Config{Name: "idle", MaxConcurrency: 2, Backoff: time.Millisecond, Metrics: mcfg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	// let the loop spin through many idle wakeups
	time.Sleep(30 * time.Millisecond)
	cancel()
	waitDone(t, done)

	assert.Equal(t, 0, s.Stats().PeakInFlight)
	m := metrics.For(mcfg)
	assert.Equal(t, 0.0, promtestutil.ToFloat64(m.ConcurrencyRejected.WithLabelValues("idle")))
	assert.Equal(t, 0, promtestutil.CollectAndCount(m.ConcurrencyActive))
}

func TestCloseRacingCreateTask(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := newTestScheduler(t, Config{MaxConcurrency: 4, Backoff: time.Millisecond})

		done := make(chan error, 1)
		go func() { done <- s.Serve(context.Background()) }()

		var (
			accepted atomic.Int64
			ran      atomic.Int64
			wg       sync.WaitGroup
		)
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					if _, err := s.CreateTask("racer", func() { ran.Add(1) }); err != nil {
						assert.True(t, errors.IsClosed(err))
						return
					}
					accepted.Add(1)
				}
			}()
		}

		time.Sleep(time.Duration(round%5) * 100 * time.Microsecond)
		require.NoError(t, s.Close())
		waitDone(t, done)
		wg.Wait()

		// every accepted task was dispatched before Serve returned
		assert.Equal(t, accepted.Load(), ran.Load(), "round %d", round)
		assert.Equal(t, 0, s.Pending(), "round %d", round)
	}
}

func TestPanicIsolation(t *testing.T) {
	panics := testutil.NewCallbackTracker()
	var (
		mu      sync.Mutex
		results []Result
	)
	s := newTestScheduler(t, Config{
		MaxConcurrency: 2,
		PanicHandler: func(info task.Info, recovered interface{}) {
			panics.Mark(recovered)
		},
		OnTaskComplete: func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})

	var normal atomic.Bool
	badID, err := s.CreateTask("bad", func() { panic("boom") })
	require.NoError(t, err)
	_, err = s.CreateTask("good", func() { normal.Store(true) })
	require.NoError(t, err)

	require.NoError(t, s.RunTasks())

	assert.True(t, normal.Load())
	assert.Equal(t, 1, panics.CallCount())
	assert.Equal(t, "boom", panics.Value())

	st := s.Stats()
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, 0, st.InFlight)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, task.Completed, r.Task.State)
		if r.Task.ID == badID {
			var perr *PanicError
			require.ErrorAs(t, r.Err, &perr)
			assert.Equal(t, "boom", perr.Value)
			assert.NotEmpty(t, perr.Stack)
			assert.Contains(t, perr.Error(), "boom")
		} else {
			assert.NoError(t, r.Err)
		}
	}
}

func TestCallbackPanicsAreContained(t *testing.T) {
	s := newTestScheduler(t, Config{
		MaxConcurrency: 1,
		OnTaskStart:    func(task.Info) { panic("start") },
		OnTaskComplete: func(Result) { panic("complete") },
	})

	var ran atomic.Bool
	_, err := s.CreateTask("work", func() { ran.Store(true) })
	require.NoError(t, err)

	require.NoError(t, s.RunTasks())
	assert.True(t, ran.Load())
	assert.Equal(t, int64(1), s.Stats().Completed)
	assert.Equal(t, 0, s.InFlight())
}

func TestLifecycleCallbacks(t *testing.T) {
	started := testutil.NewCallbackTracker()
	completed := testutil.NewCallbackTracker()
	s := newTestScheduler(t, Config{
		MaxConcurrency: 1,
		OnTaskStart:    func(info task.Info) { started.Mark(info) },
		OnTaskComplete: func(r Result) { completed.Mark(r) },
	})

	id, err := s.CreateTask("observed", func() { time.Sleep(5 * time.Millisecond) })
	require.NoError(t, err)
	require.NoError(t, s.RunTasks())

	require.Equal(t, 1, started.CallCount())
	info := started.Value().(task.Info)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "observed", info.Name)
	assert.Equal(t, task.Running, info.State)

	require.Equal(t, 1, completed.CallCount())
	r := completed.Value().(Result)
	assert.Equal(t, id, r.Task.ID)
	assert.Equal(t, task.Completed, r.Task.State)
	assert.GreaterOrEqual(t, r.Duration, 5*time.Millisecond)
	assert.False(t, r.Started.IsZero())
}

func TestDequeueOrder(t *testing.T) {
	tests := []struct {
		order registry.Order
		want  []string
	}{
		{registry.FIFO, []string{"a", "b", "c", "d"}},
		{registry.LIFO, []string{"d", "c", "b", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			s := newTestScheduler(t, Config{MaxConcurrency: 1, Order: tt.order})

			var (
				mu  sync.Mutex
				got []string
			)
			for _, name := range []string{"a", "b", "c", "d"} {
				name := name
				_, err := s.CreateTask(name, func() {
					mu.Lock()
					got = append(got, name)
					mu.Unlock()
				})
				require.NoError(t, err)
			}

			require.NoError(t, s.RunTasks())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.order, s.Order())
		})
	}
}

func TestBackoffIsBounded(t *testing.T) {
	const backoff = 20 * time.Millisecond
	s := newTestScheduler(t, Config{MaxConcurrency: 2, Backoff: backoff})

	gate := testutil.NewGate()
	for i := 0; i < 4; i++ {
		_, err := s.CreateTask("blocked", gate.Wait)
		require.NoError(t, err)
	}

	done := runAsync(s)
	testutil.Eventually(t, func() bool { return s.InFlight() == 2 }, testutil.TestTimeout, time.Millisecond)

	const hold = 200 * time.Millisecond
	time.Sleep(hold)
	atCapacity := s.Stats().Backoffs

	gate.Open()
	waitDone(t, done)

	// one check per backoff interval, plus a few early wakes
	assert.GreaterOrEqual(t, atCapacity, int64(1))
	assert.LessOrEqual(t, atCapacity, int64(hold/backoff)+5)
}

func TestAlreadyRunning(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 1})

	gate := testutil.NewGate()
	_, err := s.CreateTask("blocked", gate.Wait)
	require.NoError(t, err)

	done := runAsync(s)
	testutil.Eventually(t, func() bool { return s.Stats().Running && s.InFlight() == 1 }, testutil.TestTimeout, time.Millisecond)

	assert.ErrorIs(t, s.RunTasks(), errors.ErrAlreadyRunning)
	assert.ErrorIs(t, s.Serve(context.Background()), errors.ErrAlreadyRunning)

	gate.Open()
	waitDone(t, done)
	assert.False(t, s.Stats().Running)
}

func TestClose(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrency: 2})

	var ran atomic.Int64
	for i := 0; i < 3; i++ {
		_, err := s.CreateTask("queued", func() { ran.Add(1) })
		require.NoError(t, err)
	}

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.CreateTask("late", func() {})
	require.Error(t, err)
	assert.True(t, errors.IsClosed(err))
	assert.True(t, s.Stats().Closed)

	// tasks queued before Close still run
	require.NoError(t, s.RunTasks())
	assert.Equal(t, int64(3), ran.Load())
}

func TestServe(t *testing.T) {
	t.Run("dispatches as tasks arrive", func(t *testing.T) {
		s := newTestScheduler(t, Config{MaxConcurrency: 2, Backoff: 10 * time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx) }()

		var ran atomic.Int64
		for i := 0; i < 10; i++ {
			_, err := s.CreateTask("live", func() { ran.Add(1) })
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}
		testutil.Eventually(t, func() bool { return ran.Load() == 10 }, testutil.TestTimeout, time.Millisecond)

		// idle but still serving
		assert.True(t, s.Stats().Running)

		cancel()
		waitDone(t, done)

		_, err := s.CreateTask("after", func() {})
		assert.True(t, errors.IsClosed(err))
	})

	t.Run("cancel waits for in-flight and leaves the rest queued", func(t *testing.T) {
		s := newTestScheduler(t, Config{MaxConcurrency: 1, Backoff: 10 * time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())

		gate := testutil.NewGate()
		var finished atomic.Bool
		_, err := s.CreateTask("blocked", func() {
			gate.Wait()
			finished.Store(true)
		})
		require.NoError(t, err)
		_, err = s.CreateTask("never", func() {})
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx) }()
		testutil.Eventually(t, func() bool { return s.InFlight() == 1 }, testutil.TestTimeout, time.Millisecond)

		cancel()
		select {
		case <-done:
			t.Fatal("Serve returned before the in-flight task finished")
		case <-time.After(30 * time.Millisecond):
		}

		gate.Open()
		waitDone(t, done)
		assert.True(t, finished.Load())
		assert.Equal(t, 1, s.Pending())
	})

	t.Run("close drains and returns", func(t *testing.T) {
		s := newTestScheduler(t, Config{MaxConcurrency: 2, Backoff: 10 * time.Millisecond})

		var ran atomic.Int64
		for i := 0; i < 5; i++ {
			_, err := s.CreateTask("drain", func() {
				time.Sleep(2 * time.Millisecond)
				ran.Add(1)
			})
			require.NoError(t, err)
		}

		done := make(chan error, 1)
		go func() { done <- s.Serve(context.Background()) }()
		require.NoError(t, s.Close())

		waitDone(t, done)
		assert.Equal(t, int64(5), ran.Load())
		assert.Equal(t, 0, s.Pending())
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}
	s := newTestScheduler(t, Config{Name: "observed", MaxConcurrency: 2, Metrics: mcfg})

	for i := 0; i < 3; i++ {
		_, err := s.CreateTask("ok", func() {})
		require.NoError(t, err)
	}
	_, err := s.CreateTask("bad", func() { panic("x") })
	require.NoError(t, err)

	require.NoError(t, s.RunTasks())

	m := metrics.For(mcfg)
	assert.Equal(t, 4.0, promtestutil.ToFloat64(m.TasksCreated.WithLabelValues("observed")))
	assert.Equal(t, 4.0, promtestutil.ToFloat64(m.TasksDispatched.WithLabelValues("observed")))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(m.TasksCompleted.WithLabelValues("observed")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.TasksFailed.WithLabelValues("observed")))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(m.TasksPending.WithLabelValues("observed")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.ConcurrencyCapacity.WithLabelValues("observed")))
	assert.Equal(t, 1, promtestutil.CollectAndCount(m.TaskExecutionDuration))
}

func BenchmarkRunTasks(b *testing.B) {
	s, err := New(Config{MaxConcurrency: runtime.NumCPU(), Logger: logging.Discard()})
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.CreateTask("bench", func() {}); err != nil {
			b.Fatal(err)
		}
	}
	if err := s.RunTasks(); err != nil {
		b.Fatal(err)
	}
}
