package timer

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-io/roost/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// recorder collects execution marks from task actions across goroutines
type recorder struct {
	mu    sync.Mutex
	marks []string
}

func (r *recorder) mark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, name)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.marks))
	copy(out, r.marks)
	return out
}

func (r *recorder) count(name string) int {
	n := 0
	for _, m := range r.snapshot() {
		if m == name {
			n++
		}
	}
	return n
}

func TestScheduleOrdering(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}

	// Submit the later task first; the queue must still run them in
	// deadline order.
	s.Schedule("t2", Once(), 300*time.Millisecond, func() { rec.mark("t2") })
	s.Schedule("t1", Once(), 50*time.Millisecond, func() { rec.mark("t1") })

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"t1", "t2"}, rec.snapshot())
}

func TestPeriodicIntervalFromCompletion(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var mu sync.Mutex
	var starts []time.Time

	runTime := 250 * time.Millisecond
	s.Schedule("slow", Every(50*time.Millisecond), 0, func() {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(runTime)
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) >= 2
	}, 3*time.Second, 10*time.Millisecond)
	s.Cancel("slow")

	mu.Lock()
	defer mu.Unlock()
	// The second run must not begin before the first run's action returned:
	// the interval is measured from completion, not from the previous start.
	gap := starts[1].Sub(starts[0])
	assert.GreaterOrEqual(t, gap, runTime)
}

func TestCancelBeforeDue(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("victim", Once(), 150*time.Millisecond, func() { rec.mark("victim") })
	s.Cancel("victim")

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestPeriodicCancelsItself(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("self", Every(30*time.Millisecond), 0, func() {
		rec.mark("self")
		s.Cancel("self")
	})

	require.Eventually(t, func() bool {
		return rec.count("self") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the scheduler several would-be intervals to misbehave
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, rec.count("self"))
}

func TestCancelUnknownNameIsNoop(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	assert.NotPanics(t, func() { s.Cancel("never-scheduled") })

	// The scheduler must still be healthy afterwards
	rec := &recorder{}
	s.Schedule("after", Once(), 20*time.Millisecond, func() { rec.mark("after") })
	require.Eventually(t, func() bool {
		return rec.count("after") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingTaskDoesNotAffectOthers(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("bad", Once(), 20*time.Millisecond, func() {
		panic("task blew up")
	})
	s.Schedule("good", Once(), 100*time.Millisecond, func() { rec.mark("good") })

	require.Eventually(t, func() bool {
		return rec.count("good") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingPeriodicTaskKeepsRecurring(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("flaky", Every(30*time.Millisecond), 0, func() {
		rec.mark("flaky")
		panic("always fails")
	})

	// A panic must not suppress the reschedule of a periodic task
	require.Eventually(t, func() bool {
		return rec.count("flaky") >= 3
	}, 3*time.Second, 10*time.Millisecond)
	s.Cancel("flaky")
}

func TestDuplicateNamesCancelRemovesAtMostOne(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("dup", Once(), 100*time.Millisecond, func() { rec.mark("a") })
	s.Schedule("dup", Once(), 150*time.Millisecond, func() { rec.mark("b") })

	// Which of the two is removed is unspecified; exactly one must survive.
	s.Cancel("dup")

	time.Sleep(500 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

// deafWaiter ignores wake signals entirely: every wait runs its full
// duration. Simulates signal loss for the idle-bound guarantee.
type deafWaiter struct{}

func (deafWaiter) Wait(d time.Duration) error {
	time.Sleep(d)
	return nil
}

func (deafWaiter) Signal() {}

func TestIdleBoundAdvancesLoopWithoutSignal(t *testing.T) {
	s := NewWithConfig(Config{MaxIdleWait: 50 * time.Millisecond})
	s.wake = deafWaiter{}
	s.Start()
	defer s.Stop()

	// Let the worker settle into its idle wait, then submit without any
	// effective wake signal.
	time.Sleep(20 * time.Millisecond)

	rec := &recorder{}
	s.Schedule("quiet", Once(), 0, func() { rec.mark("quiet") })

	// The task must still run once the bounded idle wait elapses
	require.Eventually(t, func() bool {
		return rec.count("quiet") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// failingWaiter reports a broken wait primitive on every call.
type failingWaiter struct {
	mu    sync.Mutex
	calls int
}

func (w *failingWaiter) Wait(d time.Duration) error {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	return assert.AnError
}

func (w *failingWaiter) Signal() {}

func (w *failingWaiter) waitCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func TestWaitFailureDegradesToPlainSleep(t *testing.T) {
	s := NewWithConfig(Config{MaxIdleWait: 40 * time.Millisecond})
	fw := &failingWaiter{}
	s.wake = fw
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("survivor", Once(), 100*time.Millisecond, func() { rec.mark("survivor") })

	// The loop keeps making progress on the uninterruptible fallback sleep
	require.Eventually(t, func() bool {
		return rec.count("survivor") == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Greater(t, fw.waitCalls(), 0)
}

func TestScheduleFromWithinAction(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("outer", Once(), 20*time.Millisecond, func() {
		rec.mark("outer")
		s.Schedule("inner", Once(), 20*time.Millisecond, func() { rec.mark("inner") })
	})

	require.Eventually(t, func() bool {
		return rec.count("inner") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"outer", "inner"}, rec.snapshot())
}

func TestScheduleCron(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	err := s.ScheduleCron("tick", "* * * * * *", func() { rec.mark("tick") })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.count("tick") >= 1
	}, 3*time.Second, 50*time.Millisecond)
	s.Cancel("tick")
}

func TestScheduleCronInvalidExpression(t *testing.T) {
	s := New()

	err := s.ScheduleCron("broken", "not a cron line", func() {})
	assert.Error(t, err)
	assert.Zero(t, s.Stats().QueueLength)
}

func TestNegativeDelayRunsImmediately(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	rec := &recorder{}
	s.Schedule("asap", Once(), -time.Hour, func() { rec.mark("asap") })

	require.Eventually(t, func() bool {
		return rec.count("asap") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopLifecycle(t *testing.T) {
	s := New()

	// Stop before Start is a no-op
	s.Stop()

	s.Start()
	s.Start() // idempotent
	assert.True(t, s.Stats().Running)

	s.Stop()
	assert.False(t, s.Stats().Running)

	// Tasks submitted while stopped stay queued and do not fire
	rec := &recorder{}
	s.Schedule("parked", Once(), 10*time.Millisecond, func() { rec.mark("parked") })
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 1, s.Stats().QueueLength)

	// A restarted scheduler picks the queued task back up
	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool {
		return rec.count("parked") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatsReportsPendingTask(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	release := make(chan struct{})
	entered := make(chan struct{})
	s.Schedule("busy", Every(time.Minute), 0, func() {
		close(entered)
		<-release
	})

	<-entered
	st := s.Stats()
	assert.Equal(t, "busy", st.Pending)

	close(release)
	s.Cancel("busy")
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	assert.Panics(t, func() { Every(0) })
	assert.Panics(t, func() { Every(-time.Second) })
}

func TestConcurrentScheduleAndCancel(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				name := string(rune('a'+n)) + "-task"
				s.Schedule(name, Once(), time.Duration(j)*time.Millisecond, func() {})
				s.Cancel(name)
			}
		}(i)
	}
	wg.Wait()

	// With every submission cancelled (or already run) the queue drains
	assert.Eventually(t, func() bool {
		return s.Stats().QueueLength == 0
	}, 3*time.Second, 20*time.Millisecond)
}
