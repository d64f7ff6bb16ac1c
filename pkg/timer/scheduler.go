package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/metrics"
)

const (
	// defaultMaxIdleWait bounds the sleep while the queue is empty so the
	// loop periodically revalidates state even if a wake signal is lost.
	defaultMaxIdleWait = 10 * time.Second

	// waitSlack pads every timed wait so rounding can't turn the loop into
	// a busy spin around a deadline boundary.
	waitSlack = 25 * time.Millisecond
)

// Config holds scheduler configuration. The zero value selects the system
// clock and the default idle bound.
type Config struct {
	Clock       Clock
	MaxIdleWait time.Duration
}

// Scheduler runs named one-shot, periodic, and cron tasks on a single
// background worker goroutine. Any number of goroutines may call Schedule
// and Cancel concurrently; neither ever blocks on task execution. Task
// actions run outside the scheduler lock and are free to call Schedule and
// Cancel themselves, including cancelling their own name.
type Scheduler struct {
	clock      Clock
	wake       waiter
	maxIdle    time.Duration
	cronParser cron.Parser
	logger     zerolog.Logger

	mu      sync.Mutex
	queue   deadlineQueue
	pending *task

	started bool
	done    chan struct{}
	stopped chan struct{}
}

// New creates a scheduler with default configuration. The worker does not
// run until Start is called.
func New() *Scheduler {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	maxIdle := cfg.MaxIdleWait
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleWait
	}

	return &Scheduler{
		clock:      clock,
		wake:       newChanWaiter(),
		maxIdle:    maxIdle,
		cronParser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     log.WithComponent("timer"),
	}
}

// Start launches the worker goroutine. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run()
}

// Stop signals the worker to exit and joins it. Queued tasks remain in the
// queue but no longer fire; Stop never interrupts an action already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.done)
	s.mu.Unlock()

	s.wake.Signal()
	<-s.stopped
}

// Schedule submits a named task to run after delay. A Periodic kind reruns
// the task interval after each completed execution until cancelled. Names
// are not checked for uniqueness; a duplicate simply queues a second task
// under the same name.
func (s *Scheduler) Schedule(name string, kind Kind, delay time.Duration, action func()) {
	if delay < 0 {
		delay = 0
	}

	t := &task{name: name, kind: kind, action: action}

	s.mu.Lock()
	deadline := addSaturating(s.clock.Now(), delay)
	s.queue.insert(&queueEntry{deadline: deadline, task: t})
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.TimerTasksScheduled.Inc()
	metrics.TimerQueueDepth.Set(float64(depth))
	s.logger.Debug().Str("task", name).Dur("delay", delay).Msg("task scheduled")

	// Wake the worker in case this deadline is earlier than its current wait
	s.wake.Signal()
}

// ScheduleCron submits a named task driven by a 6-field cron expression
// (seconds granularity). After each completed run the next deadline is taken
// from the schedule relative to the completion time. The only rejected input
// is an unparsable expression.
func (s *Scheduler) ScheduleCron(name, expr string, action func()) error {
	schedule, err := s.cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	t := &task{name: name, kind: cronKind(schedule), action: action}

	s.mu.Lock()
	deadline := schedule.Next(s.clock.Now())
	s.queue.insert(&queueEntry{deadline: deadline, task: t})
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.TimerTasksScheduled.Inc()
	metrics.TimerQueueDepth.Set(float64(depth))
	s.logger.Debug().Str("task", name).Str("cron", expr).Msg("cron task scheduled")

	s.wake.Signal()
	return nil
}

// Cancel removes at most one task with the given name. A task currently
// executing is checked first: it is allowed to finish, but its reschedule
// is suppressed. Otherwise the queue is searched. Cancelling an unknown
// name is a silent no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	if s.pending != nil && s.pending.name == name {
		s.pending = nil
		s.mu.Unlock()
		s.logger.Debug().Str("task", name).Msg("running task cancelled; reschedule suppressed")
		s.wake.Signal()
		return
	}
	removed := s.queue.removeByName(name)
	depth := len(s.queue)
	s.mu.Unlock()

	if removed {
		metrics.TimerQueueDepth.Set(float64(depth))
		s.logger.Debug().Str("task", name).Msg("queued task cancelled")
	}
	s.wake.Signal()
}

// Stats reports a point-in-time snapshot of scheduler state.
type Stats struct {
	QueueLength int    `json:"queue_length"`
	Pending     string `json:"pending,omitempty"`
	Running     bool   `json:"running"`
}

// Stats returns a snapshot of the queue length, the name of the task
// currently executing (if any), and whether the worker is running.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		QueueLength: len(s.queue),
		Running:     s.started,
	}
	if s.pending != nil {
		st.Pending = s.pending.name
	}
	return st
}

// run is the worker loop. It exits when Stop is called, or permanently if a
// failure escapes the per-task and per-wait handlers; the latter is fatal to
// the scheduler and is surfaced at top severity, never retried.
func (s *Scheduler) run() {
	defer close(s.stopped)
	defer func() {
		if r := recover(); r != nil {
			metrics.TimerLoopFailures.Inc()
			s.logger.Error().
				Bool("fatal", true).
				Interface("panic", r).
				Msg("scheduler loop terminated; deferred and periodic work will no longer run")
		}
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		due, wait := s.next()
		if due == nil {
			s.sleep(wait)
			continue
		}

		// Re-evaluate the queue immediately after running; more work may
		// already be due.
		s.runTask(due)
	}
}

// next pops a due task, or reports how long to wait for one. A popped
// recurring task is parked in the pending slot so a concurrent Cancel can
// still reach it before it is rescheduled.
func (s *Scheduler) next() (*task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	entry := s.queue.peekMin()
	if entry == nil {
		return nil, s.maxIdle
	}
	if entry.deadline.After(now) {
		return nil, entry.deadline.Sub(now)
	}

	s.queue.popMin()
	if entry.task.kind.recurs() {
		s.pending = entry.task
	}
	metrics.TimerQueueDepth.Set(float64(len(s.queue)))
	return entry.task, 0
}

// runTask executes one task action outside the lock, then reschedules
// recurring tasks from their completion time unless they were cancelled
// mid-run.
func (s *Scheduler) runTask(t *task) {
	s.invoke(t)
	completed := s.clock.Now()

	s.mu.Lock()
	if s.pending == t {
		s.queue.insert(&queueEntry{deadline: t.kind.next(completed), task: t})
		metrics.TimerQueueDepth.Set(float64(len(s.queue)))
	}
	s.pending = nil
	s.mu.Unlock()
}

// invoke runs the action, absorbing panics so one misbehaving task cannot
// stop the loop or affect other tasks.
func (s *Scheduler) invoke(t *task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TimerTaskFailures.Inc()
			s.logger.Warn().Str("task", t.name).Interface("panic", r).Msg("task action panicked")
		}
	}()

	tm := metrics.NewTimer()
	defer tm.ObserveDuration(metrics.TimerTaskDuration)
	defer metrics.TimerTasksExecuted.Inc()

	s.logger.Debug().Str("task", t.name).Msg("running task")
	t.action()
}

// sleep blocks until the next deadline or an early wake. If the wait
// primitive itself fails, responsiveness degrades to a plain sleep for this
// cycle: new submissions cannot shorten it, but the loop keeps going.
func (s *Scheduler) sleep(d time.Duration) {
	if d < 0 {
		d = 0
	}
	d += waitSlack

	if err := s.wake.Wait(d); err != nil {
		metrics.TimerWaitFailures.Inc()
		s.logger.Warn().Err(err).Dur("wait", d).
			Msg("timed wait failed; scheduler responsiveness degraded for this cycle")
		time.Sleep(d)
	}
}
