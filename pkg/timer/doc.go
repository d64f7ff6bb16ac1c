/*
Package timer provides the shared background task scheduler for the Roost
daemon.

Any component can defer work ("run this in N seconds") or register recurring
work ("run this every N seconds", or on a cron schedule) under a name, and
later cancel it by that name. One dedicated worker goroutine executes all
tasks sequentially; submission and cancellation are safe from any goroutine
and never block on task execution.

# Architecture

	┌──────────────────── TIMER SCHEDULER ─────────────────────┐
	│                                                           │
	│  Callers (attach workflow, QoS monitor, cleanup, ...)     │
	│      │  Schedule(name, kind, delay, action)               │
	│      │  Cancel(name)                                      │
	│      ▼                                                    │
	│  ┌───────────────────────────────────────────┐            │
	│  │   Scheduler mutex                         │            │
	│  │   ┌───────────────┐  ┌────────────────┐   │            │
	│  │   │ Deadline queue│  │  Pending slot  │   │            │
	│  │   │  (min-heap by │  │ (task currently│   │            │
	│  │   │   deadline)   │  │   executing)   │   │            │
	│  │   └───────────────┘  └────────────────┘   │            │
	│  └───────────────────────────────────────────┘            │
	│      │ peek/pop                     ▲  reschedule         │
	│      ▼                              │  (periodic/cron)    │
	│  ┌───────────────────────────────────────────┐            │
	│  │          Worker goroutine                 │            │
	│  │  sleep until next deadline ──────────┐    │            │
	│  │  (interruptible wake signal)         │    │            │
	│  │  run due action outside the lock ◄───┘    │            │
	│  └───────────────────────────────────────────┘            │
	└───────────────────────────────────────────────────────────┘

The worker computes the earliest deadline, sleeps until it (or until a
Schedule/Cancel call raises the wake signal), pops and executes due work,
and immediately re-evaluates the queue after every run. With an empty queue
it still wakes at a bounded idle interval as insurance against a lost
signal.

# Execution semantics

  - Tasks become eligible in non-decreasing deadline order. No order is
    defined between equal deadlines.
  - A periodic task's next deadline is measured from when the previous run
    finished, so successive runs never overlap and a slow action stretches
    the effective period.
  - An action that panics is logged and dropped; other tasks are unaffected.
  - Cancel prevents future runs only. An action already executing always
    finishes, but a periodic task cancelled mid-run is not rescheduled.
  - Names are not unique. Scheduling a name twice queues two tasks; Cancel
    removes at most one of them, in no specified order.
  - If the timed-wait primitive fails, the worker falls back to a plain
    uninterruptible sleep for that cycle and keeps going. Early wakeups are
    lost during the fallback, so the event is logged as degraded
    responsiveness.
  - A failure escaping both of those handlers terminates the worker
    permanently. This is reported at top severity; the scheduler does not
    restart itself, supervision is the operator's concern.

# Usage

	sched := timer.New()
	sched.Start()
	defer sched.Stop()

	sched.Schedule("cleanup-"+id, timer.Once(), 60*time.Second, cleanup)
	sched.Schedule("tray-poll-"+id, timer.Every(2*time.Second), 0, poll)
	sched.Cancel("tray-poll-" + id)

Actions may call Schedule and Cancel themselves; a periodic action that
cancels its own name runs exactly once more, then never again.

The scheduler guarantees no wall-clock-precise firing and imposes no timeout
on actions: an action that never returns stalls all scheduled work.
*/
package timer
