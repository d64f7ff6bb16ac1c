package timer

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes how a task recurs. Obtain one from Once or Every; cron
// tasks are built internally by ScheduleCron.
type Kind struct {
	periodic bool
	interval time.Duration
	schedule cron.Schedule
}

// Once returns the kind for a task that runs a single time and is discarded.
func Once() Kind {
	return Kind{}
}

// Every returns the kind for a task that reruns interval after each
// completed execution. The interval is measured from when the previous run
// finished, so long-running actions stretch the effective period rather than
// overlap. Panics if interval is not positive, mirroring time.NewTicker.
func Every(interval time.Duration) Kind {
	if interval <= 0 {
		panic("timer: Every requires a positive interval")
	}
	return Kind{periodic: true, interval: interval}
}

func cronKind(schedule cron.Schedule) Kind {
	return Kind{schedule: schedule}
}

// recurs reports whether a task of this kind goes back into the queue after
// it runs.
func (k Kind) recurs() bool {
	return k.periodic || k.schedule != nil
}

// next computes the deadline for the following run, measured from the
// completion time of the run that just finished.
func (k Kind) next(completed time.Time) time.Time {
	if k.schedule != nil {
		return k.schedule.Next(completed)
	}
	return addSaturating(completed, k.interval)
}

// task is the unit of deferred work held by the queue and the pending slot.
// Identity for cancellation is the name; the scheduler never dereferences
// the action under its lock.
type task struct {
	name   string
	kind   Kind
	action func()
}
