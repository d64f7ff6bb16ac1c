package timer

import "time"

// waiter is the interruptible timed wait the worker blocks on between runs.
// Signal never blocks; a signal raised while nobody is waiting wakes the
// next Wait immediately instead of being lost.
//
// A non-nil error from Wait means the wait primitive itself failed, not that
// the timeout elapsed. The loop then degrades to an uninterruptible sleep
// for that cycle.
type waiter interface {
	Wait(d time.Duration) error
	Signal()
}

// chanWaiter implements waiter with a 1-buffered channel raced against a
// timer. Go has no timed wait on sync.Cond, so this is the condition
// variable equivalent.
type chanWaiter struct {
	ch chan struct{}
}

func newChanWaiter() *chanWaiter {
	return &chanWaiter{ch: make(chan struct{}, 1)}
}

func (w *chanWaiter) Wait(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ch:
	case <-t.C:
	}
	return nil
}

func (w *chanWaiter) Signal() {
	select {
	case w.ch <- struct{}{}:
	default: // a wakeup is already pending
	}
}
