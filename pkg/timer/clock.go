package timer

import (
	"math"
	"time"
)

// Saturation bounds for deadline arithmetic. time.Duration is an int64
// nanosecond count, so anything beyond these instants cannot take part in
// wait-length calculations anyway.
var (
	minDeadline = time.Unix(0, math.MinInt64)
	maxDeadline = time.Unix(0, math.MaxInt64)
)

// Clock abstracts the time source the scheduler reads. The production clock
// is time.Now, which carries a monotonic reading on every mainstream
// platform; tests substitute a fake to make deadlines deterministic.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// addSaturating returns t+d clamped to the representable deadline range, so
// extreme delays produce a far-future (or far-past) deadline instead of one
// that cannot survive duration arithmetic.
func addSaturating(t time.Time, d time.Duration) time.Time {
	sum := t.Add(d)
	if sum.After(maxDeadline) {
		return maxDeadline
	}
	if sum.Before(minDeadline) {
		return minDeadline
	}
	return sum
}
