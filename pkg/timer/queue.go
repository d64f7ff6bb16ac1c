package timer

import (
	"container/heap"
	"time"
)

// queueEntry pairs a task with the absolute instant it becomes due.
type queueEntry struct {
	deadline time.Time
	task     *task
}

// deadlineQueue is a min-heap of entries ordered by deadline. Entries with
// equal deadlines are in no particular order. The queue is never touched
// without the scheduler mutex held, so it needs no locking of its own.
type deadlineQueue []*queueEntry

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool {
	return q[i].deadline.Before(q[j].deadline)
}

func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *deadlineQueue) Push(x any) {
	*q = append(*q, x.(*queueEntry))
}

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil // allow GC
	*q = old[:n-1]
	return entry
}

// insert adds an entry, O(log n).
func (q *deadlineQueue) insert(e *queueEntry) {
	heap.Push(q, e)
}

// peekMin returns the entry with the smallest deadline without removing it,
// or nil if the queue is empty.
func (q deadlineQueue) peekMin() *queueEntry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// popMin removes and returns the minimum entry, or nil if empty.
func (q *deadlineQueue) popMin() *queueEntry {
	if len(*q) == 0 {
		return nil
	}
	return heap.Pop(q).(*queueEntry)
}

// removeByName removes the first entry whose task has the given name and
// reports whether one was removed. With duplicate names the match at the
// shallowest heap index wins; callers must not rely on FIFO or LIFO order.
func (q *deadlineQueue) removeByName(name string) bool {
	for i, e := range *q {
		if e.task.name == name {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}
