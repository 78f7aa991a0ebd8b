package speech

import "sync"

// taskQueue is an unbounded FIFO feeding exactly one worker goroutine.
// Push never blocks and never drops, so callers can enqueue faster than the worker drains.
type taskQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func newTaskQueue[T any]() *taskQueue[T] {
	return &taskQueue[T]{notify: make(chan struct{}, 1)}
}

// push appends v and reports false if the queue was already closed
func (q *taskQueue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.wake()
	return true
}

// pop blocks until an item is available. It returns false once the queue is closed and drained.
func (q *taskQueue[T]) pop() (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		q.mu.Unlock()

		<-q.notify
	}
}

// close stops accepting items; already queued items are still delivered
func (q *taskQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *taskQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *taskQueue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
