package player

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("queue closed")

// KeepLast is a single-producer/single-consumer queue that retains only
// the newest pending value. Rapid puts between two takes coalesce into
// one delivery. Used to fold bursts of eviction points into a single
// removal.
type KeepLast[T any] struct {
	mu     sync.Mutex
	val    T
	has    bool
	closed bool
	notify chan struct{}
}

func NewKeepLast[T any]() *KeepLast[T] {
	return &KeepLast[T]{notify: make(chan struct{}, 1)}
}

// Put replaces any pending value with v.
func (q *KeepLast[T]) Put(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.val = v
	q.has = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take blocks until a value is pending, the queue closes, or ctx is done.
func (q *KeepLast[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.has {
			v := q.val
			q.has = false
			q.val = zero
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, errQueueClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close wakes any blocked Take. Pending values are discarded.
func (q *KeepLast[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.has = false
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// serialQueue runs submitted tasks strictly first-in-first-out on one
// goroutine. Seek, play and pause go through it so overlapping calls
// queue behind each other instead of interleaving.
type serialQueue struct {
	mu     sync.Mutex
	tasks  chan func()
	closed bool
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{tasks: make(chan func(), 64)}
	go func() {
		for task := range q.tasks {
			task()
		}
	}()
	return q
}

// Do enqueues fn and waits for it to finish. The task's error goes to the
// caller only; a failing task never stalls the queue.
func (q *serialQueue) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	q.tasks <- func() { done <- fn() }
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (q *serialQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}
