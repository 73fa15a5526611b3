// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue provides the blocking FIFO used to hand work between
// long lived worker goroutines. Any number of producers and consumers
// may use a Queue at the same time.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned when pushing to, or waiting on, a closed and
// drained Queue.
var ErrClosed = errors.New("queue closed")

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		items: queue.New(),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// Queue is a blocking multi-producer, multi-consumer FIFO.
type Queue[T any] struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

// Push appends v to the back of the queue and wakes one waiter.
func (q *Queue[T]) Push(v T) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items.Add(v)
	q.cond.Signal()
	return nil
}

// WaitPop removes and returns the front of the queue, suspending the
// caller until an item is available. It returns ctx.Err() when ctx is
// done first, and ErrClosed once the queue is closed and empty.
func (q *Queue[T]) WaitPop(ctx context.Context) (T, error) {
	var zero T
	stop := context.AfterFunc(ctx, func() {
		q.mutex.Lock()
		q.cond.Broadcast()
		q.mutex.Unlock()
	})
	defer stop()

	q.mutex.Lock()
	defer q.mutex.Unlock()
	for q.items.Length() == 0 {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if q.closed {
			return zero, ErrClosed
		}
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		// Leave the item for the remaining consumers.
		q.cond.Signal()
		return zero, err
	}
	return q.items.Remove().(T), nil
}

// TryPop removes the front of the queue without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

// Drain removes and returns every queued item.
func (q *Queue[T]) Drain() []T {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	out := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		out = append(out, q.items.Remove().(T))
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.items.Length()
}

// Close rejects further pushes and releases every waiter once the
// remaining items are consumed. Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closed
}
