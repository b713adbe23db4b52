// Package blockingqueue implements an unbounded FIFO queue whose dequeue
// side can wait, with a bound, for an item to arrive.
package blockingqueue

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"k8s.io/utils/buffer"
)

const defaultInitialSize = 16

// Queue is an unbounded FIFO queue of items of type T.
// Enqueueing never blocks; dequeueing can wait, with an optional bound, for
// an item to become available. All methods are safe for concurrent use, and
// each enqueued item is delivered to exactly one dequeuer.
type Queue[T any] struct {
	mu    sync.RWMutex
	items *buffer.TypedRingGrowing[T]
	sem   *semaphore.Weighted
}

// QueueOptions are options for New.
type QueueOptions struct {
	// Initial capacity of the queue's ring buffer.
	// The buffer grows as needed; this only sizes the first allocation.
	InitialSize int
}

// New returns a new Queue.
func New[T any](opts *QueueOptions) *Queue[T] {
	if opts == nil {
		opts = &QueueOptions{}
	}

	size := opts.InitialSize
	if size <= 0 {
		size = defaultInitialSize
	}

	// The semaphore counts items available for dequeueing, so it starts
	// fully drained
	sem := semaphore.NewWeighted(math.MaxInt64)
	_ = sem.TryAcquire(math.MaxInt64)

	return &Queue[T]{
		items: buffer.NewTypedRingGrowing[T](buffer.RingGrowingOptions{InitialSize: size}),
		sem:   sem,
	}
}

// Enqueue appends item to the back of the queue.
// It never blocks, and it wakes one waiting Dequeue call if there is one.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items.WriteOne(item)
	q.mu.Unlock()

	q.sem.Release(1)
}

// Dequeue removes and returns the item at the front of the queue, waiting
// for one to be enqueued if the queue is empty.
// It returns ok == false, with the zero value of T, if ctx is cancelled or
// its deadline passes before an item becomes available.
func (q *Queue[T]) Dequeue(ctx context.Context) (item T, ok bool) {
	err := q.sem.Acquire(ctx, 1)
	if err != nil {
		return item, false
	}

	return q.take(), true
}

// TryDequeue removes and returns the item at the front of the queue without
// waiting. It returns ok == false if the queue is empty.
func (q *Queue[T]) TryDequeue() (item T, ok bool) {
	if !q.sem.TryAcquire(1) {
		return item, false
	}

	return q.take(), true
}

// DequeueTimeout is like Dequeue with the wait bounded by timeout.
// A negative timeout waits indefinitely; a zero timeout is equivalent to
// TryDequeue.
func (q *Queue[T]) DequeueTimeout(timeout time.Duration) (item T, ok bool) {
	switch {
	case timeout < 0:
		return q.Dequeue(context.Background())
	case timeout == 0:
		return q.TryDequeue()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return q.Dequeue(ctx)
	}
}

// Len returns the number of items currently in the queue.
func (q *Queue[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.items.Len()
}

// take removes the front item after a successful semaphore acquisition.
func (q *Queue[T]) take() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	// A successful acquisition guarantees an item is present
	item, _ := q.items.ReadOne()
	return item
}
