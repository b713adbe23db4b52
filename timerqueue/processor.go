// This code was adapted from https://github.com/dapr/kit/tree/v0.15.4/
// Copyright (C) 2023 The Dapr Authors
// License: Apache2

package timerqueue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	kclock "k8s.io/utils/clock"
)

// ErrStopped is returned by Enqueue and Dequeue after the processor has been closed.
var ErrStopped = errors.New("processor is stopped")

// Schedulable is an item that can be scheduled for execution at a deadline.
type Schedulable[K comparable] interface {
	// Key returns the identity of the item within the queue.
	// Enqueueing an item whose key is already present replaces the existing one.
	Key() K

	// Deadline returns the time the item is due to be executed at.
	Deadline() time.Time
}

// Options for NewProcessor.
type Options[K comparable, T Schedulable[K]] struct {
	// ExecuteFn is invoked for every item whose deadline is reached.
	// It runs on the processor's dispatch goroutine, so invocations are
	// serialized with each other; a slow ExecuteFn delays later items.
	// The processor holds no locks during the invocation, so ExecuteFn may
	// call back into the processor.
	ExecuteFn func(item T)

	// Clock used to read the time and arm timers.
	// This is optional, and defaults to the real clock.
	Clock kclock.Clock
}

// Processor executes keyed items when their deadlines are reached.
type Processor[K comparable, T Schedulable[K]] struct {
	executeFn func(item T)
	queue     *queue[K, T]
	clock     kclock.Clock
	mu        sync.Mutex
	wakeCh    chan struct{}
	stopCh    chan struct{}
	runningCh chan struct{}
	stopped   atomic.Bool
}

// NewProcessor returns a new Processor with a running dispatch goroutine.
// Callers must invoke Close when the processor is no longer needed.
func NewProcessor[K comparable, T Schedulable[K]](opts Options[K, T]) *Processor[K, T] {
	if opts.ExecuteFn == nil {
		panic("timerqueue: an ExecuteFn is required")
	}
	if opts.Clock == nil {
		opts.Clock = kclock.RealClock{}
	}

	p := &Processor[K, T]{
		executeFn: opts.ExecuteFn,
		queue:     newQueue[K, T](),
		clock:     opts.Clock,
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		runningCh: make(chan struct{}),
	}
	go p.processLoop()

	return p
}

// Enqueue adds an item to the queue. An item whose key is already in the
// queue is replaced, updating its deadline to the new item's.
// Enqueue never waits for the item to be executed.
func (p *Processor[K, T]) Enqueue(item T) error {
	if p.stopped.Load() {
		return ErrStopped
	}

	p.mu.Lock()
	isHead := p.queue.Insert(item)
	p.mu.Unlock()

	if isHead {
		p.wake()
	}

	return nil
}

// Dequeue removes the item with the given key from the queue, if present.
// An item that is being executed at this very moment is not interrupted.
func (p *Processor[K, T]) Dequeue(key K) error {
	if p.stopped.Load() {
		return ErrStopped
	}

	p.mu.Lock()
	head, hasHead := p.queue.Peek()
	_, removed := p.queue.Remove(key)
	p.mu.Unlock()

	// The dispatch goroutine only needs a nudge when the head item changed
	if removed && hasHead && head.Key() == key {
		p.wake()
	}

	return nil
}

// Len returns the number of items in the queue.
func (p *Processor[K, T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.queue.Len()
}

// Close stops the dispatch goroutine and waits for it to return.
// No item is executed after Close returns.
// Close is safe to call more than once.
func (p *Processor[K, T]) Close() error {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
	<-p.runningCh

	return nil
}

// wake pokes the dispatch goroutine to re-read the head of the queue.
func (p *Processor[K, T]) wake() {
	select {
	case p.wakeCh <- struct{}{}:
		// Nop - signal sent
	default:
		// Nop - a wake-up is already pending
	}
}

// processLoop waits until the head item's deadline, then pops and executes
// every item that is due. A wake-up restarts the wait whenever the head may
// have changed.
func (p *Processor[K, T]) processLoop() {
	defer close(p.runningCh)

	for {
		p.mu.Lock()
		next, ok := p.queue.Peek()
		p.mu.Unlock()

		if !ok {
			// Queue is empty: wait for the first item, or for Close
			select {
			case <-p.wakeCh:
				continue
			case <-p.stopCh:
				return
			}
		}

		if wait := next.Deadline().Sub(p.clock.Now()); wait > 0 {
			t := p.clock.NewTimer(wait)
			select {
			case <-t.C():
				// Deadline reached
			case <-p.wakeCh:
				t.Stop()
				continue
			case <-p.stopCh:
				t.Stop()
				return
			}
		}

		p.executeDue()
	}
}

// executeDue pops and executes items until the head of the queue is no
// longer due. Items can be enqueued, replaced, and removed between two
// executions: the head is re-validated under the lock on every iteration.
func (p *Processor[K, T]) executeDue() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.mu.Lock()
		item, ok := p.queue.PopDue(p.clock.Now())
		p.mu.Unlock()
		if !ok {
			return
		}

		p.executeFn(item)
	}
}
