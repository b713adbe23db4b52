// This code was adapted from https://github.com/dapr/kit/tree/v0.15.4/
// Copyright (C) 2023 The Dapr Authors
// License: Apache2

package timerqueue

import (
	"container/heap"
	"time"
)

// queue is a min-heap of items ordered by deadline, with a key index so
// replacing or removing an item by key is O(log n).
// It is not safe for concurrent use; the Processor guards it with its lock.
type queue[K comparable, T Schedulable[K]] struct {
	items []T
	byKey map[K]int
}

func newQueue[K comparable, T Schedulable[K]]() *queue[K, T] {
	return &queue[K, T]{
		byKey: make(map[K]int),
	}
}

// Insert adds item to the queue. An item with the same key is replaced and
// its position updated for the new deadline.
// The returned value is true if the item sits at the head of the queue after
// insertion, i.e. the wait for the next deadline must be recomputed.
func (q *queue[K, T]) Insert(item T) bool {
	idx, ok := q.byKey[item.Key()]
	if ok {
		q.items[idx] = item
		heap.Fix(q, idx)
	} else {
		heap.Push(q, item)
	}

	return q.byKey[item.Key()] == 0
}

// Remove removes the item with the given key, reporting whether it was present.
func (q *queue[K, T]) Remove(key K) (item T, ok bool) {
	idx, ok := q.byKey[key]
	if !ok {
		return item, false
	}

	item = heap.Remove(q, idx).(T)
	return item, true
}

// Peek returns the item with the earliest deadline without removing it.
func (q *queue[K, T]) Peek() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}

	return q.items[0], true
}

// PopDue removes and returns the head item if its deadline is not after now.
func (q *queue[K, T]) PopDue(now time.Time) (item T, ok bool) {
	if len(q.items) == 0 || q.items[0].Deadline().After(now) {
		return item, false
	}

	return heap.Pop(q).(T), true
}

// Len, Less, Swap, Push, and Pop implement heap.Interface.
// Callers use Insert, Remove, Peek, and PopDue instead.

func (q *queue[K, T]) Len() int {
	return len(q.items)
}

func (q *queue[K, T]) Less(i, j int) bool {
	return q.items[i].Deadline().Before(q.items[j].Deadline())
}

func (q *queue[K, T]) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.byKey[q.items[i].Key()] = i
	q.byKey[q.items[j].Key()] = j
}

func (q *queue[K, T]) Push(x any) {
	item := x.(T)
	q.byKey[item.Key()] = len(q.items)
	q.items = append(q.items, item)
}

func (q *queue[K, T]) Pop() any {
	var zero T
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = zero
	q.items = q.items[:n-1]
	delete(q.byKey, item.Key())

	return item
}
