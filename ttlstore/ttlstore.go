// Package ttlstore implements a keyed in-memory store with per-entry TTLs.
// Each entry inserted with a lifetime owns a deadline in a shared timer
// queue; when the deadline fires, the entry is removed and the store's
// expiration handler is invoked with the removed pair.
package ttlstore

import (
	"iter"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	kclock "k8s.io/utils/clock"

	"github.com/italypaleale/storekit/timerqueue"
)

// ExpirationHandler receives entries that reached the end of their lifetime.
type ExpirationHandler[K comparable, V any] func(key K, value V)

// Store is a keyed in-memory store with per-entry TTLs.
type Store[K comparable, V any] struct {
	mu          sync.RWMutex
	items       map[K]V
	armed       map[K]uint64
	gen         uint64
	handler     ExpirationHandler[K, V]
	clock       kclock.Clock
	processor   *timerqueue.Processor[K, *expiration[K]]
	maxLifetime time.Duration
	disarmZero  bool
}

// StoreOptions are options for New.
type StoreOptions struct {
	// Maximum lifetime value, if greater than 0.
	// Lifetimes beyond the maximum are reduced to it.
	MaxLifetime time.Duration

	// If true, inserting a key without a lifetime cancels any timer armed
	// for that key, making the entry permanent.
	// By default an armed timer keeps running, so the entry still expires at
	// the deadline set by the earlier insert.
	DisarmZeroLifetime bool

	// Internal clock property, used for testing
	clock kclock.Clock
}

// expiration is the scheduling entry for one generation of a key's timer.
type expiration[K comparable] struct {
	key      K
	gen      uint64
	deadline time.Time
}

func (e *expiration[K]) Key() K {
	return e.key
}

func (e *expiration[K]) Deadline() time.Time {
	return e.deadline
}

// New returns a new Store.
// Callers must invoke Stop when the store is no longer needed.
func New[K comparable, V any](opts *StoreOptions) *Store[K, V] {
	if opts == nil {
		opts = &StoreOptions{}
	}

	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}

	s := &Store[K, V]{
		items:       make(map[K]V),
		armed:       make(map[K]uint64),
		clock:       opts.clock,
		maxLifetime: opts.MaxLifetime,
		disarmZero:  opts.DisarmZeroLifetime,
	}
	s.processor = timerqueue.NewProcessor(timerqueue.Options[K, *expiration[K]]{
		ExecuteFn: s.expire,
		Clock:     opts.clock,
	})

	return s
}

// Insert stores value for key, replacing any existing value.
// A lifetime greater than 0 arms the key's expiration timer for that
// duration, replacing any deadline set by an earlier insert: repeated
// inserts of the same key keep pushing its expiration out.
// With no lifetime (0 or negative) the value does not expire on its own;
// whether a previously armed timer survives such an insert is controlled by
// StoreOptions.DisarmZeroLifetime.
// Insert never blocks waiting for timer work.
func (s *Store[K, V]) Insert(key K, value V, lifetime time.Duration) {
	if s.maxLifetime > 0 && lifetime > s.maxLifetime {
		lifetime = s.maxLifetime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = value

	switch {
	case lifetime > 0:
		s.armLocked(key, lifetime)
	case s.disarmZero:
		s.disarmLocked(key)
	}
}

// Get returns the value for key.
func (s *Store[K, V]) Get(key K) (value V, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok = s.items[key]
	return value, ok
}

// Value returns the value for key, or def if the key is absent.
func (s *Store[K, V]) Value(key K, def V) V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]
	if !ok {
		return def
	}
	return value
}

// Values returns a snapshot of all current values, in no particular order.
func (s *Store[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Values(s.items)
}

// Keys returns a snapshot of all current keys, in no particular order.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Keys(s.items)
}

// All returns an iterator over the entries of the store.
// Each traversal runs on a snapshot taken when the iteration starts:
// entries inserted, removed, or expired while iterating are not reflected
// in an in-progress traversal.
func (s *Store[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		s.mu.RLock()
		snapshot := maps.Clone(s.items)
		s.mu.RUnlock()

		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Contains reports whether key is present in the store.
func (s *Store[K, V]) Contains(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[key]
	return ok
}

// Len returns the number of entries in the store.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

// Remove cancels any timer for key and erases its value, reporting whether
// a value was present. The expiration handler never fires for a removed key.
func (s *Store[K, V]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(key)
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// Take cancels any timer for key, erases its value, and returns it.
func (s *Store[K, V]) Take(key K) (value V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(key)
	value, ok = s.items[key]
	delete(s.items, key)
	return value, ok
}

// Clear erases every entry and cancels every outstanding timer.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.armed {
		_ = s.processor.Dequeue(key)
	}
	clear(s.items)
	clear(s.armed)
}

// SetExpirationHandler installs the handler invoked whenever an entry
// expires. It replaces any previously installed handler and affects only
// expirations that fire afterwards. A nil handler disables notifications.
//
// The handler runs on the store's timer goroutine, after the expired
// entry's removal is visible to other callers and with no store lock held,
// so it may call back into the store, including to re-insert the expired
// key. Atomicity between the removal and the handler invocation is not
// guaranteed: another goroutine can mutate the store in between.
func (s *Store[K, V]) SetExpirationHandler(handler ExpirationHandler[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
}

// Stop shuts down the store's timer goroutine.
// Entries remain readable and writable afterwards, but lifetimes passed to
// Insert no longer arm timers, and no entry expires after Stop returns.
func (s *Store[K, V]) Stop() {
	_ = s.processor.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.armed)
}

// armLocked gives key a fresh timer generation and schedules its deadline.
// The caller must hold the write lock.
func (s *Store[K, V]) armLocked(key K, lifetime time.Duration) {
	s.gen++
	err := s.processor.Enqueue(&expiration[K]{
		key:      key,
		gen:      s.gen,
		deadline: s.clock.Now().Add(lifetime),
	})
	if err != nil {
		// The store was stopped: the value stays, nothing expires anymore
		delete(s.armed, key)
		return
	}
	s.armed[key] = s.gen
}

// disarmLocked cancels the timer for key, if one is armed.
// The caller must hold the write lock.
func (s *Store[K, V]) disarmLocked(key K) {
	if _, ok := s.armed[key]; !ok {
		return
	}

	delete(s.armed, key)
	_ = s.processor.Dequeue(key)
}

// expire runs on the timer goroutine when a key's deadline fires.
// The generation check rejects firings that were cancelled or superseded
// after this deadline was scheduled, so a timer can never remove a
// logically different generation of its key.
func (s *Store[K, V]) expire(e *expiration[K]) {
	s.mu.Lock()
	gen, ok := s.armed[e.key]
	if !ok || gen != e.gen {
		s.mu.Unlock()
		return
	}

	value := s.items[e.key]
	delete(s.items, e.key)
	delete(s.armed, e.key)
	handler := s.handler
	s.mu.Unlock()

	// The removal is committed before the handler runs, and no lock is held
	// while it does
	if handler != nil {
		handler(e.key, value)
	}
}
