// Package ringbuf hands fixed-size records from one producer goroutine to one
// consumer goroutine through a small pool of reusable slots.
//
// Records are allocated once at construction. The producer mutates a slot's
// record in place and only then marks it ready. The consumer swaps the ready
// record out of its slot into a record it owns exclusively, so a producer that
// never waits (ProduceNoWait) can overwrite any slot without touching the data
// the consumer is reading.
package ringbuf

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// WaitPolicy selects which ready slot Consume hands out.
type WaitPolicy int

const (
	// Blocking delivers every ready record, oldest first.
	Blocking WaitPolicy = iota
	// Live delivers only the freshest ready record and discards the backlog.
	Live
)

func (p WaitPolicy) String() string {
	switch p {
	case Blocking:
		return "blocking"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("WaitPolicy(%d)", int(p))
	}
}

type slot[T any] struct {
	rec     T
	ready   bool   // holds a record the consumer has not taken yet
	writing bool   // producer is mutating rec outside the lock
	seq     uint64 // publication order, valid while ready
}

// Stats is a snapshot of the ring counters.
type Stats struct {
	Produced uint64 // records published
	Consumed uint64 // records handed to the consumer
	Dropped  uint64 // records overwritten or skipped before being consumed
}

// Ring is a fixed-capacity single-producer single-consumer slot ring.
type Ring[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []slot[T]
	held  T // record owned by the consumer, swapped in and out of slots
	next  int
	seq   uint64
	quit  bool

	policy WaitPolicy

	produced atomic.Uint64
	consumed atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a ring with the given number of slots. init, when non-nil, is
// called once on every record (capacity slot records plus the consumer's
// record) to pre-allocate storage.
func New[T any](capacity int, init func(*T)) (*Ring[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ring capacity must be at least 1, got %d", capacity)
	}

	r := &Ring[T]{slots: make([]slot[T], capacity)}
	r.cond = sync.NewCond(&r.mu)

	if init != nil {
		for i := range r.slots {
			init(&r.slots[i].rec)
		}
		init(&r.held)
	}
	return r, nil
}

// Capacity returns the number of slots.
func (r *Ring[T]) Capacity() int {
	return len(r.slots)
}

// SetPolicy changes the policy Consume applies. A consumer already waiting
// picks up the new policy when it wakes, so no record published after the
// switch is handled under the old policy.
func (r *Ring[T]) SetPolicy(p WaitPolicy) {
	r.mu.Lock()
	r.policy = p
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Policy returns the policy Consume currently applies.
func (r *Ring[T]) Policy() WaitPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// Produce waits until the next slot in round-robin order holds no unconsumed
// record, then mutates it and publishes it. Records produced this way are all
// delivered to a Blocking consumer in submission order.
//
// Returns false without calling mutate once Quit has been called.
func (r *Ring[T]) Produce(mutate func(*T)) bool {
	r.mu.Lock()
	for !r.quit && r.slots[r.next].ready {
		r.cond.Wait()
	}
	if r.quit {
		r.mu.Unlock()
		return false
	}
	idx := r.claimLocked()
	r.mu.Unlock()

	mutate(&r.slots[idx].rec)
	r.publish(idx)
	return true
}

// ProduceNoWait mutates and publishes the next slot in round-robin order
// without waiting for the consumer. An unconsumed record in that slot is
// overwritten and counted as dropped. It is a no-op after Quit.
func (r *Ring[T]) ProduceNoWait(mutate func(*T)) {
	r.mu.Lock()
	if r.quit {
		r.mu.Unlock()
		return
	}
	if s := &r.slots[r.next]; s.ready {
		s.ready = false
		r.dropped.Add(1)
	}
	idx := r.claimLocked()
	r.mu.Unlock()

	mutate(&r.slots[idx].rec)
	r.publish(idx)
}

// claimLocked marks the next slot as being written and advances the cursor.
func (r *Ring[T]) claimLocked() int {
	idx := r.next
	r.slots[idx].writing = true
	r.next = (idx + 1) % len(r.slots)
	return idx
}

func (r *Ring[T]) publish(idx int) {
	r.mu.Lock()
	s := &r.slots[idx]
	s.writing = false
	s.ready = true
	r.seq++
	s.seq = r.seq
	r.produced.Add(1)
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Consume waits for a ready record, takes ownership of it and calls fn with
// it. Under Blocking the oldest ready record is taken. Under Live the
// freshest one is taken and older ready records are discarded. The policy is
// read again on every wakeup.
//
// A new ring starts out Blocking.
//
// The record passed to fn stays valid until the next Consume call. Consume
// returns false, without calling fn, once Quit has been called and no ready
// record is left.
func (r *Ring[T]) Consume(fn func(*T)) bool {
	r.mu.Lock()
	idx := r.pickLocked()
	for idx < 0 && !r.quit {
		r.cond.Wait()
		idx = r.pickLocked()
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	s := &r.slots[idx]
	s.rec, r.held = r.held, s.rec
	s.ready = false
	r.consumed.Add(1)
	r.cond.Broadcast()
	r.mu.Unlock()

	fn(&r.held)
	return true
}

// pickLocked returns the slot to consume under the current policy, or -1.
func (r *Ring[T]) pickLocked() int {
	policy := r.policy
	best := -1
	for i := range r.slots {
		s := &r.slots[i]
		if !s.ready {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		newer := s.seq > r.slots[best].seq
		if (policy == Live) == newer {
			best = i
		}
	}

	if policy == Live && best >= 0 {
		for i := range r.slots {
			if i != best && r.slots[i].ready {
				r.slots[i].ready = false
				r.dropped.Add(1)
			}
		}
	}
	return best
}

// ForEach calls fn on every record the ring owns, including the consumer's.
// The caller must make sure no Produce or Consume call is in flight.
func (r *Ring[T]) ForEach(fn func(*T)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		fn(&r.slots[i].rec)
	}
	fn(&r.held)
}

// Quit wakes every waiter. Producers stop publishing and consumers drain the
// remaining ready records before reporting shutdown. Safe to call repeatedly.
func (r *Ring[T]) Quit() {
	r.mu.Lock()
	r.quit = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Closed reports whether Quit has been called.
func (r *Ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quit
}

// Pending returns the number of ready records waiting for the consumer.
func (r *Ring[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].ready {
			n++
		}
	}
	return n
}

// Stats returns the current counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Produced: r.produced.Load(),
		Consumed: r.consumed.Load(),
		Dropped:  r.dropped.Load(),
	}
}
