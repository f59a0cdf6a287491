// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package waitq implements a deadline-ordered timer service: callers
// register a deferred callback to fire no earlier than a requested
// future time, and an external poll loop repeatedly asks what is due
// now and how long until something is due.
//
// The package is a pure in-process concurrency primitive. It never
// allocates on the hot path, never runs caller code under its own lock,
// and exposes no wire or file format. Callback execution is delegated
// to an Executor collaborator; a minimal Pool implementation and a
// Poller that drives a WaitQueue into an Executor are provided for
// callers that want a self-contained runtime.
package waitq

import (
	"errors"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/trees/redblacktree"
)

// ErrWakeupRegistered is returned by New to indicate that more than one
// wakeup listener was supplied. A WaitQueue supports at most one.
var ErrWakeupRegistered = errors.New("a wakeup listener has already been registered")

// WakeupFunc is a listener invoked whenever a mutating WaitQueue
// operation changes the current minimum deadline. It lets an external
// poller sleeping on a now-stale deadline shorten its sleep.
//
// A WakeupFunc runs synchronously on the mutating goroutine, always
// after the WaitQueue's lock has been released. It is on the hot path
// of every Wait, Cancel, and Reschedule that changes the minimum, so it
// must be fast and must not block. It may safely call back into the
// WaitQueue.
type WakeupFunc func(*WaitQueue)

// WaitQueue is a mutable, concurrently-accessed set of pending Timers,
// strictly ordered by (deadline, insertion sequence). All methods are
// safe for concurrent use.
//
// A WaitQueue optimizes for the two operations an event-loop poller
// needs: drain everything due right now (Dispatch) and report the next
// wake time (NextDeadline).
type WaitQueue struct {
	// lock guards the waiting set, the sequence counter, and the
	// queued/generation state of every queued Timer. It is held only
	// for O(log n) critical sections and never across a wakeup
	// listener or Executor hand-off.
	lock sync.Mutex

	// waiting holds exactly the queued Timers, keyed by
	// (deadline, sequence).
	waiting *redblacktree.Tree[timerKey, *Timer]

	// sequence is the tie-break identity assigned to each Timer at
	// insertion. Strictly increasing, so equal-deadline Timers dispatch
	// in insertion order, deterministically.
	sequence uint64

	// wakeup is the optional listener, set at most once at construction.
	wakeup WakeupFunc

	// now is the strategy used to read the monotonic clock.
	// By default, time.Now is used.
	now now
}

// Option is a configurable option for tailoring a WaitQueue.
type Option interface {
	apply(*WaitQueue) error
}

type optionFunc func(*WaitQueue) error

func (f optionFunc) apply(wq *WaitQueue) error { return f(wq) }

// WithWakeup registers the wakeup listener for a WaitQueue. At most one
// listener may be registered; supplying a second causes New to fail
// with ErrWakeupRegistered.
func WithWakeup(w WakeupFunc) Option {
	return optionFunc(func(wq *WaitQueue) error {
		if wq.wakeup != nil {
			return ErrWakeupRegistered
		}

		wq.wakeup = w
		return nil
	})
}

// New constructs a WaitQueue using the supplied set of options.
func New(opts ...Option) (*WaitQueue, error) {
	wq := &WaitQueue{
		waiting: redblacktree.NewWith[timerKey, *Timer](compareTimerKeys),
		now:     time.Now,
	}

	for _, o := range opts {
		if err := o.apply(wq); err != nil {
			return nil, err
		}
	}

	return wq, nil
}

// notify invokes the wakeup listener if one is registered. The caller
// must not hold the lock.
func (wq *WaitQueue) notify() {
	if wq.wakeup != nil {
		wq.wakeup(wq)
	}
}

// Wait queues t to fire no earlier than interval from now, recording
// task as the callback to hand to the Executor when t is dispatched.
// The interval must be non-negative.
//
// t must be unqueued. Passing a Timer that is currently queued is a
// precondition violation with undefined results: cancel it first, or
// use Reschedule.
//
// If t became the new minimum, the wakeup listener is invoked exactly
// once, after the lock is released.
func (wq *WaitQueue) Wait(t *Timer, interval time.Duration, task Task) {
	t.task = task
	deadline := wq.now().Add(interval)

	wq.lock.Lock()
	wq.sequence++
	t.key = timerKey{deadline: deadline, sequence: wq.sequence}
	t.queued = true
	wq.waiting.Put(t.key, t)
	becameMinimum := wq.waiting.Left().Key.sequence == t.key.sequence
	wq.lock.Unlock()

	if becameMinimum {
		wq.notify()
	}
}

// NextDeadline reports how long until the earliest queued Timer is due.
// The result is never negative, so a poller can always use it directly
// as a bounded wait. If no Timers are queued, NextDeadline returns
// (0, false).
func (wq *WaitQueue) NextDeadline() (time.Duration, bool) {
	now := wq.now()

	wq.lock.Lock()
	least := wq.waiting.Left()
	var deadline time.Time
	if least != nil {
		deadline = least.Key.deadline
	}
	wq.lock.Unlock()

	if least == nil {
		return 0, false
	}

	if d := deadline.Sub(now); d > 0 {
		return d, true
	}

	return 0, true
}

// Len returns the count of Timers currently queued.
func (wq *WaitQueue) Len() int {
	defer wq.lock.Unlock()
	wq.lock.Lock()
	return wq.waiting.Size()
}

// expireOne removes and returns the minimum Timer if its deadline has
// passed at now. It returns nil if the set is empty or the minimum is
// not yet due.
func (wq *WaitQueue) expireOne(now time.Time) *Timer {
	defer wq.lock.Unlock()
	wq.lock.Lock()

	least := wq.waiting.Left()
	if least == nil {
		return nil
	}

	t := least.Value
	if t.key.deadline.After(now) {
		return nil
	}

	wq.waiting.Remove(t.key)
	t.queued = false
	t.generation++
	return t
}

// Dispatch drains Timers whose deadlines have passed, submitting each
// one's task to e, until no due Timer remains or limit submissions have
// occurred. A nonpositive limit means unbounded. Dispatch returns the
// number of Timers submitted.
//
// The clock is sampled once at entry, bounding the drain to the Timers
// due at that instant: Timers queued concurrently with already-due
// deadlines are left for the next call, guaranteeing termination.
//
// Timers with strictly earlier deadlines are submitted before Timers
// with later deadlines; equal deadlines are submitted in insertion
// order. The lock is acquired and released once per Timer and is never
// held across the hand-off to e, so a task submitted here may safely
// call back into this WaitQueue.
//
// Once a Timer is handed to e, this WaitQueue no longer tracks it and
// the caller may reuse it.
func (wq *WaitQueue) Dispatch(e Executor, limit int) int {
	count := 0
	now := wq.now()

	for limit <= 0 || count < limit {
		t := wq.expireOne(now)
		if t == nil {
			break
		}

		e.Execute(t.task)
		count++
	}

	return count
}

// Cancel removes t from the waiting set and reports whether it was
// removed. If t is not queued, because it was never queued or because a
// concurrent Dispatch already claimed it, Cancel is a no-op and returns
// false.
//
// Cancellation is best-effort: it provides no guarantee against a
// Dispatch racing on the same Timer, and by the time Cancel returns
// false the old task may already be executing. Callers needing
// exactly-once semantics must layer their own generation check into
// the task.
//
// If t had been the minimum, the wakeup listener is invoked after the
// lock is released, so a poller sleeping on the removed deadline can
// recompute its wait.
func (wq *WaitQueue) Cancel(t *Timer) bool {
	wq.lock.Lock()
	if !t.queued {
		wq.lock.Unlock()
		return false
	}

	wasMinimum := wq.waiting.Left().Key.sequence == t.key.sequence
	wq.waiting.Remove(t.key)
	t.queued = false
	wq.lock.Unlock()

	if wasMinimum {
		wq.notify()
	}

	return true
}

// Reschedule moves a queued Timer to a new deadline, interval from now,
// keeping its task. It reports whether the Timer was requeued.
//
// Reschedule is two-phase: t is removed under the lock, the new
// deadline is computed, and t is reinserted under the lock with a fresh
// insertion sequence. If t is not queued at phase one, because it
// already fired or was never queued, Reschedule is a no-op and returns
// false. If a concurrent Dispatch or Wait claims t while the lock is
// released between the phases, reinsertion is abandoned and Reschedule
// returns false rather than requeue a Timer whose task may already be
// executing.
//
// The wakeup listener is invoked at most once per call, if either phase
// changed the minimum.
func (wq *WaitQueue) Reschedule(t *Timer, interval time.Duration) bool {
	wq.lock.Lock()
	if !t.queued {
		wq.lock.Unlock()
		return false
	}

	needWakeup := wq.waiting.Left().Key.sequence == t.key.sequence
	wq.waiting.Remove(t.key)
	t.queued = false
	generation := t.generation
	wq.lock.Unlock()

	deadline := wq.now().Add(interval)

	wq.lock.Lock()
	if t.queued || t.generation != generation {
		wq.lock.Unlock()
		if needWakeup {
			wq.notify()
		}

		return false
	}

	wq.sequence++
	t.key = timerKey{deadline: deadline, sequence: wq.sequence}
	t.queued = true
	wq.waiting.Put(t.key, t)
	needWakeup = needWakeup || wq.waiting.Left().Key.sequence == t.key.sequence
	wq.lock.Unlock()

	if needWakeup {
		wq.notify()
	}

	return true
}
