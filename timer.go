// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package waitq

import "time"

// timerKey is the ordering key for queued Timers. The primary key is the
// deadline; ties between equal deadlines are broken by the insertion
// sequence, yielding a strict total order in which no two queued Timers
// ever compare equal.
type timerKey struct {
	deadline time.Time
	sequence uint64
}

// compareTimerKeys is the comparator for the waiting set, in the shape
// required by the tree implementation. Earlier deadlines order first,
// and for equal deadlines, earlier insertions order first.
func compareTimerKeys(a, b timerKey) int {
	switch {
	case a.deadline.Before(b.deadline):
		return -1

	case a.deadline.After(b.deadline):
		return 1

	case a.sequence < b.sequence:
		return -1

	case a.sequence > b.sequence:
		return 1

	default:
		return 0
	}
}

// Timer is a caller-owned record describing one pending deferred call.
// The zero value is ready to use.
//
// A Timer is either unqueued, meaning no WaitQueue knows about it, or
// queued into exactly one WaitQueue's waiting set. A WaitQueue only
// borrows a Timer while it is queued: Timers are never allocated,
// retained, or freed by this package, and once a Timer has been
// dispatched or canceled the caller is free to reuse it.
//
// Calling WaitQueue.Wait with a Timer that is already queued is a
// precondition violation with undefined results. Callers must cancel
// first, or use WaitQueue.Reschedule.
type Timer struct {
	// key is this Timer's position in the waiting set while queued.
	// Guarded by the owning WaitQueue's lock.
	key timerKey

	// task is the callback descriptor handed to the Executor when this
	// Timer is dispatched. Opaque to this package.
	task Task

	// queued records waiting set membership. Guarded by the owning
	// WaitQueue's lock.
	queued bool

	// generation counts dispatch removals of this Timer. Reschedule uses
	// it to detect that a concurrent dispatch claimed the Timer while
	// the lock was released between its two phases.
	generation uint64
}
