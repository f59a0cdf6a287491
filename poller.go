// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package waitq

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoExecutor is returned by NewPoller when no Executor is supplied.
	ErrNoExecutor = errors.New("a poller requires an executor")

	// ErrPollerStarted is returned by Poller.Start to indicate that the
	// Poller has already been started.
	ErrPollerStarted = errors.New("the poller has been started")

	// ErrPollerShutdown is returned by Poller.Shutdown to indicate that
	// the Poller has not yet been started or has already been Shutdown.
	ErrPollerShutdown = errors.New("the poller has been shutdown")
)

// Poller drives a WaitQueue into an Executor from a single background
// goroutine. The goroutine sleeps until the queue's next deadline,
// drains everything due, and goes back to sleep. The Poller registers
// itself as the queue's wakeup listener, so a Wait, Cancel, or
// Reschedule that changes the next deadline interrupts the sleep and
// the wait is recomputed.
type Poller struct {
	queue    *WaitQueue
	executor Executor

	// newTimer is a factory for creating the sleep timer channel and
	// stop function. If unset, defaultNewTimer is used.
	//
	// Tests can replace this function to control the poll loop.
	newTimer newTimer

	// chWake is poked by the queue's wakeup listener. One slot of
	// buffering is enough: a wakeup arriving while the loop is between
	// a NextDeadline read and its sleep is retained, never lost.
	chWake chan struct{}

	lock sync.Mutex

	// cancel is the cancellation function used to control the poll loop
	cancel context.CancelFunc
}

// PollerOption is a configurable option for tailoring a Poller.
type PollerOption interface {
	apply(*Poller) error
}

type pollerOptionFunc func(*Poller) error

func (f pollerOptionFunc) apply(p *Poller) error { return f(p) }

// WithQueueOptions supplies options for the WaitQueue the Poller
// constructs. The Poller registers itself as the queue's wakeup
// listener, so supplying WithWakeup here causes NewPoller to fail
// with ErrWakeupRegistered.
func WithQueueOptions(opts ...Option) PollerOption {
	return pollerOptionFunc(func(p *Poller) error {
		var err error
		p.queue, err = New(append(opts, WithWakeup(p.wake))...)
		return err
	})
}

// NewPoller constructs a Poller that submits due Timers to e, along
// with the WaitQueue it polls. The returned Poller will not be running
// and must be started before any queued Timers are dispatched.
func NewPoller(e Executor, opts ...PollerOption) (*Poller, error) {
	if e == nil {
		return nil, ErrNoExecutor
	}

	p := &Poller{
		executor: e,
		newTimer: defaultNewTimer,
		chWake:   make(chan struct{}, 1),
	}

	for _, o := range opts {
		if err := o.apply(p); err != nil {
			return nil, err
		}
	}

	if p.queue == nil {
		var err error
		if p.queue, err = New(WithWakeup(p.wake)); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Queue returns the WaitQueue this Poller polls. Callers queue work
// through it with Wait, Cancel, and Reschedule at any time, including
// before Start and after Shutdown.
func (p *Poller) Queue() *WaitQueue { return p.queue }

// wake is the WakeupFunc registered on the queue. It must not block:
// if a poke is already pending, another is redundant.
func (p *Poller) wake(*WaitQueue) {
	select {
	case p.chWake <- struct{}{}:
	default:
	}
}

// run is the poll loop. Each pass drains everything currently due,
// then sleeps until the next deadline, a wakeup poke, or shutdown.
func (p *Poller) run(ctx context.Context) {
	for {
		p.queue.Dispatch(p.executor, 0)

		d, ok := p.queue.NextDeadline()
		if !ok {
			// nothing queued: sleep until poked
			select {
			case <-ctx.Done():
				return

			case <-p.chWake:
			}

			continue
		}

		timeCh, stop := p.newTimer(d)
		select {
		case <-ctx.Done():
			stop()
			return

		case <-p.chWake:
			// the next deadline changed; recompute the sleep
			stop()

		case <-timeCh:
		}
	}
}

// Start launches the poll loop. Timers already queued are dispatched as
// they come due from this point on.
//
// This method is idempotent. If this Poller has already been started,
// this method does nothing and returns ErrPollerStarted.
func (p *Poller) Start() error {
	defer p.lock.Unlock()
	p.lock.Lock()

	if p.cancel != nil {
		return ErrPollerStarted
	}

	var rootCtx context.Context
	rootCtx, p.cancel = context.WithCancel(context.Background())
	go p.run(rootCtx)
	return nil
}

// Shutdown stops the poll loop. Queued Timers are preserved: the queue
// remains usable, and a subsequent Start resumes dispatching.
//
// This method is idempotent. If this Poller is not running, this method
// does nothing and returns ErrPollerShutdown.
func (p *Poller) Shutdown() error {
	defer p.lock.Unlock()
	p.lock.Lock()

	if p.cancel == nil {
		return ErrPollerShutdown
	}

	p.cancel()
	p.cancel = nil
	return nil
}
