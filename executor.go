// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package waitq

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolStarted is returned by Pool.Start to indicate that the Pool
	// has already been started.
	ErrPoolStarted = errors.New("the pool has been started")

	// ErrPoolClosed is returned by Pool.Start and Pool.Close to indicate
	// that the Pool has already been closed.
	ErrPoolClosed = errors.New("the pool has been closed")
)

const (
	// DefaultPoolWorkers is the number of worker goroutines a Pool runs
	// when none is set via WithWorkers.
	DefaultPoolWorkers = 1

	// DefaultPoolDepth is the task buffer capacity a Pool uses when none
	// is set via WithPoolDepth.
	DefaultPoolDepth = 256
)

// Task is an opaque callback descriptor. A WaitQueue stores the Task
// given to Wait and hands it to an Executor when the owning Timer's
// deadline passes.
type Task func()

// Executor accepts Tasks for execution. Dispatch is this package's only
// entry point into an Executor.
//
// An Executor is invoked with no WaitQueue locks held, so an
// implementation may run the Task inline or schedule it asynchronously.
// Tasks run as a result of Dispatch may safely call back into the
// originating WaitQueue.
type Executor interface {
	Execute(Task)
}

// ExecutorFunc is a closure type that is convertible to an Executor.
type ExecutorFunc func(Task)

// Execute invokes the closure with the given task.
func (f ExecutorFunc) Execute(task Task) { f(task) }

// pool lifecycle states
const (
	poolCreated int32 = iota
	poolRunning
	poolClosed
)

// Pool is a fixed-size worker pool Executor. Tasks are buffered on a
// channel and executed by a static set of goroutines, each of which
// isolates task panics so one misbehaving Task cannot take down a
// worker.
//
// A Pool accepts Tasks as soon as it is constructed; Tasks submitted
// before Start are buffered and run once the workers come up.
type Pool struct {
	state   atomic.Int32
	workers int

	chDie   chan struct{}
	chTasks chan Task
	done    sync.WaitGroup

	// onPanic receives the value recovered from a panicking Task.
	onPanic func(recovered any)
}

// PoolOption is a configurable option for tailoring a Pool.
type PoolOption interface {
	apply(*Pool) error
}

type poolOptionFunc func(*Pool) error

func (f poolOptionFunc) apply(p *Pool) error { return f(p) }

// WithWorkers sets the number of worker goroutines. If unset or
// nonpositive, the Pool will use DefaultPoolWorkers.
func WithWorkers(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) error {
		if n <= 0 {
			n = DefaultPoolWorkers
		}

		p.workers = n
		return nil
	})
}

// WithPoolDepth sets the task buffer capacity. If unset or nonpositive,
// the Pool will use DefaultPoolDepth.
func WithPoolDepth(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) error {
		if n <= 0 {
			n = DefaultPoolDepth
		}

		p.chTasks = make(chan Task, n)
		return nil
	})
}

// WithPanicHandler sets a callback to receive values recovered from
// panicking Tasks. If unset, recovered values are discarded.
func WithPanicHandler(f func(recovered any)) PoolOption {
	return poolOptionFunc(func(p *Pool) error {
		p.onPanic = f
		return nil
	})
}

// NewPool constructs a Pool using the supplied set of options. The
// returned Pool will not be running and must be started before any
// submitted Tasks execute.
func NewPool(opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		workers: DefaultPoolWorkers,
		chDie:   make(chan struct{}),
	}

	for _, o := range opts {
		if err := o.apply(p); err != nil {
			return nil, err
		}
	}

	if p.chTasks == nil {
		p.chTasks = make(chan Task, DefaultPoolDepth)
	}

	return p, nil
}

// runTask executes one task, recovering from any panic.
func (p *Pool) runTask(task Task) {
	if task == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()

	task()
}

// run is a single worker's loop.
func (p *Pool) run() {
	defer p.done.Done()

	for {
		select {
		case task := <-p.chTasks:
			p.runTask(task)

		case <-p.chDie:
			return
		}
	}
}

// Start launches the worker goroutines.
//
// This method is idempotent. If this Pool has already been started,
// this method does nothing and returns ErrPoolStarted. A closed Pool
// cannot be restarted: Start returns ErrPoolClosed.
func (p *Pool) Start() error {
	if p.state.CompareAndSwap(poolCreated, poolRunning) {
		p.done.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.run()
		}

		return nil
	}

	if p.state.Load() == poolClosed {
		return ErrPoolClosed
	}

	return ErrPoolStarted
}

// Execute implements the Executor interface. The task is buffered for
// execution by a worker; if the buffer is full, Execute blocks until a
// worker frees space.
//
// Submission is best-effort around shutdown: Tasks submitted after
// Close, or still buffered when Close is called, are silently dropped.
func (p *Pool) Execute(task Task) {
	if p.state.Load() == poolClosed {
		return
	}

	select {
	case p.chTasks <- task:
	case <-p.chDie:
	}
}

// Close stops the workers and waits for any in-flight Tasks to finish.
// Buffered Tasks that no worker has picked up are dropped.
//
// This method is idempotent. If this Pool has already been closed,
// this method does nothing and returns ErrPoolClosed.
func (p *Pool) Close() error {
	if p.state.CompareAndSwap(poolRunning, poolClosed) {
		close(p.chDie)
		p.done.Wait()
		return nil
	}

	if p.state.CompareAndSwap(poolCreated, poolClosed) {
		return nil
	}

	return ErrPoolClosed
}
