// Package queue provides a sequential work queue: producers on any goroutine
// append items while a single worker loop runs one action at a time, in order.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Action processes one item. A returned error stops the worker loop.
type Action[T any] func(ctx context.Context, item T) error

// Option configures a Queue
type Option func(*options)

type options struct {
	capacity int
	onPause  func()
	onResume func()
}

// WithCapacity bounds the backlog seen by Push. Enqueue ignores it.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithPauseHooks reports when a Push first has to wait for room and when
// room frees up again
func WithPauseHooks(onPause, onResume func()) Option {
	return func(o *options) {
		o.onPause = onPause
		o.onResume = onResume
	}
}

// Queue is a FIFO backlog drained by at most one worker goroutine
type Queue[T any] struct {
	ctx    context.Context
	action Action[T]
	opts   options

	mu      sync.Mutex
	backlog []T
	active  bool
	done    chan struct{} // closed when the current loop exits
	space   chan struct{} // closed and replaced whenever the backlog shrinks
	paused  bool
	err     error

	processed atomic.Int64
}

// New creates an idle queue. ctx is passed to every action; cancelling it
// stops the loop after the running action returns.
func New[T any](ctx context.Context, action Action[T], opts ...Option) *Queue[T] {
	q := &Queue[T]{
		ctx:    ctx,
		action: action,
		space:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&q.opts)
	}
	return q
}

// Enqueue appends an item and starts the worker loop if none is running.
// It never blocks.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backlog = append(q.backlog, item)
	q.arm()
}

// Push appends an item, waiting while the backlog is at capacity.
// It returns the error that stopped the previous loop, if that error has
// not been collected by Drain yet.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return err
		}

		if q.opts.capacity <= 0 || len(q.backlog) < q.opts.capacity {
			q.backlog = append(q.backlog, item)
			q.arm()
			resume := q.paused
			q.paused = false
			q.mu.Unlock()

			if resume && q.opts.onResume != nil {
				q.opts.onResume()
			}
			return nil
		}

		// Full: make sure something is draining before waiting on it
		q.arm()
		wait := q.space
		pause := !q.paused
		q.paused = true
		q.mu.Unlock()

		if pause && q.opts.onPause != nil {
			q.opts.onPause()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Drain waits for the loop running at call time to finish and returns the
// error that stopped it, if any. Items enqueued concurrently may remain; check
// Len afterwards when strict completion matters.
func (q *Queue[T]) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.active {
		err := q.err
		q.err = nil
		q.mu.Unlock()
		return err
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.err
	q.err = nil
	return err
}

// Settle drains until the backlog is empty and no loop is running, restarting
// the loop for items left behind after an earlier error was collected
func (q *Queue[T]) Settle(ctx context.Context) error {
	for {
		if err := q.Drain(ctx); err != nil {
			return err
		}

		q.mu.Lock()
		if len(q.backlog) == 0 && !q.active {
			q.mu.Unlock()
			return nil
		}
		if err := q.ctx.Err(); err != nil {
			q.mu.Unlock()
			return err
		}
		q.arm()
		q.mu.Unlock()
	}
}

// Len returns the number of items waiting in the backlog
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Active reports whether a worker loop is running
func (q *Queue[T]) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Processed returns the number of actions that completed without error
func (q *Queue[T]) Processed() int64 {
	return q.processed.Load()
}

// arm starts the worker loop. Caller holds mu.
func (q *Queue[T]) arm() {
	if q.active || len(q.backlog) == 0 {
		return
	}
	q.active = true
	q.done = make(chan struct{})
	go q.run(q.done)
}

// signalSpace wakes producers blocked in Push. Caller holds mu.
func (q *Queue[T]) signalSpace() {
	close(q.space)
	q.space = make(chan struct{})
}

func (q *Queue[T]) run(done chan struct{}) {
	for {
		q.mu.Lock()
		if err := q.ctx.Err(); err != nil {
			q.stop(done, err)
			return
		}
		if len(q.backlog) == 0 {
			q.stop(done, nil)
			return
		}

		item := q.backlog[0]
		var zero T
		q.backlog[0] = zero
		q.backlog = q.backlog[1:]
		q.signalSpace()
		q.mu.Unlock()

		if err := q.action(q.ctx, item); err != nil {
			q.mu.Lock()
			q.stop(done, err)
			return
		}
		q.processed.Add(1)
	}
}

// stop ends the loop and releases mu
func (q *Queue[T]) stop(done chan struct{}, err error) {
	if err != nil {
		q.err = err
	}
	q.active = false
	q.signalSpace()
	close(done)
	q.mu.Unlock()
}
