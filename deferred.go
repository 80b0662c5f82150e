package strand

import (
	"fmt"
	"sync"
	"time"
)

// A Deferred is a composable handle to a not-yet-computed [Outcome].
//
// A Deferred starts out pending, accumulating continuations, and settles
// exactly once; continuations fire exactly once, in registration order,
// synchronously on the settling goroutine, and a continuation registered
// after settlement fires immediately. Settling a Deferred twice is a
// programming error and panics, with one sanctioned exception: a producer
// that loses a race against [Deferred.Cancel] is silently ignored.
//
// A Deferred is single-producer, multi-consumer: exactly one party supplies
// the Outcome, any number may observe it. Producers running off the reactor's
// logical thread must settle through [Reactor.Submit].
type Deferred[T any] struct {
	mu       sync.Mutex
	settled  bool
	canceled bool
	outcome  Outcome[T]
	waiters  []func(Outcome[T])
	start    func()
}

// NewDeferred returns a pending Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return new(Deferred[T])
}

// newLazyDeferred returns a pending Deferred whose start hook runs once,
// on first demand.
func newLazyDeferred[T any](start func()) *Deferred[T] {
	return &Deferred[T]{start: start}
}

// Demand forces a lazy Deferred to start without registering a continuation.
// Demanding a Deferred that has no start hook, or one that already started,
// has no effect.
func (d *Deferred[T]) Demand() {
	d.mu.Lock()
	start := d.start
	d.start = nil
	d.mu.Unlock()
	if start != nil {
		start()
	}
}

// Resolve settles d with the value v.
//
// Panics if d has already settled, unless it was cancelled.
func (d *Deferred[T]) Resolve(v T) {
	d.settle(ValueOf(v))
}

// Reject settles d with the cause err.
//
// Panics if d has already settled, unless it was cancelled.
func (d *Deferred[T]) Reject(err error) {
	d.settle(Fault[T](err))
}

// Settle settles d with o.
//
// Panics if d has already settled, unless it was cancelled.
func (d *Deferred[T]) Settle(o Outcome[T]) {
	d.settle(o)
}

func (d *Deferred[T]) settle(o Outcome[T]) {
	d.mu.Lock()
	if d.settled {
		canceled := d.canceled
		d.mu.Unlock()
		if canceled {
			return // Producer lost a cancellation race.
		}
		panic("strand: deferred settled twice")
	}
	d.settled = true
	d.outcome = o
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()
	for _, fn := range waiters {
		fn(o)
	}
}

// Cancel settles a pending d with [ErrCanceled] and marks it so that a late
// producer settlement is dropped instead of treated as a double settlement.
// Cancelling a settled Deferred has no effect.
//
// Cancel is the explicit dispose hook for combinator members left running by
// [JoinAll] and [JoinAny].
func (d *Deferred[T]) Cancel() {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return
	}
	d.settled = true
	d.canceled = true
	o := Fault[T](ErrCanceled)
	d.outcome = o
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()
	for _, fn := range waiters {
		fn(o)
	}
}

// Subscribe registers fn to run exactly once with the Outcome of d.
// Subscribing demands d (see [Deferred.Demand]); if d has already settled,
// fn runs immediately on the calling goroutine.
func (d *Deferred[T]) Subscribe(fn func(Outcome[T])) {
	d.Demand()
	d.mu.Lock()
	if !d.settled {
		d.waiters = append(d.waiters, fn)
		d.mu.Unlock()
		return
	}
	o := d.outcome
	d.mu.Unlock()
	fn(o)
}

// Settled reports whether d has settled.
func (d *Deferred[T]) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

// Poll returns the Outcome of d, if it has settled. Poll does not demand d.
func (d *Deferred[T]) Poll() (Outcome[T], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome, d.settled
}

// isDeferred restricts [Awaitable] to this package's Deferred type.
func (d *Deferred[T]) isDeferred() {}

// An Awaitable is any [Deferred], independent of its result type.
type Awaitable interface {
	Settled() bool
	isDeferred()
}

// Wait blocks the calling goroutine until d settles, then returns its
// Outcome. A non-positive timeout waits forever; otherwise Wait gives up
// after timeout with [ErrTimeout].
//
// Wait is for call sites outside any coroutine context, such as
// bootstrapping. Inside a coroutine, use [Await] instead: it suspends rather
// than blocks.
func (d *Deferred[T]) Wait(timeout time.Duration) (T, error) {
	ch := make(chan Outcome[T], 1)
	d.Subscribe(func(o Outcome[T]) { ch <- o })
	if timeout <= 0 {
		o := <-ch
		return o.Get()
	}
	select {
	case o := <-ch:
		return o.Get()
	case <-time.After(timeout):
		var zero T
		return zero, ErrTimeout
	}
}

// Then returns a Deferred for f applied to the success value of d.
// A failure of d passes through untouched. If f returns an error or panics,
// the returned Deferred fails with that cause.
func Then[T, U any](d *Deferred[T], f func(T) (U, error)) *Deferred[U] {
	next := NewDeferred[U]()
	d.Subscribe(func(o Outcome[T]) {
		v, err := o.Get()
		if err != nil {
			next.Reject(err)
			return
		}
		next.Settle(apply(f, v))
	})
	return next
}

// Recover returns a Deferred for f applied to the failure cause of d.
// A success of d passes through untouched. If f returns an error or panics,
// the returned Deferred fails with that cause.
func Recover[T any](d *Deferred[T], f func(error) (T, error)) *Deferred[T] {
	next := NewDeferred[T]()
	d.Subscribe(func(o Outcome[T]) {
		if o.Ok() {
			next.Settle(o)
			return
		}
		next.Settle(apply(f, o.Err()))
	})
	return next
}

// RecoverPipe returns a Deferred following the Deferred produced by f from
// the failure cause of d. The nesting is flattened exactly one level; a
// success of d passes through untouched. If f returns nil or panics, the
// returned Deferred fails with that cause.
func RecoverPipe[T any](d *Deferred[T], f func(error) *Deferred[T]) *Deferred[T] {
	next := NewDeferred[T]()
	d.Subscribe(func(o Outcome[T]) {
		if o.Ok() {
			next.Settle(o)
			return
		}
		inner, err := guard(f, o.Err())
		if err != nil {
			next.Reject(err)
			return
		}
		inner.Subscribe(next.Settle)
	})
	return next
}

// Pipe returns a Deferred following the Deferred produced by f from the
// success value of d. The nesting is flattened exactly one level; a failure
// of d passes through untouched.
func Pipe[T, U any](d *Deferred[T], f func(T) *Deferred[U]) *Deferred[U] {
	next := NewDeferred[U]()
	d.Subscribe(func(o Outcome[T]) {
		v, err := o.Get()
		if err != nil {
			next.Reject(err)
			return
		}
		inner, err := guard(f, v)
		if err != nil {
			next.Reject(err)
			return
		}
		inner.Subscribe(next.Settle)
	})
	return next
}

func apply[T, U any](f func(T) (U, error), v T) (o Outcome[U]) {
	defer func() {
		if p := recover(); p != nil {
			o = Fault[U](fmt.Errorf("strand: continuation panicked: %v", p))
		}
	}()
	u, err := f(v)
	if err != nil {
		return Fault[U](err)
	}
	return ValueOf(u)
}

func guard[T, U any](f func(T) *Deferred[U], v T) (d *Deferred[U], err error) {
	defer func() {
		if p := recover(); p != nil {
			d, err = nil, fmt.Errorf("strand: continuation panicked: %v", p)
		}
	}()
	d = f(v)
	if d == nil {
		return nil, fmt.Errorf("strand: continuation returned nil deferred")
	}
	return d, nil
}
