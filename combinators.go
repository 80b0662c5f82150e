package strand

import (
	"sync"
	"time"
)

// JoinAll returns a Deferred that resolves to the values of all the given
// deferreds, in input order, once every one of them has settled. If any of
// them rejects, the joined Deferred rejects with the error of the
// lowest-index failure; the rest are still waited for, never cancelled.
//
// Joining an empty set rejects immediately.
func JoinAll[T any](ds ...*Deferred[T]) *Deferred[[]T] {
	out := NewDeferred[[]T]()
	if len(ds) == 0 {
		out.Reject(errEmptyJoin)
		return out
	}

	var mu sync.Mutex
	outs := make([]Outcome[T], len(ds))
	remaining := len(ds)

	for i, d := range ds {
		i := i
		d.Subscribe(func(o Outcome[T]) {
			mu.Lock()
			outs[i] = o
			remaining--
			done := remaining == 0
			mu.Unlock()
			if !done {
				return
			}
			values := make([]T, len(outs))
			for j, o := range outs {
				v, err := o.Get()
				if err != nil {
					out.Reject(err)
					return
				}
				values[j] = v
			}
			out.Resolve(values)
		})
	}

	return out
}

// JoinAny returns a Deferred that settles with the outcome of whichever of
// the given deferreds settles first. The others are left to settle on their
// own; their results are discarded.
//
// Joining an empty set rejects immediately.
func JoinAny[T any](ds ...*Deferred[T]) *Deferred[T] {
	out := NewDeferred[T]()
	if len(ds) == 0 {
		out.Reject(errEmptyJoin)
		return out
	}

	var once sync.Once
	for _, d := range ds {
		d.Subscribe(func(o Outcome[T]) {
			once.Do(func() { out.Settle(o) })
		})
	}

	return out
}

// Timeout returns a Deferred that settles with d's outcome if d settles
// within dur, and rejects with ErrTimeout otherwise. The loser of the race
// is cancelled.
func Timeout[T any](r *Reactor, d *Deferred[T], dur time.Duration) *Deferred[T] {
	out := NewDeferred[T]()
	tm := r.After(dur)

	// Not a sync.Once: cancelling the loser re-enters through its
	// subscription on this same call stack, and must find the race
	// already claimed rather than block.
	var mu sync.Mutex
	claimed := false
	claim := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if claimed {
			return false
		}
		claimed = true
		return true
	}

	d.Subscribe(func(o Outcome[T]) {
		if claim() {
			out.Settle(o)
			tm.Cancel()
		}
	})
	tm.Done().Subscribe(func(o Outcome[time.Time]) {
		if o.Err() != nil {
			return // timer cancelled, d won
		}
		if claim() {
			out.Reject(ErrTimeout)
			d.Cancel()
		}
	})

	return out
}
