package strand

import "time"

// A Timer is a pending deadline owned by its [Reactor] until it fires or is
// cancelled. Timers fire in deadline order; two timers with the same deadline
// fire in registration order.
type Timer struct {
	r    *Reactor
	when time.Time
	seq  uint64
	d    *Deferred[time.Time]

	// canceled and fired are guarded by r.mu. A cancelled entry stays in
	// the queue and is dropped lazily, which keeps cancellation safe from
	// continuations running on the same loop iteration.
	canceled bool
	fired    bool
}

func (t *Timer) less(u *Timer) bool {
	if !t.when.Equal(u.when) {
		return t.when.Before(u.when)
	}
	return t.seq < u.seq
}

// Done returns the Deferred resolved with the current time when t fires, or
// rejected with [ErrCanceled] when t is cancelled.
func (t *Timer) Done() *Deferred[time.Time] {
	return t.d
}

// When returns the deadline of t.
func (t *Timer) When() time.Time {
	return t.when
}

// Cancel removes t from its reactor and settles its Deferred with
// [ErrCanceled]. Cancelling a fired or already cancelled timer has no
// effect. Cancel is safe to call from a continuation running on the same
// loop iteration.
func (t *Timer) Cancel() {
	t.r.mu.Lock()
	if t.canceled || t.fired {
		t.r.mu.Unlock()
		return
	}
	t.canceled = true
	t.r.mu.Unlock()
	t.d.Cancel()
}

// After registers a timer firing dur from now.
func (r *Reactor) After(dur time.Duration) *Timer {
	return r.At(time.Now().Add(dur))
}

// At registers a timer firing at when. A deadline in the past fires on the
// next loop iteration.
func (r *Reactor) At(when time.Time) *Timer {
	t := &Timer{r: r, when: when, d: NewDeferred[time.Time]()}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.canceled = true
		t.d.Reject(ErrCanceled)
		return t
	}
	t.seq = r.seq
	r.seq++
	r.timers.Push(t)
	p := r.poller
	r.mu.Unlock()
	if p != nil {
		p.wake() // The new deadline may precede the current wait.
	}
	return t
}

// popDue removes and returns the next timer due at now, skipping cancelled
// entries, or nil if none is due.
func (r *Reactor) popDue(now time.Time) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.timers.Empty() {
		t := r.timers.Head()
		if t.canceled {
			r.timers.Pop()
			continue
		}
		if t.when.After(now) {
			return nil
		}
		r.timers.Pop()
		t.fired = true
		return t
	}
	return nil
}
