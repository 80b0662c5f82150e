package strand

import (
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/petermattis/goid"
)

// A Coroutine is an execution of code, similar to a goroutine but cooperative:
// its body runs on a dedicated goroutine, yet only ever while it holds the
// reactor's baton, so all coroutines driven by one [Reactor] execute strictly
// interleaved, never in parallel, and never preempt each other. Suspension is
// always explicit, through [Await].
//
// A coroutine is created with [Go] and terminates when its body returns.
// It must not be driven from any goroutine other than the one running its
// body.
type Coroutine struct {
	reactor *Reactor
	origin  string
	gid     int64
	step    chan struct{} // baton: driver hands control to the body
	pause   chan struct{} // baton: body hands control back

	// immediate is set by a continuation that fires synchronously during
	// registration, before the body had a chance to suspend.
	immediate bool
}

// Go creates a coroutine to run body on r and returns its Deferred.
//
// No body code runs until the Deferred is first demanded (subscribed,
// awaited, or waited on); side effects only happen once the result is
// actually asked for. The body's return value settles the Deferred; an error
// or a panic settles it with a failure wrapped in a [TracedError] naming the
// Go call site.
func Go[T any](r *Reactor, body func(co *Coroutine) (T, error)) *Deferred[T] {
	co := &Coroutine{
		reactor: r,
		origin:  origin(2),
		step:    make(chan struct{}),
		pause:   make(chan struct{}),
	}
	var d *Deferred[T]
	d = newLazyDeferred[T](func() {
		r.Submit(func() { launch(co, body, d) })
	})
	return d
}

func origin(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func launch[T any](co *Coroutine, body func(*Coroutine) (T, error), d *Deferred[T]) {
	go func() {
		co.gid = goid.Get()
		<-co.step
		out := runBody(co, body)
		d.Settle(out)
		co.pause <- struct{}{}
	}()
	co.resume()
}

func runBody[T any](co *Coroutine, body func(*Coroutine) (T, error)) (out Outcome[T]) {
	defer func() {
		if p := recover(); p != nil {
			out = Fault[T](&TracedError{
				Origin: co.origin,
				Stack:  debug.Stack(),
				Err:    fmt.Errorf("panic: %v", p),
			})
		}
	}()
	v, err := body(co)
	if err != nil {
		return Fault[T](&TracedError{Origin: co.origin, Err: err})
	}
	return ValueOf(v)
}

// resume hands the baton to the body and blocks until it suspends or ends.
// It runs on whatever goroutine currently holds the logical thread.
func (co *Coroutine) resume() {
	co.step <- struct{}{}
	<-co.pause
}

// suspend hands the baton back and blocks until resumed.
func (co *Coroutine) suspend() {
	co.pause <- struct{}{}
	<-co.step
}

// Reactor returns the reactor driving co.
func (co *Coroutine) Reactor() *Reactor {
	return co.reactor
}

// Origin returns the file:line of the [Go] call that created co.
func (co *Coroutine) Origin() string {
	return co.origin
}

// Await suspends co until d settles, then returns its Outcome as a value and
// an error. Failures, including cancellation of the in-flight wait, are
// delivered as ordinary errors so the body's error handling sees them exactly
// like a locally raised one. A coroutine is resumed at most once per
// suspension.
//
// Await demands d, so awaiting a not-yet-started coroutine starts it.
// Panics when called on a goroutine other than the one running co's body.
func Await[T any](co *Coroutine, d *Deferred[T]) (T, error) {
	if goid.Get() != co.gid {
		panic("strand: Await called outside its coroutine")
	}
	d.Demand()
	if o, ok := d.Poll(); ok {
		return o.Get()
	}
	var out Outcome[T]
	co.immediate = false
	d.Subscribe(func(o Outcome[T]) {
		out = o
		if goid.Get() == co.gid {
			// Settled synchronously while still registering; the body
			// never left, so there is nothing to resume.
			co.immediate = true
			return
		}
		co.resume()
	})
	if co.immediate {
		return out.Get()
	}
	co.suspend()
	return out.Get()
}

// Sleep suspends co for at least dur.
func Sleep(co *Coroutine, dur time.Duration) error {
	_, err := Await(co, co.reactor.After(dur).Done())
	return err
}
