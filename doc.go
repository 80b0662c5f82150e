// Package strand is a library for single-threaded asynchronous programming.
//
// The central type is a [Reactor]: a run-to-completion event loop that
// multiplexes timers and file-descriptor readiness on one goroutine.
// One can create as many reactors as they like; each one is independent.
//
// # Deferreds and Outcomes
//
// A [Deferred] is a container that settles exactly once with an [Outcome]:
// either a value or an error. Continuations subscribe to a Deferred and run,
// in registration order, on whichever goroutine settles it. Settling a
// Deferred twice is a programming error and panics, with one exception:
// after [Deferred.Cancel], a late settlement from the producer side is
// silently dropped, since the producer may legitimately still be running.
//
// # Coroutines
//
// [Go] spawns a coroutine: a body function that runs on its own goroutine
// but never concurrently with its reactor. Inside a body, [Await] suspends
// the coroutine until a Deferred settles, handing control back to the
// reactor in the meantime. Awaiting from any other goroutine panics.
// Coroutines are lazy: the body does not start until something demands the
// result.
//
// Unrecovered panics in a body do not crash the program. They are captured
// into a [TracedError], along with the panic-site stack and the file:line
// that spawned the coroutine, and delivered to the coroutine's Deferred like
// any other failure.
//
// # Running a Reactor
//
// [Reactor.Run] processes submitted work, fires due timers, and dispatches
// descriptor readiness until nothing remains pending, then returns. Code on
// other goroutines injects work with [Reactor.Submit]; components that can
// produce events from outside the loop keep it alive with [Reactor.Hold]
// and [Reactor.Release].
//
// # Joining
//
// Deferreds compose: [JoinAll] waits for a whole set and preserves every
// outcome, [JoinAny] settles with the first, and [Timeout] races a Deferred
// against a reactor timer. [Then], [Recover] and [Pipe] derive new Deferreds
// from the outcome of an existing one without involving a coroutine.
package strand
