package strand

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled reports that a pending wait was explicitly cancelled
	// before it could settle.
	ErrCanceled = errors.New("strand: canceled")

	// ErrTimeout reports that a synchronous wait or a [Timeout] race gave
	// up before the awaited Deferred settled. It matches ErrCanceled under
	// [errors.Is].
	ErrTimeout = fmt.Errorf("%w: timed out", ErrCanceled)

	// ErrInterestBusy reports a second wait registered on a descriptor
	// interest while the first one was still outstanding.
	ErrInterestBusy = errors.New("strand: descriptor interest already awaited")

	// ErrInvalidInterest reports a readiness wait requested with an
	// interest mask that is not exactly Readable or Writable.
	ErrInvalidInterest = errors.New("strand: invalid descriptor interest")
)

var errEmptyJoin = errors.New("strand: empty deferred set")

// A TracedError annotates a failure cause with the origin of the coroutine
// that produced it: the file:line of the Go call that created it and, for
// panics, the stack captured at the panic site.
type TracedError struct {
	Origin string
	Stack  []byte
	Err    error
}

func (e *TracedError) Error() string {
	if len(e.Stack) == 0 {
		return fmt.Sprintf("coroutine %s: %v", e.Origin, e.Err)
	}
	return fmt.Sprintf("coroutine %s: %v\n\n%s", e.Origin, e.Err, e.Stack)
}

func (e *TracedError) Unwrap() error { return e.Err }
