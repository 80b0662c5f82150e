package strand

// An Outcome is the result of an asynchronous operation: either a success
// value or a failure cause. An Outcome is immutable once constructed.
//
// Failure causes produced by coroutines are wrapped in a [TracedError]
// carrying the origin of the coroutine for diagnostics.
type Outcome[T any] struct {
	value T
	err   error
}

// ValueOf returns a successful Outcome holding v.
func ValueOf[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Fault returns a failed Outcome with cause err.
//
// Panics if err is nil.
func Fault[T any](err error) Outcome[T] {
	if err == nil {
		panic("strand: Fault called with nil error")
	}
	return Outcome[T]{err: err}
}

// Ok reports whether o holds a success value.
func (o Outcome[T]) Ok() bool {
	return o.err == nil
}

// Get returns the success value and the failure cause.
// Exactly one of the two is meaningful.
func (o Outcome[T]) Get() (T, error) {
	return o.value, o.err
}

// Err returns the failure cause, or nil for a success.
func (o Outcome[T]) Err() error {
	return o.err
}
