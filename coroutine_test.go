package strand_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivay/strand"
)

func TestCoroutineAwait(t *testing.T) {
	r := strand.NewReactor()

	d := strand.Go(r, func(co *strand.Coroutine) (string, error) {
		if err := strand.Sleep(co, 5*time.Millisecond); err != nil {
			return "", err
		}
		return "slept", nil
	})
	d.Demand()

	require.NoError(t, r.Run())
	v, err := d.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, "slept", v)
}

func TestCoroutineChainsThroughDeferreds(t *testing.T) {
	r := strand.NewReactor()

	inner := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		if err := strand.Sleep(co, time.Millisecond); err != nil {
			return 0, err
		}
		return 21, nil
	})
	outer := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		v, err := strand.Await(co, inner)
		return v * 2, err
	})
	outer.Demand()

	require.NoError(t, r.Run())
	v, err := outer.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, inner.Settled(), "awaiting must demand the inner coroutine")
}

func TestCoroutineErrorCarriesOrigin(t *testing.T) {
	r := strand.NewReactor()

	cause := errors.New("body failed")
	d := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		return 0, cause
	})
	d.Demand()
	require.NoError(t, r.Run())

	_, err := d.Wait(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var traced *strand.TracedError
	require.ErrorAs(t, err, &traced)
	assert.Contains(t, traced.Origin, "coroutine_test.go")
	assert.Empty(t, traced.Stack)
}

func TestCoroutinePanicCapturesStack(t *testing.T) {
	r := strand.NewReactor()

	d := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		panic("kaboom")
	})
	d.Demand()
	require.NoError(t, r.Run())

	_, err := d.Wait(0)
	require.Error(t, err)

	var traced *strand.TracedError
	require.ErrorAs(t, err, &traced)
	assert.Contains(t, traced.Err.Error(), "kaboom")
	assert.NotEmpty(t, traced.Stack)
}

func TestCoroutineAwaitSettledFastPath(t *testing.T) {
	r := strand.NewReactor()

	ready := strand.NewDeferred[int]()
	ready.Resolve(7)

	d := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		return strand.Await(co, ready)
	})
	d.Demand()
	require.NoError(t, r.Run())

	v, err := d.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCoroutineCancelledWaitResumesOnce(t *testing.T) {
	r := strand.NewReactor()

	waited := strand.NewDeferred[int]()
	resumptions := 0

	d := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		_, err := strand.Await(co, waited)
		resumptions++
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	d.Demand()

	// Cancel the in-flight wait from a timer continuation.
	r.After(5 * time.Millisecond).Done().Subscribe(func(strand.Outcome[time.Time]) {
		waited.Cancel()
	})

	require.NoError(t, r.Run())

	_, err := d.Wait(0)
	assert.ErrorIs(t, err, strand.ErrCanceled)
	assert.Equal(t, 1, resumptions)
}

func TestAwaitOutsideCoroutinePanics(t *testing.T) {
	r := strand.NewReactor()

	var inner *strand.Coroutine
	d := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		inner = co
		return 0, strand.Sleep(co, time.Millisecond)
	})
	d.Demand()
	require.NoError(t, r.Run())

	assert.Panics(t, func() {
		strand.Await(inner, strand.NewDeferred[int]())
	})
}
