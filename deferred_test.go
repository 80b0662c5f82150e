package strand_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivay/strand"
)

func TestDeferredSettleOnce(t *testing.T) {
	d := strand.NewDeferred[int]()
	d.Resolve(1)
	assert.Panics(t, func() { d.Resolve(2) })
	assert.Panics(t, func() { d.Reject(errors.New("nope")) })

	o, ok := d.Poll()
	require.True(t, ok)
	v, err := o.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDeferredLateSubscriber(t *testing.T) {
	d := strand.NewDeferred[string]()
	d.Resolve("done")

	fired := 0
	d.Subscribe(func(o strand.Outcome[string]) {
		fired++
		v, err := o.Get()
		assert.NoError(t, err)
		assert.Equal(t, "done", v)
	})
	assert.Equal(t, 1, fired)
}

func TestDeferredSubscriberOrder(t *testing.T) {
	d := strand.NewDeferred[int]()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		d.Subscribe(func(strand.Outcome[int]) { order = append(order, i) })
	}
	d.Resolve(42)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDeferredCancelDropsLateSettlement(t *testing.T) {
	d := strand.NewDeferred[int]()
	d.Cancel()

	_, err := d.Wait(0)
	require.ErrorIs(t, err, strand.ErrCanceled)

	// The producer losing the race must not blow up.
	assert.NotPanics(t, func() { d.Resolve(7) })
	assert.NotPanics(t, func() { d.Cancel() })

	_, err = d.Wait(0)
	assert.ErrorIs(t, err, strand.ErrCanceled)
}

func TestDeferredWaitTimeout(t *testing.T) {
	d := strand.NewDeferred[int]()
	_, err := d.Wait(10 * time.Millisecond)
	assert.ErrorIs(t, err, strand.ErrTimeout)
	assert.ErrorIs(t, err, strand.ErrCanceled)
}

func TestDeferredLazyStart(t *testing.T) {
	r := strand.NewReactor()
	started := false
	d := strand.Go(r, func(co *strand.Coroutine) (int, error) {
		started = true
		return 9, nil
	})

	require.NoError(t, r.Run())
	assert.False(t, started, "body ran without demand")

	d.Demand()
	require.NoError(t, r.Run())
	assert.True(t, started)

	o, ok := d.Poll()
	require.True(t, ok)
	v, err := o.Get()
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestThenRecoverPipe(t *testing.T) {
	t.Run("then maps success", func(t *testing.T) {
		d := strand.NewDeferred[int]()
		next := strand.Then(d, func(v int) (string, error) { return "got", nil })
		d.Resolve(5)
		v, err := next.Wait(0)
		require.NoError(t, err)
		assert.Equal(t, "got", v)
	})

	t.Run("then passes failure through", func(t *testing.T) {
		cause := errors.New("boom")
		d := strand.NewDeferred[int]()
		next := strand.Then(d, func(v int) (string, error) { return "unreached", nil })
		d.Reject(cause)
		_, err := next.Wait(0)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("then captures panics", func(t *testing.T) {
		d := strand.NewDeferred[int]()
		next := strand.Then(d, func(v int) (string, error) { panic("bad continuation") })
		d.Resolve(1)
		_, err := next.Wait(0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad continuation")
	})

	t.Run("recover maps failure", func(t *testing.T) {
		d := strand.NewDeferred[int]()
		next := strand.Recover(d, func(error) (int, error) { return -1, nil })
		d.Reject(errors.New("boom"))
		v, err := next.Wait(0)
		require.NoError(t, err)
		assert.Equal(t, -1, v)
	})

	t.Run("recover pipe follows failure side", func(t *testing.T) {
		inner := strand.NewDeferred[int]()
		d := strand.NewDeferred[int]()
		next := strand.RecoverPipe(d, func(error) *strand.Deferred[int] { return inner })
		d.Reject(errors.New("boom"))
		assert.False(t, next.Settled())
		inner.Resolve(8)
		v, err := next.Wait(0)
		require.NoError(t, err)
		assert.Equal(t, 8, v)
	})

	t.Run("recover pipe passes success through", func(t *testing.T) {
		d := strand.NewDeferred[int]()
		next := strand.RecoverPipe(d, func(error) *strand.Deferred[int] {
			t.Error("failure continuation must not run on success")
			return nil
		})
		d.Resolve(4)
		v, err := next.Wait(0)
		require.NoError(t, err)
		assert.Equal(t, 4, v)
	})

	t.Run("pipe flattens one level", func(t *testing.T) {
		inner := strand.NewDeferred[string]()
		d := strand.NewDeferred[int]()
		next := strand.Pipe(d, func(v int) *strand.Deferred[string] { return inner })
		d.Resolve(1)
		assert.False(t, next.Settled())
		inner.Resolve("inner")
		v, err := next.Wait(0)
		require.NoError(t, err)
		assert.Equal(t, "inner", v)
	})
}
