package transport_test

import (
	"net"
	"testing"

	"github.com/libp2p/go-msgio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivay/strand"
	"github.com/kivay/strand/transport"
)

func TestStreamChannelRoundTrip(t *testing.T) {
	r := strand.NewReactor()
	a, b := net.Pipe()
	chA := transport.NewStreamChannel(r, a, 0)
	chB := transport.NewStreamChannel(r, b, 0)

	// One side echoes a single frame back.
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		frame, err := strand.Await(co, chB.Receive())
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, chB.Send(frame)
	}).Demand()

	var (
		got []byte
		err error
	)
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		if err = chA.Send([]byte("hello peer")); err != nil {
			return struct{}{}, err
		}
		got, err = strand.Await(co, chA.Receive())
		chA.Close()
		chB.Close()
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello peer"), got)
}

func TestStreamChannelQueuesEarlyFrames(t *testing.T) {
	r := strand.NewReactor()
	a, b := net.Pipe()
	ch := transport.NewStreamChannel(r, a, 0)

	// Write frames directly, before anyone receives.
	go func() {
		w := msgio.NewVarintWriter(b)
		w.WriteMsg([]byte("one"))
		w.WriteMsg([]byte("two"))
		b.Close()
	}()

	var frames [][]byte
	var recvErr error
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		for {
			frame, err := strand.Await(co, ch.Receive())
			if err != nil {
				recvErr = err
				ch.Close()
				return struct{}{}, nil
			}
			frames = append(frames, frame)
		}
	}).Demand()

	require.NoError(t, r.Run())
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, frames)
	assert.ErrorIs(t, recvErr, transport.ErrChannelClosed)
}

func TestStreamChannelFrameTooLarge(t *testing.T) {
	r := strand.NewReactor()
	a, b := net.Pipe()
	ch := transport.NewStreamChannel(r, a, 16)

	go func() {
		w := msgio.NewVarintWriter(b)
		w.WriteMsg(make([]byte, 64))
	}()

	var recvErr error
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		_, recvErr = strand.Await(co, ch.Receive())
		ch.Close()
		b.Close()
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())
	assert.ErrorIs(t, recvErr, msgio.ErrMsgTooLarge)
}

func TestForkSpawnFailure(t *testing.T) {
	r := strand.NewReactor()
	fork := &transport.Fork{Command: []string{"/nonexistent/strand-peer"}}

	var err error
	r.Hold()
	fork.Spawn(r).Subscribe(func(o strand.Outcome[transport.Channel]) {
		err = o.Err()
		r.Release()
	})

	require.NoError(t, r.Run())

	var se *transport.SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/nonexistent/strand-peer", se.Target)
}

func TestSendOnClosedChannel(t *testing.T) {
	r := strand.NewReactor()
	a, b := net.Pipe()
	ch := transport.NewStreamChannel(r, a, 0)
	defer b.Close()

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send([]byte("late")), transport.ErrChannelClosed)

	require.NoError(t, r.Run())
}
