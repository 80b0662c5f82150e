package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-msgio"

	"github.com/kivay/strand"
)

// StreamChannel frames a byte stream into a [Channel] using varint length
// prefixes. A pump goroutine blocks on the underlying reader and hands each
// frame to the reactor through [strand.Reactor.Submit], so frames always
// surface on the reactor's logical thread. While the pump runs, the channel
// holds the reactor open.
type StreamChannel struct {
	r      *strand.Reactor
	stream io.ReadWriteCloser

	wmu    sync.Mutex // serializes writers
	writer msgio.WriteCloser

	// Reactor-thread state. queue buffers frames that arrived before
	// anyone asked; waiters are receives still waiting for a frame.
	queue   [][]byte
	waiters []*strand.Deferred[[]byte]
	failed  error
	closed  bool
}

// NewStreamChannel wraps stream in a framed channel on r. maxFrame bounds
// inbound frame sizes; zero means [DefaultMaxFrame].
func NewStreamChannel(r *strand.Reactor, stream io.ReadWriteCloser, maxFrame int) *StreamChannel {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	ch := &StreamChannel{
		r:      r,
		stream: stream,
		writer: msgio.NewVarintWriter(stream),
	}
	r.Hold()
	go ch.pump(msgio.NewVarintReaderSize(stream, maxFrame))
	return ch
}

// pump reads frames off the stream until it ends, delivering each one to
// the reactor thread. It owns the reader exclusively.
func (ch *StreamChannel) pump(reader msgio.ReadCloser) {
	for {
		msg, err := reader.ReadMsg()
		if err != nil {
			if err == io.EOF {
				err = ErrChannelClosed
			}
			ch.r.Submit(func() { ch.terminate(err) })
			return
		}
		frame := make([]byte, len(msg))
		copy(frame, msg)
		reader.ReleaseMsg(msg)
		ch.r.Submit(func() { ch.deliver(frame) })
	}
}

// deliver hands one inbound frame to the oldest waiter, or queues it.
// Runs on the reactor thread.
func (ch *StreamChannel) deliver(frame []byte) {
	if ch.failed != nil {
		return
	}
	if len(ch.waiters) > 0 {
		d := ch.waiters[0]
		ch.waiters = ch.waiters[1:]
		d.Resolve(frame)
		return
	}
	ch.queue = append(ch.queue, frame)
}

// terminate fails all pending and future receives and releases the reactor
// hold. Runs on the reactor thread, at most once.
func (ch *StreamChannel) terminate(err error) {
	if ch.failed != nil {
		return
	}
	ch.failed = err
	waiters := ch.waiters
	ch.waiters = nil
	for _, d := range waiters {
		d.Reject(err)
	}
	ch.r.Release()
}

// Send transmits one frame, blocking until the underlying write completes.
func (ch *StreamChannel) Send(frame []byte) error {
	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	if err := ch.writer.WriteMsg(frame); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive returns a Deferred for the next inbound frame. Must be called on
// the reactor's logical thread.
func (ch *StreamChannel) Receive() *strand.Deferred[[]byte] {
	d := strand.NewDeferred[[]byte]()
	if len(ch.queue) > 0 {
		frame := ch.queue[0]
		ch.queue = ch.queue[1:]
		d.Resolve(frame)
		return d
	}
	if ch.failed != nil {
		d.Reject(ch.failed)
		return d
	}
	ch.waiters = append(ch.waiters, d)
	return d
}

// Close shuts the underlying stream down, which ends the pump.
func (ch *StreamChannel) Close() error {
	ch.wmu.Lock()
	if ch.closed {
		ch.wmu.Unlock()
		return nil
	}
	ch.closed = true
	ch.wmu.Unlock()
	return ch.stream.Close()
}
