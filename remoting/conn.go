// Package remoting implements a lazy proxy protocol over framed byte
// channels: a local [Proxy] accumulates attribute, item and call steps
// without any I/O, and dereferencing it ships the whole expression to a
// peer process that evaluates it and ships the outcome back.
//
// The package works entirely on a reactor's logical thread; the peer is
// fully trusted to execute what it receives.
package remoting

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kivay/strand"
	"github.com/kivay/strand/internal/logutil"
	"github.com/kivay/strand/transport"
)

// A Conn is an open proxy-protocol connection to one peer. It owns the
// transport channel, the table of outstanding requests, and the request id
// counter. All methods must be used from the reactor's logical thread.
//
// A Conn is shared by every proxy created from it. Closing it fails all
// outstanding requests with [ErrClosed]; callers use `defer conn.Close()`
// so teardown happens even when the driving coroutine fails.
type Conn struct {
	r   *strand.Reactor
	ch  transport.Channel
	log *logutil.Logger

	nextID   uint64
	pending  map[uint64]*strand.Deferred[any]
	ready    bool
	closeErr error
}

// NewConn wraps ch in a connection on r. The connection is not usable until
// [Conn.Connect] completes the handshake.
func NewConn(r *strand.Reactor, ch transport.Channel) *Conn {
	return &Conn{
		r:       r,
		ch:      ch,
		log:     logutil.New(0),
		pending: make(map[uint64]*strand.Deferred[any]),
	}
}

// SetLogger replaces the connection's logger, which is quiet by default.
func (c *Conn) SetLogger(l *logutil.Logger) {
	c.log = l
}

// Connect performs the hello handshake and returns a Deferred that resolves
// to c once the peer has confirmed it speaks the same protocol version.
// Both sides send their hello first and then wait for the other's. A failed
// handshake closes the connection.
func (c *Conn) Connect() *strand.Deferred[*Conn] {
	d := strand.Go(c.r, func(co *strand.Coroutine) (*Conn, error) {
		if err := c.handshake(co); err != nil {
			c.closeWith(err)
			return nil, err
		}
		c.ready = true
		c.log.Verbose("connection established, protocol version %d", protocolVersion)
		strand.Go(c.r, c.recvLoop).Demand()
		return c, nil
	})
	d.Demand()
	return d
}

func (c *Conn) handshake(co *strand.Coroutine) error {
	hello, err := encodeFrame(&frame{Kind: frameHello, Version: protocolVersion})
	if err != nil {
		return err
	}
	if err := c.ch.Send(hello); err != nil {
		return err
	}
	data, err := strand.Await(co, c.ch.Receive())
	if err != nil {
		return fmt.Errorf("remoting: handshake: %w", err)
	}
	f, err := decodeFrame(data)
	if err != nil {
		return err
	}
	if f.Kind != frameHello {
		return &ProtocolError{Reason: fmt.Sprintf("expected hello, got frame kind %d", f.Kind)}
	}
	if f.Version != protocolVersion {
		return &ProtocolError{Reason: fmt.Sprintf("protocol version mismatch: ours %d, peer %d", protocolVersion, f.Version)}
	}
	return nil
}

// Root returns a proxy for the peer's root object registered under name.
func (c *Conn) Root(name string) Proxy {
	arena := &exprArena{}
	node := arena.add(exprNode{parent: -1, kind: opRoot, name: name})
	return Proxy{conn: c, arena: arena, node: node}
}

// Outstanding reports the number of requests awaiting a response.
func (c *Conn) Outstanding() int {
	return len(c.pending)
}

// send ships one linearized expression to the peer and returns the Deferred
// its response will settle.
func (c *Conn) send(ops []wireOp) *strand.Deferred[any] {
	d := strand.NewDeferred[any]()
	if c.closeErr != nil {
		d.Reject(c.closeErr)
		return d
	}
	if !c.ready {
		d.Reject(&ProtocolError{Reason: "dereference before handshake completed"})
		return d
	}
	for _, op := range ops {
		for _, arg := range op.Args {
			if err := checkTransferable(arg); err != nil {
				d.Reject(err)
				return d
			}
		}
	}
	c.nextID++
	id := c.nextID
	data, err := encodeFrame(&frame{Kind: frameRequest, ID: id, Ops: ops})
	if err != nil {
		d.Reject(err)
		return d
	}
	c.pending[id] = d
	if err := c.ch.Send(data); err != nil {
		delete(c.pending, id)
		d.Reject(err)
		return d
	}
	c.log.Debug("request %d sent, %d ops", id, len(ops))
	return d
}

// recvLoop dispatches response frames to the outstanding table until the
// channel ends or the protocol is violated.
func (c *Conn) recvLoop(co *strand.Coroutine) (struct{}, error) {
	for {
		data, err := strand.Await(co, c.ch.Receive())
		if err != nil {
			// A clean hangup is just a closed connection; anything else
			// (an oversized frame, a broken stream) must stay visible to
			// the outstanding requests as the cause of the teardown.
			if errors.Is(err, transport.ErrChannelClosed) || errors.Is(err, strand.ErrCanceled) {
				c.closeWith(ErrClosed)
			} else {
				c.closeWith(fmt.Errorf("%w: %w", ErrClosed, err))
			}
			return struct{}{}, nil
		}
		f, err := decodeFrame(data)
		if err != nil {
			// Framing is corrupt; nothing after this can be trusted.
			c.closeWith(err)
			return struct{}{}, nil
		}
		switch f.Kind {
		case frameResponse:
			d, ok := c.pending[f.ID]
			if !ok {
				c.closeWith(&ProtocolError{Reason: fmt.Sprintf("response for unknown request %d", f.ID)})
				return struct{}{}, nil
			}
			delete(c.pending, f.ID)
			if f.IsErr {
				d.Reject(&RemoteError{Cause: f.ErrMsg, Stack: f.ErrStack})
			} else {
				d.Resolve(f.Value)
			}
		case frameShutdown:
			c.closeWith(ErrClosed)
			return struct{}{}, nil
		default:
			c.closeWith(&ProtocolError{Reason: fmt.Sprintf("unexpected frame kind %d", f.Kind)})
			return struct{}{}, nil
		}
	}
}

// Close tears the connection down: every outstanding request fails with
// [ErrClosed] and the transport is released. Idempotent.
func (c *Conn) Close() error {
	if c.closeErr != nil {
		return nil
	}
	if c.ready {
		// Best effort; the peer exits its serve loop on shutdown.
		if data, err := encodeFrame(&frame{Kind: frameShutdown}); err == nil {
			c.ch.Send(data)
		}
	}
	c.closeWith(ErrClosed)
	return nil
}

// closeWith fails all outstanding requests with cause, in request order,
// and closes the transport. Later calls are ignored.
func (c *Conn) closeWith(cause error) {
	if c.closeErr != nil {
		return
	}
	c.closeErr = cause
	c.ready = false
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		d := c.pending[id]
		delete(c.pending, id)
		d.Reject(cause)
	}
	c.ch.Close()
	c.log.Verbose("connection closed: %v", cause)
}

// Dial spawns a peer with sp, wraps the channel in a connection, and
// completes the handshake.
func Dial(r *strand.Reactor, sp transport.Spawner) *strand.Deferred[*Conn] {
	return strand.Pipe(sp.Spawn(r), func(ch transport.Channel) *strand.Deferred[*Conn] {
		return NewConn(r, ch).Connect()
	})
}
