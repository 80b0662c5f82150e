package remoting_test

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivay/strand"
	"github.com/kivay/strand/remoting"
	"github.com/kivay/strand/transport"
)

// testRoot is the object the test server exposes.
type testRoot struct {
	Tables map[string]func(a, b int) int
	Name   string
}

func (*testRoot) Fail() (int, error) {
	return 0, errors.New("deliberate failure")
}

func (*testRoot) Boom() {
	panic("deliberate panic")
}

func newTestRoot() *testRoot {
	return &testRoot{
		Name: "root",
		Tables: map[string]func(a, b int) int{
			"sum":  func(a, b int) int { return a + b },
			"prod": func(a, b int) int { return a * b },
		},
	}
}

// serve wires a server over one end of an in-process pipe and returns the
// other end as a channel.
func serve(t *testing.T, r *strand.Reactor, srv *remoting.Server) transport.Channel {
	t.Helper()
	cli, peer := net.Pipe()
	srv.Serve(r, transport.NewStreamChannel(r, peer, 0)).Demand()
	return transport.NewStreamChannel(r, cli, 0)
}

func TestProxyRoundTrip(t *testing.T) {
	r := strand.NewReactor()
	srv := remoting.NewServer()
	srv.Register("calc", newTestRoot())
	ch := serve(t, r, srv)

	var (
		sum     any
		name    any
		failErr error
		err     error
	)
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		var conn *remoting.Conn
		conn, err = strand.Await(co, remoting.NewConn(r, ch).Connect())
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()

		root := conn.Root("calc")
		sum, err = strand.Await(co, root.Attr("Tables").Item("sum").Call(1, 2).Deref())
		if err != nil {
			return struct{}{}, err
		}
		name, err = strand.Await(co, root.Attr("Name").Deref())
		if err != nil {
			return struct{}{}, err
		}
		_, failErr = strand.Await(co, root.Attr("Fail").Call().Deref())
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())
	require.NoError(t, err)
	assert.Equal(t, 3, sum)
	assert.Equal(t, "root", name)

	var remote *remoting.RemoteError
	require.ErrorAs(t, failErr, &remote)
	assert.Contains(t, remote.Cause, "deliberate failure")
}

func TestRemotePanicCarriesStack(t *testing.T) {
	r := strand.NewReactor()
	srv := remoting.NewServer()
	srv.Register("calc", newTestRoot())
	ch := serve(t, r, srv)

	var boomErr error
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		conn, err := strand.Await(co, remoting.NewConn(r, ch).Connect())
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()
		_, boomErr = strand.Await(co, conn.Root("calc").Attr("Boom").Call().Deref())
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())

	var remote *remoting.RemoteError
	require.ErrorAs(t, boomErr, &remote)
	assert.Contains(t, remote.Cause, "deliberate panic")
	assert.NotEmpty(t, remote.Stack)
}

func TestUnknownRoot(t *testing.T) {
	r := strand.NewReactor()
	ch := serve(t, r, remoting.NewServer())

	var derefErr error
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		conn, err := strand.Await(co, remoting.NewConn(r, ch).Connect())
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()
		_, derefErr = strand.Await(co, conn.Root("nothing").Deref())
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())
	require.Error(t, derefErr)
	assert.Contains(t, derefErr.Error(), "unknown root")
}

func TestPendingWorkCannotCrossTheWire(t *testing.T) {
	r := strand.NewReactor()
	srv := remoting.NewServer()
	srv.Register("calc", newTestRoot())
	ch := serve(t, r, srv)

	var deferredErr, proxyErr error
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		conn, err := strand.Await(co, remoting.NewConn(r, ch).Connect())
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()

		root := conn.Root("calc")
		_, deferredErr = strand.Await(co, root.Attr("Name").Call(strand.NewDeferred[int]()).Deref())
		_, proxyErr = strand.Await(co, root.Attr("Name").Call(root).Deref())
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())

	var pe *remoting.ProtocolError
	assert.ErrorAs(t, deferredErr, &pe)
	assert.ErrorAs(t, proxyErr, &pe)
}

type memberRoot struct {
	id   int
	fail bool
}

func (m *memberRoot) Get() (int, error) {
	if m.fail {
		return 0, fmt.Errorf("member %d is broken", m.id)
	}
	return m.id * 10, nil
}

func TestCompositeFanOut(t *testing.T) {
	r := strand.NewReactor()

	conns := make([]*remoting.Conn, 3)
	for i := range conns {
		srv := remoting.NewServer()
		srv.Register("svc", &memberRoot{id: i, fail: i == 1})
		conns[i] = remoting.NewConn(r, serve(t, r, srv))
	}

	var (
		compositeErr error
		member0      any
		member2      any
		err0, err2   error
	)
	strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		for _, c := range conns {
			if _, err := strand.Await(co, c.Connect()); err != nil {
				return struct{}{}, err
			}
		}
		comp := remoting.NewComposite(conns...)
		defer comp.Close()

		call := comp.Root("svc").Attr("Get").Call()
		_, compositeErr = strand.Await(co, call.Deref())

		// Individual members stay forcible for partial-failure tolerance.
		member0, err0 = strand.Await(co, call.Member(0).Deref())
		member2, err2 = strand.Await(co, call.Member(2).Deref())
		return struct{}{}, nil
	}).Demand()

	require.NoError(t, r.Run())

	var remote *remoting.RemoteError
	require.ErrorAs(t, compositeErr, &remote)
	assert.Contains(t, remote.Cause, "member 1 is broken")

	require.NoError(t, err0)
	require.NoError(t, err2)
	assert.Equal(t, 0, member0)
	assert.Equal(t, 20, member2)
}
