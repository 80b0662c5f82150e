package remoting

import (
	"errors"

	"github.com/kivay/strand"
	"github.com/kivay/strand/transport"
)

// A Composite fans proxy operations out to an ordered set of member
// connections as one logical unit. Its proxies evaluate every expression on
// all members concurrently and aggregate the results like [strand.JoinAll]:
// ordered values on success, the lowest-indexed member's cause on failure.
//
// A caller needing partial-failure tolerance forces member proxies
// individually via [CompositeProxy.Member] instead.
type Composite struct {
	members []*Conn
}

// NewComposite groups conns, preserving their order.
func NewComposite(conns ...*Conn) *Composite {
	return &Composite{members: conns}
}

// Members returns the member connections in order.
func (c *Composite) Members() []*Conn {
	return c.members
}

// Root returns a composite proxy for the named root on every member.
func (c *Composite) Root(name string) CompositeProxy {
	members := make([]Proxy, len(c.members))
	for i, conn := range c.members {
		members[i] = conn.Root(name)
	}
	return CompositeProxy{members: members}
}

// Close closes every member connection.
func (c *Composite) Close() error {
	var errs []error
	for _, conn := range c.members {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// A CompositeProxy is a lazy stand-in for the same expression on every
// member of a [Composite]. Like [Proxy], building it costs no I/O.
type CompositeProxy struct {
	members []Proxy
}

// Attr derives the named attribute on every member.
func (p CompositeProxy) Attr(name string) CompositeProxy {
	return p.extend(func(m Proxy) Proxy { return m.Attr(name) })
}

// Item derives the element at key on every member.
func (p CompositeProxy) Item(key any) CompositeProxy {
	return p.extend(func(m Proxy) Proxy { return m.Item(key) })
}

// Call derives the call result on every member.
func (p CompositeProxy) Call(args ...any) CompositeProxy {
	return p.extend(func(m Proxy) Proxy { return m.Call(args...) })
}

func (p CompositeProxy) extend(f func(Proxy) Proxy) CompositeProxy {
	members := make([]Proxy, len(p.members))
	for i, m := range p.members {
		members[i] = f(m)
	}
	return CompositeProxy{members: members}
}

// Member returns the underlying per-member proxy at index i, for forcing
// members individually.
func (p CompositeProxy) Member(i int) Proxy {
	return p.members[i]
}

// Deref forces the expression on every member concurrently and returns a
// Deferred for the ordered per-member results.
func (p CompositeProxy) Deref() *strand.Deferred[[]any] {
	ds := make([]*strand.Deferred[any], len(p.members))
	for i, m := range p.members {
		ds[i] = m.Deref()
	}
	return strand.JoinAll(ds...)
}

// DialComposite spawns one peer per spawner and groups the resulting
// connections, in order, once every handshake completes.
func DialComposite(r *strand.Reactor, sps ...transport.Spawner) *strand.Deferred[*Composite] {
	ds := make([]*strand.Deferred[*Conn], len(sps))
	for i, sp := range sps {
		ds[i] = Dial(r, sp)
	}
	return strand.Then(strand.JoinAll(ds...), func(conns []*Conn) (*Composite, error) {
		return NewComposite(conns...), nil
	})
}
