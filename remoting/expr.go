package remoting

import (
	"github.com/kivay/strand"
)

const (
	opRoot = iota + 1
	opAttr
	opItem
	opCall
)

// An exprNode is one step of a lazy remote expression. Nodes reference their
// parent by arena index, never the other way around, so a chain of proxies
// forms a tree rooted at the connection's root object.
type exprNode struct {
	parent int32 // -1 for the root
	kind   int32
	name   string
	args   []any
}

// An exprArena holds the nodes of one expression tree. Proxies derived from
// the same root share the arena and only ever append to it.
type exprArena struct {
	nodes []exprNode
}

func (a *exprArena) add(n exprNode) int32 {
	a.nodes = append(a.nodes, n)
	return int32(len(a.nodes) - 1)
}

// linearize returns the path from the root to node, root first.
func (a *exprArena) linearize(node int32) []wireOp {
	var depth int
	for i := node; i >= 0; i = a.nodes[i].parent {
		depth++
	}
	ops := make([]wireOp, depth)
	for i := node; i >= 0; i = a.nodes[i].parent {
		depth--
		n := &a.nodes[i]
		ops[depth] = wireOp{Kind: n.kind, Name: n.name, Args: n.args}
	}
	return ops
}

// A Proxy is a lazy stand-in for a value living on the peer. Attribute
// access, item access and calls each extend the underlying expression
// without any network traffic; only [Proxy.Deref] sends the expression to
// the peer for evaluation.
//
// Proxies are small values and are copied freely.
type Proxy struct {
	conn  *Conn
	arena *exprArena
	node  int32
}

// Attr derives a proxy for the named method or field of this one.
func (p Proxy) Attr(name string) Proxy {
	return p.extend(exprNode{parent: p.node, kind: opAttr, name: name})
}

// Item derives a proxy for the element of this one at key: a map key or a
// slice index.
func (p Proxy) Item(key any) Proxy {
	return p.extend(exprNode{parent: p.node, kind: opItem, args: []any{key}})
}

// Call derives a proxy for the result of calling this one with args.
func (p Proxy) Call(args ...any) Proxy {
	return p.extend(exprNode{parent: p.node, kind: opCall, args: args})
}

func (p Proxy) extend(n exprNode) Proxy {
	return Proxy{conn: p.conn, arena: p.arena, node: p.arena.add(n)}
}

// Deref forces the expression: it serializes the path from the root to this
// proxy, sends it to the peer, and returns a Deferred for the evaluated
// result. Arguments that are themselves deferreds or proxies are rejected.
func (p Proxy) Deref() *strand.Deferred[any] {
	return p.conn.send(p.arena.linearize(p.node))
}
