// Package transport provides framed byte channels for talking to peer
// processes, and spawners that start those peers locally or over SSH.
//
// A [Channel] is reactor-affine: Send and Receive must be used from the
// reactor's logical thread, and received frames are delivered there. The
// bytes inside a frame are opaque to this package.
package transport

import (
	"errors"

	"github.com/kivay/strand"
)

// DefaultMaxFrame bounds the size of a single received frame. A peer that
// sends a larger frame is considered broken and its channel fails.
const DefaultMaxFrame = 8 << 20

// ErrChannelClosed reports an operation on a closed channel.
var ErrChannelClosed = errors.New("transport: channel closed")

// A Channel carries discrete byte frames between this process and a peer.
// Frames arrive in the order they were sent, without duplication.
type Channel interface {
	// Send transmits one frame. It may block the calling goroutine for
	// the duration of the underlying write.
	Send(frame []byte) error

	// Receive returns a Deferred for the next inbound frame. Receives
	// resolve in call order. When the peer goes away, every pending and
	// future receive fails.
	Receive() *strand.Deferred[[]byte]

	// Close tears the channel down. Pending receives fail with
	// ErrChannelClosed.
	Close() error
}

// A Spawner starts a peer process and yields a Channel to it.
type Spawner interface {
	Spawn(r *strand.Reactor) *strand.Deferred[Channel]
}
