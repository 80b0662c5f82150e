package remoting

import (
	"errors"
	"fmt"
)

// ErrClosed reports that a connection was closed while requests were
// outstanding, or that an operation was attempted on a closed connection.
var ErrClosed = errors.New("remoting: connection closed")

// A RemoteError carries a failure raised during evaluation on the peer.
// The cause message and the peer's stack come back verbatim.
type RemoteError struct {
	Cause string
	Stack string
}

func (e *RemoteError) Error() string {
	if e.Stack == "" {
		return fmt.Sprintf("remoting: remote evaluation failed: %s", e.Cause)
	}
	return fmt.Sprintf("remoting: remote evaluation failed: %s\n\nremote stack:\n%s", e.Cause, e.Stack)
}

// A ProtocolError reports a violation of the wire protocol: a malformed or
// unexpected frame, a version mismatch, or an unmarshalable argument.
// Protocol errors on the framing level are fatal to the connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("remoting: protocol violation: %s", e.Reason)
}
