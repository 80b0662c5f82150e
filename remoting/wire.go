package remoting

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/kivay/strand"
)

// protocolVersion is checked during the hello handshake. Both sides send
// their version first and verify the peer's before anything else.
const protocolVersion = 1

const (
	frameHello = iota + 1
	frameRequest
	frameResponse
	frameShutdown
)

// A wireOp is one step of a linearized expression, root first.
type wireOp struct {
	Kind int32  // opRoot, opAttr, opItem, opCall
	Name string // root name or attribute name
	Args []any  // item key (one element) or call arguments
}

// A frame is one protocol message. Kind selects which fields are
// meaningful: hello carries Version; request carries ID and Ops; response
// carries ID and either Value or the error triple.
type frame struct {
	Kind     int32
	Version  int32
	ID       uint64
	Ops      []wireOp
	Value    any
	IsErr    bool
	ErrMsg   string
	ErrStack string
}

func init() {
	// Concrete types allowed to cross the wire inside interface values.
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
	gob.Register(time.Time{})
}

func encodeFrame(f *frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("encoding frame: %v", err)}
	}
	return buf.Bytes(), nil
}

func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("decoding frame: %v", err)}
	}
	return &f, nil
}

// checkTransferable rejects values that cannot meaningfully cross the wire:
// live deferreds and proxies stand for computations, not data, and must be
// resolved locally before being passed as arguments.
func checkTransferable(v any) error {
	switch v := v.(type) {
	case strand.Awaitable:
		return &ProtocolError{Reason: "a pending deferred cannot cross the wire; resolve it first"}
	case Proxy, CompositeProxy:
		return &ProtocolError{Reason: "a proxy cannot cross the wire; dereference it first"}
	case []any:
		for _, e := range v {
			if err := checkTransferable(e); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, e := range v {
			if err := checkTransferable(e); err != nil {
				return err
			}
		}
	}
	return nil
}
