package remoting

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/kivay/strand"
	"github.com/kivay/strand/internal/logutil"
	"github.com/kivay/strand/transport"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// A Server evaluates proxy expressions against a registry of named root
// objects. It fully trusts the peer: whatever methods and fields the
// registered roots expose are callable remotely.
type Server struct {
	roots map[string]any
	log   *logutil.Logger
}

func NewServer() *Server {
	return &Server{
		roots: make(map[string]any),
		log:   logutil.New(0),
	}
}

// SetLogger replaces the server's logger, which is quiet by default.
func (s *Server) SetLogger(l *logutil.Logger) {
	s.log = l
}

// Register exposes root under name. Registering the same name twice
// replaces the earlier object.
func (s *Server) Register(name string, root any) {
	s.roots[name] = root
}

// Serve speaks the protocol on ch until the peer shuts down or the channel
// ends, evaluating each request against the registry. The returned Deferred
// settles when the serve loop exits.
func (s *Server) Serve(r *strand.Reactor, ch transport.Channel) *strand.Deferred[struct{}] {
	return strand.Go(r, func(co *strand.Coroutine) (struct{}, error) {
		defer ch.Close()

		hello, err := encodeFrame(&frame{Kind: frameHello, Version: protocolVersion})
		if err != nil {
			return struct{}{}, err
		}
		if err := ch.Send(hello); err != nil {
			return struct{}{}, err
		}
		data, err := strand.Await(co, ch.Receive())
		if err != nil {
			return struct{}{}, fmt.Errorf("remoting: handshake: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return struct{}{}, err
		}
		if f.Kind != frameHello || f.Version != protocolVersion {
			return struct{}{}, &ProtocolError{Reason: "handshake failed"}
		}

		for {
			data, err := strand.Await(co, ch.Receive())
			if err != nil {
				return struct{}{}, nil // peer went away
			}
			f, err := decodeFrame(data)
			if err != nil {
				return struct{}{}, err
			}
			switch f.Kind {
			case frameRequest:
				s.log.Debug("request %d, %d ops", f.ID, len(f.Ops))
				resp := s.respond(f.ID, f.Ops)
				out, err := encodeFrame(resp)
				if err != nil {
					// The result itself would not encode; report that
					// instead of killing the connection.
					out, err = encodeFrame(&frame{
						Kind:   frameResponse,
						ID:     f.ID,
						IsErr:  true,
						ErrMsg: err.Error(),
					})
					if err != nil {
						return struct{}{}, err
					}
				}
				if err := ch.Send(out); err != nil {
					return struct{}{}, err
				}
			case frameShutdown:
				return struct{}{}, nil
			default:
				return struct{}{}, &ProtocolError{Reason: fmt.Sprintf("unexpected frame kind %d", f.Kind)}
			}
		}
	})
}

// respond evaluates one request into a response frame. Evaluation panics
// are captured with their stack and sent back as remote failures.
func (s *Server) respond(id uint64, ops []wireOp) *frame {
	value, err := s.eval(ops)
	if err != nil {
		var stack string
		if p, ok := err.(*evalPanic); ok {
			stack = p.stack
		}
		return &frame{Kind: frameResponse, ID: id, IsErr: true, ErrMsg: err.Error(), ErrStack: stack}
	}
	return &frame{Kind: frameResponse, ID: id, Value: value}
}

type evalPanic struct {
	cause any
	stack string
}

func (e *evalPanic) Error() string {
	return fmt.Sprintf("panic: %v", e.cause)
}

// eval walks the ops left to right, exactly as the expression was built.
func (s *Server) eval(ops []wireOp) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			value, err = nil, &evalPanic{cause: p, stack: string(debug.Stack())}
		}
	}()

	if len(ops) == 0 || ops[0].Kind != opRoot {
		return nil, &ProtocolError{Reason: "expression does not begin at a root"}
	}
	cur, ok := s.roots[ops[0].Name]
	if !ok {
		return nil, fmt.Errorf("remoting: unknown root %q", ops[0].Name)
	}

	for _, op := range ops[1:] {
		switch op.Kind {
		case opAttr:
			cur, err = evalAttr(cur, op.Name)
		case opItem:
			if len(op.Args) != 1 {
				return nil, &ProtocolError{Reason: "item access needs exactly one key"}
			}
			cur, err = evalItem(cur, op.Args[0])
		case opCall:
			cur, err = evalCall(cur, op.Args)
		default:
			return nil, &ProtocolError{Reason: fmt.Sprintf("unknown op kind %d", op.Kind)}
		}
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// evalAttr resolves a method or an exported field of v, methods first.
func evalAttr(v any, name string) (any, error) {
	rv := reflect.ValueOf(v)
	if m := rv.MethodByName(name); m.IsValid() {
		return m.Interface(), nil
	}
	elem := rv
	for elem.Kind() == reflect.Pointer {
		if elem.IsNil() {
			return nil, fmt.Errorf("remoting: attribute %q of nil pointer", name)
		}
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		if f := elem.FieldByName(name); f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
	}
	return nil, fmt.Errorf("remoting: %T has no attribute %q", v, name)
}

func evalItem(v, key any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.Type().ConvertibleTo(rv.Type().Key()) {
			return nil, fmt.Errorf("remoting: key %v does not index %T", key, v)
		}
		ev := rv.MapIndex(kv.Convert(rv.Type().Key()))
		if !ev.IsValid() {
			return nil, fmt.Errorf("remoting: key %v not found in %T", key, v)
		}
		return unwrap(ev), nil
	case reflect.Slice, reflect.Array, reflect.String:
		i, ok := asIndex(key)
		if !ok {
			return nil, fmt.Errorf("remoting: index %v does not index %T", key, v)
		}
		if i < 0 || i >= rv.Len() {
			return nil, fmt.Errorf("remoting: index %d out of range for %T of length %d", i, v, rv.Len())
		}
		return unwrap(rv.Index(i)), nil
	default:
		return nil, fmt.Errorf("remoting: %T is not indexable", v)
	}
}

// evalCall invokes v with args, honoring the trailing-error convention:
// a non-nil error result becomes the failure, otherwise the first result
// (or nil) is the value.
func evalCall(v any, args []any) (any, error) {
	fn := reflect.ValueOf(v)
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("remoting: %T is not callable", v)
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		if len(args) < ft.NumIn()-1 {
			return nil, fmt.Errorf("remoting: call needs at least %d arguments, got %d", ft.NumIn()-1, len(args))
		}
	} else if len(args) != ft.NumIn() {
		return nil, fmt.Errorf("remoting: call needs %d arguments, got %d", ft.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var want reflect.Type
		if ft.IsVariadic() && i >= ft.NumIn()-1 {
			want = ft.In(ft.NumIn() - 1).Elem()
		} else {
			want = ft.In(i)
		}
		av, err := coerce(arg, want)
		if err != nil {
			return nil, fmt.Errorf("remoting: argument %d: %w", i, err)
		}
		in[i] = av
	}

	out := fn.Call(in)
	if n := len(out); n > 0 && ft.Out(n-1) == errType {
		if e := out[n-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		return vals, nil
	}
}

func coerce(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("nil for non-nilable %s", want)
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(want) {
		return av, nil
	}
	if av.Type().ConvertibleTo(want) {
		return av.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("%T is not assignable to %s", arg, want)
}

func asIndex(key any) (int, bool) {
	switch k := key.(type) {
	case int:
		return k, true
	case int64:
		return int(k), true
	case uint64:
		return int(k), true
	default:
		return 0, false
	}
}

// unwrap flattens interface-typed elements so callers see the concrete
// value, matching what crossed the wire.
func unwrap(v reflect.Value) any {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	return v.Interface()
}
