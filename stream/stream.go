// Package stream provides nonblocking file descriptor I/O driven by a
// reactor. Reads and writes are coroutine operations: instead of blocking
// the thread they suspend the calling coroutine until the descriptor is
// ready.
package stream

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kivay/strand"
)

// ErrFileClosed reports an operation on a closed File.
var ErrFileClosed = errors.New("stream: file closed")

// A File is a file descriptor in nonblocking mode, owned by a reactor.
// All methods must be used from the reactor's logical thread; Read and
// Flush additionally need a coroutine to suspend.
//
// Writes are buffered: [File.Write] only appends to an in-memory buffer,
// and [File.Flush] pushes the buffer out as the descriptor accepts it.
type File struct {
	r      *strand.Reactor
	fd     int
	wbuf   []byte
	closed bool
}

// Open takes ownership of fd, switching it to nonblocking mode. The caller
// must not use fd directly afterwards.
func Open(r *strand.Reactor, fd int) (*File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("stream: set nonblocking fd %d: %w", fd, err)
	}
	return &File{r: r, fd: fd}, nil
}

// Pipe returns the two ends of a fresh pipe, both owned by r.
func Pipe(r *strand.Reactor) (rd, wr *File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("stream: pipe: %w", err)
	}
	rd, err = Open(r, fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	wr, err = Open(r, fds[1])
	if err != nil {
		rd.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return rd, wr, nil
}

// Fd returns the underlying descriptor.
func (f *File) Fd() int { return f.fd }

// Read suspends co until some bytes are available and returns up to max of
// them. A result of zero bytes with a nil error means end of stream.
func (f *File) Read(co *strand.Coroutine, max int) ([]byte, error) {
	if f.closed {
		return nil, ErrFileClosed
	}
	buf := make([]byte, max)
	for {
		n, err := unix.Read(f.fd, buf)
		if err == nil {
			return buf[:n], nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			return nil, fmt.Errorf("stream: read fd %d: %w", f.fd, err)
		}
		if _, err := strand.Await(co, f.r.Wait(f.fd, strand.Readable)); err != nil {
			return nil, err
		}
		if f.closed {
			return nil, ErrFileClosed
		}
	}
}

// Write appends p to the write buffer and reports the buffered length.
// Nothing reaches the descriptor until [File.Flush].
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	f.wbuf = append(f.wbuf, p...)
	return len(f.wbuf), nil
}

// Flush drains the write buffer, suspending co whenever the descriptor
// stops accepting bytes.
func (f *File) Flush(co *strand.Coroutine) error {
	if f.closed {
		return ErrFileClosed
	}
	for len(f.wbuf) > 0 {
		n, err := unix.Write(f.fd, f.wbuf)
		if n > 0 {
			f.wbuf = f.wbuf[n:]
		}
		if err == nil || err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			return fmt.Errorf("stream: write fd %d: %w", f.fd, err)
		}
		if _, err := strand.Await(co, f.r.Wait(f.fd, strand.Writable)); err != nil {
			return err
		}
		if f.closed {
			return ErrFileClosed
		}
	}
	return nil
}

// Buffered reports how many bytes are waiting to be flushed.
func (f *File) Buffered() int { return len(f.wbuf) }

// Close cancels any readiness waits on the descriptor and closes it.
// Coroutines suspended in Read or Flush fail with their wait's
// cancellation.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.wbuf = nil
	f.r.Detach(f.fd)
	if err := unix.Close(f.fd); err != nil {
		return fmt.Errorf("stream: close fd %d: %w", f.fd, err)
	}
	return nil
}
