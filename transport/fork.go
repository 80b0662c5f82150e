package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/kivay/strand"
)

// A SpawnError reports a failure to start or reach a peer process.
type SpawnError struct {
	Target string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("transport: spawn %s: %v", e.Target, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Fork spawns a peer as a child process of this one, framed over the
// child's stdin and stdout. The child's stderr passes through to ours.
type Fork struct {
	// Command is the peer command line. Empty means []string{"strand-peer"}.
	Command []string

	// MaxFrame bounds inbound frame sizes; zero means [DefaultMaxFrame].
	MaxFrame int
}

// Spawn starts the child and resolves, on r's logical thread, to a framed
// channel over its stdio.
func (f *Fork) Spawn(r *strand.Reactor) *strand.Deferred[Channel] {
	d := strand.NewDeferred[Channel]()
	argv := f.Command
	if len(argv) == 0 {
		argv = []string{"strand-peer"}
	}
	go func() {
		stream, err := startChild(argv)
		r.Submit(func() {
			if err != nil {
				d.Reject(&SpawnError{Target: argv[0], Err: err})
				return
			}
			d.Resolve(NewStreamChannel(r, stream, f.MaxFrame))
		})
	}()
	return d
}

func startChild(argv []string) (io.ReadWriteCloser, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	return &procStream{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// procStream is the child's stdio as one stream. Closing it closes the
// child's stdin, which the peer treats as a hangup, and reaps the process.
type procStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (s *procStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *procStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *procStream) Close() error {
	s.stdin.Close()
	err := s.cmd.Wait()
	s.stdout.Close()
	return err
}
