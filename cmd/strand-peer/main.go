// Command strand-peer is the peer runtime spawned by the transport
// layer: it serves the proxy protocol on stdin/stdout until the parent
// closes the channel.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	flag "github.com/spf13/pflag"

	"github.com/kivay/strand"
	"github.com/kivay/strand/internal/logutil"
	"github.com/kivay/strand/remoting"
	"github.com/kivay/strand/transport"
)

func main() {
	var (
		maxFrame int
		verbose  int
		showHelp bool
	)
	fs := flag.NewFlagSet("strand-peer", flag.ContinueOnError)
	fs.IntVar(&maxFrame, "max-frame", transport.DefaultMaxFrame, "Maximum inbound frame size in bytes")
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showHelp {
		fs.PrintDefaults()
		return
	}

	log := logutil.New(1 + verbose)
	if err := run(maxFrame, log); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(maxFrame int, log *logutil.Logger) error {
	r := strand.NewReactor()
	r.SetLogger(log)

	srv := remoting.NewServer()
	srv.SetLogger(log)
	srv.Register("runtime", &peerRuntime{})
	srv.Register("echo", func(args ...any) []any { return args })

	ch := transport.NewStreamChannel(r, stdio{}, maxFrame)
	done := srv.Serve(r, ch)
	done.Demand()

	log.Verbose("peer serving on stdio, pid %d", os.Getpid())
	if err := r.Run(); err != nil {
		return err
	}
	if out, ok := done.Poll(); ok {
		return out.Err()
	}
	return nil
}

// stdio is the process's stdin/stdout as one stream.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (stdio) Close() error {
	os.Stdin.Close()
	return os.Stdout.Close()
}

// peerRuntime is the built-in "runtime" root: basic facts about the peer
// process, for handshake smoke tests and diagnostics.
type peerRuntime struct{}

func (*peerRuntime) Pid() int { return os.Getpid() }

func (*peerRuntime) Hostname() (string, error) {
	return os.Hostname()
}

func (*peerRuntime) GoVersion() string { return runtime.Version() }

var _ io.ReadWriteCloser = stdio{}
