package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/kivay/strand"
)

// SSHConfig holds everything needed to start a peer on a remote host
// through SSH.
type SSHConfig struct {
	User             string
	Host             string
	Port             int
	KeyPath          string
	PromptPassphrase bool
	UseAgent         bool
	InsecureHostKey  bool
	KnownHosts       string
	ConnTimeout      time.Duration
}

// SSH spawns a peer on a remote host: it dials the SSH gateway, runs
// PeerCommand in a session, and frames the session's stdio.
type SSH struct {
	Config SSHConfig

	// PeerCommand is the remote command line. Empty means "strand-peer".
	PeerCommand string

	// MaxFrame bounds inbound frame sizes; zero means [DefaultMaxFrame].
	MaxFrame int
}

// Spawn dials the gateway and starts the remote peer, resolving on r's
// logical thread. The handshake happens on its own goroutine so the
// reactor keeps running while the connection comes up.
func (s *SSH) Spawn(r *strand.Reactor) *strand.Deferred[Channel] {
	d := strand.NewDeferred[Channel]()
	go func() {
		stream, err := s.startRemote()
		r.Submit(func() {
			if err != nil {
				d.Reject(&SpawnError{Target: s.Config.Host, Err: err})
				return
			}
			d.Resolve(NewStreamChannel(r, stream, s.MaxFrame))
		})
	}()
	return d
}

func (s *SSH) startRemote() (io.ReadWriteCloser, error) {
	cfg := s.Config
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}

	auth, err := buildAuthMethods(&cfg)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	hostKey, err := hostKeyCallback(&cfg)
	if err != nil {
		return nil, fmt.Errorf("hostkey: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.ConnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}

	command := s.PeerCommand
	if command == "" {
		command = "strand-peer"
	}
	if err := session.Start(command); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	return &sshStream{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

// sshStream is a remote session's stdio as one stream.
type sshStream struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sshStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sshStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshStream) Close() error {
	s.stdin.Close()
	s.session.Close()
	return s.client.Close()
}
