package mock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type (
	// Server is an in-process SSH server for tests.
	//
	// A Server is built by 'NewServer' and started with 'ListenAndServe',
	// which binds an ephemeral loopback port (see 'Port'). 'Shutdown' stops
	// the listener and waits for every connection handler to exit.
	//
	// Supported channel requests: 'pty-req' and 'env' (ACKed, ignored),
	// 'exec' (see 'ExecHandler') and the 'sftp' subsystem, which is served
	// from the local filesystem by 'pkg/sftp'.
	Server struct {
		// The SSH server configuration. Modifications after 'ListenAndServe'
		// have no effect.
		Config *ssh.ServerConfig

		// ExecHandler, when set, runs every 'exec' request: anything written to
		// 'stdout' is sent to the client and the returned value becomes the
		// command's exit status.
		//
		// When nil, the server reads the client's stdin until EOF, relays each
		// non-empty line over the 'MsgChannel' and exits 0.
		ExecHandler func(cmd string, stdout io.Writer) uint32

		cancel context.CancelFunc
		port   uint16
		wait   Waiter
	}

	// PubKeyCallback is called for every public key authentication attempt.
	// A non-nil error rejects the key.
	PubKeyCallback func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error)

	// ReqChannel relays every 'exec' request received, with its payload
	// decoded to the bare command string.
	ReqChannel <-chan *ssh.Request

	// MsgChannel relays stdin lines read by the default exec handler.
	MsgChannel <-chan string
)

func NewServer(t *testing.T, signer ssh.Signer, fn PubKeyCallback) *Server {
	t.Helper()
	require.NotNil(t, fn, "a non-nil public key callback is required")
	require.NotNil(t, signer, "a non-nil ssh.Signer is required")
	config := &ssh.ServerConfig{
		PublicKeyCallback: fn,
	}
	config.AddHostKey(signer)
	return &Server{
		Config: config,
		wait:   NewWaiter(),
	}
}

// Port reports the TCP port the server is bound to. Only meaningful after
// 'ListenAndServe'.
func (s *Server) Port() uint16 {
	return s.port
}

func (s *Server) ListenAndServe(t *testing.T, ctx context.Context) (ReqChannel, MsgChannel) {
	t.Helper()
	ctx, s.cancel = context.WithCancel(ctx)
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err, "failed to listen on loopback")
	s.port = uint16(listener.Addr().(*net.TCPAddr).Port)

	reqs := make(chan *ssh.Request, 64)
	msgs := make(chan string, 64)
	s.wait.Add()
	go func() {
		defer s.wait.Done()
		<-ctx.Done()
		_ = listener.Close()
	}()
	s.wait.Add()
	go s.serve(t, ctx, listener, reqs, msgs)
	return reqs, msgs
}

func (s *Server) serve(t *testing.T, ctx context.Context, listener net.Listener, reqs chan<- *ssh.Request, msgs chan<- string) {
	defer s.wait.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				t.Errorf("mock: accept: %v", err)
			}
			return
		}
		s.wait.Add()
		go s.handleConn(t, ctx, conn, reqs, msgs)
	}
}

// handleConn performs the SSH handshake on 'conn' then accepts 'session'
// channels until the client disconnects or the server shuts down.
func (s *Server) handleConn(t *testing.T, ctx context.Context, conn net.Conn, reqs chan<- *ssh.Request, msgs chan<- string) {
	defer s.wait.Done()
	sshConn, newChans, globalReqs, err := ssh.NewServerConn(conn, s.Config)
	if err != nil {
		// Rejected keys land here; that is a valid outcome for a test.
		t.Logf("mock: handshake: %v", err)
		_ = conn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(globalReqs)

	for {
		select {
		case <-ctx.Done():
			return
		case nc, ok := <-newChans:
			if !ok {
				return
			}
			if nc.ChannelType() != "session" {
				_ = nc.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			channel, chanReqs, err := nc.Accept()
			if err != nil {
				t.Errorf("mock: accept channel: %v", err)
				continue
			}
			s.wait.Add()
			go s.handleChannel(t, ctx, channel, chanReqs, reqs, msgs)
		}
	}
}

// handleChannel services the out-of-band requests of one session channel.
// It returns when the client closes the channel or the server shuts down.
func (s *Server) handleChannel(
	t *testing.T,
	ctx context.Context,
	channel ssh.Channel,
	chanReqs <-chan *ssh.Request,
	reqs chan<- *ssh.Request,
	msgs chan<- string,
) {
	defer func() {
		_ = channel.Close()
		s.wait.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-chanReqs:
			if !ok {
				return
			}
			switch req.Type {
			case "pty-req", "env":
				reply(t, req, true)
			case "exec":
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					reply(t, req, false)
					continue
				}
				reply(t, req, true)
				req.Payload = []byte(payload.Command)
				select {
				case reqs <- req:
				case <-ctx.Done():
					return
				}
				s.wait.Add()
				go s.exec(t, ctx, channel, payload.Command, msgs)
			case "subsystem":
				var payload struct{ Name string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
					reply(t, req, false)
					continue
				}
				reply(t, req, true)
				s.wait.Add()
				go s.serveSFTP(t, channel)
			default:
				t.Logf("mock: rejecting %q channel request", req.Type)
				reply(t, req, false)
			}
		}
	}
}

func (s *Server) exec(t *testing.T, ctx context.Context, channel ssh.Channel, cmd string, msgs chan<- string) {
	defer s.wait.Done()
	var status uint32
	if s.ExecHandler != nil {
		status = s.ExecHandler(cmd, channel)
	} else {
		scanner := bufio.NewScanner(channel)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case msgs <- line:
			case <-ctx.Done():
				return
			}
		}
	}
	if _, err := channel.SendRequest("exit-status", false, marshalExitStatus(status)); err != nil {
		t.Logf("mock: exit-status: %v", err)
	}
	_ = channel.Close()
}

func (s *Server) serveSFTP(t *testing.T, channel ssh.Channel) {
	defer s.wait.Done()
	server, err := sftp.NewServer(channel)
	if err != nil {
		t.Errorf("mock: sftp server: %v", err)
		return
	}
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		t.Logf("mock: sftp serve: %v", err)
	}
	_ = server.Close()
}

func reply(t *testing.T, req *ssh.Request, ok bool) {
	if !req.WantReply {
		return
	}
	if err := req.Reply(ok, nil); err != nil {
		t.Logf("mock: reply to %q: %v", req.Type, err)
	}
}

// marshalExitStatus encodes the body of an 'exit-status' request.
func marshalExitStatus(code uint32) []byte {
	return ssh.Marshal(struct{ Status uint32 }{code})
}

var ErrServerNotStarted = fmt.Errorf(
	"shutdown called without a call to 'ListenAndServe' first",
)

// Shutdown stops the listener and waits for all handlers to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return ErrServerNotStarted
	}
	s.cancel()
	return s.wait.WaitContext(ctx)
}
