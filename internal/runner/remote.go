package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/rm-runner/rm-runner/internal/ssh"
	xssh "golang.org/x/crypto/ssh"
)

// Remote is a live connection to the instance.
type Remote interface {
	// Exec runs 'cmd' under a pseudo-terminal, streaming its output to 'w',
	// and returns the remote exit status.
	Exec(ctx context.Context, cmd string, w io.Writer) (int, error)
	// Run runs 'cmd' without a pseudo-terminal and returns its standard
	// output. A non-zero exit status is an error.
	Run(ctx context.Context, cmd string) (string, error)
	// ExecIn runs 'cmds' in order within a single 'shell' session and returns
	// the session's standard output.
	ExecIn(ctx context.Context, shell ssh.Shell, cmds ...string) (string, error)
	// Upload copies the local directory tree 'localDir' to 'remoteDir'.
	Upload(ctx context.Context, localDir, remoteDir string) error
	Close() error
}

// Target is where and how to reach an instance.
type Target struct {
	Host       string
	Port       uint16
	User       string
	PrivateKey []byte
}

// Connector makes a single connection attempt to 'target'.
type Connector func(ctx context.Context, target Target) (Remote, error)

var ErrConnect = fmt.Errorf("failed to connect to instance")

// DialSSH is the default Connector. Host keys are not verified: the
// instance was created moments ago and its key cannot be known in advance.
func DialSSH(ctx context.Context, target Target) (Remote, error) {
	signer, err := ssh.ParseKey(target.PrivateKey, nil)
	if err != nil {
		return nil, err
	}
	client, err := ssh.Connect(ctx, target.Host, target.Port, target.User, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return &sshRemote{client: client}, nil
}

type sshRemote struct {
	client *xssh.Client
}

var _ Remote = (*sshRemote)(nil)

func (r *sshRemote) Exec(ctx context.Context, cmd string, w io.Writer) (int, error) {
	return ssh.Stream(ctx, r.client, cmd, w)
}

func (r *sshRemote) Run(_ context.Context, cmd string) (string, error) {
	stdout, stderr, err := ssh.Exec(r.client, cmd)
	if err != nil && stderr != "" {
		return stdout, fmt.Errorf("%w: %s", err, lastLine(stderr))
	}
	return stdout, err
}

func (r *sshRemote) ExecIn(_ context.Context, shell ssh.Shell, cmds ...string) (string, error) {
	stdout, stderr, err := ssh.ExecIn(r.client, shell, cmds...)
	if err != nil && stderr != "" {
		return stdout, fmt.Errorf("%w: %s", err, lastLine(stderr))
	}
	return stdout, err
}

func (r *sshRemote) Upload(ctx context.Context, localDir, remoteDir string) error {
	return ssh.Upload(ctx, r.client, localDir, remoteDir)
}

func (r *sshRemote) Close() error {
	return r.client.Close()
}
