package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// streamChunkSize is the size of each read from the remote command's output.
const streamChunkSize = 1024

// Stream runs 'cmd' under a pseudo-terminal and copies its output to 'w'
// chunk by chunk as it arrives, returning once the remote side signals
// end-of-output.
//
// The remote exit status is returned as 'exitCode'. A non-zero exit status
// is not an error: errors are only returned for transport failures. If ctx
// is cancelled while the command runs, the session is closed and ctx's error
// is returned.
func Stream(ctx context.Context, client *ssh.Client, cmd string, w io.Writer) (exitCode int, err error) {
	session, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 200, modes); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrPtyRequest, err)
	}
	// With a pty allocated, stderr is merged into stdout on the remote side.
	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrStdoutPipe, err)
	}
	if err := session.Start(cmd); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrCMDExec, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-done:
		}
	}()

	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return -1, fmt.Errorf("%w: %w", ErrStreamWrite, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return -1, ctx.Err()
			}
			return -1, fmt.Errorf("%w: %w", ErrStreamRead, rerr)
		}
	}

	werr := session.Wait()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return exitStatus(werr)
}

// exitStatus maps the result of 'session.Wait' to an exit code.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, fmt.Errorf("%w: %w", ErrExitStatusLost, err)
	}
	return -1, fmt.Errorf("%w: %w", ErrInWait, err)
}
