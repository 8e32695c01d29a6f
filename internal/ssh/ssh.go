package ssh

// ssh.go implements a facade over 'x/crypto/ssh', simplifying SSH connection
// construction and buffered command execution/sequencing.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshDefaultTimeout = 10 * time.Second

var (
	ErrSSHFailedDial   = fmt.Errorf("failed to establish SSH connection")
	ErrFailedHostParse = fmt.Errorf("failed to parse hostname")
	ErrHostKeyInvalid  = fmt.Errorf("target's host key is invalid")
)

// Connect establishes an SSH connection to 'host' on TCP port 'port'.
//
// 'host' can be any of: hostname, ipv4 address or ipv6 address. If 'host' is
// an empty string, ipv4 loopback is used.
//
// If 'port' is 0, a default value of '22' is used.
//
// 'signer' is used for public key authentication when connecting to 'host'.
//
// Any values provided to 'hostKeys' will be used to compare against the host
// key offered by 'host' when a connection is attempted. If no 'hostKeys' value
// is provided, all host keys will be accepted.
func Connect(ctx context.Context, host string, port uint16, user string, signer ssh.Signer, hostKeys ...ssh.PublicKey) (*ssh.Client, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 22
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			// Freshly launched instances have host keys nobody could know ahead
			// of time, so an empty 'hostKeys' trusts whatever is offered.
			if len(hostKeys) == 0 {
				return nil
			}
			for _, hostKey := range hostKeys {
				if bytes.Equal(hostKey.Marshal(), key.Marshal()) {
					return nil
				}
			}
			return ErrHostKeyInvalid
		},
		Timeout: sshDefaultTimeout,
	}
	target, err := joinHostPort(ctx, host, port)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedDial, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedDial, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// joinHostPort parses and validates 'host' is a valid IPv4 or IPv6 address,
// then joins it with the port in the address-family-specific format.
//
// If 'host' is a hostname, the hostname will be resolved, then joinHostPort
// will recurse using the first of the resolved addresses.
func joinHostPort(ctx context.Context, host string, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addr := net.ParseIP(host)
	if addr == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			return "", fmt.Errorf("%w: %s", ErrFailedHostParse, host)
		}
		return joinHostPort(ctx, addrs[0], port)
	}
	if ipv4 := addr.To4(); ipv4 != nil {
		return net.JoinHostPort(ipv4.String(), strconv.Itoa(int(port))), nil
	}
	return net.JoinHostPort(addr.String(), strconv.Itoa(int(port))), nil
}

var (
	ErrSessionInit    = fmt.Errorf("failed to begin SSH session")
	ErrCMDExec        = fmt.Errorf("failed to execute SSH command")
	ErrInWait         = fmt.Errorf("SSH command did not exit cleanly")
	ErrStdinWrite     = fmt.Errorf("failed to write command to stdin")
	ErrStdStreamClose = fmt.Errorf("encountered error closing standard stream")
	ErrStdoutPipe     = fmt.Errorf("failed to attach to command stdout")
	ErrPtyRequest     = fmt.Errorf("failed to request a pseudo-terminal")
	ErrStreamRead     = fmt.Errorf("failed to read command output")
	ErrStreamWrite    = fmt.Errorf("failed to forward command output")
	ErrExitStatusLost = fmt.Errorf("command exited without reporting a status")
)

// Exec executes a single command, returning any standard out/err received.
func Exec(client *ssh.Client, cmd string) (string, string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr
	if err = session.Run(cmd); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrCMDExec, err)
	}
	return stdout.String(), stderr.String(), nil
}

// ExecIn executes all provided commands within the provided 'shell'.
func ExecIn(client *ssh.Client, shell Shell, cmds ...string) (string, string, error) {
	cmd := "/usr/bin/env " + shell
	session, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	// We use 'io.Pipe' here to ensure the 'session' reads match 1:1 with our
	// stdin writes (sequenced commands).
	stdinr, stdinw := io.Pipe()
	defer stdinr.Close()
	defer stdinw.Close()
	session.Stdin = stdinr
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr
	if err = session.Start(cmd); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCMDExec, err)
	}
	for _, cmd := range cmds {
		if _, err := stdinw.Write([]byte(cmd + "\n")); err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf(
				"%w: %w",
				ErrStdinWrite, err,
			)
		}
	}
	// Closing the writer signals EOF to the remote shell, which then exits.
	if err = stdinw.Close(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf(
			"%w: %w",
			ErrStdStreamClose, err,
		)
	}
	if err = session.Wait(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrInWait, err)
	}
	return stdout.String(), stderr.String(), nil
}
