// Package transport wraps the SSH client so the session layer can be
// exercised against fakes. It delegates all protocol cryptography to
// golang.org/x/crypto/ssh.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/remote-host-console/backend/internal/model"
)

// Exec is one in-flight remote command execution.
type Exec interface {
	// Wait blocks until the command finishes and returns its exit code.
	// A dropped connection surfaces as a non-nil error with exit code -1.
	Wait() (int, error)
	// Kill forcibly terminates the command's channel. Best effort: the
	// remote process may keep running detached.
	Kill() error
}

// Conn is one authenticated connection to a host.
type Conn interface {
	// Start launches command on a fresh channel, streaming stdout and
	// stderr incrementally to the writers as output arrives.
	Start(command string, stdout, stderr io.Writer) (Exec, error)
	Close() error
}

// Dialer establishes authenticated connections to hosts.
type Dialer interface {
	Dial(ctx context.Context, profile *model.HostProfile, cred *model.Credential) (Conn, error)
}

// SSHDialer is the production Dialer backed by golang.org/x/crypto/ssh.
type SSHDialer struct {
	// HandshakeTimeout bounds the TCP connect plus SSH handshake.
	HandshakeTimeout time.Duration
}

// NewSSHDialer creates an SSHDialer with a default handshake timeout.
func NewSSHDialer() *SSHDialer {
	return &SSHDialer{HandshakeTimeout: 10 * time.Second}
}

// Dial connects and authenticates to the host described by profile.
// Failures are returned as *model.ConnectError with a classified kind.
func (d *SSHDialer) Dial(ctx context.Context, profile *model.HostProfile, cred *model.Credential) (Conn, error) {
	config, err := buildClientConfig(profile, cred, d.HandshakeTimeout)
	if err != nil {
		return nil, &model.ConnectError{Kind: model.ConnectOther, Err: err}
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		client, err := ssh.Dial("tcp", profile.Addr(), config)
		resultCh <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine closes the client if it lands after us.
		go func() {
			if res := <-resultCh; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, &model.ConnectError{Kind: model.ConnectUnreachable, Err: ctx.Err()}
	case res := <-resultCh:
		if res.err != nil {
			return nil, &model.ConnectError{Kind: classifyDialError(res.err), Err: res.err}
		}
		return &sshConn{client: res.client}, nil
	}
}

func buildClientConfig(profile *model.HostProfile, cred *model.Credential, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if cred.KeyPath != "" {
		key, err := os.ReadFile(cred.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cred.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		auth = append(auth, ssh.Password(cred.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication material for host %s", profile.ID)
	}

	return &ssh.ClientConfig{
		User:            profile.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts are operator-registered
		Timeout:         timeout,
	}, nil
}

// classifyDialError maps an ssh.Dial failure to a ConnectErrorKind so
// callers can tell authentication problems from network ones.
func classifyDialError(err error) model.ConnectErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return model.ConnectAuthFailed
	case strings.Contains(msg, "host key"):
		return model.ConnectHostKeyMismatch
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.ConnectUnreachable
	}
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "i/o timeout") {
		return model.ConnectUnreachable
	}
	return model.ConnectOther
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Start(command string, stdout, stderr io.Writer) (Exec, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	return &sshExec{session: session}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

type sshExec struct {
	session *ssh.Session
}

func (e *sshExec) Wait() (int, error) {
	err := e.session.Wait()
	e.session.Close()
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	// ExitMissingError and EOF both mean the channel died before the
	// remote reported an exit status.
	return -1, err
}

func (e *sshExec) Kill() error {
	// Not all servers honor the signal; closing the session tears down
	// the channel either way.
	_ = e.session.Signal(ssh.SIGKILL)
	return e.session.Close()
}
