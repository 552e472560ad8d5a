package model

import (
	"errors"
	"fmt"
)

var (
	// ErrHostNotFound is returned when a host id is unknown to the registry.
	ErrHostNotFound = errors.New("host not found")

	// ErrHostExists is returned when registering a duplicate host id.
	ErrHostExists = errors.New("host already exists")

	// ErrCommandRequired is returned when a dispatch request has an empty command.
	ErrCommandRequired = errors.New("command is required")

	// ErrInvalidState is returned when a command is issued to a session
	// handle that is not connected. The call fails immediately, it is
	// never queued.
	ErrInvalidState = errors.New("session is not connected")

	// ErrHostBusy is returned under the reject policy when the per-host
	// in-flight command cap is already taken.
	ErrHostBusy = errors.New("another command is already running on this host")

	// ErrPoolClosed is returned by Acquire after the pool has been shut down.
	ErrPoolClosed = errors.New("session pool is closed")

	// ErrNoAgent is returned by the chat endpoint when no agent is configured.
	ErrNoAgent = errors.New("no agent configured")
)

// ValidationError reports user-correctable bad input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConnectErrorKind distinguishes why a connection attempt failed so the
// UI can explain it.
type ConnectErrorKind string

const (
	ConnectAuthFailed      ConnectErrorKind = "auth_failed"
	ConnectUnreachable     ConnectErrorKind = "unreachable"
	ConnectHostKeyMismatch ConnectErrorKind = "host_key_mismatch"
	ConnectOther           ConnectErrorKind = "other"
)

// ConnectError wraps a transport-level connection failure.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ExecErrorKind distinguishes command execution failures. Timeouts are
// not an ExecError: a timed-out command still yields a CommandResult
// whose State is CommandTimedOut.
type ExecErrorKind string

const (
	ExecTransportLost ExecErrorKind = "transport_lost"
)

// ExecError wraps a failure of a running command.
type ExecError struct {
	Kind ExecErrorKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("exec failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsConnectError reports whether err is (or wraps) a ConnectError and
// returns it for inspection.
func IsConnectError(err error) (*ConnectError, bool) {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsExecError reports whether err is (or wraps) an ExecError and returns
// it for inspection.
func IsExecError(err error) (*ExecError, bool) {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
