package session

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/transport"
)

// PublishFunc delivers a host-scoped output event to the relay.
type PublishFunc func(hostID string, eventType model.EventType, data string)

// FailureFunc notifies the pool that a handle hit an unrecoverable
// transport error and must be evicted.
type FailureFunc func(hostID string, h *Handle)

// Handle owns one authenticated connection to one host.
//
// State machine: Disconnected -> Connecting -> Connected ->
// {Disconnected, Failed}. Failed is terminal for this instance; the pool
// creates a fresh handle on the next acquire.
type Handle struct {
	hostID    string
	dialer    transport.Dialer
	publish   PublishFunc
	onFailure FailureFunc
	maxOutput int
	logger    zerolog.Logger

	mu       sync.Mutex
	state    model.SessionState
	conn     transport.Conn
	lastUsed time.Time
}

// NewHandle creates a handle in the Disconnected state.
func NewHandle(hostID string, dialer transport.Dialer, publish PublishFunc, onFailure FailureFunc, maxOutput int, logger zerolog.Logger) *Handle {
	if publish == nil {
		publish = func(string, model.EventType, string) {}
	}
	if onFailure == nil {
		onFailure = func(string, *Handle) {}
	}
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	return &Handle{
		hostID:    hostID,
		dialer:    dialer,
		publish:   publish,
		onFailure: onFailure,
		maxOutput: maxOutput,
		logger:    logger.With().Str("host", hostID).Logger(),
		state:     model.StateDisconnected,
		lastUsed:  time.Now(),
	}
}

// HostID returns the host this handle belongs to.
func (h *Handle) HostID() string { return h.hostID }

// State returns the current lifecycle state.
func (h *Handle) State() model.SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastUsed returns the time of the last connect or execute activity.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Connect authenticates to the host. Valid only in the Disconnected
// state; a Failed handle cannot be revived.
func (h *Handle) Connect(ctx context.Context, profile *model.HostProfile, cred *model.Credential) error {
	h.mu.Lock()
	if h.state != model.StateDisconnected {
		h.mu.Unlock()
		return model.ErrInvalidState
	}
	h.state = model.StateConnecting
	h.mu.Unlock()

	h.publish(h.hostID, model.EventStatus, string(model.StateConnecting))

	conn, err := h.dialer.Dial(ctx, profile, cred)
	if err != nil {
		h.mu.Lock()
		h.state = model.StateFailed
		h.mu.Unlock()
		h.publish(h.hostID, model.EventStatus, string(model.StateFailed))
		h.logger.Warn().Err(err).Msg("connect failed")
		return err
	}

	h.mu.Lock()
	h.conn = conn
	h.state = model.StateConnected
	h.lastUsed = time.Now()
	h.mu.Unlock()

	h.publish(h.hostID, model.EventStatus, string(model.StateConnected))
	h.logger.Info().Str("addr", profile.Addr()).Msg("connected")
	return nil
}

// Execute runs command with a hard timeout, streaming output to the
// relay as it arrives. Only valid in the Connected state; any other
// state fails immediately with ErrInvalidState, never queues.
//
// On timeout the exec channel is forcibly torn down and the result
// reports the timed_out state; the remote process may keep running
// detached, which is a documented limitation of the transport.
func (h *Handle) Execute(ctx context.Context, requestID, command string, timeout time.Duration) (*model.CommandResult, error) {
	h.mu.Lock()
	if h.state != model.StateConnected {
		h.mu.Unlock()
		return nil, model.ErrInvalidState
	}
	conn := h.conn
	h.lastUsed = time.Now()
	h.mu.Unlock()

	stdout := newStreamWriter(h, model.EventStdout)
	stderr := newStreamWriter(h, model.EventStderr)

	started := time.Now()
	exec, err := conn.Start(command, stdout, stderr)
	if err != nil {
		h.fail(err)
		return nil, &model.ExecError{Kind: model.ExecTransportLost, Err: err}
	}

	type waitResult struct {
		exitCode int
		err      error
	}
	done := make(chan waitResult, 1)
	go func() {
		code, err := exec.Wait()
		done <- waitResult{code, err}
	}()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	result := &model.CommandResult{
		RequestID: requestID,
		HostID:    h.hostID,
	}

	select {
	case res := <-done:
		result.Duration = time.Since(started)
		h.touch()
		if res.err != nil {
			// Channel died before an exit status arrived.
			h.fail(res.err)
			return nil, &model.ExecError{Kind: model.ExecTransportLost, Err: res.err}
		}
		result.State = model.CommandCompleted
		result.ExitCode = res.exitCode

	case <-timeoutCh:
		exec.Kill()
		<-done // reap the wait goroutine, channel is torn down
		result.Duration = time.Since(started)
		result.State = model.CommandTimedOut
		result.ExitCode = -1
		h.touch()
		h.logger.Warn().Str("command", command).Dur("timeout", timeout).Msg("command timed out")

	case <-ctx.Done():
		exec.Kill()
		<-done
		result.Duration = time.Since(started)
		result.State = model.CommandCancelled
		result.ExitCode = -1
		h.touch()
	}

	result.Stdout, result.Stderr = stdout.String(), stderr.String()
	result.Truncated = stdout.Truncated() || stderr.Truncated()
	return result, nil
}

// Disconnect closes the transport and returns the handle to the
// Disconnected state. Safe to call in any state.
func (h *Handle) Disconnect() {
	h.mu.Lock()
	if h.state == model.StateFailed {
		// Failed is terminal; nothing left to tear down.
		h.mu.Unlock()
		return
	}
	if h.state != model.StateConnected {
		h.state = model.StateDisconnected
		h.mu.Unlock()
		return
	}
	h.state = model.StateClosing
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	h.mu.Lock()
	h.state = model.StateDisconnected
	h.mu.Unlock()

	h.publish(h.hostID, model.EventStatus, string(model.StateDisconnected))
	h.logger.Info().Msg("disconnected")
}

// fail transitions the handle to the terminal Failed state and notifies
// the pool. Errors are never swallowed: the caller still receives them.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	if h.state == model.StateFailed {
		h.mu.Unlock()
		return
	}
	h.state = model.StateFailed
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	h.publish(h.hostID, model.EventStatus, string(model.StateFailed))
	h.logger.Warn().Err(err).Msg("session failed")
	h.onFailure(h.hostID, h)
}

func (h *Handle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// streamWriter forwards chunks to the relay as they arrive and captures
// a bounded copy for the command result.
type streamWriter struct {
	handle    *Handle
	eventType model.EventType

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
}

func newStreamWriter(h *Handle, eventType model.EventType) *streamWriter {
	return &streamWriter{handle: h, eventType: eventType}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.handle.publish(w.handle.hostID, w.eventType, string(p))

	w.mu.Lock()
	defer w.mu.Unlock()
	remaining := w.handle.maxOutput - w.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
			w.truncated = true
		} else {
			w.buf.Write(p)
		}
	} else if len(p) > 0 {
		w.truncated = true
	}
	return len(p), nil
}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *streamWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
