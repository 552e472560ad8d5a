// Package dispatch is the single entry point for executing a command
// against a named host, shared by the agent driver and UI-triggered
// commands.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/config"
	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/session"
)

// Acquirer is the slice of the session pool the dispatcher needs.
type Acquirer interface {
	Acquire(ctx context.Context, hostID string) (*session.Handle, error)
}

// Recorder receives the terminal outcome of every dispatched command.
// Implemented by the audit log; a nil Recorder disables recording.
type Recorder interface {
	Record(req *model.CommandRequest, res *model.CommandResult, err error)
}

// Options configures dispatcher behavior. Zero values fall back to the
// documented defaults.
type Options struct {
	// PerHostCommands caps concurrently executing commands per host.
	PerHostCommands int
	// Policy picks queue (FIFO wait) or reject (fail with busy) when the
	// cap is reached. Commands on one shared transport must never
	// interleave, so the cap default is 1.
	Policy config.DispatchPolicy
	// DefaultTimeout applies when a request carries none.
	DefaultTimeout time.Duration
}

// Dispatcher routes command requests to the owning session handle,
// enforcing per-host concurrency and translating handle-level errors.
// Every call returns either a CommandResult or a typed error, never
// both silently dropped.
type Dispatcher struct {
	pool     Acquirer
	recorder Recorder
	opts     Options
	logger   zerolog.Logger

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// New creates a Dispatcher.
func New(pool Acquirer, recorder Recorder, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.PerHostCommands < 1 {
		opts.PerHostCommands = 1
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyQueue
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Dispatcher{
		pool:     pool,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		slots:    make(map[string]chan struct{}),
	}
}

// Dispatch validates the request, acquires the host's session and runs
// the command. Context cancellation propagates into both the slot wait
// and the handle's execute call.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error) {
	if strings.TrimSpace(req.HostID) == "" {
		return nil, &model.ValidationError{Field: "hostId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, model.ErrCommandRequired
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timeout <= 0 {
		req.Timeout = d.opts.DefaultTimeout
	}
	if req.Originator == "" {
		req.Originator = model.OriginatorUI
	}

	result, err := d.run(ctx, &req)
	if d.recorder != nil {
		d.recorder.Record(&req, result, err)
	}
	if err != nil {
		d.logger.Warn().
			Str("host", req.HostID).
			Str("request", req.ID).
			Str("originator", string(req.Originator)).
			Err(err).
			Msg("dispatch failed")
		return nil, err
	}

	d.logger.Info().
		Str("host", req.HostID).
		Str("request", req.ID).
		Str("originator", string(req.Originator)).
		Str("state", string(result.State)).
		Int("exitCode", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")
	return result, nil
}

func (d *Dispatcher) run(ctx context.Context, req *model.CommandRequest) (*model.CommandResult, error) {
	release, err := d.acquireSlot(ctx, req.HostID)
	if err != nil {
		return nil, err
	}
	defer release()

	handle, err := d.pool.Acquire(ctx, req.HostID)
	if err != nil {
		return nil, err
	}

	return handle.Execute(ctx, req.ID, req.Command, req.Timeout)
}

// acquireSlot takes one of the host's in-flight command slots. Under the
// reject policy a full gate fails immediately with ErrHostBusy; under
// the queue policy callers wait FIFO, bounded by their context.
func (d *Dispatcher) acquireSlot(ctx context.Context, hostID string) (func(), error) {
	d.mu.Lock()
	slot, ok := d.slots[hostID]
	if !ok {
		slot = make(chan struct{}, d.opts.PerHostCommands)
		d.slots[hostID] = slot
	}
	d.mu.Unlock()

	release := func() { <-slot }

	if d.opts.Policy == config.PolicyReject {
		select {
		case slot <- struct{}{}:
			return release, nil
		default:
			return nil, model.ErrHostBusy
		}
	}

	select {
	case slot <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports the number of commands currently executing on a host.
func (d *Dispatcher) InFlight(hostID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot, ok := d.slots[hostID]; ok {
		return len(slot)
	}
	return 0
}
