// Package driver defines the narrow boundary between the orchestration
// core and the natural-language agent. The agent is an opaque command
// producer: the core assumes nothing about how commands are generated,
// only that they arrive as {hostId, command} pairs at the Executor.
package driver

import (
	"context"
	"time"

	"github.com/remote-host-console/backend/internal/model"
)

// Executor is the sole channel through which an agent affects remote
// hosts. Implemented by the command dispatcher.
type Executor interface {
	Dispatch(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error)
}

// HostLister lets an agent discover which hosts it may target.
type HostLister interface {
	List(ctx context.Context) ([]*model.HostProfile, error)
}

// Agent turns an operator's natural-language message into zero or more
// Executor calls and a textual reply. Implementations live outside this
// module (an LLM integration, a rule engine, a test stub).
type Agent interface {
	HandleMessage(ctx context.Context, message string, exec Executor) (string, error)
}

// ExecuteCommand is a convenience for Agent implementations: it runs one
// command on one host with the agent originator tag.
func ExecuteCommand(ctx context.Context, exec Executor, hostID, command string, timeout time.Duration) (*model.CommandResult, error) {
	return exec.Dispatch(ctx, model.CommandRequest{
		HostID:     hostID,
		Command:    command,
		Timeout:    timeout,
		Originator: model.OriginatorAgent,
	})
}

// Unconfigured is the default Agent when no integration is wired in. It
// rejects every message with a typed error so the UI can explain that
// chat is unavailable.
type Unconfigured struct{}

// HandleMessage always fails with model.ErrNoAgent.
func (Unconfigured) HandleMessage(ctx context.Context, message string, exec Executor) (string, error) {
	return "", model.ErrNoAgent
}
