package model

import "time"

// Originator tags who submitted a command request.
type Originator string

const (
	OriginatorUI    Originator = "ui"
	OriginatorAgent Originator = "agent"
)

// CommandRequest is an immutable request to run one command on one host.
// A request has exactly one terminal CommandResult.
type CommandRequest struct {
	ID         string        `json:"id"`
	HostID     string        `json:"hostId"`
	Command    string        `json:"command"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Originator Originator    `json:"originator"`
}

// CommandState is the terminal state of a command execution.
type CommandState string

const (
	CommandCompleted CommandState = "completed"
	CommandTimedOut  CommandState = "timed_out"
	CommandFailed    CommandState = "failed"
	CommandCancelled CommandState = "cancelled"
)

// CommandResult is the single terminal outcome of a CommandRequest.
// Stdout and Stderr are bounded; Truncated is set when output was cut
// at the configured limit.
type CommandResult struct {
	RequestID string        `json:"requestId"`
	HostID    string        `json:"hostId"`
	State     CommandState  `json:"state"`
	ExitCode  int           `json:"exitCode"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}
