package model

import "time"

// EventType classifies an OutputEvent.
type EventType string

const (
	EventStdout EventType = "stdout"
	EventStderr EventType = "stderr"
	// EventStatus carries session state changes (connecting, connected,
	// disconnected, failed) in Data.
	EventStatus EventType = "status"
)

// OutputEvent is one host-scoped, ordered chunk of session output.
// Seq is strictly increasing per host; subscribers use it to detect
// gaps after being dropped behind a slow channel.
type OutputEvent struct {
	HostID    string    `json:"hostId"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState describes the lifecycle of one session handle.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateFailed       SessionState = "failed"
	StateClosing      SessionState = "closing"
)
