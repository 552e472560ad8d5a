// Package ws delivers relay event streams to WebSocket subscribers and
// accepts command submissions over the same connection.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remote-host-console/backend/internal/model"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeCommand MessageType = "command"
	MessageTypePing    MessageType = "ping"

	// Server -> Client message types
	MessageTypeEvent  MessageType = "event"
	MessageTypeResult MessageType = "result"
	MessageTypeError  MessageType = "error"
	MessageTypePong   MessageType = "pong"
)

// Message represents a WebSocket message.
type Message struct {
	Type      MessageType          `json:"type"`
	Data      string               `json:"data,omitempty"`
	TimeoutMs int64                `json:"timeoutMs,omitempty"`
	Event     *model.OutputEvent   `json:"event,omitempty"`
	Result    *model.CommandResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Client represents one WebSocket subscriber connection.
type Client struct {
	conn   *websocket.Conn
	hostID string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn, hostID string) *Client {
	return &Client{
		conn:   conn,
		hostID: hostID,
		send:   make(chan []byte, 256),
	}
}

// Send queues a message for delivery. A client whose buffer is full is
// closed rather than blocking the sender.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// SendMessage marshals and queues a Message.
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.Send(data)
}

// Close closes the client's send channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// HostID returns the host this client subscribed to.
func (c *Client) HostID() string {
	return c.hostID
}

// SendChan returns the send channel for the write pump.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
