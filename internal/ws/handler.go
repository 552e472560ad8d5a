package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the UI's deployment host is fixed
		return true
	},
}

// Executor is the command-submission boundary the handler forwards
// client command messages to. Implemented by the dispatcher.
type Executor interface {
	Dispatch(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error)
}

// Handler upgrades HTTP connections and bridges relay subscriptions to
// WebSocket clients.
type Handler struct {
	relay    *relay.Relay
	executor Executor
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(r *relay.Relay, executor Executor, logger zerolog.Logger) *Handler {
	return &Handler{
		relay:    r,
		executor: executor,
		logger:   logger.With().Str("component", "ws").Logger(),
	}
}

// HandleConnection upgrades the request and streams the host's output
// events to the peer, replaying the buffered recent history first. The
// subscription ends when the peer disconnects or the session closes.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, hostID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, hostID)
	sub := h.relay.Subscribe(hostID, true)

	go h.forwardEvents(client, sub)
	go h.writePump(client)
	go h.readPump(client, sub)

	return nil
}

// forwardEvents pumps relay events into the client's send buffer. A
// slow client misses events rather than stalling the relay; the Seq
// numbers let it detect the gap.
func (h *Handler) forwardEvents(client *Client, sub *relay.Subscription) {
	for ev := range sub.Events() {
		ev := ev
		client.SendMessage(&Message{Type: MessageTypeEvent, Event: &ev})
	}
	client.Close()
}

// readPump consumes messages from the peer: command submissions and pings.
func (h *Handler) readPump(client *Client, sub *relay.Subscription) {
	defer func() {
		sub.Cancel()
		client.Close()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("host", client.HostID()).Msg("websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn().Err(err).Msg("failed to unmarshal message")
			continue
		}

		switch msg.Type {
		case MessageTypeCommand:
			go h.handleCommand(client, &msg)
		case MessageTypePing:
			client.SendMessage(&Message{Type: MessageTypePong})
		}
	}
}

// handleCommand dispatches a submitted command and reports its result
// back on the same connection. Runs outside the read loop so a long
// command does not block further messages.
func (h *Handler) handleCommand(client *Client, msg *Message) {
	if msg.Data == "" {
		client.SendMessage(&Message{Type: MessageTypeError, Error: model.ErrCommandRequired.Error()})
		return
	}

	req := model.CommandRequest{
		HostID:     client.HostID(),
		Command:    msg.Data,
		Timeout:    time.Duration(msg.TimeoutMs) * time.Millisecond,
		Originator: model.OriginatorUI,
	}

	result, err := h.executor.Dispatch(context.Background(), req)
	if err != nil {
		client.SendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
		return
	}
	client.SendMessage(&Message{Type: MessageTypeResult, Result: result})
}

// writePump pumps queued messages to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message so the frontend can JSON.parse each.
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
