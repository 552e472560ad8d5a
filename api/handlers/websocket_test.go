package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/ws"
)

func TestEventsAPI_UnknownHost(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/hosts/nope/events", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upgrade, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "HOST_NOT_FOUND" {
		t.Errorf("expected HOST_NOT_FOUND, got %s", code)
	}
}

func TestEventsAPI_StreamsCommandOutput(t *testing.T) {
	env := newTestEnv(t)
	env.createHost(t, "web-1")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/hosts/web-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	// A command issued over REST streams its output to the subscriber.
	w := env.do(t, http.MethodPost, "/api/commands", map[string]any{
		"hostId":  "web-1",
		"command": "echo hi",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("exec failed: %d %s", w.Code, w.Body.String())
	}

	// Connect publishes status events first; read until the stdout chunk.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never received the stdout event")
		}
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("failed to unmarshal %q: %v", raw, err)
		}
		if msg.Type != ws.MessageTypeEvent || msg.Event == nil {
			continue
		}
		if msg.Event.Type == model.EventStdout {
			if msg.Event.Data != "hi\n" {
				t.Errorf("expected 'hi\\n', got %q", msg.Event.Data)
			}
			return
		}
	}
}
