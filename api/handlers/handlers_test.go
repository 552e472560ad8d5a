package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/audit"
	"github.com/remote-host-console/backend/internal/db"
	"github.com/remote-host-console/backend/internal/dispatch"
	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/registry"
	"github.com/remote-host-console/backend/internal/relay"
	"github.com/remote-host-console/backend/internal/session"
	"github.com/remote-host-console/backend/internal/transport"
	"github.com/remote-host-console/backend/internal/ws"
	"github.com/remote-host-console/backend/pkg/driver"
)

type fakeExec struct{}

func (fakeExec) Wait() (int, error) { return 0, nil }
func (fakeExec) Kill() error        { return nil }

// fakeConn emulates a shell that understands "echo <text>".
type fakeConn struct{}

func (fakeConn) Start(command string, stdout, _ io.Writer) (transport.Exec, error) {
	out := command
	if rest, ok := strings.CutPrefix(command, "echo "); ok {
		out = rest
	}
	io.WriteString(stdout, out+"\n")
	return fakeExec{}, nil
}

func (fakeConn) Close() error { return nil }

type fakeDialer struct{}

func (fakeDialer) Dial(context.Context, *model.HostProfile, *model.Credential) (transport.Conn, error) {
	return fakeConn{}, nil
}

type testEnv struct {
	router   *gin.Engine
	pool     *session.Pool
	relay    *relay.Relay
	executor *dispatch.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.New(io.Discard)

	conn, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	reg := registry.New(conn)
	eventRelay := relay.New(relay.Options{}, logger)
	t.Cleanup(eventRelay.Close)

	pool := session.NewPool(reg, fakeDialer{}, eventRelay,
		session.PoolConfig{IdleTimeout: time.Hour, ReapInterval: time.Hour}, logger)
	t.Cleanup(pool.Close)

	auditLog, err := audit.NewLog(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create audit log: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	dispatcher := dispatch.New(pool, auditLog, dispatch.Options{}, logger)

	router := gin.New()
	api := router.Group("/api")
	NewHostHandler(reg, pool).RegisterRoutes(api)
	NewCommandHandler(dispatcher, auditLog).RegisterRoutes(api)
	NewChatHandler(nil, dispatcher).RegisterRoutes(api)
	NewWebSocketHandler(reg, ws.NewHandler(eventRelay, dispatcher, logger)).RegisterRoutes(api)

	return &testEnv{router: router, pool: pool, relay: eventRelay, executor: dispatcher}
}

func jsonBody(t *testing.T, body any) io.Reader {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, w).Error.Code
}

func createHostBody(id string) map[string]any {
	return map[string]any{
		"id":       id,
		"address":  "127.0.0.1",
		"user":     "admin",
		"password": "topsecret",
	}
}

func (e *testEnv) createHost(t *testing.T, id string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/hosts", createHostBody(id))
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to create host %s: %d %s", id, w.Code, w.Body.String())
	}
}

// fakeAgent echoes the operator message back, optionally running a
// command first.
type fakeAgent struct {
	command string
}

func (a fakeAgent) HandleMessage(ctx context.Context, message string, exec driver.Executor) (string, error) {
	if a.command != "" {
		res, err := driver.ExecuteCommand(ctx, exec, "h1", a.command, 0)
		if err != nil {
			return "", err
		}
		return "ran: " + res.Stdout, nil
	}
	return "echo: " + message, nil
}
