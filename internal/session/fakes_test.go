package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeExec struct {
	waitFunc func() (int, error)
	killFunc func() error
}

func (e *fakeExec) Wait() (int, error) { return e.waitFunc() }

func (e *fakeExec) Kill() error {
	if e.killFunc != nil {
		return e.killFunc()
	}
	return nil
}

type fakeConn struct {
	startFunc func(command string, stdout, stderr io.Writer) (transport.Exec, error)
	closed    atomic.Bool
}

func (c *fakeConn) Start(command string, stdout, stderr io.Writer) (transport.Exec, error) {
	return c.startFunc(command, stdout, stderr)
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// echoConn emulates a shell that understands "echo <text>": it writes the
// text to stdout and exits 0.
func echoConn() *fakeConn {
	return &fakeConn{
		startFunc: func(command string, stdout, _ io.Writer) (transport.Exec, error) {
			out := command
			if rest, ok := strings.CutPrefix(command, "echo "); ok {
				out = rest
			}
			io.WriteString(stdout, out+"\n")
			return &fakeExec{waitFunc: func() (int, error) { return 0, nil }}, nil
		},
	}
}

type fakeDialer struct {
	dialFunc func(ctx context.Context, profile *model.HostProfile, cred *model.Credential) (transport.Conn, error)
	calls    atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, profile *model.HostProfile, cred *model.Credential) (transport.Conn, error) {
	d.calls.Add(1)
	if d.dialFunc != nil {
		return d.dialFunc(ctx, profile, cred)
	}
	return echoConn(), nil
}

type fakeProfiles struct {
	hosts map[string]*model.HostProfile
	creds map[string]*model.Credential
}

func newFakeProfiles(ids ...string) *fakeProfiles {
	p := &fakeProfiles{
		hosts: make(map[string]*model.HostProfile),
		creds: make(map[string]*model.Credential),
	}
	for _, id := range ids {
		credID := "cred-" + id
		p.hosts[id] = &model.HostProfile{
			ID:           id,
			Address:      "127.0.0.1",
			Port:         22,
			User:         "test",
			CredentialID: credID,
		}
		p.creds[credID] = &model.Credential{ID: credID, Password: "pw"}
	}
	return p
}

func (p *fakeProfiles) Get(_ context.Context, id string) (*model.HostProfile, error) {
	host, ok := p.hosts[id]
	if !ok {
		return nil, model.ErrHostNotFound
	}
	return host, nil
}

func (p *fakeProfiles) GetCredential(_ context.Context, credentialID string) (*model.Credential, error) {
	cred, ok := p.creds[credentialID]
	if !ok {
		return nil, model.ErrHostNotFound
	}
	return cred, nil
}

// eventSink collects published events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []model.OutputEvent
}

func (s *eventSink) publish(hostID string, eventType model.EventType, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, model.OutputEvent{HostID: hostID, Type: eventType, Data: data})
}

func (s *eventSink) all() []model.OutputEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutputEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) dataOf(eventType model.EventType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev.Data)
		}
	}
	return out
}
