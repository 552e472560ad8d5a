package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/config"
	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/session"
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
}

func (c *fakeConn) Start(command string, stdout, stderr io.Writer) (transport.Exec, error) {
	return c.startFunc(command, stdout, stderr)
}

func (c *fakeConn) Close() error { return nil }

type fakeDialer struct {
	conn transport.Conn
}

func (d *fakeDialer) Dial(context.Context, *model.HostProfile, *model.Credential) (transport.Conn, error) {
	return d.conn, nil
}

type fakeProfiles struct{}

func (fakeProfiles) Get(_ context.Context, id string) (*model.HostProfile, error) {
	if id != "h1" {
		return nil, model.ErrHostNotFound
	}
	return &model.HostProfile{ID: id, Address: "127.0.0.1", Port: 22, User: "test", CredentialID: "c"}, nil
}

func (fakeProfiles) GetCredential(context.Context, string) (*model.Credential, error) {
	return &model.Credential{ID: "c", Password: "pw"}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	reqs    []*model.CommandRequest
	results []*model.CommandResult
	errs    []error
}

func (r *fakeRecorder) Record(req *model.CommandRequest, res *model.CommandResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	r.results = append(r.results, res)
	r.errs = append(r.errs, err)
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

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

func newTestDispatcher(t *testing.T, conn transport.Conn, opts Options) (*Dispatcher, *fakeRecorder) {
	t.Helper()
	pool := session.NewPool(fakeProfiles{}, &fakeDialer{conn: conn}, nil,
		session.PoolConfig{IdleTimeout: time.Hour, ReapInterval: time.Hour}, testLogger())
	t.Cleanup(pool.Close)

	rec := &fakeRecorder{}
	return New(pool, rec, opts, testLogger()), rec
}

func TestDispatcher_Validation(t *testing.T) {
	d, rec := newTestDispatcher(t, echoConn(), Options{})
	ctx := context.Background()

	_, err := d.Dispatch(ctx, model.CommandRequest{Command: "echo hi"})
	var verr *model.ValidationError
	if !errors.As(err, &verr) || verr.Field != "hostId" {
		t.Errorf("expected hostId ValidationError, got %v", err)
	}

	_, err = d.Dispatch(ctx, model.CommandRequest{HostID: "h1"})
	if !errors.Is(err, model.ErrCommandRequired) {
		t.Errorf("expected ErrCommandRequired, got %v", err)
	}
	_, err = d.Dispatch(ctx, model.CommandRequest{HostID: "h1", Command: "   "})
	if !errors.Is(err, model.ErrCommandRequired) {
		t.Errorf("expected ErrCommandRequired for blank command, got %v", err)
	}

	if rec.count() != 0 {
		t.Errorf("validation failures must not reach the recorder, got %d records", rec.count())
	}
}

func TestDispatcher_FullFlow(t *testing.T) {
	d, rec := newTestDispatcher(t, echoConn(), Options{})

	res, err := d.Dispatch(context.Background(), model.CommandRequest{HostID: "h1", Command: "echo hi"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if res.State != model.CommandCompleted {
		t.Errorf("expected completed, got %s", res.State)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if res.Stdout != "hi\n" {
		t.Errorf("expected stdout 'hi\\n', got %q", res.Stdout)
	}
	if res.RequestID == "" {
		t.Error("expected a generated request id")
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 audit record, got %d", rec.count())
	}
	if rec.reqs[0].Originator != model.OriginatorUI {
		t.Errorf("expected default ui originator, got %s", rec.reqs[0].Originator)
	}
	if rec.reqs[0].Timeout != 30*time.Second {
		t.Errorf("expected default timeout, got %s", rec.reqs[0].Timeout)
	}
	if rec.results[0] != res || rec.errs[0] != nil {
		t.Error("recorder saw a different outcome than the caller")
	}
}

func TestDispatcher_UnknownHostRecorded(t *testing.T) {
	d, rec := newTestDispatcher(t, echoConn(), Options{})

	_, err := d.Dispatch(context.Background(), model.CommandRequest{HostID: "nope", Command: "echo hi"})
	if !errors.Is(err, model.ErrHostNotFound) {
		t.Fatalf("expected ErrHostNotFound, got %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 audit record, got %d", rec.count())
	}
	if !errors.Is(rec.errs[0], model.ErrHostNotFound) {
		t.Errorf("recorder got %v", rec.errs[0])
	}
}

// blockingConn lets the test hold a command open and release it on demand.
func blockingConn() (*fakeConn, chan struct{}) {
	release := make(chan struct{})
	conn := &fakeConn{
		startFunc: func(_ string, _, _ io.Writer) (transport.Exec, error) {
			return &fakeExec{
				waitFunc: func() (int, error) {
					<-release
					return 0, nil
				},
				killFunc: func() error {
					select {
					case <-release:
					default:
						close(release)
					}
					return nil
				},
			}, nil
		},
	}
	return conn, release
}

func TestDispatcher_RejectPolicy(t *testing.T) {
	conn, release := blockingConn()
	d, _ := newTestDispatcher(t, conn, Options{PerHostCommands: 1, Policy: config.PolicyReject})
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, model.CommandRequest{HostID: "h1", Command: "sleep 60"})
		firstDone <- err
	}()

	// Wait for the first command to occupy the slot.
	deadline := time.After(2 * time.Second)
	for d.InFlight("h1") == 0 {
		select {
		case <-deadline:
			t.Fatal("first command never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := d.Dispatch(ctx, model.CommandRequest{HostID: "h1", Command: "echo hi"})
	if !errors.Is(err, model.ErrHostBusy) {
		t.Errorf("expected ErrHostBusy, got %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Errorf("first command failed: %v", err)
	}
	if d.InFlight("h1") != 0 {
		t.Errorf("expected slot released, got %d in flight", d.InFlight("h1"))
	}
}

func TestDispatcher_QueuePolicySerializes(t *testing.T) {
	var mu sync.Mutex
	cur, peak := 0, 0

	conn := &fakeConn{
		startFunc: func(_ string, _, _ io.Writer) (transport.Exec, error) {
			mu.Lock()
			cur++
			if cur > peak {
				peak = cur
			}
			mu.Unlock()
			return &fakeExec{waitFunc: func() (int, error) {
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				cur--
				mu.Unlock()
				return 0, nil
			}}, nil
		},
	}
	d, _ := newTestDispatcher(t, conn, Options{PerHostCommands: 1, Policy: config.PolicyQueue})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Dispatch(ctx, model.CommandRequest{HostID: "h1", Command: "echo hi"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("queued dispatch %d failed: %v", i, err)
		}
	}
	if peak > 1 {
		t.Errorf("commands interleaved on one transport: peak concurrency %d", peak)
	}
}

func TestDispatcher_QueueWaitHonorsContext(t *testing.T) {
	conn, release := blockingConn()
	defer close(release)
	d, _ := newTestDispatcher(t, conn, Options{PerHostCommands: 1, Policy: config.PolicyQueue})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		d.Dispatch(context.Background(), model.CommandRequest{HostID: "h1", Command: "sleep 60"})
	}()

	deadline := time.After(2 * time.Second)
	for d.InFlight("h1") == 0 {
		select {
		case <-deadline:
			t.Fatal("first command never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, model.CommandRequest{HostID: "h1", Command: "echo hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded while queued, got %v", err)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	conn, _ := blockingConn()
	d, rec := newTestDispatcher(t, conn, Options{DefaultTimeout: 50 * time.Millisecond})

	res, err := d.Dispatch(context.Background(), model.CommandRequest{HostID: "h1", Command: "sleep 60"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.State != model.CommandTimedOut {
		t.Errorf("expected timed_out, got %s", res.State)
	}
	if rec.count() != 1 || rec.results[0].State != model.CommandTimedOut {
		t.Error("expected timeout outcome in the audit record")
	}
}
