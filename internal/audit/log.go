// Package audit records every dispatched command and its outcome in
// JSON-Lines files, one per host.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/model"
)

// Entry is one recorded command execution. Commands and outcomes are
// recorded, never credentials.
type Entry struct {
	RequestID  string           `json:"requestId"`
	HostID     string           `json:"hostId"`
	Originator model.Originator `json:"originator"`
	Command    string           `json:"command"`
	State      string           `json:"state"`
	ExitCode   *int             `json:"exitCode,omitempty"`
	Error      string           `json:"error,omitempty"`
	StdoutLen  int              `json:"stdoutLen"`
	StderrLen  int              `json:"stderrLen"`
	DurationMs int64            `json:"durationMs"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Log appends command audit entries to per-host JSONL files. Append
// failures are logged rather than propagated so a full disk never
// blocks command dispatch, but they are never silent.
type Log struct {
	dir    string
	logger zerolog.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewLog creates the audit directory if needed and returns a Log.
func NewLog(dir string, logger zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Log{
		dir:    dir,
		logger: logger.With().Str("component", "audit").Logger(),
		files:  make(map[string]*os.File),
	}, nil
}

// Record implements dispatch.Recorder.
func (l *Log) Record(req *model.CommandRequest, res *model.CommandResult, dispatchErr error) {
	entry := Entry{
		RequestID:  req.ID,
		HostID:     req.HostID,
		Originator: req.Originator,
		Command:    req.Command,
		Timestamp:  time.Now().UTC(),
	}
	if res != nil {
		entry.State = string(res.State)
		code := res.ExitCode
		entry.ExitCode = &code
		entry.StdoutLen = len(res.Stdout)
		entry.StderrLen = len(res.Stderr)
		entry.DurationMs = res.Duration.Milliseconds()
	}
	if dispatchErr != nil {
		entry.State = string(model.CommandFailed)
		entry.Error = dispatchErr.Error()
	}

	l.append(req.HostID, entry)
}

func (l *Log) append(hostID string, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error().Err(err).Str("host", hostID).Str("request", entry.RequestID).Msg("failed to encode audit entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, ok := l.files[hostID]
	if !ok {
		f, err := os.OpenFile(l.path(hostID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.logger.Error().Err(err).Str("host", hostID).Str("request", entry.RequestID).Msg("failed to open audit log")
			return
		}
		l.files[hostID] = f
		file = f
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		l.logger.Error().Err(err).Str("host", hostID).Str("request", entry.RequestID).Msg("failed to write audit entry")
	}
}

// Tail returns up to limit most recent entries for a host, oldest first.
func (l *Log) Tail(hostID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(hostID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip torn lines
		}
		entries = append(entries, entry)
		if len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}

// Close closes all open audit files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for hostID, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.files, hostID)
	}
	return firstErr
}

func (l *Log) path(hostID string) string {
	return filepath.Join(l.dir, hostID+".jsonl")
}
