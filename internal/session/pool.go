// Package session owns the lifecycle of authenticated host sessions:
// the per-host Handle state machine and the Pool that maps host ids to
// at most one live handle each.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/transport"
)

// ProfileSource supplies connection parameters for a host. Implemented
// by the registry.
type ProfileSource interface {
	Get(ctx context.Context, id string) (*model.HostProfile, error)
	GetCredential(ctx context.Context, credentialID string) (*model.Credential, error)
}

// EventSink is the pool's view of the event stream relay: session
// output and status flow through Publish, and CloseHost ends the
// host's stream once its session is torn down so subscribers observe
// a finite stream. Implemented by the relay.
type EventSink interface {
	Publish(hostID string, eventType model.EventType, data string) uint64
	CloseHost(hostID string, reason string)
}

// streamCloseReason is the final status event a subscriber sees before
// its channel closes.
const streamCloseReason = "session closed"

type noopSink struct{}

func (noopSink) Publish(string, model.EventType, string) uint64 { return 0 }
func (noopSink) CloseHost(string, string)                       {}

// PoolConfig holds pool tuning knobs.
type PoolConfig struct {
	// IdleTimeout is how long an unused connected session survives before
	// the reaper disconnects it.
	IdleTimeout time.Duration
	// ReapInterval is how often the reaper scans for idle sessions.
	ReapInterval time.Duration
	// MaxOutputBytes bounds captured output per command per stream.
	MaxOutputBytes int
}

// poolEntry tracks one host's connection attempt or live handle.
// ready is closed once the attempt finished; afterwards exactly one of
// handle or err is set.
type poolEntry struct {
	ready  chan struct{}
	handle *Handle
	err    error
}

// Pool is the single authority mapping host id to at most one live
// session handle. It is an explicit, injectable instance: create it at
// startup, Close it at shutdown.
type Pool struct {
	profiles ProfileSource
	dialer   transport.Dialer
	events   EventSink
	cfg      PoolConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates the pool and starts its idle reaper.
func NewPool(profiles ProfileSource, dialer transport.Dialer, events EventSink, cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if events == nil {
		events = noopSink{}
	}
	p := &Pool{
		profiles: profiles,
		dialer:   dialer,
		events:   events,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pool").Logger(),
		entries:  make(map[string]*poolEntry),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.reapLoop()
	return p
}

// Acquire returns the existing connected handle for hostID, or connects
// a new one using registry data. Concurrent acquires for the same host
// serialize on a single connection attempt: the first caller dials,
// the rest wait for its outcome. A failed attempt is evicted so the
// next Acquire retries with a fresh handle; the pool never retries on
// the caller's behalf.
func (p *Pool) Acquire(ctx context.Context, hostID string) (*Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, model.ErrPoolClosed
		}

		entry, ok := p.entries[hostID]
		if !ok {
			entry = &poolEntry{ready: make(chan struct{})}
			p.entries[hostID] = entry
			p.mu.Unlock()
			return p.connect(ctx, hostID, entry)
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-entry.ready:
		}

		if entry.err != nil {
			// The winning attempt failed and already evicted itself.
			return nil, entry.err
		}
		if entry.handle.State() == model.StateConnected {
			entry.handle.touch()
			return entry.handle, nil
		}
		// Handle went stale between attempts; evict and retry.
		p.evict(hostID, entry)
	}
}

// connect performs the single connection attempt for an entry that this
// caller won. The entry is published to waiters via ready either way.
func (p *Pool) connect(ctx context.Context, hostID string, entry *poolEntry) (*Handle, error) {
	handle, err := p.dial(ctx, hostID)
	if err != nil {
		entry.err = err
		p.evict(hostID, entry)
		close(entry.ready)
		return nil, err
	}

	entry.handle = handle
	close(entry.ready)
	return handle, nil
}

func (p *Pool) dial(ctx context.Context, hostID string) (*Handle, error) {
	profile, err := p.profiles.Get(ctx, hostID)
	if err != nil {
		return nil, err
	}
	cred, err := p.profiles.GetCredential(ctx, profile.CredentialID)
	if err != nil {
		return nil, err
	}

	handle := NewHandle(hostID, p.dialer, p.publishEvent, p.handleFailure, p.cfg.MaxOutputBytes, p.logger)
	if err := handle.Connect(ctx, profile, cred); err != nil {
		return nil, err
	}
	return handle, nil
}

// Get returns the live connected handle for hostID, if any.
func (p *Pool) Get(hostID string) (*Handle, bool) {
	p.mu.Lock()
	entry, ok := p.entries[hostID]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-entry.ready:
	default:
		return nil, false // connect still in flight
	}
	if entry.handle == nil || entry.handle.State() != model.StateConnected {
		return nil, false
	}
	return entry.handle, true
}

// Connected reports whether hostID currently has a live session.
func (p *Pool) Connected(hostID string) bool {
	_, ok := p.Get(hostID)
	return ok
}

// Release explicitly disconnects and removes the host's session.
func (p *Pool) Release(hostID string) {
	p.mu.Lock()
	entry, ok := p.entries[hostID]
	if ok {
		delete(p.entries, hostID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	<-entry.ready
	if entry.handle != nil {
		entry.handle.Disconnect()
		p.events.CloseHost(hostID, streamCloseReason)
	}
}

// publishEvent adapts the sink to the handle's publish callback.
func (p *Pool) publishEvent(hostID string, eventType model.EventType, data string) {
	p.events.Publish(hostID, eventType, data)
}

// handleFailure is the Handle failure callback: it evicts the broken
// entry so the next Acquire creates a fresh handle, and ends the
// host's event stream since the session is gone.
func (p *Pool) handleFailure(hostID string, h *Handle) {
	p.mu.Lock()
	entry, ok := p.entries[hostID]
	evicted := ok && entry.handle == h
	if evicted {
		delete(p.entries, hostID)
		p.logger.Warn().Str("host", hostID).Msg("evicted failed session")
	}
	p.mu.Unlock()

	if evicted {
		p.events.CloseHost(hostID, streamCloseReason)
	}
}

// evict removes the entry if it is still the current one for the host.
func (p *Pool) evict(hostID string, entry *poolEntry) {
	p.mu.Lock()
	if p.entries[hostID] == entry {
		delete(p.entries, hostID)
	}
	p.mu.Unlock()
}

// reapLoop proactively disconnects sessions idle beyond the configured
// threshold to bound open sockets.
func (p *Pool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	var idle []*Handle
	for hostID, entry := range p.entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		h := entry.handle
		if h == nil {
			continue
		}
		if h.State() == model.StateConnected && h.LastUsed().Before(cutoff) {
			delete(p.entries, hostID)
			idle = append(idle, h)
		}
	}
	p.mu.Unlock()

	for _, h := range idle {
		p.logger.Info().Str("host", h.HostID()).Msg("reaping idle session")
		h.Disconnect()
		p.events.CloseHost(h.HostID(), streamCloseReason)
	}
}

// Close stops the reaper and disconnects all sessions. Acquire fails
// with ErrPoolClosed afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	for _, entry := range entries {
		<-entry.ready
		if entry.handle != nil {
			entry.handle.Disconnect()
			p.events.CloseHost(entry.handle.HostID(), streamCloseReason)
		}
	}
}
