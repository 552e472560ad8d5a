// Package relay fans out session output events to subscribers.
//
// The relay decouples output production from consumption: publishing never
// blocks on a subscriber. Each host gets a strictly increasing sequence
// counter; a subscriber whose channel is full misses events (a detectable
// gap) but never sees reordering or duplication.
package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-host-console/backend/internal/buffer"
	"github.com/remote-host-console/backend/internal/model"
)

// Options configures the relay buffers.
type Options struct {
	// BufferEvents is the number of recent events retained per host for
	// replay on subscribe.
	BufferEvents int
	// SubscriberBuffer is the channel capacity of each subscriber. A
	// subscriber that falls this far behind starts missing events.
	SubscriberBuffer int
}

// Subscription is one subscriber's view of a host's event stream.
type Subscription struct {
	events chan model.OutputEvent
	cancel func()
	once   sync.Once
}

// Events returns the channel delivering events in sequence order. The
// channel is closed when the session closes or the subscription is
// cancelled.
func (s *Subscription) Events() <-chan model.OutputEvent {
	return s.events
}

// Cancel detaches the subscriber. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// stream holds the per-host fan-out state.
type stream struct {
	ring    *buffer.EventRing
	nextSeq uint64
	subs    map[*Subscription]bool
}

// Relay delivers host-scoped output events to any number of subscribers.
type Relay struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

// New creates a Relay.
func New(opts Options, logger zerolog.Logger) *Relay {
	if opts.BufferEvents <= 0 {
		opts.BufferEvents = 256
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	return &Relay{
		opts:    opts,
		logger:  logger.With().Str("component", "relay").Logger(),
		streams: make(map[string]*stream),
	}
}

// Publish appends an event for hostID and pushes it to all subscribers.
// The assigned sequence number is returned. Slow subscribers are skipped,
// never waited on.
func (r *Relay) Publish(hostID string, eventType model.EventType, data string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}

	st := r.streams[hostID]
	if st == nil {
		st = &stream{
			ring: buffer.NewEventRing(r.opts.BufferEvents),
			subs: make(map[*Subscription]bool),
		}
		r.streams[hostID] = st
	}

	st.nextSeq++
	ev := model.OutputEvent{
		HostID:    hostID,
		Seq:       st.nextSeq,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
	st.ring.Append(ev)

	for sub := range st.subs {
		select {
		case sub.events <- ev:
		default:
			// Subscriber is behind; it will observe a gap in Seq.
		}
	}
	return ev.Seq
}

// Subscribe attaches a new subscriber to hostID. With replay set, the
// buffered recent events are queued first so a reconnecting client can
// restore context. The returned subscription must be cancelled when the
// consumer goes away.
func (r *Relay) Subscribe(hostID string, replay bool) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscription{
		events: make(chan model.OutputEvent, r.opts.SubscriberBuffer),
	}
	sub.cancel = func() { r.unsubscribe(hostID, sub) }

	if r.closed {
		close(sub.events)
		sub.cancel = func() {}
		return sub
	}

	st := r.streams[hostID]
	if st == nil {
		st = &stream{
			ring: buffer.NewEventRing(r.opts.BufferEvents),
			subs: make(map[*Subscription]bool),
		}
		r.streams[hostID] = st
	}

	if replay {
		for _, ev := range st.ring.Snapshot() {
			select {
			case sub.events <- ev:
			default:
				// Replay larger than the subscriber buffer; drop the rest,
				// the Seq gap tells the client history was cut.
			}
		}
	}

	st.subs[sub] = true
	return sub
}

func (r *Relay) unsubscribe(hostID string, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.streams[hostID]
	if st == nil || !st.subs[sub] {
		return
	}
	delete(st.subs, sub)
	close(sub.events)
}

// CloseHost publishes a final status event, then terminates all
// subscriptions for the host. The event stream is finite once the
// session closes.
func (r *Relay) CloseHost(hostID string, reason string) {
	r.Publish(hostID, model.EventStatus, reason)

	r.mu.Lock()
	st := r.streams[hostID]
	var subs []*Subscription
	if st != nil {
		for sub := range st.subs {
			subs = append(subs, sub)
		}
		st.subs = make(map[*Subscription]bool)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		close(sub.events)
	}
}

// SubscriberCount reports the number of active subscribers for a host.
func (r *Relay) SubscriberCount(hostID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.streams[hostID]
	if st == nil {
		return 0
	}
	return len(st.subs)
}

// Close terminates all subscriptions across hosts.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var subs []*Subscription
	for _, st := range r.streams {
		for sub := range st.subs {
			subs = append(subs, sub)
		}
		st.subs = make(map[*Subscription]bool)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		close(sub.events)
	}
}
