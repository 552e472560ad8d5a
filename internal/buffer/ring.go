// Package buffer provides a ring buffer for recent session output events.
package buffer

import (
	"sync"

	"github.com/remote-host-console/backend/internal/model"
)

// EventRing is a thread-safe circular buffer that retains the most recent
// output events up to a fixed capacity. When full, the oldest event is
// discarded to make room. Subscribers replay it on connect so a
// reconnecting client sees recent history without blocking the producer.
type EventRing struct {
	events   []model.OutputEvent
	start    int
	count    int
	capacity int
	mu       sync.RWMutex
}

// NewEventRing creates an EventRing with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventRing{
		events:   make([]model.OutputEvent, capacity),
		capacity: capacity,
	}
}

// Append adds an event, discarding the oldest one when full.
func (r *EventRing) Append(ev model.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % r.capacity
	r.events[idx] = ev
	if r.count < r.capacity {
		r.count++
	} else {
		r.start = (r.start + 1) % r.capacity
	}
}

// Snapshot returns a copy of the buffered events in append order.
func (r *EventRing) Snapshot() []model.OutputEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}
	out := make([]model.OutputEvent, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.events[(r.start+i)%r.capacity]
	}
	return out
}

// Clear removes all buffered events.
func (r *EventRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
}

// Len returns the current number of buffered events.
func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the capacity of the buffer.
func (r *EventRing) Cap() int {
	return r.capacity
}
