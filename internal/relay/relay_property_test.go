package relay

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-host-console/backend/internal/model"
)

// For any publish count and subscriber buffer size, a subscriber observes
// a strictly increasing subsequence of the published sequence numbers:
// gaps are allowed, reordering and duplication are not.
func TestRelayOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("delivery is a strictly increasing subsequence", prop.ForAll(
		func(total, bufSize int) bool {
			r := New(Options{SubscriberBuffer: bufSize}, testLogger())
			defer r.Close()

			sub := r.Subscribe("h1", false)
			defer sub.Cancel()

			published := make([]uint64, 0, total)
			for i := 0; i < total; i++ {
				published = append(published, r.Publish("h1", model.EventStdout, fmt.Sprintf("e%d", i)))
			}

			// Sequence numbers are assigned contiguously from 1.
			for i, seq := range published {
				if seq != uint64(i+1) {
					t.Logf("expected seq %d, got %d", i+1, seq)
					return false
				}
			}

			var last uint64
			received := 0
		drain:
			for {
				select {
				case ev := <-sub.Events():
					if ev.Seq <= last {
						t.Logf("reorder or duplicate: %d after %d", ev.Seq, last)
						return false
					}
					if ev.Seq > uint64(total) {
						t.Logf("unknown seq %d", ev.Seq)
						return false
					}
					last = ev.Seq
					received++
				default:
					break drain
				}
			}

			// Nothing beyond the buffer can be queued, and with room to
			// spare nothing may be lost.
			if received > bufSize {
				t.Logf("received %d events with buffer %d", received, bufSize)
				return false
			}
			if total <= bufSize && received != total {
				t.Logf("lost events with spare buffer: got %d of %d", received, total)
				return false
			}
			return true
		},
		gen.IntRange(0, 200),
		gen.IntRange(1, 64),
	))

	properties.Property("replay preserves ring order for reconnecting subscribers", prop.ForAll(
		func(total, ringSize int) bool {
			r := New(Options{BufferEvents: ringSize, SubscriberBuffer: ringSize}, testLogger())
			defer r.Close()

			for i := 0; i < total; i++ {
				r.Publish("h1", model.EventStdout, fmt.Sprintf("e%d", i))
			}

			sub := r.Subscribe("h1", true)
			defer sub.Cancel()

			want := total
			if want > ringSize {
				want = ringSize
			}
			expect := uint64(total - want) // seq of the event before the first replayed one

			for i := 0; i < want; i++ {
				select {
				case ev := <-sub.Events():
					expect++
					if ev.Seq != expect {
						t.Logf("expected replayed seq %d, got %d", expect, ev.Seq)
						return false
					}
				default:
					t.Logf("replay shorter than expected: %d of %d", i, want)
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100),
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}
