// Package bus implements the MessageBus: an addressed, best-effort,
// per-sender-ordered transport between participant identities. No
// persistence is required — spec.md §2 describes it as best-effort, and
// §5 requires only that messages from a given sender arrive in send order.
package bus

import (
	"fmt"
	"sync"

	"github.com/microgrid-sim/microgrid-sim/internal/domain"
	"github.com/microgrid-sim/microgrid-sim/internal/wire"
)

// DefaultInboxCapacity bounds each participant's inbox. A full inbox is a
// transport error (spec.md §7): logged by the caller, not retried.
const DefaultInboxCapacity = 1024

// Bus is an in-memory MessageBus. Each participant identity gets its own
// buffered channel; a single Go channel preserves FIFO order for any one
// sender goroutine, which is sufficient for the per-sender ordering
// guarantee — the coordinator itself only ever runs on one goroutine.
type Bus struct {
	mu       sync.Mutex
	inboxes  map[domain.ParticipantId]chan wire.Envelope
	capacity int
}

// New creates an empty Bus with the default inbox capacity.
func New() *Bus {
	return &Bus{
		inboxes:  make(map[domain.ParticipantId]chan wire.Envelope),
		capacity: DefaultInboxCapacity,
	}
}

// inboxFor returns (creating if necessary) the channel for id.
func (b *Bus) inboxFor(id domain.ParticipantId) chan wire.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inboxes[id]
	if !ok {
		ch = make(chan wire.Envelope, b.capacity)
		b.inboxes[id] = ch
	}
	return ch
}

// Send delivers env to recipient's inbox. Best-effort: if the inbox is
// full, the message is dropped and an error returned for the caller to log
// (spec.md §7 transport error — not retried, round continues).
func (b *Bus) Send(to domain.ParticipantId, env wire.Envelope) error {
	ch := b.inboxFor(to)
	select {
	case ch <- env:
		return nil
	default:
		return fmt.Errorf("bus: inbox for %s is full, message dropped", to)
	}
}

// Broadcast sends env to every recipient in to, collecting (not stopping
// on) per-recipient transport errors.
func (b *Bus) Broadcast(to []domain.ParticipantId, env wire.Envelope) []error {
	var errs []error
	for _, id := range to {
		if err := b.Send(id, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Drain returns every envelope currently queued for id, in arrival order,
// without blocking.
func (b *Bus) Drain(id domain.ParticipantId) []wire.Envelope {
	ch := b.inboxFor(id)
	var out []wire.Envelope
	for {
		select {
		case env := <-ch:
			out = append(out, env)
		default:
			return out
		}
	}
}
