// Package eventlog defines the coordinator's audit-log sink. spec.md treats
// the SQLite event log as an out-of-scope external collaborator, but names
// its table layout (§6) as an optional-but-specified persisted format; Sink
// is the injected interface that replaces the original's db_logger global
// singleton (spec.md §9).
package eventlog

import "github.com/microgrid-sim/microgrid-sim/internal/domain"

// Event is one append-only audit-log row (spec.md §3 Event entity, §6
// `events` table).
type Event struct {
	Timestamp int64
	Kind      string // e.g. "register", "status", "offer", "late", "match", "transmission_limit"
	Agent     domain.ParticipantId
	KWh       float64
	Price     float64 // 0 when not applicable
	HasPrice  bool
	RoundId   domain.RoundId
	HasRound  bool
}

// AuctionResult is one row of the §6 `auction_results` table: a single
// cleared allocation, internal or external-grid.
type AuctionResult struct {
	RoundId   domain.RoundId
	Buyer     domain.ParticipantId
	Seller    domain.ParticipantId
	KWh       float64
	Price     float64
	Timestamp int64
}

// Sink is the injected audit-log destination.
type Sink interface {
	LogEvent(Event) error
	LogAuction(AuctionResult) error
}

// MemorySink accumulates events and auction results in memory. It is the
// default sink and the one used by tests; unbounded by design since a
// single simulation run's log is expected to fit comfortably in memory.
type MemorySink struct {
	Events   []Event
	Auctions []AuctionResult
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) LogEvent(e Event) error {
	m.Events = append(m.Events, e)
	return nil
}

func (m *MemorySink) LogAuction(a AuctionResult) error {
	m.Auctions = append(m.Auctions, a)
	return nil
}

// EventsOfKind returns every logged event of the given kind, in log order.
func (m *MemorySink) EventsOfKind(kind string) []Event {
	var out []Event
	for _, e := range m.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// NopSink discards everything. Useful when persistence is not wanted at all.
type NopSink struct{}

func (NopSink) LogEvent(Event) error          { return nil }
func (NopSink) LogAuction(AuctionResult) error { return nil }
