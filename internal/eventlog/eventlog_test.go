package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/microgrid-sim/microgrid-sim/internal/domain"
)

func TestMemorySink_LogEventAndAuction(t *testing.T) {
	sink := NewMemorySink()

	if err := sink.LogEvent(Event{Kind: "offer", Agent: "seller-1", KWh: 2.0}); err != nil {
		t.Fatalf("LogEvent() error: %v", err)
	}
	if err := sink.LogAuction(AuctionResult{RoundId: 1, Buyer: "b", Seller: "s", KWh: 2.0, Price: 0.2}); err != nil {
		t.Fatalf("LogAuction() error: %v", err)
	}

	if len(sink.Events) != 1 {
		t.Fatalf("Events = %d, want 1", len(sink.Events))
	}
	if len(sink.Auctions) != 1 {
		t.Fatalf("Auctions = %d, want 1", len(sink.Auctions))
	}
}

func TestMemorySink_EventsOfKind(t *testing.T) {
	sink := NewMemorySink()
	sink.LogEvent(Event{Kind: "late", Agent: "a"})
	sink.LogEvent(Event{Kind: "match", Agent: "b"})
	sink.LogEvent(Event{Kind: "late", Agent: "c"})

	late := sink.EventsOfKind("late")
	if len(late) != 2 {
		t.Fatalf("EventsOfKind(late) = %d, want 2", len(late))
	}
}

func TestNopSink_DiscardsSilently(t *testing.T) {
	var s NopSink
	if err := s.LogEvent(Event{}); err != nil {
		t.Errorf("NopSink.LogEvent() error = %v, want nil", err)
	}
}

func TestSQLiteSink_PersistsEventsAndAuctions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := OpenSQLiteSink(path)
	if err != nil {
		t.Fatalf("OpenSQLiteSink() error: %v", err)
	}
	defer sink.Close()

	evt := Event{Timestamp: 100, Kind: "offer", Agent: domain.ParticipantId("seller-1"), KWh: 2.0, Price: 0.2, HasPrice: true, RoundId: 1, HasRound: true}
	if err := sink.LogEvent(evt); err != nil {
		t.Fatalf("LogEvent() error: %v", err)
	}

	result := AuctionResult{RoundId: 1, Buyer: "b", Seller: "s", KWh: 2.0, Price: 0.2, Timestamp: 100}
	if err := sink.LogAuction(result); err != nil {
		t.Fatalf("LogAuction() error: %v", err)
	}

	var count int
	if err := sink.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count != 1 {
		t.Errorf("events count = %d, want 1", count)
	}

	if err := sink.db.QueryRow(`SELECT COUNT(*) FROM auction_results`).Scan(&count); err != nil {
		t.Fatalf("query auction_results: %v", err)
	}
	if count != 1 {
		t.Errorf("auction_results count = %d, want 1", count)
	}
}
