package orchestrator

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/microgrid-sim/microgrid-sim/internal/auction"
	"github.com/microgrid-sim/microgrid-sim/internal/bus"
	"github.com/microgrid-sim/microgrid-sim/internal/config"
	"github.com/microgrid-sim/microgrid-sim/internal/domain"
	"github.com/microgrid-sim/microgrid-sim/internal/eventlog"
	"github.com/microgrid-sim/microgrid-sim/internal/failure"
	"github.com/microgrid-sim/microgrid-sim/internal/grid"
	"github.com/microgrid-sim/microgrid-sim/internal/metrics"
	"github.com/microgrid-sim/microgrid-sim/internal/registry"
	"github.com/microgrid-sim/microgrid-sim/internal/rng"
	"github.com/microgrid-sim/microgrid-sim/internal/wire"
)

// harness wires a full Orchestrator over a real bus with a silent logger and
// an in-memory audit sink, ready for scripted end-to-end scenarios.
type harness struct {
	o    *Orchestrator
	b    *bus.Bus
	reg  *registry.Registry
	sink *eventlog.MemorySink
	cfg  *config.ScenarioConfig
}

func newHarness(cfg *config.ScenarioConfig, seed int64) *harness {
	b := bus.New()
	sink := eventlog.NewMemorySink()
	reg := registry.New(sink)
	r := rng.NewPartitionedRNG(rng.NewSimulationKey(seed))

	fc := failure.New(&cfg.Producers, r)
	ae := auction.NewEngine(cfg.Simulation.TransmissionLimitKW, sink)
	cap := auction.NewCapacityEnforcer(cfg.Simulation.AgentLimitsKW)
	ga := grid.NewAdapter(&cfg.ExternalGrid, r, sink)
	tr := metrics.NewTracker(cfg.Metrics.ReportIntervalRounds, silentLogger())

	o := New(cfg, b, reg, fc, ae, cap, ga, tr, sink, silentLogger())
	o.Sleep = func(time.Duration) {}
	o.Now = time.Now
	o.Start()

	return &harness{o: o, b: b, reg: reg, sink: sink, cfg: cfg}
}

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func scenarioConfig() *config.ScenarioConfig {
	cfg := config.Default()
	// Sleep is faked out in tests (no real wait), so these just need to be
	// comfortably larger than the wall-clock time a scripted round takes.
	cfg.Simulation.StatusGraceSeconds = 5.0
	cfg.Simulation.OffersTimeout = 5.0
	cfg.Simulation.RoundSleepSeconds = 0
	cfg.Simulation.TransmissionLimitKW = 100
	// Generous per-role caps so scenario assertions exercise matching and
	// the transmission limit specifically, not the role cap.
	cfg.Simulation.AgentLimitsKW = config.AgentLimitsKW{Consumer: 20, Prosumer: 20, Producer: 35, Storage: 35}
	cfg.ExternalGrid.AcceptanceProb = 1.0
	return cfg
}

func send(t *testing.T, h *harness, from domain.ParticipantId, typ wire.Type, perf wire.Performative, body interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := h.b.Send(CoordinatorId, wire.Envelope{Sender: from, Performative: perf, Type: typ, Body: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func registerHousehold(t *testing.T, h *harness, id domain.ParticipantId, isProsumer bool) {
	send(t, h, id, wire.TypeRegisterHousehold, wire.Inform, wire.RegisterHouseholdMsg{JID: string(id), IsProsumer: isProsumer})
}

func registerProducer(t *testing.T, h *harness, id domain.ParticipantId) {
	send(t, h, id, wire.TypeRegisterProducer, wire.Inform, wire.RegisterProducerMsg{JID: string(id), ProductionType: "solar"})
}

func registerStorage(t *testing.T, h *harness, id domain.ParticipantId) {
	send(t, h, id, wire.TypeRegisterStorage, wire.Inform, wire.RegisterStorageMsg{JID: string(id)})
}

func statusReport(t *testing.T, h *harness, id domain.ParticipantId, demand, prod, battery float64, isProsumer bool) {
	send(t, h, id, wire.TypeStatusReport, wire.Inform, wire.StatusReportMsg{
		JID: string(id), IsProsumer: isProsumer, DemandKWh: demand, ProdKWh: prod, BatteryKWh: battery,
	})
}

func productionReport(t *testing.T, h *harness, id domain.ParticipantId, prod float64, operational bool) {
	send(t, h, id, wire.TypeProductionReport, wire.Inform, wire.ProductionReportMsg{
		JID: string(id), ProdKWh: prod, Type: "solar", IsOperational: operational,
	})
}

func batteryStatus(t *testing.T, h *harness, id domain.ParticipantId, soc, cap float64, emergencyOnly bool) {
	send(t, h, id, wire.TypeStatusBattery, wire.Inform, wire.StatusBatteryMsg{
		JID: string(id), SOCKWh: soc, CapKWh: cap, EmergencyOnly: emergencyOnly, SOH: 1.0,
	})
}

// onOffersWindow runs fn (typically offer and request calls) from within the
// injected Sleep hook so the messages land inside the offers-collection
// window, mirroring how a real participant would respond to call_for_offers
// before its deadline.
func (h *harness) onOffersWindow(t *testing.T, fn func()) {
	orig := h.o.Sleep
	h.o.Sleep = func(d time.Duration) {
		fn()
		h.o.Sleep = orig
	}
}

func offer(t *testing.T, h *harness, id domain.ParticipantId, round int64, kwh, price float64) {
	send(t, h, id, wire.TypeEnergyOffer, wire.Propose, wire.EnergyOfferMsg{RoundId: round, OfferKWh: kwh, Price: price})
}

func request(t *testing.T, h *harness, id domain.ParticipantId, round int64, kwh, priceMax float64) {
	send(t, h, id, wire.TypeEnergyRequest, wire.Request, wire.EnergyRequestMsg{RoundId: round, NeedKWh: kwh, PriceMax: priceMax})
}

// drainNow ingests every envelope currently queued for the coordinator
// without going through a full round — used to seed registry state directly
// for tests that inspect a single step in isolation.
func (h *harness) drainNow() {
	for _, env := range h.b.Drain(CoordinatorId) {
		h.reg.Ingest(env, nil, h.o.Now().UnixNano())
	}
}

// S1: a single producer's surplus fully covers a single household's need via
// the internal auction; no external-grid activity needed.
func TestScenario_S1_InternalMatchFullyCoversDemand(t *testing.T) {
	cfg := scenarioConfig()
	h := newHarness(cfg, 1)

	registerProducer(t, h, "producer-1")
	registerHousehold(t, h, "household-1", false)
	statusReport(t, h, "household-1", 4.0, 0, 0, false)
	productionReport(t, h, "producer-1", 10.0, true)

	nextRound := int64(h.o.Clock().Current() + 1)
	h.onOffersWindow(t, func() {
		offer(t, h, "producer-1", nextRound, 10.0, 0.10)
		request(t, h, "household-1", nextRound, 4.0, 0.30)
	})

	h.o.RunRound()

	if evts := h.sink.EventsOfKind("match"); len(evts) != 1 {
		t.Fatalf("match events = %d, want 1: %+v", len(evts), h.sink.Events)
	}
	if evts := h.sink.EventsOfKind("partial_match"); len(evts) != 0 {
		t.Fatalf("partial_match events = %d, want 0", len(evts))
	}
}

// S2: the household's need exceeds every seller's offer; the external grid
// fills the remainder (conservation across internal + external supply).
func TestScenario_S2_ExternalGridFillsUnmetDemand(t *testing.T) {
	cfg := scenarioConfig()
	h := newHarness(cfg, 2)

	registerProducer(t, h, "producer-1")
	registerHousehold(t, h, "household-1", false)
	statusReport(t, h, "household-1", 8.0, 0, 0, false)
	productionReport(t, h, "producer-1", 3.0, true)

	nextRound := int64(h.o.Clock().Current() + 1)
	h.onOffersWindow(t, func() {
		offer(t, h, "producer-1", nextRound, 3.0, 0.10)
		request(t, h, "household-1", nextRound, 8.0, 0.30)
	})

	h.o.RunRound()

	if evts := h.sink.EventsOfKind("partial_match"); len(evts) != 1 {
		t.Fatalf("partial_match events = %d, want 1 (3.0/8.0 internal, needs external top-up)", len(evts))
	}
	if _, _, _, extSold, _, _, _ := h.o.Metrics.Cumulative(); extSold != 5.0 {
		t.Fatalf("external grid sold %v kWh, want 5.0 (8.0 needed - 3.0 matched internally)", extSold)
	}
}

// S3: no seller at all for the round; average fulfillment is 0% and the
// round counts as a blackout once recorded.
func TestScenario_S3_NoSellersIsBlackout(t *testing.T) {
	cfg := scenarioConfig()
	cfg.ExternalGrid.AcceptanceProb = 0.0 // isolate: no external fallback either
	h := newHarness(cfg, 3)

	registerHousehold(t, h, "household-1", false)
	statusReport(t, h, "household-1", 5.0, 0, 0, false)

	nextRound := int64(h.o.Clock().Current() + 1)
	h.onOffersWindow(t, func() {
		request(t, h, "household-1", nextRound, 5.0, 0.30)
	})

	h.o.RunRound()

	blackout, normal := h.o.Metrics.BlackoutCounts()
	if blackout != 1 || normal != 0 {
		t.Fatalf("BlackoutCounts() = %d,%d, want 1,0", blackout, normal)
	}
	if evts := h.sink.EventsOfKind("unmet_demand"); len(evts) != 1 {
		t.Fatalf("unmet_demand events = %d, want 1", len(evts))
	}
}

// S4: the transmission limit caps a single buyer's per-round intake even
// though supply and its price ceiling would otherwise allow more.
func TestScenario_S4_TransmissionLimitCapsDelivery(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Simulation.TransmissionLimitKW = 2.0
	h := newHarness(cfg, 4)

	registerProducer(t, h, "producer-1")
	registerHousehold(t, h, "household-1", false)
	statusReport(t, h, "household-1", 10.0, 0, 0, false)
	productionReport(t, h, "producer-1", 20.0, true)

	nextRound := int64(h.o.Clock().Current() + 1)
	h.onOffersWindow(t, func() {
		offer(t, h, "producer-1", nextRound, 20.0, 0.10)
		request(t, h, "household-1", nextRound, 10.0, 0.30)
	})

	h.o.RunRound()

	if evts := h.sink.EventsOfKind("transmission_limit"); len(evts) == 0 {
		t.Fatal("expected a transmission_limit event when demand exceeds the per-buyer cap")
	}
}

// S5: emergency-only storage only becomes a seller once a producer has
// failed; otherwise it sits out the round entirely.
func TestScenario_S5_EmergencyStorageSellsOnlyAfterProducerFailure(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Producers.FailureProb = 1.0
	h := newHarness(cfg, 5)

	registerProducer(t, h, "producer-1")
	registerStorage(t, h, "storage-1")
	registerHousehold(t, h, "household-1", false)

	productionReport(t, h, "producer-1", 10.0, true)
	batteryStatus(t, h, "storage-1", 50.0, 50.0, true) // 100% SOC, full: failure gate armed
	statusReport(t, h, "household-1", 5.0, 0, 0, false)
	h.drainNow()

	sellers, _ := h.o.classify()
	for _, id := range sellers {
		if id == "storage-1" {
			t.Fatal("emergency-only storage classified as seller before any producer failure")
		}
	}

	h.o.runFailureStep()
	if !h.reg.AnyProducerFailed() {
		t.Fatal("no producer failure triggered with FAILURE_PROB=1.0 and full storage")
	}
	sellers, _ = h.o.classify()
	found := false
	for _, id := range sellers {
		if id == "storage-1" {
			found = true
		}
	}
	if !found {
		t.Fatal("emergency-only storage not classified as seller after a producer failure")
	}
}

// S6: the external grid is unavailable this round; unmet demand and
// curtailed surplus are both logged, and no energy moves through it.
func TestScenario_S6_ExternalGridUnavailableLogsBothSides(t *testing.T) {
	cfg := scenarioConfig()
	cfg.ExternalGrid.AcceptanceProb = 0.0
	h := newHarness(cfg, 6)

	registerProducer(t, h, "producer-1")
	registerHousehold(t, h, "household-1", false)
	statusReport(t, h, "household-1", 2.0, 0, 0, false)
	productionReport(t, h, "producer-1", 10.0, true)

	nextRound := int64(h.o.Clock().Current() + 1)
	h.onOffersWindow(t, func() {
		offer(t, h, "producer-1", nextRound, 10.0, 0.10)
		// price_max below the only offer: nothing matches internally.
		request(t, h, "household-1", nextRound, 2.0, 0.05)
	})

	h.o.RunRound()

	if evts := h.sink.EventsOfKind("unmet_demand"); len(evts) != 1 {
		t.Fatalf("unmet_demand events = %d, want 1 (household's unserved 2.0 kWh)", len(evts))
	}
	if evts := h.sink.EventsOfKind("curtailed"); len(evts) != 1 {
		t.Fatalf("curtailed events = %d, want 1 (producer's unsold 10.0 kWh surplus)", len(evts))
	}
	if _, _, _, extSold, extBought, _, _ := h.o.Metrics.Cumulative(); extSold != 0 || extBought != 0 {
		t.Fatalf("unavailable external grid moved energy: sold=%v bought=%v", extSold, extBought)
	}
}

// The clock starts at hour 7 and advances by exactly one hour per round,
// rolling over into the next day at hour 24 (spec.md §9 sim_hour decision).
func TestClock_StartsAtHourSevenAndRollsOverDays(t *testing.T) {
	c := NewClock()
	if c.Time().Hour != 7 || c.Time().Day != 0 {
		t.Fatalf("initial time = %+v, want Day 0 Hour 7", c.Time())
	}
	for i := 0; i < 17; i++ {
		c.Advance()
	}
	if c.Time().Hour != 0 || c.Time().Day != 1 {
		t.Fatalf("time after 17 advances = %+v, want Day 1 Hour 0", c.Time())
	}
}

func TestDemandPeriod_ClassifiesHours(t *testing.T) {
	cases := map[int]string{
		7: "High Demand - Morning Peak", 12: "Medium Demand - Daytime",
		19: "High Demand - Evening Peak", 2: "Low Demand - Night Off-Peak",
	}
	for hour, want := range cases {
		if got := DemandPeriod(hour); got != want {
			t.Fatalf("DemandPeriod(%d) = %q, want %q", hour, got, want)
		}
	}
}
