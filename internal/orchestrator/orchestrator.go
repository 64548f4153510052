// Package orchestrator implements RoundOrchestrator and RoundClock (spec.md
// §4.1): the top-level state machine sequencing status synchronization,
// failure injection, classification, the auction, the external-grid
// fallback, performance recording, and time advancement. Grounded on
// agents/grid_node/orchestrator.py's round loop.
package orchestrator

import (
	"encoding/json"
	"sync"
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
	"github.com/microgrid-sim/microgrid-sim/internal/wire"
)

// CoordinatorId is the well-known bus identity participants address their
// reports and offers to.
const CoordinatorId domain.ParticipantId = "coordinator"

// State names a position in the per-round state machine (spec.md §4.1).
type State int

const (
	StateIdle State = iota
	StateCollectStatus
	StateClassify
	StateAuctionOpen
	StateAuctionClosed
	StateExternalGrid
	StateRecord
	StateSleep
)

// Clock produces monotonically increasing round ids and tracks simulated
// time, starting at hour 7 (spec.md §9: "a revision initializes sim_hour to
// 1, others to 7. The core uses 7").
type Clock struct {
	round domain.RoundId
	time  domain.SimulatedTime
}

// NewClock creates a Clock at round 0, simulated Day 0 Hour 7.
func NewClock() *Clock {
	return &Clock{time: domain.SimulatedTime{Day: 0, Hour: 7}}
}

// NextRound assigns and returns the next round id.
func (c *Clock) NextRound() domain.RoundId {
	c.round++
	return c.round
}

// Current returns the most recently assigned round id.
func (c *Clock) Current() domain.RoundId { return c.round }

// Time returns the current simulated time.
func (c *Clock) Time() domain.SimulatedTime { return c.time }

// Advance moves simulated time forward one hour.
func (c *Clock) Advance() { c.time = c.time.Advance() }

// DemandPeriod maps a simulated hour to a qualitative demand-period label,
// used only for round-header logging.
func DemandPeriod(hour int) string {
	switch {
	case hour >= 6 && hour < 9:
		return "High Demand - Morning Peak"
	case hour >= 18 && hour < 22:
		return "High Demand - Evening Peak"
	case hour >= 0 && hour < 6:
		return "Low Demand - Night Off-Peak"
	default:
		return "Medium Demand - Daytime"
	}
}

// Orchestrator drives an unbounded sequence of rounds.
type Orchestrator struct {
	Cfg      *config.ScenarioConfig
	Bus      *bus.Bus
	Registry *registry.Registry
	Failure  *failure.Controller
	Auction  *auction.Engine
	Capacity *auction.CapacityEnforcer
	Grid     *grid.Adapter
	Metrics  *metrics.Tracker
	Sink     eventlog.Sink
	Log      *logrus.Logger

	// Now and Sleep are injected so tests can run rounds without real
	// wall-clock delay; production wiring sets them to time.Now and
	// time.Sleep.
	Now   func() time.Time
	Sleep func(time.Duration)

	clock        *Clock
	simStartTime time.Time
	state        State
	stopOnce     sync.Once
	stop         chan struct{}
}

// New builds an Orchestrator from its collaborators. Call Start once
// before the first RunRound to fix the simulation's start time.
func New(cfg *config.ScenarioConfig, b *bus.Bus, reg *registry.Registry, fc *failure.Controller, ae *auction.Engine, capEnforcer *auction.CapacityEnforcer, ga *grid.Adapter, tr *metrics.Tracker, sink eventlog.Sink, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Cfg: cfg, Bus: b, Registry: reg, Failure: fc, Auction: ae, Capacity: capEnforcer,
		Grid: ga, Metrics: tr, Sink: sink, Log: log,
		Now: time.Now, Sleep: time.Sleep,
		clock: NewClock(), stop: make(chan struct{}),
	}
}

// Start fixes the simulation's start time, used for the round header's
// "real time elapsed" figure.
func (o *Orchestrator) Start() {
	o.simStartTime = o.Now()
}

// State returns the orchestrator's current position in the state machine.
func (o *Orchestrator) State() State { return o.state }

// Clock exposes the orchestrator's round clock.
func (o *Orchestrator) Clock() *Clock { return o.clock }

// Stop signals Run to return after the in-flight round completes. Safe to
// call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Run drives rounds forever until Stop is called.
func (o *Orchestrator) Run() {
	o.Start()
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		o.RunRound()
	}
}

type outbound struct {
	to   domain.ParticipantId
	typ  wire.Type
	body interface{}
}

// RunRound executes exactly one round of the §4.1 phase sequence.
func (o *Orchestrator) RunRound() {
	round := o.clock.NextRound()
	ledger := domain.NewRoundLedger(round)
	roundStart := o.Now()
	simTime := o.clock.Time()

	o.state = StateIdle
	o.Log.WithFields(logrus.Fields{
		"round": round, "sim_day": simTime.Day, "sim_hour": simTime.Hour,
		"demand_period":  DemandPeriod(simTime.Hour),
		"elapsed_real_s": roundStart.Sub(o.simStartTime).Seconds(),
	}).Info("round start")

	offlineBefore := o.offlineProducers()

	o.state = StateCollectStatus
	o.collectStatus(round, ledger)

	o.runFailureStep()

	o.state = StateClassify
	sellers, buyers := o.classify()

	o.state = StateAuctionOpen
	eligible := unionPreserveOrder(sellers, buyers)
	if len(eligible) > 0 {
		timeout := time.Duration(o.Cfg.Simulation.OffersTimeout * float64(time.Second))
		deadline := o.Now().Add(timeout)
		ledger.DeadlineTs = deadline.UnixNano()
		ledger.InvitedSellers = toSet(sellers)

		o.broadcastCFP(round, eligible, ledger.DeadlineTs)
		o.Sleep(timeout)
		o.drainAndIngest(ledger)
	}

	o.state = StateAuctionClosed
	sellerCaps, buyerCaps := o.computeCaps(sellers, buyers)
	notifications := o.Auction.Match(ledger, sellerCaps, buyerCaps)
	o.deliverAuction(notifications)

	o.state = StateExternalGrid
	extResult := o.Grid.Run(round, o.Cfg.Simulation.TransmissionLimitKW, ledger, o.Registry.StorageUnits())
	o.deliverGrid(extResult.Notifications)

	if o.Sink != nil {
		ts := o.Now().UnixNano()
		for _, allocs := range [][]domain.Allocation{ledger.Matches, ledger.ExternalGrid} {
			for _, m := range allocs {
				o.Sink.LogAuction(eventlog.AuctionResult{
					RoundId: m.RoundId, Buyer: m.Buyer, Seller: m.Seller, KWh: m.KWh, Price: m.Price, Timestamp: ts,
				})
			}
		}
	}

	o.state = StateRecord
	o.Metrics.Record(int(round), o.buildRoundData(ledger, extResult))

	o.logRecoveries(offlineBefore)

	o.state = StateSleep
	roundSleep := o.Cfg.Simulation.RoundSleepSeconds
	postEnv := roundSleep * 0.2
	preEnv := roundSleep - postEnv
	if preEnv > 0 {
		o.Sleep(time.Duration(preEnv * float64(time.Second)))
	}

	o.clock.Advance()
	o.requestEnvironmentUpdate(o.clock.Time().Hour)

	if postEnv > 0 {
		o.Sleep(time.Duration(postEnv * float64(time.Second)))
	}

	o.Registry.ReleaseRound(round)
	o.state = StateIdle
}

func (o *Orchestrator) offlineProducers() map[domain.ParticipantId]bool {
	out := make(map[domain.ParticipantId]bool)
	for _, id := range o.Registry.KnownProducers() {
		if p, ok := o.Registry.Producer(id); ok && !p.IsOperational {
			out[id] = true
		}
	}
	return out
}

func (o *Orchestrator) logRecoveries(offlineBefore map[domain.ParticipantId]bool) {
	for id := range offlineBefore {
		if p, ok := o.Registry.Producer(id); ok && p.IsOperational {
			o.Log.WithField("producer", id).Info("producer recovered")
		}
	}
}

func (o *Orchestrator) drainAndIngest(ledger *domain.RoundLedger) {
	envs := o.Bus.Drain(CoordinatorId)
	now := o.Now().UnixNano()
	for _, env := range envs {
		o.Registry.Ingest(env, ledger, now)
	}
}

// collectStatus implements spec.md §4.1 phase 2: block until every known
// participant has reported, or the grace window has elapsed with at least
// one report received.
func (o *Orchestrator) collectStatus(round domain.RoundId, ledger *domain.RoundLedger) {
	grace := time.Duration(o.Cfg.Simulation.StatusGraceSeconds * float64(time.Second))
	deadline := o.Now().Add(grace)
	for {
		o.drainAndIngest(ledger)
		if o.Registry.AllStatusSeen(round) {
			return
		}
		pastGrace := !o.Now().Before(deadline)
		if pastGrace && (o.Registry.AnyStatusSeen(round) || o.noParticipantsKnown()) {
			return
		}
		o.Sleep(100 * time.Millisecond)
	}
}

func (o *Orchestrator) noParticipantsKnown() bool {
	return len(o.Registry.KnownHouseholds())+len(o.Registry.KnownProducers())+len(o.Registry.KnownStorage()) == 0
}

func (o *Orchestrator) runFailureStep() {
	producers := o.Registry.Producers()
	d := o.Failure.Evaluate(
		o.Registry.StorageUnits(),
		producers,
		o.Registry.KnownProducers(),
		o.Registry.AnyProducerFailed(),
	)
	if !d.Triggered {
		return
	}
	failure.Apply(producers, d)
	o.Registry.SetProducer(d.Producer, producers[d.Producer])
	o.Log.WithFields(logrus.Fields{"producer": d.Producer, "duration_rounds": d.Duration}).Warn("producer failure triggered")
	o.logEvent(eventlog.Event{Kind: "failure", Agent: d.Producer}, o.clock.Current())
}

func (o *Orchestrator) logEvent(e eventlog.Event, round domain.RoundId) {
	if o.Sink == nil {
		return
	}
	e.RoundId = round
	e.HasRound = true
	o.Sink.LogEvent(e)
}

// classify returns sellers and buyers in registry insertion order
// (producers, then households, then storage) per spec.md §4.3.
func (o *Orchestrator) classify() (sellers, buyers []domain.ParticipantId) {
	anyFailed := o.Registry.AnyProducerFailed()

	for _, id := range o.Registry.KnownProducers() {
		if p, ok := o.Registry.Producer(id); ok && p.IsSeller() {
			sellers = append(sellers, id)
		}
	}
	for _, id := range o.Registry.KnownHouseholds() {
		h, ok := o.Registry.Household(id)
		if !ok {
			continue
		}
		if h.IsSeller() {
			sellers = append(sellers, id)
		}
		if h.IsBuyer() {
			buyers = append(buyers, id)
		}
	}
	for _, id := range o.Registry.KnownStorage() {
		s, ok := o.Registry.Storage(id)
		if !ok {
			continue
		}
		if s.IsSeller(anyFailed) {
			sellers = append(sellers, id)
		}
		if s.IsBuyer(anyFailed) {
			buyers = append(buyers, id)
		}
	}
	return sellers, buyers
}

func (o *Orchestrator) broadcastCFP(round domain.RoundId, eligible []domain.ParticipantId, deadlineTs int64) {
	body := wire.CallForOffersMsg{
		RoundId: int64(round), DeadlineTs: deadlineTs, ProducersFailed: o.Registry.AnyProducerFailed(),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		o.Log.WithError(err).Error("marshal call_for_offers")
		return
	}
	env := wire.Envelope{Sender: CoordinatorId, Performative: wire.CFP, Type: wire.TypeCallForOffers, Body: raw}
	for _, errSend := range o.Bus.Broadcast(eligible, env) {
		o.Log.WithError(errSend).Warn("cfp broadcast transport error")
	}
}

func (o *Orchestrator) computeCaps(sellers, buyers []domain.ParticipantId) (sellerCaps, buyerCaps map[domain.ParticipantId]float64) {
	sellerCaps = make(map[domain.ParticipantId]float64)
	buyerCaps = make(map[domain.ParticipantId]float64)

	for _, id := range sellers {
		if _, ok := o.Registry.Producer(id); ok {
			sellerCaps[id] = o.Capacity.SellerLimit(auction.RoleProducer)
			continue
		}
		if h, ok := o.Registry.Household(id); ok {
			remainingCap := o.Cfg.Households.BatteryCapacityKWh - h.BatteryKWh
			sellerCaps[id] = o.Capacity.ProsumerSellerLimit(h, o.Cfg.Households.BatteryChargeRateKW, remainingCap)
			continue
		}
		if _, ok := o.Registry.Storage(id); ok {
			sellerCaps[id] = o.Capacity.SellerLimit(auction.RoleStorage)
		}
	}

	for _, id := range buyers {
		if h, ok := o.Registry.Household(id); ok {
			role := auction.RoleConsumer
			if h.IsProsumer {
				role = auction.RoleProsumer
			}
			buyerCaps[id] = o.Capacity.BuyerLimit(role)
			continue
		}
		if _, ok := o.Registry.Storage(id); ok {
			buyerCaps[id] = o.Capacity.BuyerLimit(auction.RoleStorage)
		}
	}

	return sellerCaps, buyerCaps
}

func (o *Orchestrator) deliverAuction(notifications []auction.Notification) {
	out := make([]outbound, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, outbound{to: n.To, typ: n.Type, body: n.Body})
	}
	o.deliver(out)
}

func (o *Orchestrator) deliverGrid(notifications []grid.Notification) {
	out := make([]outbound, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, outbound{to: n.To, typ: n.Type, body: n.Body})
	}
	o.deliver(out)
}

func (o *Orchestrator) deliver(out []outbound) {
	for _, n := range out {
		raw, err := json.Marshal(n.body)
		if err != nil {
			o.Log.WithError(err).Error("marshal notification")
			continue
		}
		env := wire.Envelope{Sender: CoordinatorId, Performative: wire.Accept, Type: n.typ, Body: raw}
		if err := o.Bus.Send(n.to, env); err != nil {
			o.Log.WithError(err).WithField("to", n.to).Warn("notification transport error")
		}
	}
}

// environmentJID is the well-known environment process identity; the core
// treats it as an external collaborator addressed by convention.
const environmentJID domain.ParticipantId = "environment"

func (o *Orchestrator) requestEnvironmentUpdate(hour int) {
	raw, err := json.Marshal(struct {
		Command string `json:"command"`
		SimHour int    `json:"sim_hour"`
	}{Command: "update", SimHour: hour})
	if err != nil {
		o.Log.WithError(err).Error("marshal request_environment_update")
		return
	}
	env := wire.Envelope{Sender: CoordinatorId, Performative: wire.Request, Type: wire.TypeRequestEnvUpdate, Body: raw}
	if err := o.Bus.Send(environmentJID, env); err != nil {
		o.Log.WithError(err).Warn("request_environment_update transport error")
	}
}

func (o *Orchestrator) buildRoundData(ledger *domain.RoundLedger, ext grid.RunResult) metrics.RoundData {
	totalDemand := 0.0
	for _, req := range ledger.Requests {
		totalDemand += req.NeedKWh
	}
	totalSupplied := 0.0
	for _, m := range ledger.Matches {
		totalSupplied += m.KWh
	}
	totalSupplied += ext.SoldKWh

	marketValue := 0.0
	for _, m := range ledger.Matches {
		marketValue += m.KWh * m.Price
	}
	marketValue += ext.SoldValue

	wasted := 0.0
	for _, remaining := range ledger.RemainingKWh {
		wasted += remaining
	}

	fulfillment := make(map[domain.ParticipantId]float64, len(ledger.Requests))
	for buyer, req := range ledger.Requests {
		if req.NeedKWh <= 0 {
			continue
		}
		pct := ledger.ReceivedKWh[buyer] / req.NeedKWh * 100
		if pct > 100 {
			pct = 100
		}
		fulfillment[buyer] = pct
	}

	anyFailed := o.Registry.AnyProducerFailed()
	return metrics.RoundData{
		RoundId: ledger.RoundId, TotalDemandKWh: totalDemand, TotalSuppliedKWh: totalSupplied,
		MarketValue: marketValue, WastedEnergyKWh: wasted,
		ExtGridSoldKWh: ext.SoldKWh, ExtGridBoughtKWh: ext.BoughtKWh,
		ExtGridSoldValue: ext.SoldValue, ExtGridBoughtValue: ext.BoughtValue,
		BuyerFulfillment: fulfillment, AnyProducerFailed: anyFailed, EmergencyUsed: anyFailed,
	}
}

func unionPreserveOrder(a, b []domain.ParticipantId) []domain.ParticipantId {
	seen := make(map[domain.ParticipantId]struct{}, len(a)+len(b))
	var out []domain.ParticipantId
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func toSet(ids []domain.ParticipantId) map[domain.ParticipantId]struct{} {
	out := make(map[domain.ParticipantId]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
