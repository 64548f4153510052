// Package registry implements ParticipantRegistry and StateStore (spec.md
// §2.3–§2.4) plus the message-ingestion dispatch of §4.2 — the equivalent
// of the original's Receiver behaviour, but as a typed switch over
// wire.Envelope rather than string dispatch (spec.md §9).
package registry

import (
	"github.com/microgrid-sim/microgrid-sim/internal/domain"
	"github.com/microgrid-sim/microgrid-sim/internal/eventlog"
	"github.com/microgrid-sim/microgrid-sim/internal/wire"
)

// Registry owns every piece of state the coordinator tracks about
// participants across rounds: known identities by category, and their
// last-reported telemetry.
type Registry struct {
	sink eventlog.Sink

	knownHouseholds *orderedSet[domain.ParticipantId]
	knownProducers  *orderedSet[domain.ParticipantId]
	knownStorage    *orderedSet[domain.ParticipantId]

	households map[domain.ParticipantId]domain.HouseholdState
	producers  map[domain.ParticipantId]domain.ProducerState
	storage    map[domain.ParticipantId]domain.StorageState

	anyProducerFailed bool

	// statusSeen[round] is the set of participants who have reported for
	// that round (status_report, production_report, or statusBattery).
	statusSeen map[domain.RoundId]map[domain.ParticipantId]struct{}

	env domain.EnvironmentSnapshot
}

// New creates an empty Registry writing audit events to sink.
func New(sink eventlog.Sink) *Registry {
	return &Registry{
		sink:            sink,
		knownHouseholds: newOrderedSet[domain.ParticipantId](),
		knownProducers:  newOrderedSet[domain.ParticipantId](),
		knownStorage:    newOrderedSet[domain.ParticipantId](),
		households:      make(map[domain.ParticipantId]domain.HouseholdState),
		producers:       make(map[domain.ParticipantId]domain.ProducerState),
		storage:         make(map[domain.ParticipantId]domain.StorageState),
		statusSeen:      make(map[domain.RoundId]map[domain.ParticipantId]struct{}),
	}
}

// KnownHouseholds, KnownProducers, KnownStorage return registered identities
// in registration order.
func (r *Registry) KnownHouseholds() []domain.ParticipantId { return r.knownHouseholds.Items() }
func (r *Registry) KnownProducers() []domain.ParticipantId  { return r.knownProducers.Items() }
func (r *Registry) KnownStorage() []domain.ParticipantId    { return r.knownStorage.Items() }

// Household, Producer, Storage return the last-known state for id.
func (r *Registry) Household(id domain.ParticipantId) (domain.HouseholdState, bool) {
	s, ok := r.households[id]
	return s, ok
}
func (r *Registry) Producer(id domain.ParticipantId) (domain.ProducerState, bool) {
	s, ok := r.producers[id]
	return s, ok
}
func (r *Registry) Storage(id domain.ParticipantId) (domain.StorageState, bool) {
	s, ok := r.storage[id]
	return s, ok
}

// SetProducer overwrites the last-known state for a producer and
// recomputes AnyProducerFailed. Used by FailureController's caller to apply
// a triggered failure (spec.md §4.5) — the one path, besides the
// production-report merge, allowed to set IsOperational directly.
func (r *Registry) SetProducer(id domain.ParticipantId, s domain.ProducerState) {
	r.producers[id] = s
	r.recomputeAnyProducerFailed()
}

// Households, Producers, StorageUnits return a snapshot copy of every
// tracked participant of that category, keyed by identity.
func (r *Registry) Households() map[domain.ParticipantId]domain.HouseholdState {
	out := make(map[domain.ParticipantId]domain.HouseholdState, len(r.households))
	for k, v := range r.households {
		out[k] = v
	}
	return out
}
func (r *Registry) Producers() map[domain.ParticipantId]domain.ProducerState {
	out := make(map[domain.ParticipantId]domain.ProducerState, len(r.producers))
	for k, v := range r.producers {
		out[k] = v
	}
	return out
}
func (r *Registry) StorageUnits() map[domain.ParticipantId]domain.StorageState {
	out := make(map[domain.ParticipantId]domain.StorageState, len(r.storage))
	for k, v := range r.storage {
		out[k] = v
	}
	return out
}

// AnyProducerFailed is the derived flag from spec.md §4.2 — never set
// directly, only recomputed as the disjunction over all producers.
func (r *Registry) AnyProducerFailed() bool { return r.anyProducerFailed }

// Environment returns the last-known ambient weather snapshot, updated from
// status_report and production_report bodies.
func (r *Registry) Environment() domain.EnvironmentSnapshot { return r.env }

// AllStatusSeen reports whether every known participant has reported for
// round r (spec.md §4.1 phase 2, barrier condition (a)).
func (r *Registry) AllStatusSeen(round domain.RoundId) bool {
	expected := r.knownHouseholds.Len() + r.knownProducers.Len() + r.knownStorage.Len()
	if expected == 0 {
		return false
	}
	got := r.statusSeen[round]
	if len(got) < expected {
		return false
	}
	for _, id := range r.knownHouseholds.Items() {
		if _, ok := got[id]; !ok {
			return false
		}
	}
	for _, id := range r.knownProducers.Items() {
		if _, ok := got[id]; !ok {
			return false
		}
	}
	for _, id := range r.knownStorage.Items() {
		if _, ok := got[id]; !ok {
			return false
		}
	}
	return true
}

// AnyStatusSeen reports whether at least one participant has reported for
// round r (spec.md §4.1 phase 2, barrier condition (b): a positive grace
// window with at least one report).
func (r *Registry) AnyStatusSeen(round domain.RoundId) bool {
	return len(r.statusSeen[round]) > 0
}

func (r *Registry) markStatusSeen(round domain.RoundId, id domain.ParticipantId) {
	if round == 0 {
		return
	}
	set, ok := r.statusSeen[round]
	if !ok {
		set = make(map[domain.ParticipantId]struct{})
		r.statusSeen[round] = set
	}
	set[id] = struct{}{}
}

// ReleaseRound drops per-round status-seen bookkeeping once it is no longer
// needed (spec.md §3: "eligible for release after a bounded window").
func (r *Registry) ReleaseRound(round domain.RoundId) {
	delete(r.statusSeen, round)
}

func (r *Registry) updateAmbientEnv(solar, wind, temp float64) {
	r.env.SolarIrradiance = solar
	r.env.WindSpeedMPS = wind
	r.env.TemperatureC = temp
}

func (r *Registry) recomputeAnyProducerFailed() {
	r.anyProducerFailed = false
	for _, p := range r.producers {
		if !p.IsOperational {
			r.anyProducerFailed = true
			return
		}
	}
}

// Ingest dispatches one inbound wire envelope, mutating registry state and
// (for auction-relevant message types) ledger. now is the coordinator's
// current wall-clock time in unix nanoseconds, used to reject late offers.
func (r *Registry) Ingest(env wire.Envelope, ledger *domain.RoundLedger, now int64) {
	switch env.Type {

	case wire.TypeRegisterHousehold:
		r.knownHouseholds.Add(env.Sender)
		if _, ok := r.households[env.Sender]; !ok {
			r.households[env.Sender] = domain.HouseholdState{}
		}
		r.logEvent(eventlog.Event{Kind: "register", Agent: env.Sender})

	case wire.TypeRegisterProducer:
		r.knownProducers.Add(env.Sender)
		if _, ok := r.producers[env.Sender]; !ok {
			r.producers[env.Sender] = domain.ProducerState{IsOperational: true}
		}
		r.logEvent(eventlog.Event{Kind: "register", Agent: env.Sender})

	case wire.TypeRegisterStorage:
		r.knownStorage.Add(env.Sender)
		if _, ok := r.storage[env.Sender]; !ok {
			r.storage[env.Sender] = domain.StorageState{}
		}
		r.logEvent(eventlog.Event{Kind: "register", Agent: env.Sender})

	case wire.TypeStatusReport:
		var msg wire.StatusReportMsg
		if wire.Classify(env, &msg) != nil {
			return
		}
		r.households[env.Sender] = domain.HouseholdState{
			IsProsumer:  msg.IsProsumer,
			DemandKWh:   msg.DemandKWh,
			ProdKWh:     msg.ProdKWh,
			BatteryKWh:  msg.BatteryKWh,
			PanelAreaM2: msg.PanelAreaM2,
			Env: domain.EnvironmentSnapshot{
				SolarIrradiance: msg.SolarIrradiance,
				WindSpeedMPS:    msg.WindSpeed,
				TemperatureC:    msg.TemperatureC,
			},
		}
		if ledger != nil {
			r.markStatusSeen(ledger.RoundId, env.Sender)
		}
		r.updateAmbientEnv(msg.SolarIrradiance, msg.WindSpeed, msg.TemperatureC)
		r.logEvent(eventlog.Event{Kind: "status", Agent: env.Sender})

	case wire.TypeProductionReport:
		var msg wire.ProductionReportMsg
		if wire.Classify(env, &msg) != nil {
			return
		}
		r.mergeProductionReport(env.Sender, msg)
		if ledger != nil {
			r.markStatusSeen(ledger.RoundId, env.Sender)
		}
		r.updateAmbientEnv(msg.SolarIrradiance, msg.WindSpeed, msg.TemperatureC)
		r.logEvent(eventlog.Event{Kind: "production", Agent: env.Sender})

	case wire.TypeStatusBattery:
		var msg wire.StatusBatteryMsg
		if wire.Classify(env, &msg) != nil {
			return
		}
		r.storage[env.Sender] = domain.StorageState{
			SOCKWh:        msg.SOCKWh,
			CapKWh:        msg.CapKWh,
			EmergencyOnly: msg.EmergencyOnly,
			SOH:           msg.SOH,
			TempC:         msg.TempC,
		}
		if ledger != nil {
			r.markStatusSeen(ledger.RoundId, env.Sender)
		}
		r.logEvent(eventlog.Event{Kind: "battery_status", Agent: env.Sender})

	case wire.TypeEnergyRequest:
		var msg wire.EnergyRequestMsg
		if wire.Classify(env, &msg) != nil || ledger == nil {
			return
		}
		if domain.RoundId(msg.RoundId) != ledger.RoundId {
			return
		}
		ledger.AddRequest(domain.Request{
			RoundId:  ledger.RoundId,
			Buyer:    env.Sender,
			NeedKWh:  msg.NeedKWh,
			PriceMax: msg.PriceMax,
		})
		r.logEventRound(eventlog.Event{Kind: "request", Agent: env.Sender, KWh: msg.NeedKWh, Price: msg.PriceMax, HasPrice: true}, ledger.RoundId)

	case wire.TypeEnergyOffer:
		var msg wire.EnergyOfferMsg
		if wire.Classify(env, &msg) != nil || ledger == nil {
			return
		}
		if p, ok := r.producers[env.Sender]; ok && !p.IsOperational {
			return
		}
		late := domain.RoundId(msg.RoundId) != ledger.RoundId ||
			ledger.DeadlineTs == 0 ||
			now > ledger.DeadlineTs
		if late {
			r.logEventRound(eventlog.Event{Kind: "late", Agent: env.Sender, KWh: msg.OfferKWh, Price: msg.Price, HasPrice: true}, domain.RoundId(msg.RoundId))
			return
		}
		ledger.Offers[env.Sender] = domain.Offer{
			RoundId:   ledger.RoundId,
			Seller:    env.Sender,
			OfferKWh:  msg.OfferKWh,
			Price:     msg.Price,
			Timestamp: now,
		}
		r.logEventRound(eventlog.Event{Kind: "offer", Agent: env.Sender, KWh: msg.OfferKWh, Price: msg.Price, HasPrice: true}, ledger.RoundId)

	case wire.TypeDeclinedOffer:
		var msg wire.DeclinedOfferMsg
		if wire.Classify(env, &msg) != nil || ledger == nil {
			return
		}
		if domain.RoundId(msg.RoundId) != ledger.RoundId {
			return
		}
		ledger.Declined[env.Sender] = struct{}{}
		r.logEventRound(eventlog.Event{Kind: "declined", Agent: env.Sender}, ledger.RoundId)
	}
}

// mergeProductionReport implements the production-report merge rule of
// spec.md §4.2: the coordinator (FailureController) owns the decision to
// take a producer offline; this merge only ever decrements the remaining
// count and restores operation at zero, matching the original's two-sided
// split of the is_operational flag.
func (r *Registry) mergeProductionReport(sender domain.ParticipantId, msg wire.ProductionReportMsg) {
	next := domain.ProducerState{
		Type:                   domain.ProducerType(msg.Type),
		ProdKWh:                msg.ProdKWh,
		IsOperational:          msg.IsOperational,
		FailureRoundsRemaining: msg.FailureRoundsRemaining,
		FailureRoundsTotal:     msg.FailureRoundsTotal,
	}

	existing, had := r.producers[sender]
	if had && !existing.IsOperational {
		remaining := existing.FailureRoundsRemaining
		if remaining > 0 {
			remaining--
			if remaining == 0 {
				next.IsOperational = true
				next.FailureRoundsRemaining = 0
				next.FailureRoundsTotal = existing.FailureRoundsTotal
			} else {
				next.IsOperational = false
				next.FailureRoundsRemaining = remaining
				next.FailureRoundsTotal = existing.FailureRoundsTotal
				next.ProdKWh = 0
			}
		} else {
			next.IsOperational = true
		}
	} else {
		// A producer the coordinator has not taken offline stays
		// operational whatever the report's own flag says.
		next.IsOperational = true
	}

	r.producers[sender] = next
	r.recomputeAnyProducerFailed()
}

func (r *Registry) logEvent(e eventlog.Event) {
	if r.sink == nil {
		return
	}
	r.sink.LogEvent(e)
}

func (r *Registry) logEventRound(e eventlog.Event, round domain.RoundId) {
	e.RoundId = round
	e.HasRound = true
	r.logEvent(e)
}
