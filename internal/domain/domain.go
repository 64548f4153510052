// Package domain holds the coordinator's data model: participant identity,
// simulated time, the per-round ledger, and the telemetry snapshots the
// coordinator keeps about each participant.
package domain

import "fmt"

// ParticipantId is an opaque identity, shaped like a network address
// (e.g. "household-07@grid.local").
type ParticipantId string

// RoundId is assigned by the coordinator at round start and increases
// monotonically for the lifetime of the process.
type RoundId int64

// SimulatedTime advances one hour per round; Hour wraps into Day.
type SimulatedTime struct {
	Day  int
	Hour int // [0,23]
}

// Advance moves time forward by one simulated hour, rolling Day over on
// Hour reaching 24.
func (t SimulatedTime) Advance() SimulatedTime {
	t.Hour++
	if t.Hour >= 24 {
		t.Hour = 0
		t.Day++
	}
	return t
}

func (t SimulatedTime) String() string {
	return fmt.Sprintf("Day %d - %02d:00", t.Day, t.Hour)
}

// EnvironmentSnapshot is the weather state broadcast by the environment
// process each round.
type EnvironmentSnapshot struct {
	SolarIrradiance float64 // [0,1]
	WindSpeedMPS    float64 // >= 0
	TemperatureC    float64
	SimHour         int
}

// HouseholdState is the last-known telemetry for a household participant.
// Invariant: BatteryKWh <= BatteryCapacity.
type HouseholdState struct {
	IsProsumer       bool
	DemandKWh        float64
	ProdKWh          float64
	BatteryKWh       float64
	BatteryCapacity  float64
	PanelAreaM2      float64
	Env              EnvironmentSnapshot
}

// IsSeller reports whether this household currently has surplus production
// (§4.3 household seller classification).
func (h HouseholdState) IsSeller() bool { return h.ProdKWh > h.DemandKWh }

// IsBuyer reports whether this household currently needs energy
// (§4.3 household buyer classification).
func (h HouseholdState) IsBuyer() bool { return h.DemandKWh > h.ProdKWh }

// ProducerType distinguishes renewable producer kinds.
type ProducerType string

const (
	ProducerSolar ProducerType = "solar"
	ProducerWind  ProducerType = "wind"
)

// ProducerState is the last-known telemetry for a renewable producer.
// Invariant: !IsOperational => ProdKWh == 0.
type ProducerState struct {
	Type                   ProducerType
	ProdKWh                float64
	IsOperational          bool
	FailureRoundsRemaining int
	FailureRoundsTotal     int
}

// IsSeller reports whether this producer currently has sellable output
// (§4.3 producer seller classification).
func (p ProducerState) IsSeller() bool {
	return p.IsOperational && p.ProdKWh > 0.01
}

// StorageState is the last-known telemetry for the centralized storage
// unit. Invariant: 0 <= SOCKWh <= CapKWh.
type StorageState struct {
	SOCKWh        float64
	CapKWh        float64 // > 0
	EmergencyOnly bool
	SOH           float64 // [0,1]
	TempC         float64
}

// SOCPercent returns state of charge as a percentage of capacity, or 0 if
// capacity is not yet known.
func (s StorageState) SOCPercent() float64 {
	if s.CapKWh <= 0 {
		return 0
	}
	return s.SOCKWh / s.CapKWh * 100
}

// EmergencyFloorKWh is the hard reserve storage never discharges below
// through the auction (Testable Property 10): 20% of capacity.
func (s StorageState) EmergencyFloorKWh() float64 {
	return 0.20 * s.CapKWh
}

// IsSeller reports whether this storage unit currently has sellable energy
// (§4.3 storage seller classification), given whether any producer is
// currently failed.
func (s StorageState) IsSeller(anyProducerFailed bool) bool {
	if s.EmergencyOnly {
		return anyProducerFailed && s.SOCPercent() > 20.0
	}
	return s.SOCPercent() >= 95.0 && (s.SOCKWh-s.EmergencyFloorKWh()) > 0
}

// SellableKWh returns how much energy this storage unit could offer this
// round, respecting the emergency floor. Zero if not currently a seller.
func (s StorageState) SellableKWh(anyProducerFailed bool) float64 {
	if !s.IsSeller(anyProducerFailed) {
		return 0
	}
	avail := s.SOCKWh - s.EmergencyFloorKWh()
	if avail < 0 {
		return 0
	}
	return avail
}

// IsBuyer reports whether this storage unit currently wants to buy energy
// (§4.3 storage buyer classification).
func (s StorageState) IsBuyer(anyProducerFailed bool) bool {
	if s.EmergencyOnly {
		return s.SOCPercent() < 99.0 && !anyProducerFailed
	}
	return s.SOCPercent() < 95.0
}

// Offer is a seller's proposal for a given round. Valid only when
// Timestamp <= the round's deadline.
type Offer struct {
	RoundId   RoundId
	Seller    ParticipantId
	OfferKWh  float64 // > 0
	Price     float64 // EUR/kWh, >= 0
	Timestamp int64   // unix nanos
}

// Request is a buyer's need for a given round.
type Request struct {
	RoundId  RoundId
	Buyer    ParticipantId
	NeedKWh  float64 // > 0
	PriceMax float64 // >= 0
}

// Allocation is one matched transfer, internal or external-grid.
// Invariant: KWh <= min(offer remaining, request remaining, seller cap,
// buyer cap, transmission remaining).
type Allocation struct {
	RoundId RoundId
	Buyer   ParticipantId
	Seller  ParticipantId
	KWh     float64
	Price   float64
	Partial bool
}

// ExternalGridJID is the synthetic participant identity used for
// allocations to/from the external grid in events and notifications.
const ExternalGridJID ParticipantId = "external_grid"

// RoundLedger holds every piece of per-round state: invited sellers,
// collected offers/requests, declines, matches, and the external-grid
// transactions for one round. Created at round start, read by the
// PerformanceTracker, then eligible for release.
type RoundLedger struct {
	RoundId       RoundId
	DeadlineTs    int64
	InvitedSellers map[ParticipantId]struct{}
	Offers        map[ParticipantId]Offer
	Requests      map[ParticipantId]Request
	// RequestOrder preserves arrival order for deterministic buyer
	// iteration during matching (§4.3).
	RequestOrder  []ParticipantId
	Declined      map[ParticipantId]struct{}
	Matches       []Allocation
	ExternalGrid  []Allocation
	ReceivedKWh   map[ParticipantId]float64 // per-buyer, across internal+external
	RemainingKWh  map[ParticipantId]float64 // per-seller, after internal matching
}

// NewRoundLedger creates an empty ledger for round r.
func NewRoundLedger(r RoundId) *RoundLedger {
	return &RoundLedger{
		RoundId:        r,
		InvitedSellers: make(map[ParticipantId]struct{}),
		Offers:         make(map[ParticipantId]Offer),
		Requests:       make(map[ParticipantId]Request),
		Declined:       make(map[ParticipantId]struct{}),
		ReceivedKWh:    make(map[ParticipantId]float64),
		RemainingKWh:   make(map[ParticipantId]float64),
	}
}

// AddRequest records a request in arrival order. A duplicate from the same
// buyer within the round replaces the earlier request (last write wins) but
// keeps the buyer's position from its first arrival.
func (l *RoundLedger) AddRequest(req Request) {
	if _, exists := l.Requests[req.Buyer]; !exists {
		l.RequestOrder = append(l.RequestOrder, req.Buyer)
	}
	l.Requests[req.Buyer] = req
}
