// Package wire defines the typed message envelopes exchanged over the
// MessageBus and the classification step that turns a raw performative/type
// pair plus a JSON body into one of them.
//
// This replaces the original's dynamic dispatch by string msg_type
// (spec.md §9): Registry.Ingest switches on the envelope's Type and uses
// Classify, the single decode step, to fill the matching body struct.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/microgrid-sim/microgrid-sim/internal/domain"
)

// Performative mirrors the FIPA-ACL-derived performative tag carried by
// every message (spec.md §6).
type Performative string

const (
	Inform  Performative = "inform"
	Request Performative = "request"
	CFP     Performative = "cfp"
	Propose Performative = "propose"
	Refuse  Performative = "refuse"
	Accept  Performative = "accept"
)

// Type is the wire `type` discriminator.
type Type string

const (
	TypeRegisterHousehold     Type = "register_household"
	TypeRegisterProducer      Type = "register_producer"
	TypeRegisterStorage       Type = "register_storage"
	TypeStatusReport          Type = "status_report"
	TypeProductionReport      Type = "production_report"
	TypeStatusBattery         Type = "statusBattery"
	TypeEnvironmentUpdate     Type = "environment_update"
	TypeRequestEnvUpdate      Type = "request_environment_update"
	TypeCallForOffers         Type = "call_for_offers"
	TypeEnergyRequest         Type = "energy_request"
	TypeEnergyOffer           Type = "energy_offer"
	TypeDeclinedOffer         Type = "declined_offer"
	TypeControlCommand        Type = "control_command"
	TypeOfferAccept           Type = "offer_accept"
)

// Envelope is the common header every inbound message carries, plus the raw
// body for further unmarshalling by Classify.
type Envelope struct {
	Sender       domain.ParticipantId
	Performative Performative
	Type         Type
	Body         json.RawMessage
}

// RegisterHouseholdMsg is the body of a register_household message.
type RegisterHouseholdMsg struct {
	JID         string `json:"jid"`
	IsProsumer  bool   `json:"is_prosumer"`
	Timestamp   int64  `json:"timestamp"`
}

// RegisterProducerMsg is the body of a register_producer message.
type RegisterProducerMsg struct {
	JID             string  `json:"jid"`
	ProductionType  string  `json:"production_type"`
	MaxCapacityKWh  float64 `json:"max_capacity_kwh"`
	Timestamp       int64   `json:"timestamp"`
}

// RegisterStorageMsg is the body of a register_storage message.
type RegisterStorageMsg struct {
	JID           string  `json:"jid"`
	CapacityKWh   float64 `json:"capacity_kwh"`
	EmergencyOnly bool    `json:"emergency_only"`
	Timestamp     int64   `json:"timestamp"`
}

// StatusReportMsg is the body of a status_report message.
type StatusReportMsg struct {
	JID             string  `json:"jid"`
	IsProsumer      bool    `json:"is_prosumer"`
	DemandKWh       float64 `json:"demand_kwh"`
	ProdKWh         float64 `json:"prod_kwh"`
	BatteryKWh      float64 `json:"battery_kwh"`
	PanelAreaM2     float64 `json:"panel_area_m2"`
	SolarIrradiance float64 `json:"solar_irradiance"`
	WindSpeed       float64 `json:"wind_speed"`
	TemperatureC    float64 `json:"temperature_c"`
	Timestamp       int64   `json:"timestamp"`
}

// ProductionReportMsg is the body of a production_report message.
type ProductionReportMsg struct {
	JID                    string  `json:"jid"`
	ProdKWh                float64 `json:"prod_kwh"`
	Type                   string  `json:"type"`
	IsOperational          bool    `json:"is_operational"`
	FailureRoundsRemaining int     `json:"failure_rounds_remaining"`
	FailureRoundsTotal     int     `json:"failure_rounds_total"`
	SolarIrradiance        float64 `json:"solar_irradiance"`
	WindSpeed              float64 `json:"wind_speed"`
	TemperatureC           float64 `json:"temperature_c"`
	Timestamp              int64   `json:"timestamp"`
}

// StatusBatteryMsg is the body of a statusBattery message.
type StatusBatteryMsg struct {
	JID           string  `json:"jid"`
	SOCKWh        float64 `json:"soc_kwh"`
	CapKWh        float64 `json:"cap_kwh"`
	TempC         float64 `json:"temp_c"`
	SOH           float64 `json:"soh"`
	EmergencyOnly bool    `json:"emergency_only"`
	Timestamp     int64   `json:"timestamp"`
}

// EnergyRequestMsg is the body of an energy_request message.
type EnergyRequestMsg struct {
	RoundId  int64   `json:"round_id"`
	NeedKWh  float64 `json:"need_kwh"`
	PriceMax float64 `json:"price_max"`
}

// EnergyOfferMsg is the body of an energy_offer message.
type EnergyOfferMsg struct {
	RoundId   int64   `json:"round_id"`
	OfferKWh  float64 `json:"offer_kwh"`
	Price     float64 `json:"price"`
	Emergency bool    `json:"emergency,omitempty"`
}

// DeclinedOfferMsg is the body of a declined_offer message.
type DeclinedOfferMsg struct {
	RoundId int64  `json:"round_id"`
	Reason  string `json:"reason"`
}

// ControlCommandMsg is the body of a control_command notification to a buyer.
type ControlCommandMsg struct {
	RoundId       int64   `json:"round_id"`
	Command       string  `json:"command"`
	KW            float64 `json:"kw"`
	Price         float64 `json:"price"`
	From          string  `json:"from"`
	Partial       bool    `json:"partial"`
	TotalReceived float64 `json:"total_received"`
	TotalNeeded   float64 `json:"total_needed"`
}

// OfferAcceptMsg is the body of an offer_accept notification to a seller.
type OfferAcceptMsg struct {
	RoundId int64   `json:"round_id"`
	Buyer   string  `json:"buyer"`
	KW      float64 `json:"kw"`
	Price   float64 `json:"price"`
}

// CallForOffersMsg is the body of a call_for_offers broadcast.
type CallForOffersMsg struct {
	RoundId         int64 `json:"round_id"`
	DeadlineTs      int64 `json:"deadline_ts"`
	ProducersFailed bool  `json:"producers_failed"`
}

// Classify decodes raw body bytes into the envelope's typed body. Callers
// pass the concrete destination struct matching env.Type; Classify does not
// check env.Type itself. An empty or malformed body is a protocol violation
// (spec.md §7) the caller drops — Classify returns an error rather than
// panicking.
func Classify(env Envelope, dst interface{}) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("wire: empty body for type %q", env.Type)
	}
	if err := json.Unmarshal(env.Body, dst); err != nil {
		return fmt.Errorf("wire: unmarshal %q: %w", env.Type, err)
	}
	return nil
}
