// Package metrics implements PerformanceTracker (spec.md §4.7): per-round
// ingestion, cumulative totals, and periodic summaries. Grounded on
// agents/performance_metrics.py, with print() replaced by structured
// logrus fields in the coordinator's logging idiom.
package metrics

import (
	"github.com/sirupsen/logrus"

	"github.com/microgrid-sim/microgrid-sim/internal/domain"
)

// BlackoutThresholdPct is the average-fulfillment floor below which a round
// counts as a blackout (spec.md §4.7).
const BlackoutThresholdPct = 99.0

// RoundData is the per-round record PerformanceTracker ingests.
type RoundData struct {
	RoundId           domain.RoundId
	TotalDemandKWh    float64
	TotalSuppliedKWh  float64
	MarketValue       float64
	WastedEnergyKWh   float64 // sum of seller_remaining after internal + external
	ExtGridSoldKWh    float64
	ExtGridBoughtKWh  float64
	ExtGridSoldValue  float64
	ExtGridBoughtValue float64
	BuyerFulfillment  map[domain.ParticipantId]float64 // percent, per buyer
	AnyProducerFailed bool
	EmergencyUsed     bool
}

// AvgFulfillment returns the mean of BuyerFulfillment, or 0 if empty.
func (r RoundData) AvgFulfillment() float64 {
	if len(r.BuyerFulfillment) == 0 {
		return 0
	}
	sum := 0.0
	for _, pct := range r.BuyerFulfillment {
		sum += pct
	}
	return sum / float64(len(r.BuyerFulfillment))
}

// Blackout reports whether this round's average fulfillment fell below
// BlackoutThresholdPct.
func (r RoundData) Blackout() bool {
	return r.AvgFulfillment() < BlackoutThresholdPct
}

// Tracker accumulates RoundData across a run and periodically logs a
// window summary.
type Tracker struct {
	reportIntervalRounds int
	log                  *logrus.Logger

	rounds []RoundData

	totalDemandKWh     float64
	totalSuppliedKWh   float64
	totalMarketValue   float64
	extGridSoldKWh     float64
	extGridBoughtKWh   float64
	extGridSoldValue   float64
	extGridBoughtValue float64

	householdFulfillment map[domain.ParticipantId][]float64
	roundsBlackout       int
	roundsNormal         int
	producerFailures     int
	emergencyActivations int
}

// NewTracker creates a Tracker that logs a summary every reportIntervalRounds
// (0 disables periodic summaries) to log.
func NewTracker(reportIntervalRounds int, log *logrus.Logger) *Tracker {
	return &Tracker{
		reportIntervalRounds: reportIntervalRounds,
		log:                  log,
		householdFulfillment: make(map[domain.ParticipantId][]float64),
	}
}

// Record ingests one round's data, updates cumulative totals, and — every
// reportIntervalRounds rounds — logs a window summary.
func (t *Tracker) Record(round int, data RoundData) {
	t.rounds = append(t.rounds, data)

	t.totalDemandKWh += data.TotalDemandKWh
	t.totalSuppliedKWh += data.TotalSuppliedKWh
	t.totalMarketValue += data.MarketValue
	t.extGridSoldKWh += data.ExtGridSoldKWh
	t.extGridBoughtKWh += data.ExtGridBoughtKWh
	t.extGridSoldValue += data.ExtGridSoldValue
	t.extGridBoughtValue += data.ExtGridBoughtValue

	for household, pct := range data.BuyerFulfillment {
		t.householdFulfillment[household] = append(t.householdFulfillment[household], pct)
	}

	if data.Blackout() {
		t.roundsBlackout++
	} else {
		t.roundsNormal++
	}
	if data.AnyProducerFailed {
		t.producerFailures++
	}
	if data.EmergencyUsed {
		t.emergencyActivations++
	}

	if t.reportIntervalRounds > 0 && round > 0 && round%t.reportIntervalRounds == 0 {
		t.logPeriodicSummary(round)
	}
}

// HouseholdFulfillmentHistory returns the recorded fulfillment percentages
// for household, in round order.
func (t *Tracker) HouseholdFulfillmentHistory(household domain.ParticipantId) []float64 {
	out := make([]float64, len(t.householdFulfillment[household]))
	copy(out, t.householdFulfillment[household])
	return out
}

// Cumulative exposes the running totals (spec.md §4.7).
func (t *Tracker) Cumulative() (demandKWh, suppliedKWh, marketValue, extSoldKWh, extBoughtKWh, extSoldValue, extBoughtValue float64) {
	return t.totalDemandKWh, t.totalSuppliedKWh, t.totalMarketValue,
		t.extGridSoldKWh, t.extGridBoughtKWh, t.extGridSoldValue, t.extGridBoughtValue
}

// BlackoutCounts returns the cumulative count of blackout and normal rounds.
func (t *Tracker) BlackoutCounts() (blackout, normal int) {
	return t.roundsBlackout, t.roundsNormal
}

func (t *Tracker) logPeriodicSummary(round int) {
	startIdx := round - t.reportIntervalRounds
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx >= len(t.rounds) {
		return
	}
	end := round
	if end > len(t.rounds) {
		end = len(t.rounds)
	}
	window := t.rounds[startIdx:end]
	if len(window) == 0 {
		return
	}

	var demand, supplied, wasted, marketValue, extSold, extBought, extSoldValue, extBoughtValue float64
	blackouts := 0
	for _, r := range window {
		demand += r.TotalDemandKWh
		supplied += r.TotalSuppliedKWh
		wasted += r.WastedEnergyKWh
		marketValue += r.MarketValue
		extSold += r.ExtGridSoldKWh
		extBought += r.ExtGridBoughtKWh
		extSoldValue += r.ExtGridSoldValue
		extBoughtValue += r.ExtGridBoughtValue
		if r.Blackout() {
			blackouts++
		}
	}

	fulfillmentPct := 0.0
	if demand > 0 {
		fulfillmentPct = supplied / demand * 100
	}
	fromMicrogrid := supplied - extSold
	microgridPct := 0.0
	extGridPct := 0.0
	if supplied > 0 {
		microgridPct = fromMicrogrid / supplied * 100
		extGridPct = extSold / supplied * 100
	}

	netBalancePeriod := extSoldValue - extBoughtValue
	netBalanceCumulative := t.extGridSoldValue - t.extGridBoughtValue

	t.logger().WithFields(logrus.Fields{
		"round_start":             startIdx + 1,
		"round_end":               round,
		"demand_kwh":              demand,
		"supplied_kwh":            supplied,
		"fulfillment_pct":         fulfillmentPct,
		"microgrid_kwh":           fromMicrogrid,
		"microgrid_pct":           microgridPct,
		"ext_grid_kwh":            extSold,
		"ext_grid_pct":            extGridPct,
		"market_value":            marketValue,
		"ext_grid_sold_kwh":       extSold,
		"ext_grid_sold_value":     extSoldValue,
		"ext_grid_bought_kwh":     extBought,
		"ext_grid_bought_value":   extBoughtValue,
		"wasted_kwh":              wasted,
		"blackouts":               blackouts,
		"net_balance_period":      netBalancePeriod,
		"net_balance_cumulative":  netBalanceCumulative,
		"producer_failures_total": t.producerFailures,
		"emergency_activations":   t.emergencyActivations,
	}).Info("performance summary")
}

func (t *Tracker) logger() *logrus.Logger {
	if t.log != nil {
		return t.log
	}
	return logrus.StandardLogger()
}
