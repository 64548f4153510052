// Package grid implements ExternalGridAdapter (spec.md §4.4): the
// stochastic fallback market that runs after the internal auction closes,
// serving unmet buyer demand and absorbing seller surplus. Grounded on the
// external-grid section of grid_node/orchestrator.py's round loop.
package grid

import (
	"github.com/microgrid-sim/microgrid-sim/internal/config"
	"github.com/microgrid-sim/microgrid-sim/internal/domain"
	"github.com/microgrid-sim/microgrid-sim/internal/eventlog"
	"github.com/microgrid-sim/microgrid-sim/internal/rng"
	"github.com/microgrid-sim/microgrid-sim/internal/wire"
)

// Notification is an outbound wire message produced by a Run call.
type Notification struct {
	To   domain.ParticipantId
	Type wire.Type
	Body interface{}
}

// Adapter runs the §4.4 external-grid step.
type Adapter struct {
	cfg *config.ExternalGridConfig
	r   *rng.PartitionedRNG
	sink eventlog.Sink

	totalBoughtKWh     float64
	totalSoldKWh       float64
	revenue            float64
	costs              float64
	roundsAvailable    int
	roundsUnavailable  int
}

// NewAdapter creates an Adapter drawing from the external_grid subsystem of r.
func NewAdapter(cfg *config.ExternalGridConfig, r *rng.PartitionedRNG, sink eventlog.Sink) *Adapter {
	return &Adapter{cfg: cfg, r: r, sink: sink}
}

// RunResult summarizes one round's external-grid activity, feeding
// PerformanceTracker (spec.md §4.7).
type RunResult struct {
	Available      bool
	BuyPrice       float64 // what the grid pays the microgrid for exports
	SellPrice      float64 // what the microgrid pays the grid for imports
	SoldKWh        float64 // delivered to unmet buyers
	SoldValue      float64
	BoughtKWh      float64 // absorbed from seller surplus
	BoughtValue    float64
	Notifications  []Notification
}

// Cumulative returns the running totals across every Run call so far
// (spec.md §4.4's ext_grid_* counters).
func (a *Adapter) Cumulative() (totalBoughtKWh, totalSoldKWh, revenue, costs float64, roundsAvailable, roundsUnavailable int) {
	return a.totalBoughtKWh, a.totalSoldKWh, a.revenue, a.costs, a.roundsAvailable, a.roundsUnavailable
}

// Run executes the external-grid step for one round. ledger has already
// had internal matching applied: ledger.ReceivedKWh holds each buyer's
// internally-matched total (used to respect the shared transmission
// budget), and ledger.RemainingKWh holds each seller's unsold remainder.
// storage identifies which remaining sellers are emergency-only storage
// (excluded from surplus absorption).
func (a *Adapter) Run(round domain.RoundId, transmissionLimitKW float64, ledger *domain.RoundLedger, storage map[domain.ParticipantId]domain.StorageState) RunResult {
	draw := a.r.ForSubsystem(rng.SubsystemExternalGrid)

	importLo, importHi := a.cfg.MicrogridImportPriceRange()
	exportLo, exportHi := a.cfg.MicrogridExportPriceRange()

	result := RunResult{
		BuyPrice:  uniform(draw.Float64(), exportLo, exportHi),
		SellPrice: uniform(draw.Float64(), importLo, importHi),
	}
	result.Available = draw.Float64() < a.cfg.AcceptanceProb

	if !result.Available {
		a.roundsUnavailable++
		a.logUnmet(round, ledger)
		return result
	}
	a.roundsAvailable++

	for _, buyer := range ledger.RequestOrder {
		req := ledger.Requests[buyer]
		received := ledger.ReceivedKWh[buyer]
		remainingNeed := req.NeedKWh - received
		if remainingNeed <= 0.01 {
			continue
		}
		if result.SellPrice > req.PriceMax {
			continue
		}
		remainingLimit := transmissionLimitKW - received
		if remainingLimit <= 0 {
			continue
		}
		delivered := min2(remainingNeed, remainingLimit)
		if delivered <= 0 {
			continue
		}
		if delivered < remainingNeed {
			a.logEvent(eventlog.Event{
				Kind: "transmission_limit", Agent: buyer, KWh: remainingNeed - delivered,
				Price: result.SellPrice, HasPrice: true,
			}, round)
		}

		cost := delivered * result.SellPrice
		ledger.ReceivedKWh[buyer] = received + delivered
		ledger.ExternalGrid = append(ledger.ExternalGrid, domain.Allocation{
			RoundId: round, Buyer: buyer, Seller: domain.ExternalGridJID, KWh: delivered, Price: result.SellPrice,
		})
		result.SoldKWh += delivered
		result.SoldValue += cost
		a.totalSoldKWh += delivered
		a.revenue += cost

		result.Notifications = append(result.Notifications, Notification{
			To:   buyer,
			Type: wire.TypeControlCommand,
			Body: wire.ControlCommandMsg{
				RoundId: int64(round), Command: "energy_purchased", KW: delivered, Price: result.SellPrice,
				From: string(domain.ExternalGridJID),
			},
		})
	}

	for seller, remaining := range ledger.RemainingKWh {
		if remaining <= 0.5 {
			continue
		}
		if s, ok := storage[seller]; ok && s.EmergencyOnly {
			continue
		}
		revenue := remaining * result.BuyPrice
		ledger.RemainingKWh[seller] = 0
		ledger.ExternalGrid = append(ledger.ExternalGrid, domain.Allocation{
			RoundId: round, Buyer: domain.ExternalGridJID, Seller: seller, KWh: remaining, Price: result.BuyPrice,
		})
		result.BoughtKWh += remaining
		result.BoughtValue += revenue
		a.totalBoughtKWh += remaining
		a.costs += revenue

		result.Notifications = append(result.Notifications, Notification{
			To:   seller,
			Type: wire.TypeOfferAccept,
			Body: wire.OfferAcceptMsg{
				RoundId: int64(round), Buyer: string(domain.ExternalGridJID), KW: remaining, Price: result.BuyPrice,
			},
		})
	}

	return result
}

func (a *Adapter) logUnmet(round domain.RoundId, ledger *domain.RoundLedger) {
	for _, buyer := range ledger.RequestOrder {
		req := ledger.Requests[buyer]
		remaining := req.NeedKWh - ledger.ReceivedKWh[buyer]
		if remaining > 0.01 {
			a.logEvent(eventlog.Event{Kind: "unmet_demand", Agent: buyer, KWh: remaining}, round)
		}
	}
	for seller, remaining := range ledger.RemainingKWh {
		if remaining > 0.5 {
			a.logEvent(eventlog.Event{Kind: "curtailed", Agent: seller, KWh: remaining}, round)
		}
	}
}

func (a *Adapter) logEvent(e eventlog.Event, round domain.RoundId) {
	if a.sink == nil {
		return
	}
	e.RoundId = round
	e.HasRound = true
	a.sink.LogEvent(e)
}

func uniform(u, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + u*(hi-lo)
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
