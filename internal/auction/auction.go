package auction

import (
	"sort"

	"github.com/microgrid-sim/microgrid-sim/internal/domain"
	"github.com/microgrid-sim/microgrid-sim/internal/eventlog"
	"github.com/microgrid-sim/microgrid-sim/internal/wire"
)

// FullFulfillmentThresholdPct is the boundary between a "full" and "partial"
// match (spec.md §4.3, and its §9 resolution of the 99.0%-vs-99.9% ambiguity
// found across the original's two fulfillment checks: the core consistently
// uses 99.0%).
const FullFulfillmentThresholdPct = 99.0

// Notification is an outbound wire message the orchestrator must deliver
// after a Match call: a control_command to a buyer or an offer_accept to a
// seller.
type Notification struct {
	To   domain.ParticipantId
	Type wire.Type
	Body interface{}
}

// Engine runs the §4.3 deterministic greedy partial-allocation matcher.
type Engine struct {
	transmissionLimitKW float64
	sink                eventlog.Sink
}

// NewEngine creates an Engine with the given global per-buyer transmission
// limit (spec.md §4.3, default 3.0 kWh) and audit sink.
func NewEngine(transmissionLimitKW float64, sink eventlog.Sink) *Engine {
	return &Engine{transmissionLimitKW: transmissionLimitKW, sink: sink}
}

// IsSellerHousehold reports whether a household is a seller this round.
func IsSellerHousehold(h domain.HouseholdState) bool { return h.IsSeller() }

// Match runs one round of matching over ledger's collected offers and
// requests. sellerCaps and buyerCaps are the per-participant effective
// deliverable caps from CapacityEnforcer, keyed by participant id; a
// participant absent from the map is treated as uncapped (limited only by
// its offer/need amount). Match mutates ledger.Matches, ledger.ReceivedKWh,
// and ledger.RemainingKWh, and returns the notifications the caller must
// deliver over the bus.
func (e *Engine) Match(ledger *domain.RoundLedger, sellerCaps, buyerCaps map[domain.ParticipantId]float64) []Notification {
	sellerRemaining := make(map[domain.ParticipantId]float64, len(ledger.Offers))
	for id, offer := range ledger.Offers {
		remaining := offer.OfferKWh
		if cap, ok := sellerCaps[id]; ok && cap < remaining {
			remaining = cap
		}
		sellerRemaining[id] = remaining
	}

	var notifications []Notification

	for _, buyer := range ledger.RequestOrder {
		req, ok := ledger.Requests[buyer]
		if !ok {
			continue
		}
		needKWh := req.NeedKWh
		buyerCap := needKWh
		if cap, ok := buyerCaps[buyer]; ok && cap < buyerCap {
			buyerCap = cap
		}

		candidates := e.affordableSellers(ledger, sellerRemaining, req)
		if len(candidates) == 0 {
			e.logEvent(eventlog.Event{Kind: "no_match", Agent: buyer}, ledger.RoundId)
			continue
		}

		boughtSoFar, totalCost, purchases := e.fillFromCandidates(ledger, buyer, candidates, sellerRemaining, buyerCap)

		if boughtSoFar <= 0 {
			e.logEvent(eventlog.Event{Kind: "no_match", Agent: buyer}, ledger.RoundId)
			continue
		}

		fulfillmentPct := 100 * boughtSoFar / needKWh
		partial := fulfillmentPct < FullFulfillmentThresholdPct
		kind := "match"
		if partial {
			kind = "partial_match"
		}
		e.logEvent(eventlog.Event{Kind: kind, Agent: buyer, KWh: boughtSoFar, Price: totalCost, HasPrice: true}, ledger.RoundId)

		totalReceived := 0.0
		for _, p := range purchases {
			totalReceived += p.amount
		}

		for _, p := range purchases {
			ledger.Matches = append(ledger.Matches, domain.Allocation{
				RoundId: ledger.RoundId, Buyer: buyer, Seller: p.seller, KWh: p.amount, Price: p.price, Partial: partial,
			})

			notifications = append(notifications,
				Notification{
					To:   buyer,
					Type: wire.TypeControlCommand,
					Body: wire.ControlCommandMsg{
						RoundId: int64(ledger.RoundId), Command: "energy_purchased", KW: p.amount, Price: p.price,
						From: string(p.seller), Partial: partial, TotalReceived: totalReceived, TotalNeeded: needKWh,
					},
				},
				Notification{
					To:   p.seller,
					Type: wire.TypeOfferAccept,
					Body: wire.OfferAcceptMsg{
						RoundId: int64(ledger.RoundId), Buyer: string(buyer), KW: p.amount, Price: p.price,
					},
				},
			)
		}
	}

	for sellerId, remaining := range sellerRemaining {
		ledger.RemainingKWh[sellerId] = remaining
	}

	return notifications
}

type affordableSeller struct {
	price  float64
	seller domain.ParticipantId
}

func (e *Engine) affordableSellers(ledger *domain.RoundLedger, sellerRemaining map[domain.ParticipantId]float64, req domain.Request) []affordableSeller {
	var out []affordableSeller
	for sellerId, offer := range ledger.Offers {
		if sellerRemaining[sellerId] > 0.01 && offer.Price <= req.PriceMax {
			out = append(out, affordableSeller{price: offer.Price, seller: sellerId})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].price != out[j].price {
			return out[i].price < out[j].price
		}
		return out[i].seller < out[j].seller
	})
	return out
}

type purchase struct {
	seller domain.ParticipantId
	amount float64
	price  float64
}

func (e *Engine) fillFromCandidates(ledger *domain.RoundLedger, buyer domain.ParticipantId, candidates []affordableSeller, sellerRemaining map[domain.ParticipantId]float64, buyerCap float64) (boughtSoFar, totalCost float64, purchases []purchase) {
	for _, cand := range candidates {
		remainingNeed := buyerCap - boughtSoFar
		transmissionRemaining := e.transmissionLimitKW - ledger.ReceivedKWh[buyer]
		if remainingNeed <= 0 || transmissionRemaining <= 0 {
			break
		}

		raw := min2(sellerRemaining[cand.seller], remainingNeed)
		if raw <= 0 {
			continue
		}

		amount := min2(raw, transmissionRemaining)
		if amount <= 0 {
			break
		}
		if amount < raw {
			e.logEvent(eventlog.Event{
				Kind: "transmission_limit", Agent: buyer, KWh: raw - amount, Price: cand.price, HasPrice: true,
			}, ledger.RoundId)
		}

		sellerRemaining[cand.seller] -= amount
		boughtSoFar += amount
		totalCost += amount * cand.price
		ledger.ReceivedKWh[buyer] += amount
		purchases = append(purchases, purchase{seller: cand.seller, amount: amount, price: cand.price})
	}
	return boughtSoFar, totalCost, purchases
}

func (e *Engine) logEvent(evt eventlog.Event, round domain.RoundId) {
	if e.sink == nil {
		return
	}
	evt.RoundId = round
	evt.HasRound = true
	e.sink.LogEvent(evt)
}
