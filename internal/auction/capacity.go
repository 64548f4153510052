// Package auction implements AuctionEngine and CapacityEnforcer (spec.md
// §4.3, §4.6): seller/buyer classification, deterministic greedy matching,
// and the per-agent deliverable-cap derivation that gates every
// allocation alongside the global transmission limit.
package auction

import (
	"github.com/microgrid-sim/microgrid-sim/internal/config"
	"github.com/microgrid-sim/microgrid-sim/internal/domain"
)

// Role distinguishes the deliverable-cap bucket a participant falls into.
type Role int

const (
	RoleConsumer Role = iota
	RoleProsumer
	RoleProducer
	RoleStorage
)

// CapacityEnforcer derives each participant's effective deliverable cap
// from the configured per-role limits (spec.md §4.6).
type CapacityEnforcer struct {
	limits config.AgentLimitsKW
}

// NewCapacityEnforcer creates a CapacityEnforcer over limits.
func NewCapacityEnforcer(limits config.AgentLimitsKW) *CapacityEnforcer {
	return &CapacityEnforcer{limits: limits}
}

func (c *CapacityEnforcer) baseLimit(role Role) float64 {
	switch role {
	case RoleConsumer:
		return c.limits.Consumer
	case RoleProsumer:
		return c.limits.Prosumer
	case RoleProducer:
		return c.limits.Producer
	case RoleStorage:
		return c.limits.Storage
	default:
		return 0
	}
}

// SellerLimit returns a non-prosumer seller's effective deliverable cap:
// simply the role's base limit.
func (c *CapacityEnforcer) SellerLimit(role Role) float64 {
	return c.baseLimit(role)
}

// ProsumerSellerLimit returns a prosumer's effective deliverable cap after
// reserving estimated internal consumption (spec.md §4.6): the household's
// own demand plus whatever surplus it plans to route to its own battery
// this round, bounded by the battery's charge rate and remaining headroom.
func (c *CapacityEnforcer) ProsumerSellerLimit(h domain.HouseholdState, chargeRateKW, remainingCapacityKWh float64) float64 {
	base := c.baseLimit(RoleProsumer)
	surplus := h.ProdKWh - h.DemandKWh
	if surplus < 0 {
		surplus = 0
	}
	plannedCharge := min3(surplus, chargeRateKW, remainingCapacityKWh)
	internalUse := min2(h.ProdKWh, h.DemandKWh) + plannedCharge
	effective := base - internalUse
	if effective < 0 {
		effective = 0
	}
	return effective
}

// BuyerLimit returns a buyer's effective deliverable cap: the role's base
// limit (spec.md §4.6 applies the internal-use subtraction to sellers only).
func (c *CapacityEnforcer) BuyerLimit(role Role) float64 {
	return c.baseLimit(role)
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func min3(a, b, c float64) float64 {
	return min2(min2(a, b), c)
}
