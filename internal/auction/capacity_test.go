package auction

import (
	"testing"

	"github.com/microgrid-sim/microgrid-sim/internal/config"
	"github.com/microgrid-sim/microgrid-sim/internal/domain"
)

func testLimits() config.AgentLimitsKW {
	return config.AgentLimitsKW{Consumer: 3.0, Prosumer: 5.0, Producer: 35.0, Storage: 35.0}
}

func TestCapacityEnforcer_SellerLimitByRole(t *testing.T) {
	c := NewCapacityEnforcer(testLimits())
	if got := c.SellerLimit(RoleProducer); got != 35.0 {
		t.Errorf("SellerLimit(Producer) = %v, want 35.0", got)
	}
	if got := c.SellerLimit(RoleStorage); got != 35.0 {
		t.Errorf("SellerLimit(Storage) = %v, want 35.0", got)
	}
}

func TestCapacityEnforcer_ProsumerSellerLimitSubtractsInternalUse(t *testing.T) {
	c := NewCapacityEnforcer(testLimits())
	h := domain.HouseholdState{ProdKWh: 4.0, DemandKWh: 1.0}
	// surplus = 3.0, planned charge = min(3.0, chargeRate=2.0, remainingCap=10) = 2.0
	// internal_use = min(4.0,1.0) + 2.0 = 1.0 + 2.0 = 3.0
	// effective = 5.0 - 3.0 = 2.0
	got := c.ProsumerSellerLimit(h, 2.0, 10.0)
	if got != 2.0 {
		t.Errorf("ProsumerSellerLimit() = %v, want 2.0", got)
	}
}

func TestCapacityEnforcer_ProsumerSellerLimitClampsAtZero(t *testing.T) {
	c := NewCapacityEnforcer(config.AgentLimitsKW{Prosumer: 1.0})
	h := domain.HouseholdState{ProdKWh: 10.0, DemandKWh: 1.0}
	got := c.ProsumerSellerLimit(h, 5.0, 5.0)
	if got != 0 {
		t.Errorf("ProsumerSellerLimit() = %v, want 0 (internal use exceeds base limit)", got)
	}
}

func TestCapacityEnforcer_ProsumerSellerLimitNoSurplus(t *testing.T) {
	c := NewCapacityEnforcer(testLimits())
	h := domain.HouseholdState{ProdKWh: 1.0, DemandKWh: 2.0}
	// surplus clamps to 0, internal_use = min(1,2) + 0 = 1.0
	got := c.ProsumerSellerLimit(h, 2.0, 10.0)
	if got != 4.0 {
		t.Errorf("ProsumerSellerLimit() = %v, want 4.0", got)
	}
}

func TestCapacityEnforcer_BuyerLimitByRole(t *testing.T) {
	c := NewCapacityEnforcer(testLimits())
	if got := c.BuyerLimit(RoleConsumer); got != 3.0 {
		t.Errorf("BuyerLimit(Consumer) = %v, want 3.0", got)
	}
}
