// Package failure implements FailureController (spec.md §4.5): the
// coordinator-side decision to mark a producer offline. Grounded on
// grid_node_agent.py's _check_and_trigger_failure, split per spec.md §9's
// redesign flag so that only this controller ever sets is_operational to
// false — the production-report merge (internal/registry) only ever
// decrements and recovers.
package failure

import (
	"github.com/microgrid-sim/microgrid-sim/internal/config"
	"github.com/microgrid-sim/microgrid-sim/internal/domain"
	"github.com/microgrid-sim/microgrid-sim/internal/rng"
)

// Controller decides, once per round, whether to take a producer offline.
type Controller struct {
	cfg *config.ProducersConfig
	r   *rng.PartitionedRNG
}

// New creates a Controller drawing from the failure subsystem of r.
func New(cfg *config.ProducersConfig, r *rng.PartitionedRNG) *Controller {
	return &Controller{cfg: cfg, r: r}
}

// Decision names a producer newly marked offline this round, or the zero
// value if no failure was triggered.
type Decision struct {
	Triggered bool
	Producer  domain.ParticipantId
	Duration  int
}

// Evaluate runs the §4.5 algorithm. storage is every known storage unit's
// state; producers is every known producer's state, iterated in
// producerOrder (insertion order, for determinism); anyProducerFailed is
// the registry's current derived flag.
//
// Evaluate does not mutate its inputs; the caller applies Decision to the
// registry's producer state.
func (c *Controller) Evaluate(
	storage map[domain.ParticipantId]domain.StorageState,
	producers map[domain.ParticipantId]domain.ProducerState,
	producerOrder []domain.ParticipantId,
	anyProducerFailed bool,
) Decision {
	if !anyStorageNearlyFull(storage) {
		return Decision{}
	}
	if anyProducerFailed {
		return Decision{}
	}

	draw := c.r.ForSubsystem(rng.SubsystemFailure)
	for _, id := range producerOrder {
		p, ok := producers[id]
		if !ok || !p.IsOperational {
			continue
		}
		if draw.Float64() < c.cfg.FailureProb {
			lo, hi := c.cfg.FailureRoundsRange.Min, c.cfg.FailureRoundsRange.Max
			duration := lo
			if hi > lo {
				duration = lo + draw.Intn(hi-lo+1)
			}
			return Decision{Triggered: true, Producer: id, Duration: duration}
		}
	}
	return Decision{}
}

// anyStorageNearlyFull reports whether any storage unit has reached 99% of
// capacity — the gate spec.md §4.5 step 1 requires before a failure can be
// triggered at all ("cannot afford a failure when reserves are depleted").
func anyStorageNearlyFull(storage map[domain.ParticipantId]domain.StorageState) bool {
	for _, s := range storage {
		if s.CapKWh > 0 && s.SOCKWh >= 0.99*s.CapKWh {
			return true
		}
	}
	return false
}

// Apply mutates the producer state map per d, zeroing production and
// starting the failure countdown.
func Apply(producers map[domain.ParticipantId]domain.ProducerState, d Decision) {
	if !d.Triggered {
		return
	}
	p := producers[d.Producer]
	p.IsOperational = false
	p.ProdKWh = 0
	p.FailureRoundsRemaining = d.Duration
	p.FailureRoundsTotal = d.Duration
	producers[d.Producer] = p
}
