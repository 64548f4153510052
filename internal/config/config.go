// Package config holds the scenario configuration tree, loaded once at
// startup (cmd/root.go) and threaded through every constructor — replacing
// the global SCENARIO_CONFIG singleton the coordinator used to reach for
// directly (see SPEC_FULL.md §9).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentLimitsKW groups the per-role deliverable cap used by CapacityEnforcer.
type AgentLimitsKW struct {
	Consumer float64 `yaml:"consumer"`
	Prosumer float64 `yaml:"prosumer"`
	Producer float64 `yaml:"producer"`
	Storage  float64 `yaml:"storage"`
}

// SimulationConfig groups round-timing and capacity parameters.
type SimulationConfig struct {
	XMPPServer          string        `yaml:"XMPP_SERVER"`
	NumConsumers        int           `yaml:"NUM_CONSUMERS"`
	NumProsumers        int           `yaml:"NUM_PROSUMERS"`
	RoundSleepSeconds   float64       `yaml:"ROUND_SLEEP_SECONDS"`
	OffersTimeout       float64       `yaml:"OFFERS_TIMEOUT"`
	TransmissionLimitKW float64       `yaml:"TRANSMISSION_LIMIT_KW"`
	AgentLimitsKW       AgentLimitsKW `yaml:"AGENT_LIMITS_KW"`
	StatusGraceSeconds  float64       `yaml:"STATUS_GRACE_SECONDS"`
}

// ExternalGridConfig groups the stochastic external-grid parameters.
//
// The wire vocabulary is inconsistent across legacy scenario revisions:
// some put the microgrid's import price under SELL_PRICE, others under
// buy_price_max (see spec.md §9 Open Questions). MicrogridImportPriceRange
// and MicrogridExportPriceRange are the unambiguous names used internally;
// each derives its range from two of the four legacy keys below.
type ExternalGridConfig struct {
	BuyPrice         float64 `yaml:"BUY_PRICE"`
	SellPrice        float64 `yaml:"SELL_PRICE"`
	MinDynamicPrice  float64 `yaml:"MIN_DYNAMIC_PRICE"`
	MaxDynamicPrice  float64 `yaml:"MAX_DYNAMIC_PRICE"`
	AcceptanceProb   float64 `yaml:"ACCEPTANCE_PROB"`
}

// MicrogridImportPriceRange is what the microgrid pays the external grid for
// imports (buyer's side), derived from the legacy MinDynamicPrice/SellPrice
// range per spec.md §9.
func (e ExternalGridConfig) MicrogridImportPriceRange() (lo, hi float64) {
	return e.MinDynamicPrice, e.SellPrice
}

// MicrogridExportPriceRange is what the microgrid receives from the external
// grid for exports (seller's side), derived from the legacy
// BuyPrice/MaxDynamicPrice range per spec.md §9.
func (e ExternalGridConfig) MicrogridExportPriceRange() (lo, hi float64) {
	return e.BuyPrice, e.MaxDynamicPrice
}

// FailureRoundsRange is an inclusive [Min,Max] range for drawing a
// producer's failure duration.
type FailureRoundsRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ProducersConfig groups renewable producer generation and failure params.
type ProducersConfig struct {
	SolarCapacityKW     float64            `yaml:"SOLAR_CAPACITY_KW"`
	WindCapacityKW      float64            `yaml:"WIND_CAPACITY_KW"`
	SolarEfficiency     float64            `yaml:"SOLAR_EFFICIENCY"`
	WindCapacityFactor  float64            `yaml:"WIND_CAPACITY_FACTOR"`
	FailureProb         float64            `yaml:"FAILURE_PROB"`
	FailureRoundsRange  FailureRoundsRange `yaml:"FAILURE_ROUNDS_RANGE"`
}

// DemandRanges groups per-period household demand draw ranges (used by the
// out-of-scope household agent; kept here since it is part of the wire
// scenario config format).
type DemandRanges struct {
	Night     [2]float64 `yaml:"night"`
	Morning   [2]float64 `yaml:"morning"`
	Afternoon [2]float64 `yaml:"afternoon"`
	Evening   [2]float64 `yaml:"evening"`
}

// HouseholdsConfig groups household/battery parameters.
type HouseholdsConfig struct {
	DemandRanges          DemandRanges `yaml:"DEMAND_RANGES"`
	PanelAreaRangeM2      [2]float64   `yaml:"PANEL_AREA_RANGE_M2"`
	BatteryCapacityKWh    float64      `yaml:"BATTERY_CAPACITY_KWH"`
	BatteryChargeRateKW   float64      `yaml:"BATTERY_CHARGE_RATE_KW"`
	BatteryDischargeRateKW float64     `yaml:"BATTERY_DISCHARGE_RATE_KW"`
	BatteryEfficiency     float64      `yaml:"BATTERY_EFFICIENCY"`
}

// StorageConfig groups the centralized emergency storage unit's parameters.
type StorageConfig struct {
	CapacityKWh   float64 `yaml:"CAPACITY_KWH"`
	EmergencyOnly bool    `yaml:"EMERGENCY_ONLY"`
	AskPrice      float64 `yaml:"ASK_PRICE"`
	MaxPrice      float64 `yaml:"MAX_PRICE"`
}

// EnvironmentConfig groups the weather-generator parameters (out of scope
// for the core, carried for parity with the wire config format).
type EnvironmentConfig struct {
	BaseWindSpeed   float64    `yaml:"BASE_WIND_SPEED"`
	WindNoiseRange  [2]float64 `yaml:"WIND_NOISE_RANGE"`
	BaseTemperature float64    `yaml:"BASE_TEMPERATURE"`
	TempVariation   float64    `yaml:"TEMP_VARIATION"`
}

// MetricsConfig groups the PerformanceTracker's reporting cadence.
type MetricsConfig struct {
	ReportIntervalRounds int `yaml:"REPORT_INTERVAL_ROUNDS"`
}

// ScenarioConfig is the full nested scenario configuration, unmarshalled
// from YAML. Constructed once at startup and threaded through every
// constructor (spec.md §9: no global mutable SCENARIO_CONFIG).
type ScenarioConfig struct {
	Name         string              `yaml:"NAME"`
	Description  string              `yaml:"DESCRIPTION"`
	Simulation   SimulationConfig    `yaml:"SIMULATION"`
	ExternalGrid ExternalGridConfig  `yaml:"EXTERNAL_GRID"`
	Producers    ProducersConfig     `yaml:"PRODUCERS"`
	Households   HouseholdsConfig    `yaml:"HOUSEHOLDS"`
	Storage      StorageConfig       `yaml:"STORAGE"`
	Environment  EnvironmentConfig   `yaml:"ENVIRONMENT"`
	Metrics      MetricsConfig       `yaml:"METRICS"`
}

// Default returns the base scenario configuration (spec.md §6 recognized
// defaults, matching scenarios/base_config.py's SE_SCENARIO_CONFIG).
func Default() *ScenarioConfig {
	return &ScenarioConfig{
		Name:        "Base configuration",
		Description: "Default smart grid configuration without scenario overrides.",
		Simulation: SimulationConfig{
			XMPPServer:          "localhost",
			NumConsumers:        5,
			NumProsumers:        2,
			RoundSleepSeconds:   10,
			OffersTimeout:       10,
			TransmissionLimitKW: 3.0,
			AgentLimitsKW: AgentLimitsKW{
				Consumer: 3.00,
				Prosumer: 5.00,
				Producer: 35.00,
				Storage:  35.00,
			},
			StatusGraceSeconds: 2.0,
		},
		ExternalGrid: ExternalGridConfig{
			BuyPrice:        0.25,
			SellPrice:       0.15,
			MinDynamicPrice: 0.10,
			MaxDynamicPrice: 0.30,
			AcceptanceProb:  0.7,
		},
		Producers: ProducersConfig{
			SolarCapacityKW:    50.00,
			WindCapacityKW:     50.00,
			SolarEfficiency:    0.40,
			WindCapacityFactor: 0.42,
			FailureProb:        0.20,
			FailureRoundsRange: FailureRoundsRange{Min: 1, Max: 4},
		},
		Households: HouseholdsConfig{
			DemandRanges: DemandRanges{
				Night:     [2]float64{0.2, 0.6},
				Morning:   [2]float64{0.8, 2.0},
				Afternoon: [2]float64{0.6, 1.5},
				Evening:   [2]float64{1.2, 3.5},
			},
			PanelAreaRangeM2:       [2]float64{15.00, 25.00},
			BatteryCapacityKWh:     5.00,
			BatteryChargeRateKW:    2.00,
			BatteryDischargeRateKW: 2.00,
			BatteryEfficiency:      0.95,
		},
		Storage: StorageConfig{
			CapacityKWh:   50.00,
			EmergencyOnly: true,
			AskPrice:      0.25,
			MaxPrice:      0.35,
		},
		Environment: EnvironmentConfig{
			BaseWindSpeed:   6.00,
			WindNoiseRange:  [2]float64{-2.00, 2.00},
			BaseTemperature: 22.00,
			TempVariation:   5.00,
		},
		Metrics: MetricsConfig{
			ReportIntervalRounds: 5,
		},
	}
}

// Load reads a YAML scenario file, overlaying it onto Default() so a
// partial file only needs to specify overrides.
func Load(path string) (*ScenarioConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the coordinator depends on.
func (c *ScenarioConfig) Validate() error {
	if c.Simulation.TransmissionLimitKW <= 0 {
		return fmt.Errorf("SIMULATION.TRANSMISSION_LIMIT_KW must be > 0, got %v", c.Simulation.TransmissionLimitKW)
	}
	if c.Simulation.OffersTimeout <= 0 {
		return fmt.Errorf("SIMULATION.OFFERS_TIMEOUT must be > 0, got %v", c.Simulation.OffersTimeout)
	}
	if c.Simulation.RoundSleepSeconds < 0 {
		return fmt.Errorf("SIMULATION.ROUND_SLEEP_SECONDS must be >= 0, got %v", c.Simulation.RoundSleepSeconds)
	}
	if c.ExternalGrid.AcceptanceProb < 0 || c.ExternalGrid.AcceptanceProb > 1 {
		return fmt.Errorf("EXTERNAL_GRID.ACCEPTANCE_PROB must be in [0,1], got %v", c.ExternalGrid.AcceptanceProb)
	}
	if c.Producers.FailureProb < 0 || c.Producers.FailureProb > 1 {
		return fmt.Errorf("PRODUCERS.FAILURE_PROB must be in [0,1], got %v", c.Producers.FailureProb)
	}
	if c.Producers.FailureRoundsRange.Min <= 0 || c.Producers.FailureRoundsRange.Max < c.Producers.FailureRoundsRange.Min {
		return fmt.Errorf("PRODUCERS.FAILURE_ROUNDS_RANGE must satisfy 0 < min <= max, got %+v", c.Producers.FailureRoundsRange)
	}
	if c.Storage.CapacityKWh <= 0 {
		return fmt.Errorf("STORAGE.CAPACITY_KWH must be > 0, got %v", c.Storage.CapacityKWh)
	}
	if c.Metrics.ReportIntervalRounds < 0 {
		return fmt.Errorf("METRICS.REPORT_INTERVAL_ROUNDS must be >= 0, got %v", c.Metrics.ReportIntervalRounds)
	}
	return nil
}
