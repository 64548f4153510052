package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() must validate cleanly: %v", err)
	}
}

func TestDefault_TransmissionLimit(t *testing.T) {
	if got := Default().Simulation.TransmissionLimitKW; got != 3.0 {
		t.Errorf("default TRANSMISSION_LIMIT_KW = %v, want 3.0 (spec.md §4.3 default)", got)
	}
}

func TestLoad_OverlaysOntoDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	yaml := `
SIMULATION:
  TRANSMISSION_LIMIT_KW: 10.5
EXTERNAL_GRID:
  ACCEPTANCE_PROB: 0.9
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Simulation.TransmissionLimitKW != 10.5 {
		t.Errorf("TransmissionLimitKW = %v, want 10.5", cfg.Simulation.TransmissionLimitKW)
	}
	if cfg.ExternalGrid.AcceptanceProb != 0.9 {
		t.Errorf("AcceptanceProb = %v, want 0.9", cfg.ExternalGrid.AcceptanceProb)
	}
	// Unspecified fields keep their default value.
	if cfg.Simulation.OffersTimeout != Default().Simulation.OffersTimeout {
		t.Errorf("OffersTimeout should fall back to default, got %v", cfg.Simulation.OffersTimeout)
	}
}

func TestValidate_RejectsBadRanges(t *testing.T) {
	cfg := Default()
	cfg.Producers.FailureRoundsRange.Max = 0
	cfg.Producers.FailureRoundsRange.Min = 2
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject max < min")
	}
}

func TestValidate_RejectsOutOfRangeProbability(t *testing.T) {
	cfg := Default()
	cfg.ExternalGrid.AcceptanceProb = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject ACCEPTANCE_PROB > 1")
	}
}

func TestExternalGridConfig_PriceRanges(t *testing.T) {
	e := ExternalGridConfig{
		BuyPrice:        0.25,
		SellPrice:       0.15,
		MinDynamicPrice: 0.10,
		MaxDynamicPrice: 0.30,
	}
	lo, hi := e.MicrogridImportPriceRange()
	if lo != 0.10 || hi != 0.15 {
		t.Errorf("MicrogridImportPriceRange() = (%v,%v), want (0.10,0.15)", lo, hi)
	}
	lo, hi = e.MicrogridExportPriceRange()
	if lo != 0.25 || hi != 0.30 {
		t.Errorf("MicrogridExportPriceRange() = (%v,%v), want (0.25,0.30)", lo, hi)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
