package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"solar-telemetry/internal/apperr"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	if cfg.Poller.Interval != 10*time.Second {
		t.Errorf("Expected 10s poll interval, got %s", cfg.Poller.Interval)
	}
	if cfg.Poller.FailureThreshold != 3 {
		t.Errorf("Expected failure threshold 3, got %d", cfg.Poller.FailureThreshold)
	}
	if cfg.Jobs.RetentionPerKind != 5 {
		t.Errorf("Expected retention 5, got %d", cfg.Jobs.RetentionPerKind)
	}
}

func TestValidateRejectsBadEmissionFactors(t *testing.T) {
	cfg := Default()
	cfg.Emission.CO2KgPerTreeYear = 0

	err := cfg.Validate()
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestValidateRejectsNegativeTariff(t *testing.T) {
	cfg := Default()
	cfg.Tariff.PricePerKWh = -0.1

	if err := cfg.Validate(); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestValidateRejectsInvertedVoltageBounds(t *testing.T) {
	cfg := Default()
	cfg.Validation.MinVoltageV = 500
	cfg.Validation.MaxVoltageV = 100

	if err := cfg.Validate(); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
poller:
  interval: 30s
  failure_threshold: 5
tariff:
  price_per_kwh: 0.25
  currency: EUR
aggregation:
  default_timezone: Europe/Berlin
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Poller.Interval != 30*time.Second {
		t.Errorf("Expected 30s interval, got %s", cfg.Poller.Interval)
	}
	if cfg.Poller.FailureThreshold != 5 {
		t.Errorf("Expected threshold 5, got %d", cfg.Poller.FailureThreshold)
	}
	if cfg.Tariff.Currency != "EUR" || cfg.Tariff.PricePerKWh != 0.25 {
		t.Errorf("Unexpected tariff %+v", cfg.Tariff)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected default driver sqlite, got %s", cfg.Database.Driver)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  retention_per_kind: 0\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(path); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestLoadIgnoresDuplicatePolicyKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
validation:
  max_ac_power_w: 8000
  duplicate_policy: upsert
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Validation.MaxACPowerW != 8000 {
		t.Errorf("Expected max ac power 8000, got %v", cfg.Validation.MaxACPowerW)
	}
}
