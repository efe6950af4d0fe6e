package cost

import (
	"math"
	"testing"
	"time"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/storage"
)

var defaultFactors = Factors{CO2KgPerKWh: 0.85, CO2KgPerTreeYear: 21.77, CoalKgPerKWh: 0.4}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(defaultFactors)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestCostsThreeDayScenario(t *testing.T) {
	d := func(n int) time.Time { return time.Date(2024, 3, n, 12, 0, 0, 0, time.UTC) }
	samples := []storage.PowerSample{
		{InverterID: "inv", Timestamp: d(1), YieldTodayKWh: 10},
		{InverterID: "inv", Timestamp: d(2), YieldTodayKWh: 25},
	}
	res, err := aggregator.Aggregate(samples, aggregator.Window{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}, time.UTC)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	c, err := newEngine(t).Costs(res, Tariff{PricePerKWh: 0.25, Currency: "usd"})
	if err != nil {
		t.Fatalf("Costs failed: %v", err)
	}
	if c.Rounded() != 8.75 || c.Currency != "USD" {
		t.Errorf("Expected 8.75 USD, got %v %s", c.Rounded(), c.Currency)
	}
}

func TestCostsAppliesTax(t *testing.T) {
	c, err := newEngine(t).CostForEnergy(100, Tariff{PricePerKWh: 0.2, Currency: "EUR", TaxRate: 0.19})
	if err != nil {
		t.Fatalf("CostForEnergy failed: %v", err)
	}
	if c.Amount.String() != "23.8" {
		t.Errorf("Expected exact 23.8, got %s", c.Amount)
	}
}

func TestCostsKeepsPrecisionUntilRounded(t *testing.T) {
	c, _ := newEngine(t).CostForEnergy(0.333, Tariff{PricePerKWh: 0.3, Currency: "USD"})
	if c.Amount.String() != "0.0999" {
		t.Errorf("Expected unrounded 0.0999, got %s", c.Amount)
	}
	if c.Rounded() != 0.1 {
		t.Errorf("Expected rounded 0.1, got %v", c.Rounded())
	}
}

func TestCostsRejectsInvalidTariff(t *testing.T) {
	e := newEngine(t)
	bad := []Tariff{
		{PricePerKWh: -0.1, Currency: "USD"},
		{PricePerKWh: 0.1, Currency: "USD", TaxRate: -0.2},
		{PricePerKWh: 0.1},
	}
	for _, tariff := range bad {
		if _, err := e.Costs(aggregator.Result{TotalProductionKWh: 10}, tariff); !apperr.Is(err, apperr.KindConfiguration) {
			t.Errorf("Expected configuration error for %+v, got %v", tariff, err)
		}
	}
}

func TestNewEngineRejectsBadFactors(t *testing.T) {
	for _, f := range []Factors{
		{CO2KgPerKWh: 0, CO2KgPerTreeYear: 21, CoalKgPerKWh: 0.4},
		{CO2KgPerKWh: 0.8, CO2KgPerTreeYear: -1, CoalKgPerKWh: 0.4},
		{CO2KgPerKWh: 0.8, CO2KgPerTreeYear: 21, CoalKgPerKWh: 0},
	} {
		if _, err := NewEngine(f); !apperr.Is(err, apperr.KindConfiguration) {
			t.Errorf("Expected configuration error for %+v, got %v", f, err)
		}
	}
}

func TestEnvironmentalImpact(t *testing.T) {
	impact := newEngine(t).EnvironmentalImpact(100)
	if math.Abs(impact.CO2SavedKg-85) > 1e-9 {
		t.Errorf("Expected 85 kg CO2, got %v", impact.CO2SavedKg)
	}
	if math.Abs(impact.TreesEquivalent-85/21.77) > 1e-9 {
		t.Errorf("Unexpected trees %v", impact.TreesEquivalent)
	}
	if math.Abs(impact.CoalAvoidedKg-40) > 1e-9 {
		t.Errorf("Expected 40 kg coal, got %v", impact.CoalAvoidedKg)
	}

	if zero := newEngine(t).EnvironmentalImpact(0); zero != (Impact{}) {
		t.Errorf("Expected zero impact, got %+v", zero)
	}
}
