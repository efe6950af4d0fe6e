// Package cost derives monetary savings and environmental equivalents from
// aggregated production.
package cost

import (
	"strings"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/apperr"

	"github.com/shopspring/decimal"
)

// Factors are the grid-region conversion factors.
type Factors struct {
	CO2KgPerKWh      float64 `json:"co2_kg_per_kwh"`
	CO2KgPerTreeYear float64 `json:"co2_kg_per_tree_year"`
	CoalKgPerKWh     float64 `json:"coal_kg_per_kwh"`
}

func (f Factors) Validate() error {
	if f.CO2KgPerKWh <= 0 {
		return apperr.Configuration("co2 per kWh factor must be positive")
	}
	if f.CO2KgPerTreeYear <= 0 {
		return apperr.Configuration("co2 per tree-year factor must be positive")
	}
	if f.CoalKgPerKWh <= 0 {
		return apperr.Configuration("coal per kWh factor must be positive")
	}
	return nil
}

type Tariff struct {
	PricePerKWh float64 `json:"price_per_kwh"`
	Currency    string  `json:"currency"`
	TaxRate     float64 `json:"tax_rate"`
}

func (t Tariff) Validate() error {
	if t.PricePerKWh < 0 {
		return apperr.Configuration("price per kWh must not be negative")
	}
	if t.TaxRate < 0 {
		return apperr.Configuration("tax rate must not be negative")
	}
	if strings.TrimSpace(t.Currency) == "" {
		return apperr.Configuration("tariff currency is required")
	}
	return nil
}

// Cost is the saving in the tariff's currency, kept at full precision.
type Cost struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Rounded returns the amount at presentation precision.
func (c Cost) Rounded() float64 {
	return c.Amount.Round(2).InexactFloat64()
}

type Impact struct {
	CO2SavedKg      float64 `json:"co2_saved_kg"`
	TreesEquivalent float64 `json:"trees_equivalent"`
	CoalAvoidedKg   float64 `json:"coal_avoided_kg"`
}

type Engine struct {
	factors Factors
}

func NewEngine(factors Factors) (*Engine, error) {
	if err := factors.Validate(); err != nil {
		return nil, err
	}
	return &Engine{factors: factors}, nil
}

func (e *Engine) Factors() Factors { return e.factors }

// Costs prices the aggregate's total production: kWh × price × (1 + tax).
func (e *Engine) Costs(res aggregator.Result, tariff Tariff) (Cost, error) {
	return e.CostForEnergy(res.TotalProductionKWh, tariff)
}

func (e *Engine) CostForEnergy(kwh float64, tariff Tariff) (Cost, error) {
	if err := tariff.Validate(); err != nil {
		return Cost{}, err
	}
	amount := decimal.NewFromFloat(kwh).
		Mul(decimal.NewFromFloat(tariff.PricePerKWh)).
		Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(tariff.TaxRate)))
	return Cost{
		Amount:   amount,
		Currency: strings.ToUpper(strings.TrimSpace(tariff.Currency)),
	}, nil
}

func (e *Engine) EnvironmentalImpact(kwh float64) Impact {
	if kwh <= 0 {
		return Impact{}
	}
	co2 := kwh * e.factors.CO2KgPerKWh
	return Impact{
		CO2SavedKg:      co2,
		TreesEquivalent: co2 / e.factors.CO2KgPerTreeYear,
		CoalAvoidedKg:   kwh * e.factors.CoalKgPerKWh,
	}
}
