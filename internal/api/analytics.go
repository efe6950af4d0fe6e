package api

import (
	"net/http"
	"time"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/auth"
	"solar-telemetry/internal/cost"
	"solar-telemetry/internal/storage"

	"github.com/gin-gonic/gin"
)

type aggregateResponse struct {
	InverterID         string                     `json:"inverter_id,omitempty"`
	Window             aggregator.Window          `json:"window"`
	Timezone           string                     `json:"timezone"`
	TotalProductionKWh float64                    `json:"total_production_kwh"`
	PeakACPowerW       float64                    `json:"peak_ac_power_w"`
	AverageDailyKWh    float64                    `json:"average_daily_kwh"`
	BestDay            *aggregator.DayProduction  `json:"best_day"`
	TotalDays          int                        `json:"total_days"`
	OnlineDays         int                        `json:"online_days"`
	UptimeRatio        float64                    `json:"uptime_ratio"`
	Savings            savingsResponse            `json:"savings"`
	Impact             cost.Impact                `json:"impact"`
	Series             []aggregator.Point         `json:"series"`
	Days               []aggregator.DayProduction `json:"days"`
}

type savingsResponse struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// aggregateHandler answers GET /aggregate?from=&to=&granularity=&inverter_id=.
// Figures are computed at full precision and rounded to two decimals here.
func (s *Server) aggregateHandler(c *gin.Context) {
	ctx := c.Request.Context()
	owner := auth.Owner(c)

	loc, err := s.ownerLocation(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	from, err := parseTime("from", c.Query("from"), loc)
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := parseTime("to", c.Query("to"), loc)
	if err != nil {
		respondError(c, err)
		return
	}
	granularity, err := aggregator.ParseGranularity(c.Query("granularity"))
	if err != nil {
		respondError(c, err)
		return
	}
	window := aggregator.Window{From: from, To: to, Granularity: granularity}
	if err := window.Validate(); err != nil {
		respondError(c, err)
		return
	}

	filter := storage.Filter{OwnerID: owner, From: from, To: to}
	inverterID := c.Query("inverter_id")
	if inverterID != "" {
		if _, err := s.db.GetInverter(ctx, owner, inverterID); err != nil {
			respondError(c, err)
			return
		}
		filter = storage.Filter{InverterID: inverterID, From: from, To: to}
	}

	samples, err := s.samples.Query(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := aggregator.Aggregate(samples, window, loc)
	if err != nil {
		respondError(c, err)
		return
	}
	series, err := aggregator.Series(samples, window, loc)
	if err != nil {
		respondError(c, err)
		return
	}

	tariff, err := s.ownerTariff(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	savings, err := s.costs.Costs(result, tariff)
	if err != nil {
		respondError(c, err)
		return
	}
	impact := s.costs.EnvironmentalImpact(result.TotalProductionKWh)

	c.JSON(http.StatusOK, presentAggregate(inverterID, window, loc, result, series, savings, impact))
}

func presentAggregate(inverterID string, w aggregator.Window, loc *time.Location, res aggregator.Result, series []aggregator.Point, savings cost.Cost, impact cost.Impact) aggregateResponse {
	r2 := aggregator.Round2

	days := make([]aggregator.DayProduction, len(res.Days))
	for i, d := range res.Days {
		days[i] = roundDay(d)
	}
	var best *aggregator.DayProduction
	if res.BestDay != nil {
		b := roundDay(*res.BestDay)
		best = &b
	}
	points := make([]aggregator.Point, len(series))
	for i, p := range series {
		p.ProductionKWh = r2(p.ProductionKWh)
		p.PeakACPowerW = r2(p.PeakACPowerW)
		p.AverageACPowerW = r2(p.AverageACPowerW)
		points[i] = p
	}

	return aggregateResponse{
		InverterID:         inverterID,
		Window:             w,
		Timezone:           loc.String(),
		TotalProductionKWh: r2(res.TotalProductionKWh),
		PeakACPowerW:       r2(res.PeakACPowerW),
		AverageDailyKWh:    r2(res.AverageDailyKWh),
		BestDay:            best,
		TotalDays:          res.TotalDays,
		OnlineDays:         res.OnlineDays,
		UptimeRatio:        r2(res.UptimeRatio),
		Savings:            savingsResponse{Amount: savings.Rounded(), Currency: savings.Currency},
		Impact: cost.Impact{
			CO2SavedKg:      r2(impact.CO2SavedKg),
			TreesEquivalent: r2(impact.TreesEquivalent),
			CoalAvoidedKg:   r2(impact.CoalAvoidedKg),
		},
		Series: points,
		Days:   days,
	}
}

func roundDay(d aggregator.DayProduction) aggregator.DayProduction {
	d.ProductionKWh = aggregator.Round2(d.ProductionKWh)
	d.PeakACPowerW = aggregator.Round2(d.PeakACPowerW)
	return d
}

type costSettingsRequest struct {
	PricePerKWh float64 `json:"price_per_kwh"`
	Currency    string  `json:"currency" binding:"required"`
	TaxRate     float64 `json:"tax_rate"`
}

func (s *Server) getCostSettingsHandler(c *gin.Context) {
	tariff, err := s.ownerTariff(c.Request.Context(), auth.Owner(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tariff)
}

func (s *Server) updateCostSettingsHandler(c *gin.Context) {
	var req costSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	settings := &storage.CostSettings{
		OwnerID:     auth.Owner(c),
		PricePerKWh: req.PricePerKWh,
		Currency:    req.Currency,
		TaxRate:     req.TaxRate,
	}
	if err := s.db.SaveCostSettings(c.Request.Context(), settings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cost.Tariff{
		PricePerKWh: settings.PricePerKWh,
		Currency:    settings.Currency,
		TaxRate:     settings.TaxRate,
	})
}

type preferencesRequest struct {
	Timezone string `json:"timezone" binding:"required"`
}

func (s *Server) getPreferencesHandler(c *gin.Context) {
	ctx := c.Request.Context()
	owner := auth.Owner(c)
	prefs, err := s.db.GetPreferences(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timezone":           prefs.Timezone,
		"effective_timezone": prefs.Location(s.location).String(),
	})
}

func (s *Server) updatePreferencesHandler(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	prefs := &storage.Preferences{OwnerID: auth.Owner(c), Timezone: req.Timezone}
	if err := s.db.SavePreferences(c.Request.Context(), prefs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timezone":           prefs.Timezone,
		"effective_timezone": prefs.Location(s.location).String(),
	})
}
