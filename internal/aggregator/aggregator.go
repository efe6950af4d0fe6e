// Package aggregator computes windowed production statistics over power samples.
//
// Day boundaries follow the owner's calendar (the location passed in), and a
// day's production is the largest cumulative yield-today reported on that day,
// summed over inverters. Sub-day samples are never summed, so the result does
// not depend on the sampling rate. Values are kept unrounded; Round2 is for
// presenters only.
package aggregator

import (
	"math"
	"sort"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/storage"
)

const DateLayout = "2006-01-02"

type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Month Granularity = "month"
)

func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "", Day:
		return Day, nil
	case Hour, Month:
		return Granularity(s), nil
	}
	return "", apperr.Validation("unknown granularity %q", s)
}

// Window is the half-open interval [From, To).
type Window struct {
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Granularity Granularity `json:"granularity"`
}

func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return apperr.Validation("window bounds are required")
	}
	if !w.From.Before(w.To) {
		return apperr.Validation("window start %s must be before end %s",
			w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return nil
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// DayProduction is the production of one local calendar day.
type DayProduction struct {
	Date          string    `json:"date"`
	Start         time.Time `json:"start"`
	ProductionKWh float64   `json:"production_kwh"`
	PeakACPowerW  float64   `json:"peak_ac_power_w"`
	Samples       int       `json:"samples"`
}

func (d DayProduction) Online() bool { return d.Samples > 0 }

type Result struct {
	TotalProductionKWh float64         `json:"total_production_kwh"`
	PeakACPowerW       float64         `json:"peak_ac_power_w"`
	AverageDailyKWh    float64         `json:"average_daily_kwh"`
	BestDay            *DayProduction  `json:"best_day"`
	TotalDays          int             `json:"total_days"`
	OnlineDays         int             `json:"online_days"`
	UptimeRatio        float64         `json:"uptime_ratio"`
	Days               []DayProduction `json:"days"`
}

// Aggregate computes the statistics of the samples falling inside the window.
// An empty sample set yields zero production and peak, no best day and zero uptime.
func Aggregate(samples []storage.PowerSample, w Window, loc *time.Location) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	starts := dayStarts(w, loc)
	days := make([]DayProduction, len(starts))
	index := make(map[string]int, len(starts))
	for i, start := range starts {
		date := start.Format(DateLayout)
		days[i] = DayProduction{Date: date, Start: start}
		index[date] = i
	}

	// largest cumulative yield per inverter and day
	yields := make([]map[string]float64, len(starts))

	var res Result
	for _, s := range samples {
		if !w.contains(s.Timestamp) {
			continue
		}
		i, ok := index[s.Timestamp.In(loc).Format(DateLayout)]
		if !ok {
			continue
		}
		day := &days[i]
		day.Samples++
		if s.ACPowerW > day.PeakACPowerW {
			day.PeakACPowerW = s.ACPowerW
		}
		if s.ACPowerW > res.PeakACPowerW {
			res.PeakACPowerW = s.ACPowerW
		}
		if yields[i] == nil {
			yields[i] = make(map[string]float64)
		}
		if y, seen := yields[i][s.InverterID]; !seen || s.YieldTodayKWh > y {
			yields[i][s.InverterID] = s.YieldTodayKWh
		}
	}

	for i := range days {
		days[i].ProductionKWh = sumSorted(yields[i])
		if !days[i].Online() {
			continue
		}
		res.OnlineDays++
		res.TotalProductionKWh += days[i].ProductionKWh
		if res.BestDay == nil || days[i].ProductionKWh > res.BestDay.ProductionKWh {
			best := days[i]
			res.BestDay = &best
		}
	}

	res.Days = days
	res.TotalDays = len(days)
	if res.OnlineDays > 0 {
		res.AverageDailyKWh = res.TotalProductionKWh / float64(res.OnlineDays)
	}
	if res.TotalDays > 0 {
		res.UptimeRatio = float64(res.OnlineDays) / float64(res.TotalDays)
	}
	return res, nil
}

// sumSorted adds values in key order so the float result is reproducible.
func sumSorted(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += m[k]
	}
	return total
}

// dayStarts lists the local midnights of every calendar day the window touches.
func dayStarts(w Window, loc *time.Location) []time.Time {
	from := w.From.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	var starts []time.Time
	for day.Before(w.To) {
		starts = append(starts, day)
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return starts
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
