// Package insight tells whether an inverter's current output is normal for the
// time of day, using its own recent history as the baseline.
package insight

import (
	"context"
	"fmt"
	"time"

	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/weather"

	"go.uber.org/zap"
)

const (
	HistoryDays   = 30
	BucketMinutes = 30
	MinSamples    = 20
	LowRatio      = 0.4
)

type Status string

const (
	StatusNight               Status = "night"
	StatusInsufficientHistory Status = "insufficient_history"
	StatusLowPowerWeather     Status = "low_power_weather"
	StatusLowPowerUnexpected  Status = "low_power_unexpected"
	StatusNormal              Status = "normal"
)

type History interface {
	AveragePowerAtTimeOfDay(ctx context.Context, inverterID string, now time.Time, days, bucketMinutes int, loc *time.Location) (float64, int, error)
}

type Insight struct {
	Status        Status        `json:"status"`
	Message       string        `json:"message"`
	ActualPowerW  float64       `json:"actual_power_w"`
	ExpectedAvgW  float64       `json:"expected_avg_w"`
	Ratio         float64       `json:"ratio"`
	Threshold     float64       `json:"threshold"`
	Samples       int           `json:"samples"`
	WindowDays    int           `json:"window_days"`
	BucketMinutes int           `json:"bucket_minutes"`
	Daylight      bool          `json:"daylight"`
	Weather       *weather.Data `json:"weather,omitempty"`
	WeatherLabel  string        `json:"weather_label,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

type Analyzer struct {
	history History
	weather weather.Provider
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnalyzer builds an analyzer. provider may be nil; daylight then falls back
// to 06:00-18:00 local time.
func NewAnalyzer(history History, provider weather.Provider, logger *zap.Logger) *Analyzer {
	return &Analyzer{history: history, weather: provider, logger: logging.OrNop(logger), now: time.Now}
}

func (a *Analyzer) Evaluate(ctx context.Context, inverterID string, actualPowerW float64, loc *time.Location) (Insight, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := a.now().In(loc)

	avg, samples, err := a.history.AveragePowerAtTimeOfDay(ctx, inverterID, now, HistoryDays, BucketMinutes, loc)
	if err != nil {
		return Insight{}, fmt.Errorf("time of day average: %w", err)
	}

	var data *weather.Data
	if a.weather != nil {
		data, err = a.weather.Get(ctx)
		if err != nil {
			a.logger.Warn("Weather unavailable for insight", zap.String("inverter_id", inverterID), zap.Error(err))
			data = nil
		}
	}

	in := Insight{
		ActualPowerW:  actualPowerW,
		ExpectedAvgW:  avg,
		Threshold:     LowRatio,
		Samples:       samples,
		WindowDays:    HistoryDays,
		BucketMinutes: BucketMinutes,
		Daylight:      isDaylight(now, data),
		Weather:       data,
		Timestamp:     now,
	}

	switch {
	case !in.Daylight:
		in.Status = StatusNight
		in.Message = "Night: comparison disabled"
	case samples < MinSamples || avg <= 0:
		in.Status = StatusInsufficientHistory
		in.Message = "Not enough history to compare"
	default:
		in.Ratio = actualPowerW / avg
		if in.Ratio >= LowRatio {
			in.Status = StatusNormal
			in.Message = "Production within the expected range"
			break
		}
		in.WeatherLabel = data.Explains()
		if in.WeatherLabel != "" {
			in.Status = StatusLowPowerWeather
			in.Message = fmt.Sprintf("Low production consistent with %s", in.WeatherLabel)
		} else {
			in.Status = StatusLowPowerUnexpected
			in.Message = "Low production not explained by the weather"
		}
	}
	return in, nil
}

func isDaylight(now time.Time, data *weather.Data) bool {
	if data != nil && !data.Sunrise.IsZero() {
		return data.IsDaylight(now)
	}
	hour := now.Hour()
	return hour >= 6 && hour < 18
}
