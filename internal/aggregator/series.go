package aggregator

import (
	"time"

	"solar-telemetry/internal/storage"
)

// Point is one bucket of a time series.
type Point struct {
	Start           time.Time `json:"start"`
	Label           string    `json:"label"`
	ProductionKWh   float64   `json:"production_kwh"`
	PeakACPowerW    float64   `json:"peak_ac_power_w"`
	AverageACPowerW float64   `json:"average_ac_power_w"`
	Samples         int       `json:"samples"`
}

// Series buckets the window by its granularity in loc. Hourly production is the
// growth of each inverter's cumulative yield within the hour; daily and monthly
// production come from the per-day figures of Aggregate.
func Series(samples []storage.PowerSample, w Window, loc *time.Location) ([]Point, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	g, err := ParseGranularity(string(w.Granularity))
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	starts := bucketStarts(w, g, loc)
	points := make([]Point, len(starts))
	index := make(map[int64]int, len(starts))
	for i, start := range starts {
		points[i] = Point{Start: start, Label: label(start, g)}
		index[start.Unix()] = i
	}

	sums := make([]float64, len(starts))
	for _, s := range samples {
		if !w.contains(s.Timestamp) {
			continue
		}
		i, ok := index[bucketStart(s.Timestamp.In(loc), g).Unix()]
		if !ok {
			continue
		}
		p := &points[i]
		p.Samples++
		sums[i] += s.ACPowerW
		if s.ACPowerW > p.PeakACPowerW {
			p.PeakACPowerW = s.ACPowerW
		}
	}
	for i := range points {
		if points[i].Samples > 0 {
			points[i].AverageACPowerW = sums[i] / float64(points[i].Samples)
		}
	}

	if g == Hour {
		hourlyProduction(samples, w, loc, points, index)
		return points, nil
	}

	res, err := Aggregate(samples, w, loc)
	if err != nil {
		return nil, err
	}
	for _, day := range res.Days {
		if i, ok := index[bucketStart(day.Start, g).Unix()]; ok {
			points[i].ProductionKWh += day.ProductionKWh
		}
	}
	return points, nil
}

// hourlyProduction attributes yield growth to hours. Each inverter's counter
// restarts from zero at the local day boundary.
func hourlyProduction(samples []storage.PowerSample, w Window, loc *time.Location, points []Point, index map[int64]int) {
	type state struct {
		day   string
		yield float64
	}
	last := make(map[string]state)

	for _, s := range samples {
		if !w.contains(s.Timestamp) {
			continue
		}
		local := s.Timestamp.In(loc)
		day := local.Format(DateLayout)

		prev, ok := last[s.InverterID]
		if !ok || prev.day != day {
			prev = state{day: day}
		}
		if s.YieldTodayKWh > prev.yield {
			if i, ok := index[bucketStart(local, Hour).Unix()]; ok {
				points[i].ProductionKWh += s.YieldTodayKWh - prev.yield
			}
			prev.yield = s.YieldTodayKWh
		}
		last[s.InverterID] = prev
	}
}

func bucketStart(t time.Time, g Granularity) time.Time {
	switch g {
	case Hour:
		// Derived from the instant so the repeated hour of a DST fall-back keeps its own bucket.
		return t.Add(-time.Duration(t.Minute())*time.Minute - time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

func bucketStarts(w Window, g Granularity, loc *time.Location) []time.Time {
	var starts []time.Time
	for b := bucketStart(w.From.In(loc), g); b.Before(w.To); b = nextBucket(b, g) {
		starts = append(starts, b)
	}
	return starts
}

func nextBucket(t time.Time, g Granularity) time.Time {
	switch g {
	case Hour:
		return t.Add(time.Hour)
	case Month:
		return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
	}
}

func label(t time.Time, g Granularity) string {
	switch g {
	case Hour:
		return t.Format("2006-01-02 15:00")
	case Month:
		return t.Format("2006-01")
	default:
		return t.Format(DateLayout)
	}
}
