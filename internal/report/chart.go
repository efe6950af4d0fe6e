package report

import (
	"bytes"
	"fmt"

	"solar-telemetry/internal/aggregator"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	chartWidth  = 1024
	chartHeight = 420
)

var barColor = drawing.ColorFromHex("f5a623")

// DailyChart renders the per-day production of the month as a PNG bar chart.
func DailyChart(days []aggregator.DayProduction) ([]byte, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("daily chart: no days to plot")
	}

	top := 1.0
	bars := make([]chart.Value, len(days))
	for i, d := range days {
		v := aggregator.Round2(d.ProductionKWh)
		if v > top {
			top = v
		}
		bars[i] = chart.Value{
			Label: d.Start.Format("02"),
			Value: v,
			Style: chart.Style{FillColor: barColor, StrokeColor: barColor},
		}
	}

	graph := chart.BarChart{
		Title:      "Daily production (kWh)",
		Width:      chartWidth,
		Height:     chartHeight,
		BarWidth:   20,
		BarSpacing: 8,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f", f)
				}
				return ""
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("daily chart: %w", err)
	}
	return buf.Bytes(), nil
}
