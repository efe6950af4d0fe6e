package report

import (
	"bytes"
	"fmt"

	"solar-telemetry/internal/aggregator"

	"github.com/go-pdf/fpdf"
)

const chartImage = "daily-production"

// SummaryRow is one label/value line of the report's summary table.
type SummaryRow struct {
	Label string
	Value string
}

// Summary formats the figures at presentation precision.
func Summary(f Figures) []SummaryRow {
	res := f.Aggregate

	best := "n/a"
	if res.BestDay != nil {
		best = fmt.Sprintf("%s (%.2f kWh)", res.BestDay.Date, aggregator.Round2(res.BestDay.ProductionKWh))
	}

	return []SummaryRow{
		{"Total production", fmt.Sprintf("%.2f kWh", aggregator.Round2(res.TotalProductionKWh))},
		{"Peak power", fmt.Sprintf("%.2f W", aggregator.Round2(res.PeakACPowerW))},
		{"Average daily production", fmt.Sprintf("%.2f kWh", aggregator.Round2(res.AverageDailyKWh))},
		{"Best day", best},
		{"Uptime", fmt.Sprintf("%.0f%% (%d of %d days)", res.UptimeRatio*100, res.OnlineDays, res.TotalDays)},
		{"Savings", fmt.Sprintf("%.2f %s", f.Savings.Rounded(), f.Savings.Currency)},
		{"CO2 saved", fmt.Sprintf("%.2f kg", aggregator.Round2(f.Impact.CO2SavedKg))},
		{"Trees equivalent", fmt.Sprintf("%.2f", aggregator.Round2(f.Impact.TreesEquivalent))},
		{"Coal avoided", fmt.Sprintf("%.2f kg", aggregator.Round2(f.Impact.CoalAvoidedKg))},
	}
}

// Compose lays out the PDF. Document dates are pinned to the period start so
// the same figures always produce the same bytes.
func Compose(req Request, f Figures, chartPNG []byte) ([]byte, error) {
	title := req.Title
	if title == "" {
		title = "Solar Report"
	}
	scope := req.Scope
	if scope == "" {
		scope = "All inverters"
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	stamp := req.Window().From
	pdf.SetCreationDate(stamp)
	pdf.SetModificationDate(stamp)
	pdf.SetCatalogSort(true)
	pdf.SetCreator("solar-telemetry", true)
	pdf.SetTitle(fmt.Sprintf("%s - %s", title, req.PeriodLabel()), true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 6, fmt.Sprintf("%s - page %d", req.PeriodLabel(), pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 8, tr(req.PeriodLabel()), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 6, tr("Scope: "+scope), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Timezone: "+req.location().String()), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFillColor(245, 245, 245)
	for i, row := range Summary(f) {
		fill := i%2 == 0
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(90, 8, tr(row.Label), "1", 0, "L", fill, 0, "")
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(90, 8, tr(row.Value), "1", 1, "R", fill, 0, "")
	}

	if len(chartPNG) > 0 {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Daily production", "", 1, "L", false, 0, "")
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(chartImage, opts, bytes.NewReader(chartPNG))
		pdf.ImageOptions(chartImage, pdf.GetX(), pdf.GetY(), 180, 0, true, opts, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("compose pdf: %w", err)
	}
	return buf.Bytes(), nil
}
