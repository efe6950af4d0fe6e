package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/cost"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/storage"
)

type fakeQuerier struct {
	samples []storage.PowerSample
	err     error
	filter  storage.Filter
}

func (q *fakeQuerier) Query(ctx context.Context, f storage.Filter) ([]storage.PowerSample, error) {
	q.filter = f
	return q.samples, q.err
}

func newEngine(t *testing.T) *cost.Engine {
	t.Helper()
	engine, err := cost.NewEngine(cost.Factors{CO2KgPerKWh: 0.5, CO2KgPerTreeYear: 20, CoalKgPerKWh: 0.4})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func marchSamples() []storage.PowerSample {
	at := func(day, hour int, power, yield float64) storage.PowerSample {
		return storage.PowerSample{
			InverterID:    "inv-1",
			OwnerID:       "owner-1",
			Timestamp:     time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC),
			ACPowerW:      power,
			YieldTodayKWh: yield,
		}
	}
	return []storage.PowerSample{
		at(1, 10, 2000, 4),
		at(1, 16, 1200, 10),
		at(3, 12, 3100, 7.5),
	}
}

func marchRequest() Request {
	return Request{
		OwnerID:       "owner-1",
		Year:          2024,
		Month:         time.March,
		IncludeCharts: true,
		Tariff:        cost.Tariff{PricePerKWh: 0.5, Currency: "usd"},
		Location:      time.UTC,
	}
}

func TestRequestWindowAndLabels(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	req := marchRequest()
	req.Location = loc

	w := req.Window()
	if !w.From.Equal(time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected window start %s", w.From)
	}
	if !w.To.Equal(time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected window end %s", w.To)
	}
	if got := req.Filename(); got != "Solar Report - March 2024.pdf" {
		t.Errorf("Unexpected filename %q", got)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		kind   apperr.Kind
	}{
		{"missing owner", func(r *Request) { r.OwnerID = "" }, apperr.KindValidation},
		{"month zero", func(r *Request) { r.Month = 0 }, apperr.KindValidation},
		{"month thirteen", func(r *Request) { r.Month = 13 }, apperr.KindValidation},
		{"year", func(r *Request) { r.Year = 1999 }, apperr.KindValidation},
		{"negative price", func(r *Request) { r.Tariff.PricePerKWh = -1 }, apperr.KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := marchRequest()
			tt.mutate(&req)
			if err := req.Validate(); !apperr.Is(err, tt.kind) {
				t.Errorf("Expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestComputeAndSummary(t *testing.T) {
	figures, err := Compute(newEngine(t), marchSamples(), marchRequest())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	res := figures.Aggregate
	if res.TotalProductionKWh != 17.5 {
		t.Errorf("Expected 17.5 kWh, got %v", res.TotalProductionKWh)
	}
	if res.TotalDays != 31 || res.OnlineDays != 2 {
		t.Errorf("Expected 2 of 31 days online, got %d of %d", res.OnlineDays, res.TotalDays)
	}

	want := map[string]string{
		"Total production":         "17.50 kWh",
		"Peak power":               "3100.00 W",
		"Average daily production": "8.75 kWh",
		"Best day":                 "2024-03-01 (10.00 kWh)",
		"Uptime":                   "6% (2 of 31 days)",
		"Savings":                  "8.75 USD",
		"CO2 saved":                "8.75 kg",
		"Coal avoided":             "7.00 kg",
	}
	rows := Summary(figures)
	if len(rows) != 9 {
		t.Fatalf("Expected 9 summary rows, got %d", len(rows))
	}
	for _, row := range rows {
		if expected, ok := want[row.Label]; ok && row.Value != expected {
			t.Errorf("%s: expected %q, got %q", row.Label, expected, row.Value)
		}
	}
}

func TestSummaryWithoutSamples(t *testing.T) {
	figures, err := Compute(newEngine(t), nil, marchRequest())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for _, row := range Summary(figures) {
		if row.Label == "Best day" && row.Value != "n/a" {
			t.Errorf("Expected n/a best day, got %q", row.Value)
		}
	}
}

func TestDailyChartIsPNG(t *testing.T) {
	figures, err := Compute(newEngine(t), marchSamples(), marchRequest())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	png, err := DailyChart(figures.Aggregate.Days)
	if err != nil {
		t.Fatalf("DailyChart failed: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("Expected PNG signature")
	}

	if _, err := DailyChart(nil); err == nil {
		t.Error("Expected error for empty day list")
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	req := marchRequest()
	figures, err := Compute(newEngine(t), marchSamples(), req)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	a, err := Compose(req, figures, nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	b, err := Compose(req, figures, nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !bytes.HasPrefix(a, []byte("%PDF-")) {
		t.Error("Expected PDF header")
	}
	if !bytes.Equal(a, b) {
		t.Error("Expected identical documents for identical figures")
	}
}

func runReport(t *testing.T, q *fakeQuerier, req Request) (jobs.Snapshot, *jobs.Coordinator) {
	t.Helper()
	c := jobs.NewCoordinator(jobs.Config{})
	snap, err := c.Start(context.Background(), req.OwnerID, jobs.KindReport, Stages(q, newEngine(t), req))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := c.Wait(ctx, req.OwnerID, snap.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return final, c
}

func TestStagesProducePDF(t *testing.T) {
	q := &fakeQuerier{samples: marchSamples()}
	final, c := runReport(t, q, marchRequest())

	if final.Status != jobs.StatusCompleted {
		t.Fatalf("Expected completed, got %s (%+v)", final.Status, final.Error)
	}
	art, _, err := c.Artifact("owner-1", final.ID)
	if err != nil {
		t.Fatalf("Artifact failed: %v", err)
	}
	if art.MediaType != MediaType || art.Filename != "Solar Report - March 2024.pdf" {
		t.Errorf("Unexpected artifact %s %s", art.MediaType, art.Filename)
	}
	if !bytes.HasPrefix(art.Data, []byte("%PDF-")) {
		t.Error("Expected PDF document")
	}
	if q.filter.OwnerID != "owner-1" || !q.filter.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected query filter %+v", q.filter)
	}
}

func TestStagesFailOnQueryError(t *testing.T) {
	q := &fakeQuerier{err: errors.New("connection reset")}
	final, c := runReport(t, q, marchRequest())

	if final.Status != jobs.StatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
	if final.Error.Kind != apperr.KindStageFailure {
		t.Errorf("Expected stage failure, got %s", final.Error.Kind)
	}
	if final.Progress != 0 {
		t.Errorf("Expected no progress, got %d", final.Progress)
	}
	if _, _, err := c.Artifact("owner-1", final.ID); !apperr.Is(err, apperr.KindInvalidState) {
		t.Errorf("Expected invalid state, got %v", err)
	}
}

func TestStagesFailOnInvalidTariff(t *testing.T) {
	req := marchRequest()
	req.Tariff.Currency = ""
	final, _ := runReport(t, &fakeQuerier{}, req)
	if final.Status != jobs.StatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
}
