package aggregator

import (
	"testing"
	"time"
	_ "time/tzdata"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/storage"
)

func TestSeriesDaily(t *testing.T) {
	samples := []storage.PowerSample{
		sample("inv", day(1, 10), 1000, 3),
		sample("inv", day(1, 14), 3000, 10),
		sample("inv", day(3, 12), 2000, 7),
	}
	w := Window{From: day(1, 0), To: day(4, 0), Granularity: Day}

	points, err := Series(samples, w, time.UTC)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("Expected 3 daily points, got %d", len(points))
	}
	if points[0].Label != "2024-03-01" || !near(points[0].ProductionKWh, 10) {
		t.Errorf("Unexpected first point %+v", points[0])
	}
	if !near(points[0].AverageACPowerW, 2000) || points[0].PeakACPowerW != 3000 {
		t.Errorf("Unexpected power stats %+v", points[0])
	}
	if points[1].Samples != 0 || points[1].ProductionKWh != 0 {
		t.Errorf("Expected empty middle day, got %+v", points[1])
	}
	if !near(points[2].ProductionKWh, 7) {
		t.Errorf("Unexpected last point %+v", points[2])
	}
}

func TestSeriesHourlyAttributesYieldGrowth(t *testing.T) {
	samples := []storage.PowerSample{
		sample("inv", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 1000, 1),
		sample("inv", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), 2000, 2),
		sample("inv", time.Date(2024, 3, 1, 11, 15, 0, 0, time.UTC), 3000, 4.5),
	}
	w := Window{From: day(1, 10), To: day(1, 13), Granularity: Hour}

	points, err := Series(samples, w, time.UTC)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("Expected 3 hourly points, got %d", len(points))
	}
	if !near(points[0].ProductionKWh, 2) || !near(points[1].ProductionKWh, 2.5) || points[2].ProductionKWh != 0 {
		t.Errorf("Unexpected hourly production %v %v %v",
			points[0].ProductionKWh, points[1].ProductionKWh, points[2].ProductionKWh)
	}
	if !near(points[0].AverageACPowerW, 1500) || points[0].PeakACPowerW != 2000 {
		t.Errorf("Unexpected hourly power %+v", points[0])
	}
	if points[1].Label != "2024-03-01 11:00" {
		t.Errorf("Unexpected label %s", points[1].Label)
	}
}

func TestSeriesHourlyKeepsRepeatedHourOnFallBack(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	// 05:30Z is 01:30 EDT and 06:30Z is 01:30 EST on 2024-11-03.
	samples := []storage.PowerSample{
		sample("inv", time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), 100, 1),
		sample("inv", time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC), 300, 2),
	}
	w := Window{
		From:        time.Date(2024, 11, 3, 4, 0, 0, 0, time.UTC),
		To:          time.Date(2024, 11, 3, 8, 0, 0, 0, time.UTC),
		Granularity: Hour,
	}

	points, err := Series(samples, w, loc)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("Expected 4 hourly points, got %d", len(points))
	}
	first, second := points[1], points[2]
	if !first.Start.Equal(time.Date(2024, 11, 3, 5, 0, 0, 0, time.UTC)) || !second.Start.Equal(time.Date(2024, 11, 3, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("Unexpected bucket starts %s %s", first.Start, second.Start)
	}
	if first.Samples != 1 || first.PeakACPowerW != 100 || !near(first.ProductionKWh, 1) {
		t.Errorf("Unexpected first 01:00 bucket %+v", first)
	}
	if second.Samples != 1 || second.PeakACPowerW != 300 || !near(second.ProductionKWh, 1) {
		t.Errorf("Unexpected second 01:00 bucket %+v", second)
	}
}

func TestSeriesMonthlySumsDays(t *testing.T) {
	samples := []storage.PowerSample{
		sample("inv", time.Date(2024, 1, 30, 12, 0, 0, 0, time.UTC), 100, 10),
		sample("inv", time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC), 100, 12),
		sample("inv", time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), 100, 5),
	}
	w := Window{
		From:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Granularity: Month,
	}

	points, err := Series(samples, w, time.UTC)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Expected 2 monthly points, got %d", len(points))
	}
	if points[0].Label != "2024-01" || !near(points[0].ProductionKWh, 22) {
		t.Errorf("Unexpected January %+v", points[0])
	}
	if !near(points[1].ProductionKWh, 5) {
		t.Errorf("Unexpected February %+v", points[1])
	}
}

func TestSeriesRejectsUnknownGranularity(t *testing.T) {
	_, err := Series(nil, Window{From: day(1, 0), To: day(2, 0), Granularity: "week"}, time.UTC)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}
