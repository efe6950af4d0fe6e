package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"solar-telemetry/internal/apperr"
)

var testBounds = Bounds{
	MaxACPowerW:     100000,
	MinVoltageV:     0,
	MaxVoltageV:     1000,
	MaxCurrentA:     200,
	MinTemperatureC: -40,
	MaxTemperatureC: 120,
}

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestInverter(t *testing.T, db *Database, owner string) *Inverter {
	t.Helper()
	inv := &Inverter{OwnerID: owner, Name: "Roof", GatewayURL: "http://10.0.0.5", Enabled: true}
	if err := db.CreateInverter(context.Background(), inv); err != nil {
		t.Fatalf("Failed to create inverter: %v", err)
	}
	return inv
}

func sampleAt(ts time.Time, power float64) PowerSample {
	return PowerSample{
		Timestamp:     ts,
		ACPowerW:      power,
		ACVoltageV:    230,
		ACCurrentA:    power / 230,
		TemperatureC:  35,
		YieldTodayKWh: 1.5,
		YieldTotalKWh: 1200,
	}
}

func TestCreateInverterDefaults(t *testing.T) {
	db := newTestDB(t)
	inv := newTestInverter(t, db, "owner-1")

	if inv.ID == "" {
		t.Fatal("Expected generated inverter id")
	}
	got, err := db.GetInverter(context.Background(), "owner-1", inv.ID)
	if err != nil {
		t.Fatalf("Failed to load inverter: %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("Expected offline status, got %s", got.Status)
	}
	if !got.Enabled {
		t.Error("Expected inverter to be enabled")
	}
}

func TestCreateInverterValidation(t *testing.T) {
	db := newTestDB(t)
	err := db.CreateInverter(context.Background(), &Inverter{OwnerID: "o", GatewayURL: "http://x"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestGetInverterChecksOwner(t *testing.T) {
	db := newTestDB(t)
	inv := newTestInverter(t, db, "owner-1")

	_, err := db.GetInverter(context.Background(), "owner-2", inv.ID)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("Expected not found for foreign owner, got %v", err)
	}
}

func TestUpdateInverter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	inv := newTestInverter(t, db, "owner-1")

	inv.Name = "Garage"
	inv.Enabled = false
	if err := db.UpdateInverter(ctx, inv); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	got, _ := db.GetInverter(ctx, "owner-1", inv.ID)
	if got.Name != "Garage" || got.Enabled {
		t.Errorf("Update not applied: %+v", got)
	}

	enabled, err := db.ListEnabledInverters(ctx)
	if err != nil {
		t.Fatalf("Failed to list enabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("Expected no enabled inverters, got %d", len(enabled))
	}

	missing := &Inverter{ID: "nope", OwnerID: "owner-1", Name: "x", GatewayURL: "http://x"}
	if err := db.UpdateInverter(ctx, missing); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSetInverterStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	inv := newTestInverter(t, db, "owner-1")

	seen := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := db.SetInverterStatus(ctx, inv.ID, StatusOnline, &seen); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}
	if err := db.SetInverterStatus(ctx, inv.ID, StatusOffline, nil); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}

	got, _ := db.GetInverter(ctx, "", inv.ID)
	if got.Status != StatusOffline {
		t.Errorf("Expected offline, got %s", got.Status)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("Expected last seen %s to be kept, got %v", seen, got.LastSeen)
	}
}

func TestDeleteInverterCascadesSamples(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, inv.ID, sampleAt(base.Add(time.Duration(i)*time.Minute), 1000)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if err := db.DeleteInverter(ctx, "owner-1", inv.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	samples, err := store.Query(ctx, Filter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("Expected samples to be deleted, got %d", len(samples))
	}
	if err := db.DeleteInverter(ctx, "owner-1", inv.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}
}

func TestAppendAndQueryOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s := sampleAt(base.Add(time.Duration(i)*time.Minute), float64(100*(i+1)))
		s = s.WithChannels([]DCChannel{{PowerW: 50, VoltageV: 300, CurrentA: 0.2}})
		if err := store.Append(ctx, inv.ID, s); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	samples, err := store.Query(ctx, Filter{
		InverterID: inv.ID,
		From:       base.Add(time.Minute),
		To:         base.Add(4 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples in half-open window, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if !samples[i].Timestamp.After(samples[i-1].Timestamp) {
			t.Errorf("Samples not ascending at %d", i)
		}
	}
	if samples[0].OwnerID != "owner-1" {
		t.Errorf("Expected owner to be stamped, got %q", samples[0].OwnerID)
	}
	if ch := samples[0].Channels(); len(ch) != 1 || ch[0].VoltageV != 300 {
		t.Errorf("Unexpected dc channels %+v", ch)
	}
}

func TestAppendTruncatesToSecond(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	ts := time.Date(2024, 6, 1, 10, 0, 0, 700_000_000, time.FixedZone("X", 3600))
	if err := store.Append(ctx, inv.ID, sampleAt(ts, 500)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	latest, err := store.Latest(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	want := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if !latest.Timestamp.Equal(want) || latest.Timestamp.Location() != time.UTC {
		t.Errorf("Expected %s, got %s", want, latest.Timestamp)
	}
}

func TestAppendRejectsDuplicateTimestamp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Append(ctx, inv.ID, sampleAt(ts, 500)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	err := store.Append(ctx, inv.ID, sampleAt(ts, 900))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Expected validation error for duplicate, got %v", err)
	}

	samples, _ := store.Query(ctx, Filter{InverterID: inv.ID})
	if len(samples) != 1 || samples[0].ACPowerW != 500 {
		t.Errorf("Expected original sample kept, got %+v", samples)
	}
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Append(ctx, inv.ID, sampleAt(ts, 500)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	err := store.Append(ctx, inv.ID, sampleAt(ts.Add(-time.Minute), 500))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestAppendValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*PowerSample)
	}{
		{"missing timestamp", func(s *PowerSample) { s.Timestamp = time.Time{} }},
		{"negative power", func(s *PowerSample) { s.ACPowerW = -1 }},
		{"power above max", func(s *PowerSample) { s.ACPowerW = 200000 }},
		{"voltage above max", func(s *PowerSample) { s.ACVoltageV = 1200 }},
		{"negative current", func(s *PowerSample) { s.ACCurrentA = -0.5 }},
		{"temperature too hot", func(s *PowerSample) { s.TemperatureC = 150 }},
		{"negative yield", func(s *PowerSample) { s.YieldTodayKWh = -1 }},
		{"too many channels", func(s *PowerSample) {
			*s = s.WithChannels(make([]DCChannel, MaxDCChannels+1))
		}},
		{"dc voltage above max", func(s *PowerSample) {
			*s = s.WithChannels([]DCChannel{{VoltageV: 1500}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleAt(ts, 500)
			tt.mutate(&s)
			if err := store.Append(ctx, inv.ID, s); !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	samples, _ := store.Query(ctx, Filter{InverterID: inv.ID})
	if len(samples) != 0 {
		t.Errorf("Expected nothing stored, got %d", len(samples))
	}
}

func TestAppendUnknownInverter(t *testing.T) {
	store := NewSampleStore(newTestDB(t), testBounds)
	err := store.Append(context.Background(), "missing", sampleAt(time.Now(), 10))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
}

func TestQueryRequiresExactlyOneScope(t *testing.T) {
	store := NewSampleStore(newTestDB(t), testBounds)
	ctx := context.Background()

	if _, err := store.Query(ctx, Filter{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error for empty filter, got %v", err)
	}
	if _, err := store.Query(ctx, Filter{InverterID: "a", OwnerID: "b"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error for both ids, got %v", err)
	}
}

func TestConcurrentAppendsAndReads(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := store.Append(ctx, inv.ID, sampleAt(base.Add(time.Duration(i)*time.Second), 100)); err != nil {
				t.Errorf("Append %d failed: %v", i, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			samples, err := store.Query(ctx, Filter{InverterID: inv.ID})
			if err != nil {
				t.Errorf("Query failed: %v", err)
				return
			}
			for j, s := range samples {
				want := base.Add(time.Duration(j) * time.Second)
				if !s.Timestamp.Equal(want) {
					t.Errorf("Expected contiguous prefix, sample %d at %s", j, s.Timestamp)
					return
				}
			}
		}
	}()
	wg.Wait()
}

func TestDeleteRacingAppendsLeavesNoOrphans(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for round := 0; round < 10; round++ {
		inv := newTestInverter(t, db, "owner-1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				err := store.Append(ctx, inv.ID, sampleAt(base.Add(time.Duration(i)*time.Second), 100))
				if apperr.Is(err, apperr.KindNotFound) {
					return
				}
				if err != nil {
					t.Errorf("Append %d failed: %v", i, err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			if err := store.DeleteInverter(ctx, "owner-1", inv.ID); err != nil {
				t.Errorf("Delete failed: %v", err)
			}
		}()
		wg.Wait()

		samples, err := store.Query(ctx, Filter{OwnerID: "owner-1"})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(samples) != 0 {
			t.Fatalf("Round %d: expected no samples after delete, got %d", round, len(samples))
		}
	}
}

func TestAveragePowerAtTimeOfDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	now := time.Date(2024, 6, 10, 12, 10, 0, 0, time.UTC)
	for d := 5; d >= 1; d-- {
		day := now.AddDate(0, 0, -d)
		in := time.Date(day.Year(), day.Month(), day.Day(), 12, 5, 0, 0, time.UTC)
		out := time.Date(day.Year(), day.Month(), day.Day(), 15, 0, 0, 0, time.UTC)
		if err := store.Append(ctx, inv.ID, sampleAt(in, 2000)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := store.Append(ctx, inv.ID, sampleAt(out, 9000)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	avg, count, err := store.AveragePowerAtTimeOfDay(ctx, inv.ID, now, 30, 30, time.UTC)
	if err != nil {
		t.Fatalf("Average failed: %v", err)
	}
	if count != 5 || avg != 2000 {
		t.Errorf("Expected 5 samples averaging 2000, got %d / %.1f", count, avg)
	}
}

func TestPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewSampleStore(db, testBounds)
	inv := newTestInverter(t, db, "owner-1")

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	_ = store.Append(ctx, inv.ID, sampleAt(old, 10))
	_ = store.Append(ctx, inv.ID, sampleAt(recent, 10))

	removed, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 pruned sample, got %d", removed)
	}
}

func TestCostSettingsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	defaults := CostSettings{PricePerKWh: 0.1, Currency: "USD"}

	got, err := db.GetCostSettings(ctx, "owner-1", defaults)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PricePerKWh != 0.1 || got.OwnerID != "owner-1" {
		t.Errorf("Expected defaults, got %+v", got)
	}

	if err := db.SaveCostSettings(ctx, &CostSettings{OwnerID: "owner-1", PricePerKWh: 0.25, Currency: "eur", TaxRate: 0.2}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := db.SaveCostSettings(ctx, &CostSettings{OwnerID: "owner-1", PricePerKWh: 0.3, Currency: "EUR"}); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, _ = db.GetCostSettings(ctx, "owner-1", defaults)
	if got.PricePerKWh != 0.3 || got.Currency != "EUR" || got.TaxRate != 0 {
		t.Errorf("Unexpected settings %+v", got)
	}
}

func TestSaveCostSettingsRejectsNegativePrice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_ = db.SaveCostSettings(ctx, &CostSettings{OwnerID: "owner-1", PricePerKWh: 0.25, Currency: "USD"})

	err := db.SaveCostSettings(ctx, &CostSettings{OwnerID: "owner-1", PricePerKWh: -1, Currency: "USD"})
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}

	got, _ := db.GetCostSettings(ctx, "owner-1", CostSettings{})
	if got.PricePerKWh != 0.25 {
		t.Errorf("Expected stored settings untouched, got %+v", got)
	}
}

func TestPreferences(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SavePreferences(ctx, &Preferences{OwnerID: "o", Timezone: "Mars/Olympus"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if err := db.SavePreferences(ctx, &Preferences{OwnerID: "o", Timezone: "Europe/Berlin"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	prefs, err := db.GetPreferences(ctx, "o")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loc := prefs.Location(time.UTC); loc.String() != "Europe/Berlin" {
		t.Errorf("Expected Europe/Berlin, got %s", loc)
	}

	empty, _ := db.GetPreferences(ctx, "other")
	if empty.Location(time.UTC) != time.UTC {
		t.Error("Expected fallback location")
	}
}
