package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"solar-telemetry/internal/apperr"

	"gorm.io/gorm"
)

// Bounds are the physically plausible ranges a sample must satisfy.
type Bounds struct {
	MaxACPowerW     float64
	MinVoltageV     float64
	MaxVoltageV     float64
	MaxCurrentA     float64
	MinTemperatureC float64
	MaxTemperatureC float64
}

// Filter selects samples by inverter or by owner within the half-open window [From, To).
type Filter struct {
	InverterID string
	OwnerID    string
	From       time.Time
	To         time.Time
}

// SampleStore is the append-only time-series adapter over the database.
// Appends for the same inverter are serialized and strictly timestamp ordered;
// a sample whose timestamp equals the last stored one is rejected.
type SampleStore struct {
	db     *Database
	bounds Bounds

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSampleStore(db *Database, bounds Bounds) *SampleStore {
	return &SampleStore{
		db:     db,
		bounds: bounds,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *SampleStore) inverterLock(inverterID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[inverterID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[inverterID] = l
	}
	return l
}

func (s *SampleStore) Append(ctx context.Context, inverterID string, sample PowerSample) error {
	if inverterID == "" {
		return apperr.Validation("inverter id is required")
	}
	if sample.Timestamp.IsZero() {
		return apperr.Validation("sample timestamp is required")
	}
	if err := s.validate(sample); err != nil {
		return err
	}

	sample.ID = 0
	sample.Timestamp = sample.Timestamp.UTC().Truncate(time.Second)

	lock := s.inverterLock(inverterID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv Inverter
		if err := tx.Where("id = ?", inverterID).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("inverter %s not found", inverterID)
			}
			return fmt.Errorf("failed to load inverter: %w", err)
		}
		sample.InverterID = inv.ID
		sample.OwnerID = inv.OwnerID

		var last PowerSample
		err := tx.Where("inverter_id = ?", inverterID).Order("timestamp desc").First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("failed to load last sample: %w", err)
		case sample.Timestamp.Equal(last.Timestamp.UTC()):
			return apperr.Validation("duplicate sample timestamp %s for inverter %s",
				sample.Timestamp.Format(time.RFC3339), inverterID)
		case sample.Timestamp.Before(last.Timestamp.UTC()):
			return apperr.Validation("sample timestamp %s is older than last stored %s",
				sample.Timestamp.Format(time.RFC3339), last.Timestamp.UTC().Format(time.RFC3339))
		}
		return tx.Create(&sample).Error
	})
}

// DeleteInverter removes the inverter and its samples while holding the
// inverter's append lock, so no sample can land after the delete.
func (s *SampleStore) DeleteInverter(ctx context.Context, ownerID, id string) error {
	lock := s.inverterLock(id)
	lock.Lock()
	defer lock.Unlock()
	return s.db.DeleteInverter(ctx, ownerID, id)
}

func (s *SampleStore) validate(sample PowerSample) error {
	b := s.bounds
	values := []float64{sample.ACPowerW, sample.ACVoltageV, sample.ACCurrentA, sample.TemperatureC,
		sample.YieldTodayKWh, sample.YieldTotalKWh}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.Validation("sample contains a non-finite value")
		}
	}
	if sample.ACPowerW < 0 || sample.ACPowerW > b.MaxACPowerW {
		return apperr.Validation("ac power %.2f W outside [0, %.2f]", sample.ACPowerW, b.MaxACPowerW)
	}
	if err := s.checkVoltage("ac", sample.ACVoltageV); err != nil {
		return err
	}
	if sample.ACCurrentA < 0 || sample.ACCurrentA > b.MaxCurrentA {
		return apperr.Validation("ac current %.2f A outside [0, %.2f]", sample.ACCurrentA, b.MaxCurrentA)
	}
	if sample.TemperatureC < b.MinTemperatureC || sample.TemperatureC > b.MaxTemperatureC {
		return apperr.Validation("temperature %.2f outside [%.2f, %.2f]",
			sample.TemperatureC, b.MinTemperatureC, b.MaxTemperatureC)
	}
	if sample.YieldTodayKWh < 0 || sample.YieldTotalKWh < 0 {
		return apperr.Validation("yield values must not be negative")
	}

	channels := sample.Channels()
	if len(channels) > MaxDCChannels {
		return apperr.Validation("sample has %d dc channels, at most %d allowed", len(channels), MaxDCChannels)
	}
	for i, ch := range channels {
		if math.IsNaN(ch.PowerW) || math.IsNaN(ch.VoltageV) || math.IsNaN(ch.CurrentA) {
			return apperr.Validation("dc channel %d contains a non-finite value", i+1)
		}
		if ch.PowerW < 0 || ch.PowerW > b.MaxACPowerW {
			return apperr.Validation("dc channel %d power %.2f W out of range", i+1, ch.PowerW)
		}
		if err := s.checkVoltage(fmt.Sprintf("dc channel %d", i+1), ch.VoltageV); err != nil {
			return err
		}
		if ch.CurrentA < 0 || ch.CurrentA > b.MaxCurrentA {
			return apperr.Validation("dc channel %d current %.2f A out of range", i+1, ch.CurrentA)
		}
	}
	return nil
}

func (s *SampleStore) checkVoltage(name string, v float64) error {
	if v < s.bounds.MinVoltageV || v > s.bounds.MaxVoltageV {
		return apperr.Validation("%s voltage %.2f V outside [%.2f, %.2f]",
			name, v, s.bounds.MinVoltageV, s.bounds.MaxVoltageV)
	}
	return nil
}

// Query returns samples ordered by timestamp ascending. It never mutates the store.
func (s *SampleStore) Query(ctx context.Context, f Filter) ([]PowerSample, error) {
	if (f.InverterID == "") == (f.OwnerID == "") {
		return nil, apperr.Validation("exactly one of inverter id or owner id is required")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, apperr.Validation("window start must be before window end")
	}

	q := s.db.db.WithContext(ctx).Model(&PowerSample{})
	if f.InverterID != "" {
		q = q.Where("inverter_id = ?", f.InverterID)
	} else {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp < ?", f.To.UTC())
	}

	var samples []PowerSample
	if err := q.Order("timestamp asc, id asc").Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	for i := range samples {
		samples[i].Timestamp = samples[i].Timestamp.UTC()
	}
	return samples, nil
}

func (s *SampleStore) Latest(ctx context.Context, inverterID string) (*PowerSample, error) {
	var sample PowerSample
	err := s.db.db.WithContext(ctx).
		Where("inverter_id = ?", inverterID).
		Order("timestamp desc").
		First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("no samples for inverter %s", inverterID)
	}
	if err != nil {
		return nil, err
	}
	sample.Timestamp = sample.Timestamp.UTC()
	return &sample, nil
}

type powerPoint struct {
	Timestamp time.Time
	ACPowerW  float64
}

// AveragePowerAtTimeOfDay averages AC power over the last `days` days for samples
// falling in the same bucketMinutes-wide time-of-day slot as now (in loc).
func (s *SampleStore) AveragePowerAtTimeOfDay(ctx context.Context, inverterID string, now time.Time, days, bucketMinutes int, loc *time.Location) (float64, int, error) {
	if days <= 0 {
		days = 30
	}
	if bucketMinutes <= 0 {
		bucketMinutes = 30
	}
	if loc == nil {
		loc = time.UTC
	}

	start := now.AddDate(0, 0, -days)

	var points []powerPoint
	result := s.db.db.WithContext(ctx).Model(&PowerSample{}).
		Select("timestamp, ac_power_w").
		Where("inverter_id = ? AND timestamp >= ? AND timestamp <= ?", inverterID, start.UTC(), now.UTC()).
		Find(&points)
	if result.Error != nil {
		return 0, 0, result.Error
	}

	localNow := now.In(loc)
	targetMinutes := localNow.Hour()*60 + localNow.Minute()
	bucketStart := (targetMinutes / bucketMinutes) * bucketMinutes
	bucketEnd := bucketStart + bucketMinutes

	var total float64
	count := 0
	for _, p := range points {
		ts := p.Timestamp.In(loc)
		minutes := ts.Hour()*60 + ts.Minute()
		if minutes >= bucketStart && minutes < bucketEnd {
			total += p.ACPowerW
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return total / float64(count), count, nil
}

// Prune deletes samples older than the cutoff and reports how many were removed.
func (s *SampleStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result := s.db.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&PowerSample{})
	return result.RowsAffected, result.Error
}
