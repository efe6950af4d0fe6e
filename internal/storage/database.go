package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"solar-telemetry/internal/apperr"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// NewDatabase opens the store with the given driver ("sqlite" or "postgres") and migrates the schema.
func NewDatabase(driver, dsn string) (*Database, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, apperr.Configuration("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver != "postgres" {
		// A single connection keeps in-memory databases alive and serializes sqlite writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Inverter{}, &PowerSample{}, &CostSettings{}, &Preferences{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) CreateInverter(ctx context.Context, inv *Inverter) error {
	if strings.TrimSpace(inv.OwnerID) == "" {
		return apperr.Validation("inverter owner is required")
	}
	if strings.TrimSpace(inv.Name) == "" {
		return apperr.Validation("inverter name is required")
	}
	if strings.TrimSpace(inv.GatewayURL) == "" {
		return apperr.Validation("inverter gateway address is required")
	}
	if inv.MaxPowerW < 0 {
		return apperr.Validation("inverter max power must not be negative")
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Status == "" {
		inv.Status = StatusOffline
	}
	return d.db.WithContext(ctx).Create(inv).Error
}

func (d *Database) ListInverters(ctx context.Context, ownerID string) ([]Inverter, error) {
	var inverters []Inverter
	result := d.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name asc, id asc").
		Find(&inverters)
	if result.Error != nil {
		return nil, result.Error
	}
	return inverters, nil
}

func (d *Database) ListEnabledInverters(ctx context.Context) ([]Inverter, error) {
	var inverters []Inverter
	result := d.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id asc").
		Find(&inverters)
	if result.Error != nil {
		return nil, result.Error
	}
	return inverters, nil
}

// GetInverter loads an inverter by id. An empty ownerID skips the ownership check.
func (d *Database) GetInverter(ctx context.Context, ownerID, id string) (*Inverter, error) {
	var inv Inverter
	q := d.db.WithContext(ctx).Where("id = ?", id)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("inverter %s not found", id)
		}
		return nil, err
	}
	return &inv, nil
}

// UpdateInverter applies configuration edits. Status and LastSeen are owned by the poller.
func (d *Database) UpdateInverter(ctx context.Context, inv *Inverter) error {
	if strings.TrimSpace(inv.Name) == "" {
		return apperr.Validation("inverter name is required")
	}
	if strings.TrimSpace(inv.GatewayURL) == "" {
		return apperr.Validation("inverter gateway address is required")
	}
	if inv.MaxPowerW < 0 {
		return apperr.Validation("inverter max power must not be negative")
	}
	result := d.db.WithContext(ctx).Model(&Inverter{}).
		Where("id = ? AND owner_id = ?", inv.ID, inv.OwnerID).
		Updates(map[string]any{
			"name":          inv.Name,
			"serial_number": inv.SerialNumber,
			"gateway_url":   inv.GatewayURL,
			"enabled":       inv.Enabled,
			"max_power_w":   inv.MaxPowerW,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("inverter %s not found", inv.ID)
	}
	return nil
}

// SetInverterStatus records a poller status transition. A nil lastSeen keeps the stored value.
func (d *Database) SetInverterStatus(ctx context.Context, id string, status InverterStatus, lastSeen *time.Time) error {
	updates := map[string]any{"status": status}
	if lastSeen != nil {
		updates["last_seen"] = lastSeen.UTC()
	}
	return d.db.WithContext(ctx).Model(&Inverter{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteInverter removes the inverter and all of its samples in one transaction.
func (d *Database) DeleteInverter(ctx context.Context, ownerID, id string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&Inverter{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("inverter %s not found", id)
		}
		return tx.Where("inverter_id = ?", id).Delete(&PowerSample{}).Error
	})
}

// GetCostSettings returns the owner's tariff, or defaults when none were saved.
func (d *Database) GetCostSettings(ctx context.Context, ownerID string, defaults CostSettings) (*CostSettings, error) {
	var settings CostSettings
	err := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults.OwnerID = ownerID
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveCostSettings validates before writing so invalid input never reaches the stored row.
func (d *Database) SaveCostSettings(ctx context.Context, settings *CostSettings) error {
	if settings.PricePerKWh < 0 {
		return apperr.Configuration("price per kWh must not be negative")
	}
	if settings.TaxRate < 0 {
		return apperr.Configuration("tax rate must not be negative")
	}
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	if len(settings.Currency) != 3 {
		return apperr.Configuration("currency must be a 3-letter code")
	}
	settings.UpdatedAt = time.Now().UTC()
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(settings).Error
}

func (d *Database) GetPreferences(ctx context.Context, ownerID string) (*Preferences, error) {
	var prefs Preferences
	err := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Preferences{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (d *Database) SavePreferences(ctx context.Context, prefs *Preferences) error {
	if _, err := time.LoadLocation(prefs.Timezone); err != nil || prefs.Timezone == "" {
		return apperr.Validation("unknown timezone %q", prefs.Timezone)
	}
	prefs.UpdatedAt = time.Now().UTC()
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(prefs).Error
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
