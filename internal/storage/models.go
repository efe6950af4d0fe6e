package storage

import (
	"time"

	"gorm.io/datatypes"
)

type InverterStatus string

const (
	StatusOnline  InverterStatus = "online"
	StatusOffline InverterStatus = "offline"
)

// MaxDCChannels is the number of DC inputs a sample may carry.
const MaxDCChannels = 4

type Inverter struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerID      string         `gorm:"index;not null" json:"owner_id"`
	Name         string         `gorm:"not null" json:"name"`
	SerialNumber string         `json:"serial_number,omitempty"`
	GatewayURL   string         `gorm:"not null" json:"gateway_url"`
	Enabled      bool           `gorm:"not null" json:"enabled"`
	Status       InverterStatus `gorm:"type:text;not null;default:offline" json:"status"`
	MaxPowerW    float64        `json:"max_power_w"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type DCChannel struct {
	PowerW   float64 `json:"power_w"`
	VoltageV float64 `json:"voltage_v"`
	CurrentA float64 `json:"current_a"`
}

// PowerSample is one immutable telemetry reading. Timestamps are UTC with second precision.
type PowerSample struct {
	ID            uint                            `gorm:"primaryKey" json:"-"`
	InverterID    string                          `gorm:"uniqueIndex:idx_sample_inverter_ts;size:36;not null" json:"inverter_id"`
	OwnerID       string                          `gorm:"index;not null" json:"owner_id"`
	Timestamp     time.Time                       `gorm:"uniqueIndex:idx_sample_inverter_ts;index;not null" json:"timestamp"`
	ACPowerW      float64                         `json:"ac_power_w"`
	ACVoltageV    float64                         `json:"ac_voltage_v"`
	ACCurrentA    float64                         `json:"ac_current_a"`
	DC            datatypes.JSONType[[]DCChannel] `json:"dc_channels"`
	TemperatureC  float64                         `json:"temperature_c"`
	YieldTodayKWh float64                         `json:"yield_today_kwh"`
	YieldTotalKWh float64                         `json:"yield_total_kwh"`
}

// Channels returns the DC channel triples of the sample.
func (s PowerSample) Channels() []DCChannel {
	return s.DC.Data()
}

// WithChannels returns a copy of s carrying the given DC channels.
func (s PowerSample) WithChannels(channels []DCChannel) PowerSample {
	s.DC = datatypes.NewJSONType(channels)
	return s
}

// CostSettings is the owner-scoped tariff.
type CostSettings struct {
	OwnerID     string    `gorm:"primaryKey" json:"owner_id"`
	PricePerKWh float64   `json:"price_per_kwh"`
	Currency    string    `gorm:"size:3" json:"currency"`
	TaxRate     float64   `json:"tax_rate"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Preferences holds per-owner settings such as the calendar timezone.
type Preferences struct {
	OwnerID   string    `gorm:"primaryKey" json:"owner_id"`
	Timezone  string    `json:"timezone"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the preferred timezone, falling back to fallback.
func (p Preferences) Location(fallback *time.Location) *time.Location {
	if p.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}
