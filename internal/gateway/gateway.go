package gateway

import (
	"context"
	"net/url"
	"strings"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/storage"
)

// Gateway is the per-inverter device endpoint: live readings plus control commands.
type Gateway interface {
	Live(ctx context.Context) (*Reading, error)
	Control(ctx context.Context, action Action) error
	SetLimit(ctx context.Context, limit Limit) error
	Close() error
}

type Channel struct {
	Power   float64 `json:"power"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

// Reading is the raw live state reported by a device.
type Reading struct {
	SerialNumber string    `json:"serialNumber,omitempty"`
	ACPower      float64   `json:"acPower"`
	ACVoltage    float64   `json:"acVoltage"`
	ACCurrent    float64   `json:"acCurrent"`
	DCChannels   []Channel `json:"dcChannels"`
	Temperature  float64   `json:"temperature"`
	YieldToday   float64   `json:"yieldToday"`
	YieldTotal   float64   `json:"yieldTotal"`
	State        string    `json:"state,omitempty"`
}

// ToSample normalizes the reading into a canonical sample stamped at now.
func (r *Reading) ToSample(now time.Time) storage.PowerSample {
	channels := make([]storage.DCChannel, 0, len(r.DCChannels))
	for _, ch := range r.DCChannels {
		channels = append(channels, storage.DCChannel{
			PowerW:   ch.Power,
			VoltageV: ch.Voltage,
			CurrentA: ch.Current,
		})
	}
	sample := storage.PowerSample{
		Timestamp:     now.UTC().Truncate(time.Second),
		ACPowerW:      r.ACPower,
		ACVoltageV:    r.ACVoltage,
		ACCurrentA:    r.ACCurrent,
		TemperatureC:  r.Temperature,
		YieldTodayKWh: r.YieldToday,
		YieldTotalKWh: r.YieldTotal,
	}
	return sample.WithChannels(channels)
}

type Action string

const (
	ActionRestart Action = "restart"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

func (a Action) Validate() error {
	switch a {
	case ActionRestart, ActionEnable, ActionDisable:
		return nil
	}
	return apperr.Validation("unknown control action %q", string(a))
}

type LimitKind string

const (
	LimitWatts   LimitKind = "watts"
	LimitPercent LimitKind = "percent"
)

// Limit is a power-limit command.
type Limit struct {
	Kind       LimitKind `json:"kind"`
	Persistent bool      `json:"persistent"`
	Value      float64   `json:"value"`
}

func (l Limit) Validate() error {
	switch l.Kind {
	case LimitPercent:
		if l.Value <= 0 || l.Value > 100 {
			return apperr.Validation("percent limit must be in (0, 100], got %.2f", l.Value)
		}
	case LimitWatts:
		if l.Value <= 0 {
			return apperr.Validation("watts limit must be positive, got %.2f", l.Value)
		}
	default:
		return apperr.Validation("unknown limit kind %q", string(l.Kind))
	}
	return nil
}

// New picks the gateway implementation from the address scheme:
// http(s):// for DTU-style endpoints, modbus://host:port?unit=N for Sungrow Modbus TCP.
func New(address string, timeout time.Duration) (Gateway, error) {
	u, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if isModbus(u) {
		return NewModbusGateway(u, timeout)
	}
	return NewHTTPGateway(address, timeout), nil
}

// ParseAddress checks that address names a host with a supported scheme
// without opening a connection.
func ParseAddress(address string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil || u.Host == "" {
		return nil, apperr.Validation("invalid gateway address %q", address)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "modbus", "modbus+tcp":
		return u, nil
	}
	return nil, apperr.Validation("unsupported gateway scheme %q", u.Scheme)
}

func isModbus(u *url.URL) bool {
	s := strings.ToLower(u.Scheme)
	return s == "modbus" || s == "modbus+tcp"
}
