// Package weather fetches current conditions used to explain low production.
package weather

import (
	"context"
	"strings"
	"sync"
	"time"

	"solar-telemetry/internal/logging"

	"go.uber.org/zap"
)

type Provider interface {
	Get(ctx context.Context) (*Data, error)
}

type Data struct {
	Provider    string    `json:"provider"`
	Condition   string    `json:"condition"`
	Description string    `json:"description"`
	Clouds      int       `json:"clouds"`
	Rain1h      float64   `json:"rain_1h,omitempty"`
	Rain3h      float64   `json:"rain_3h,omitempty"`
	Sunrise     time.Time `json:"sunrise"`
	Sunset      time.Time `json:"sunset"`
	ObservedAt  time.Time `json:"observed_at"`
}

// IsDaylight reports whether at falls between sunrise and sunset. Without sun
// times it reports false.
func (d *Data) IsDaylight(at time.Time) bool {
	if d == nil || d.Sunrise.IsZero() || d.Sunset.IsZero() {
		return false
	}
	return at.After(d.Sunrise) && at.Before(d.Sunset)
}

// Explains returns a short label for conditions that reduce production, or ""
// when the sky is clear enough that low output is not explained by weather.
func (d *Data) Explains() string {
	if d == nil {
		return ""
	}

	rain := d.Rain1h
	if d.Rain3h/3 > rain {
		rain = d.Rain3h / 3
	}

	switch {
	case strings.Contains(strings.ToLower(d.Condition), "thunder"):
		return "thunderstorm"
	case rain >= 5:
		return "heavy rain"
	case rain >= 1:
		return "rain"
	case strings.EqualFold(d.Condition, "Snow"):
		return "snow"
	case strings.EqualFold(d.Condition, "Fog"):
		return "fog"
	case d.Clouds >= 80:
		return "overcast"
	case d.Clouds >= 50:
		return "cloudy"
	}
	return ""
}

// Cache serves the last successful reading for ttl and falls back to it when a
// refresh fails.
type Cache struct {
	provider Provider
	ttl      time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	data    *Data
	fetched time.Time
}

func NewCache(provider Provider, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{provider: provider, ttl: ttl, logger: logging.OrNop(logger)}
}

func (c *Cache) Get(ctx context.Context) (*Data, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.data != nil && now.Sub(c.fetched) < c.ttl {
		return c.data, nil
	}

	data, err := c.provider.Get(ctx)
	if err != nil {
		if c.data != nil {
			c.logger.Warn("Weather fetch failed, serving cached data", zap.Error(err))
			return c.data, nil
		}
		return nil, err
	}
	c.data = data
	c.fetched = now
	return data, nil
}
