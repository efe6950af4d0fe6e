package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const openMeteoURL = "https://api.open-meteo.com/v1/forecast"

const openMeteoLayout = "2006-01-02T15:04"

// OpenMeteoClient reads current conditions for a fixed coordinate.
type OpenMeteoClient struct {
	baseURL   string
	latitude  float64
	longitude float64
	client    *http.Client
}

func NewOpenMeteoClient(latitude, longitude float64) *OpenMeteoClient {
	return &OpenMeteoClient{
		baseURL:   openMeteoURL,
		latitude:  latitude,
		longitude: longitude,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type openMeteoResponse struct {
	Timezone string `json:"timezone"`
	Current  struct {
		Time          string  `json:"time"`
		WeatherCode   int     `json:"weather_code"`
		CloudCover    float64 `json:"cloud_cover"`
		Precipitation float64 `json:"precipitation"`
		Rain          float64 `json:"rain"`
		Showers       float64 `json:"showers"`
	} `json:"current"`
	Hourly struct {
		Time          []string  `json:"time"`
		Precipitation []float64 `json:"precipitation"`
	} `json:"hourly"`
	Daily struct {
		Time    []string `json:"time"`
		Sunrise []string `json:"sunrise"`
		Sunset  []string `json:"sunset"`
	} `json:"daily"`
}

func (c *OpenMeteoClient) Get(ctx context.Context) (*Data, error) {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.6f", c.latitude))
	query.Set("longitude", fmt.Sprintf("%.6f", c.longitude))
	query.Set("current", "weather_code,cloud_cover,precipitation,rain,showers")
	query.Set("hourly", "precipitation")
	query.Set("daily", "sunrise,sunset")
	query.Set("timezone", "auto")
	query.Set("forecast_days", "1")
	query.Set("past_days", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("open-meteo bad status: %s", resp.Status)
	}

	var payload openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("open-meteo decode: %w", err)
	}
	return payload.toData()
}

func (p openMeteoResponse) toData() (*Data, error) {
	if strings.TrimSpace(p.Current.Time) == "" {
		return nil, fmt.Errorf("open-meteo current data missing")
	}

	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	observed, err := time.ParseInLocation(openMeteoLayout, p.Current.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("open-meteo time %q: %w", p.Current.Time, err)
	}

	rain1h := p.Current.Precipitation
	if rain1h == 0 {
		rain1h = p.Current.Rain + p.Current.Showers
	}

	condition, description := describeWeatherCode(p.Current.WeatherCode)
	sunrise, sunset := sunTimes(observed, loc, p.Daily.Sunrise, p.Daily.Sunset)

	return &Data{
		Provider:    "openmeteo",
		Condition:   condition,
		Description: description,
		Clouds:      int(math.Round(p.Current.CloudCover)),
		Rain1h:      rain1h,
		Rain3h:      precipitationSince(observed.Add(-3*time.Hour), observed, loc, p.Hourly.Time, p.Hourly.Precipitation),
		Sunrise:     sunrise,
		Sunset:      sunset,
		ObservedAt:  observed,
	}, nil
}

// sunTimes picks the sunrise and sunset of the observation's local day.
func sunTimes(observed time.Time, loc *time.Location, sunrises, sunsets []string) (time.Time, time.Time) {
	day := observed.Format("2006-01-02")
	for i := 0; i < len(sunrises) && i < len(sunsets); i++ {
		rise, err1 := time.ParseInLocation(openMeteoLayout, sunrises[i], loc)
		set, err2 := time.ParseInLocation(openMeteoLayout, sunsets[i], loc)
		if err1 != nil || err2 != nil {
			continue
		}
		if rise.Format("2006-01-02") == day {
			return rise, set
		}
	}
	return time.Time{}, time.Time{}
}

// precipitationSince sums hourly values in (from, to].
func precipitationSince(from, to time.Time, loc *time.Location, times []string, values []float64) float64 {
	if len(times) != len(values) {
		return 0
	}
	sum := 0.0
	for i, raw := range times {
		t, err := time.ParseInLocation(openMeteoLayout, raw, loc)
		if err != nil {
			continue
		}
		if t.After(from) && !t.After(to) {
			sum += values[i]
		}
	}
	return sum
}

// describeWeatherCode maps WMO weather codes to a condition and description.
func describeWeatherCode(code int) (string, string) {
	switch code {
	case 0:
		return "Clear", "clear sky"
	case 1:
		return "Clouds", "mainly clear"
	case 2:
		return "Clouds", "partly cloudy"
	case 3:
		return "Clouds", "overcast"
	case 45, 48:
		return "Fog", "fog"
	case 51, 53, 55, 56, 57:
		return "Drizzle", "drizzle"
	case 61, 63, 65, 66, 67:
		return "Rain", "rain"
	case 71, 73, 75, 77:
		return "Snow", "snow"
	case 80, 81, 82:
		return "Rain", "rain showers"
	case 85, 86:
		return "Snow", "snow showers"
	case 95:
		return "Thunderstorm", "thunderstorm"
	case 96, 99:
		return "Thunderstorm", "thunderstorm with hail"
	}
	return "Unknown", "unknown conditions"
}
