package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sample = `{
  "timezone": "UTC",
  "current": {"time": "2024-06-01T14:00", "weather_code": 63, "cloud_cover": 92.4, "precipitation": 0, "rain": 1.5, "showers": 0.5},
  "hourly": {
    "time": ["2024-06-01T10:00", "2024-06-01T12:00", "2024-06-01T13:00", "2024-06-01T14:00", "2024-06-01T15:00"],
    "precipitation": [9, 1, 2, 3, 7]
  },
  "daily": {
    "time": ["2024-05-31", "2024-06-01"],
    "sunrise": ["2024-05-31T05:01", "2024-06-01T05:00"],
    "sunset": ["2024-05-31T20:58", "2024-06-01T21:00"]
  }
}`

func TestOpenMeteoGet(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(sample))
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(-23.5, -46.6)
	c.baseURL = srv.URL

	data, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if query == "" {
		t.Fatal("Expected query parameters")
	}
	if data.Condition != "Rain" || data.Clouds != 92 {
		t.Errorf("Unexpected conditions %s / %d", data.Condition, data.Clouds)
	}
	if data.Rain1h != 2 {
		t.Errorf("Expected rain+showers fallback of 2, got %v", data.Rain1h)
	}
	if data.Rain3h != 6 {
		t.Errorf("Expected 6mm over the last 3 hours, got %v", data.Rain3h)
	}
	if !data.Sunrise.Equal(time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected sunrise %s", data.Sunrise)
	}
	if !data.IsDaylight(time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)) {
		t.Error("Expected daylight at 14:00")
	}
	if data.IsDaylight(time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)) {
		t.Error("Expected night at 22:00")
	}
}

func TestOpenMeteoBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenMeteoClient(0, 0)
	c.baseURL = srv.URL
	if _, err := c.Get(context.Background()); err == nil {
		t.Error("Expected error for bad status")
	}
}

func TestExplains(t *testing.T) {
	tests := []struct {
		data *Data
		want string
	}{
		{nil, ""},
		{&Data{Condition: "Thunderstorm"}, "thunderstorm"},
		{&Data{Rain1h: 6}, "heavy rain"},
		{&Data{Rain3h: 4.5}, "rain"},
		{&Data{Clouds: 85}, "overcast"},
		{&Data{Clouds: 55}, "cloudy"},
		{&Data{Condition: "Clear", Clouds: 10}, ""},
	}
	for _, tt := range tests {
		if got := tt.data.Explains(); got != tt.want {
			t.Errorf("Expected %q, got %q for %+v", tt.want, got, tt.data)
		}
	}
}

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) Get(ctx context.Context) (*Data, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Data{Condition: "Clear"}, nil
}

func TestCache(t *testing.T) {
	p := &countingProvider{}
	c := NewCache(p, time.Hour, nil)

	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background()); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if p.calls != 1 {
		t.Errorf("Expected 1 provider call, got %d", p.calls)
	}

	// Expired entry with a failing provider falls back to the cached value.
	c.fetched = time.Now().Add(-2 * time.Hour)
	p.err = errors.New("timeout")
	data, err := c.Get(context.Background())
	if err != nil || data == nil {
		t.Errorf("Expected cached data, got %v %v", data, err)
	}

	empty := NewCache(&countingProvider{err: errors.New("timeout")}, 0, nil)
	if _, err := empty.Get(context.Background()); err == nil {
		t.Error("Expected error without cached data")
	}
}
