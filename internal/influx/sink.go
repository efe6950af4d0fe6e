package influx

import (
	"context"
	"fmt"

	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/storage"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const measurement = "inverter_sample"

// Sink mirrors every stored sample into an InfluxDB bucket using the async write API.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
}

func NewSink(ctx context.Context, url, token, org, bucket string, logger *zap.Logger) (*Sink, error) {
	logger = logging.OrNop(logger)
	client := influxdb2.NewClient(url, token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB is not healthy: %s", health.Status)
	}

	writeAPI := client.WriteAPI(org, bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("InfluxDB write failed", zap.Error(err))
		}
	}()

	return &Sink{client: client, writeAPI: writeAPI, logger: logger}, nil
}

func (s *Sink) Name() string { return "influx" }

func (s *Sink) Publish(ctx context.Context, inv storage.Inverter, sample storage.PowerSample) error {
	s.writeAPI.WritePoint(samplePoint(inv, sample))
	return nil
}

func (s *Sink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

func samplePoint(inv storage.Inverter, sample storage.PowerSample) *write.Point {
	tags := map[string]string{
		"inverter_id": inv.ID,
		"owner_id":    inv.OwnerID,
	}
	if inv.SerialNumber != "" {
		tags["serial_number"] = inv.SerialNumber
	}

	fields := map[string]interface{}{
		"ac_power_w":      sample.ACPowerW,
		"ac_voltage_v":    sample.ACVoltageV,
		"ac_current_a":    sample.ACCurrentA,
		"temperature_c":   sample.TemperatureC,
		"yield_today_kwh": sample.YieldTodayKWh,
		"yield_total_kwh": sample.YieldTotalKWh,
	}
	for i, ch := range sample.Channels() {
		fields[fmt.Sprintf("dc%d_power_w", i+1)] = ch.PowerW
		fields[fmt.Sprintf("dc%d_voltage_v", i+1)] = ch.VoltageV
		fields[fmt.Sprintf("dc%d_current_a", i+1)] = ch.CurrentA
	}

	return influxdb2.NewPoint(measurement, tags, fields, sample.Timestamp)
}
