package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/storage"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
	logger      *zap.Logger

	mu         sync.Mutex
	discovered map[string]bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
	Logger      *zap.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := logging.OrNop(cfg.Logger)
	if !cfg.Enabled {
		return &Publisher{enabled: false, logger: logger}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newPublisher(client, cfg.TopicPrefix, logger), nil
}

func newPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: prefix,
		enabled:     true,
		logger:      logger,
		discovered:  make(map[string]bool),
	}
}

func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) topic(inverterID, name string) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, inverterID, name)
}

// Publish sends one retained JSON status message plus one plain topic per value.
// Home Assistant discovery is announced the first time an inverter is seen.
func (p *Publisher) Publish(ctx context.Context, inv storage.Inverter, sample storage.PowerSample) error {
	if !p.enabled {
		return nil
	}

	p.mu.Lock()
	announce := !p.discovered[inv.ID]
	p.discovered[inv.ID] = true
	p.mu.Unlock()
	if announce {
		if err := p.PublishHomeAssistantDiscovery(inv); err != nil {
			p.logger.Warn("Home Assistant discovery failed", zap.String("inverter_id", inv.ID), zap.Error(err))
		}
	}

	values := map[string]any{
		"power":        sample.ACPowerW,
		"voltage":      sample.ACVoltageV,
		"current":      sample.ACCurrentA,
		"energy_daily": sample.YieldTodayKWh,
		"energy_total": sample.YieldTotalKWh,
		"temperature":  sample.TemperatureC,
	}
	for i, ch := range sample.Channels() {
		values[fmt.Sprintf("dc%d_power", i+1)] = ch.PowerW
		values[fmt.Sprintf("dc%d_voltage", i+1)] = ch.VoltageV
		values[fmt.Sprintf("dc%d_current", i+1)] = ch.CurrentA
	}

	for name, value := range values {
		topic := p.topic(inv.ID, name)
		token := p.client.Publish(topic, 0, false, fmt.Sprintf("%v", value))
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}

	statusJSON, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := p.client.Publish(p.topic(inv.ID, "status"), 0, true, statusJSON)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}
	return nil
}

type discoverySensor struct {
	Name        string
	ID          string
	Unit        string
	DeviceClass string
}

var discoverySensors = []discoverySensor{
	{"Power", "power", "W", "power"},
	{"Voltage", "voltage", "V", "voltage"},
	{"Current", "current", "A", "current"},
	{"Daily Energy", "energy_daily", "kWh", "energy"},
	{"Total Energy", "energy_total", "kWh", "energy"},
	{"Temperature", "temperature", "°C", "temperature"},
}

func (p *Publisher) PublishHomeAssistantDiscovery(inv storage.Inverter) error {
	if !p.enabled {
		return nil
	}

	name := inv.Name
	if name == "" {
		name = inv.ID
	}

	for _, sensor := range discoverySensors {
		discoveryTopic := fmt.Sprintf("homeassistant/sensor/solar_%s/%s/config", inv.ID, sensor.ID)

		config := map[string]any{
			"name":                fmt.Sprintf("%s %s", name, sensor.Name),
			"unique_id":           fmt.Sprintf("solar_%s_%s", inv.ID, sensor.ID),
			"state_topic":         p.topic(inv.ID, sensor.ID),
			"unit_of_measurement": sensor.Unit,
			"device_class":        sensor.DeviceClass,
			"device": map[string]any{
				"identifiers": []string{"solar_" + inv.ID},
				"name":        name,
				"serial":      inv.SerialNumber,
			},
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery: %w", err)
		}
		token := p.client.Publish(discoveryTopic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", sensor.ID, token.Error())
		}
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}
