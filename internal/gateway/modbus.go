package gateway

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"solar-telemetry/internal/apperr"

	"github.com/simonvetter/modbus"
)

const (
	defaultModbusPort = "502"
	defaultModbusUnit = 1
)

// ModbusGateway reads a Sungrow inverter over Modbus TCP.
// The connection is opened lazily and reopened after a failed read.
type ModbusGateway struct {
	mu      sync.Mutex
	client  *modbus.ModbusClient
	url     string
	unitID  uint8
	timeout time.Duration
}

// NewModbusGateway parses modbus://host[:port][?unit=N].
func NewModbusGateway(u *url.URL, timeout time.Duration) (*ModbusGateway, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultModbusPort
	}

	unit := defaultModbusUnit
	if raw := u.Query().Get("unit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 247 {
			return nil, apperr.Validation("invalid modbus unit id %q", raw)
		}
		unit = n
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ModbusGateway{
		url:     "tcp://" + net.JoinHostPort(host, port),
		unitID:  uint8(unit),
		timeout: timeout,
	}, nil
}

func (g *ModbusGateway) connect() error {
	if g.client != nil {
		return nil
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     g.url,
		Timeout: g.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", err)
	}
	if err := client.Open(); err != nil {
		return fmt.Errorf("failed to connect to inverter: %w", err)
	}
	if err := client.SetUnitId(g.unitID); err != nil {
		client.Close()
		return fmt.Errorf("failed to set unit id: %w", err)
	}
	g.client = client
	return nil
}

func (g *ModbusGateway) closeLocked() error {
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *ModbusGateway) readInput(address, quantity uint16) ([]uint16, error) {
	if err := g.connect(); err != nil {
		return nil, err
	}
	regs, err := g.client.ReadRegisters(address, quantity, modbus.INPUT_REGISTER)
	if err != nil {
		g.closeLocked()
		return nil, fmt.Errorf("failed to read input registers at %d: %w", address, err)
	}
	return regs, nil
}

func (g *ModbusGateway) Live(ctx context.Context) (*Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.DeviceUnreachable(err, "modbus gateway %s", g.url)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	regs, err := g.readInput(regBlockStart, regBlockLength)
	if err != nil {
		return nil, apperr.DeviceUnreachable(err, "modbus gateway %s unreachable", g.url)
	}
	reading := decodeBlock(regs)

	serial, err := g.readInput(regSerialNumber, 10)
	if err != nil {
		return nil, apperr.DeviceUnreachable(err, "modbus gateway %s unreachable", g.url)
	}
	reading.SerialNumber = decodeString(serial)

	return reading, nil
}

func (g *ModbusGateway) Control(ctx context.Context, action Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	return apperr.Validation("control is not supported by the modbus gateway")
}

func (g *ModbusGateway) SetLimit(ctx context.Context, limit Limit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	return apperr.Validation("power limit is not supported by the modbus gateway")
}

func (g *ModbusGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeLocked()
}

func blockU16(regs []uint16, address int) uint16 {
	return regs[address-regBlockStart]
}

// blockU32 combines two registers, low word first.
func blockU32(regs []uint16, address int) uint32 {
	i := address - regBlockStart
	return uint32(regs[i]) | uint32(regs[i+1])<<16
}

// decodeBlock maps the live register block onto a Reading.
func decodeBlock(regs []uint16) *Reading {
	if len(regs) < regBlockLength {
		return &Reading{}
	}

	mppt1V := float64(blockU16(regs, regMPPT1Voltage)) * 0.1
	mppt1A := float64(blockU16(regs, regMPPT1Current)) * 0.01
	mppt2V := float64(blockU16(regs, regMPPT2Voltage)) * 0.1
	mppt2A := float64(blockU16(regs, regMPPT2Current)) * 0.01

	return &Reading{
		ACPower:     float64(blockU32(regs, regTotalActivePower)),
		ACVoltage:   float64(blockU16(regs, regPhaseAVoltage)) * 0.1,
		ACCurrent:   float64(blockU16(regs, regPhaseACurrent)) * 0.1,
		Temperature: float64(int16(blockU16(regs, regInsideTemperature))) * 0.1,
		YieldToday:  float64(blockU16(regs, regDailyEnergy)) * 0.1,
		YieldTotal:  float64(blockU32(regs, regTotalEnergy)) * 0.1,
		DCChannels: []Channel{
			{Power: mppt1V * mppt1A, Voltage: mppt1V, Current: mppt1A},
			{Power: mppt2V * mppt2A, Voltage: mppt2V, Current: mppt2A},
		},
		State: runningStateString(blockU16(regs, regRunningState)),
	}
}

func decodeString(regs []uint16) string {
	b := make([]byte, 0, len(regs)*2)
	for _, reg := range regs {
		b = append(b, byte(reg>>8), byte(reg&0xFF))
	}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}
