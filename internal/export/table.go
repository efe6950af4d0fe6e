package export

import (
	"time"

	"solar-telemetry/internal/storage"
)

// Cell is a single table value. Exactly one of Time or Number is meaningful
// unless Empty is set.
type Cell struct {
	Time   time.Time
	Number float64
	Empty  bool
}

func (c Cell) IsTime() bool { return !c.Time.IsZero() }

// Table is the format-independent representation every serializer consumes.
type Table struct {
	Columns []Field
	Rows    [][]Cell
}

// BuildTable projects samples onto the columns, keeping input order.
func BuildTable(samples []storage.PowerSample, columns []Field) Table {
	t := Table{Columns: columns, Rows: make([][]Cell, 0, len(samples))}
	for _, s := range samples {
		channels := s.Channels()
		row := make([]Cell, len(columns))
		for i, col := range columns {
			row[i] = cellFor(s, channels, col)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func cellFor(s storage.PowerSample, channels []storage.DCChannel, col Field) Cell {
	switch col {
	case FieldTimestamp:
		return Cell{Time: s.Timestamp.UTC()}
	case FieldACPower:
		return Cell{Number: s.ACPowerW}
	case FieldACVoltage:
		return Cell{Number: s.ACVoltageV}
	case FieldACCurrent:
		return Cell{Number: s.ACCurrentA}
	case FieldTemperature:
		return Cell{Number: s.TemperatureC}
	case FieldYieldToday:
		return Cell{Number: s.YieldTodayKWh}
	case FieldYieldTotal:
		return Cell{Number: s.YieldTotalKWh}
	}

	for i := 1; i <= storage.MaxDCChannels; i++ {
		if i > len(channels) {
			return Cell{Empty: true}
		}
		ch := channels[i-1]
		switch col {
		case dcField(i, "Power"):
			return Cell{Number: ch.PowerW}
		case dcField(i, "Voltage"):
			return Cell{Number: ch.VoltageV}
		case dcField(i, "Current"):
			return Cell{Number: ch.CurrentA}
		}
	}
	return Cell{Empty: true}
}
