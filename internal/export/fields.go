package export

import (
	"fmt"
	"sort"
	"strings"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/storage"
)

type Field string

const (
	FieldTimestamp   Field = "timestamp"
	FieldACPower     Field = "acPower"
	FieldACVoltage   Field = "acVoltage"
	FieldACCurrent   Field = "acCurrent"
	FieldTemperature Field = "temperature"
	FieldYieldToday  Field = "yieldToday"
	FieldYieldTotal  Field = "yieldTotal"
)

// canonicalFields is the fixed column order of every export.
var canonicalFields = buildCanonical()

func buildCanonical() []Field {
	fields := []Field{FieldTimestamp, FieldACPower, FieldACVoltage, FieldACCurrent}
	for i := 1; i <= storage.MaxDCChannels; i++ {
		fields = append(fields,
			dcField(i, "Power"),
			dcField(i, "Voltage"),
			dcField(i, "Current"))
	}
	return append(fields, FieldTemperature, FieldYieldToday, FieldYieldTotal)
}

func dcField(channel int, quantity string) Field {
	return Field(fmt.Sprintf("dc%d%s", channel, quantity))
}

var fieldRank = func() map[Field]int {
	m := make(map[Field]int, len(canonicalFields))
	for i, f := range canonicalFields {
		m[f] = i
	}
	return m
}()

// groups expand shorthand names into their member columns.
var groups = func() map[string][]Field {
	m := map[string][]Field{
		"ac":    {FieldACPower, FieldACVoltage, FieldACCurrent},
		"yield": {FieldYieldToday, FieldYieldTotal},
	}
	for i := 1; i <= storage.MaxDCChannels; i++ {
		m[fmt.Sprintf("dc%d", i)] = []Field{dcField(i, "Power"), dcField(i, "Voltage"), dcField(i, "Current")}
	}
	return m
}()

// AllFields returns every selectable column in canonical order.
func AllFields() []Field {
	return append([]Field(nil), canonicalFields...)
}

// ResolveFields validates a selection and returns it deduplicated in canonical
// order, so the request order never changes the output.
func ResolveFields(selection []string) ([]Field, error) {
	if len(selection) == 0 {
		return nil, apperr.Validation("field selection must not be empty")
	}

	seen := make(map[Field]bool)
	for _, raw := range selection {
		name := strings.TrimSpace(raw)
		if members, ok := groups[name]; ok {
			for _, f := range members {
				seen[f] = true
			}
			continue
		}
		f := Field(name)
		if _, ok := fieldRank[f]; !ok {
			return nil, apperr.Validation("unknown export field %q", raw)
		}
		seen[f] = true
	}

	fields := make([]Field, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fieldRank[fields[i]] < fieldRank[fields[j]] })
	return fields, nil
}
