package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/apperr"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// Serializer encodes a Table. Implementations never touch field selection or row construction.
type Serializer interface {
	MediaType() string
	Extension() string
	Serialize(t Table, meta Meta) ([]byte, error)
}

// Meta carries the export window for serializers that embed it.
type Meta struct {
	From time.Time
	To   time.Time
}

var serializers = map[Format]Serializer{
	FormatCSV:  csvSerializer{},
	FormatXLSX: xlsxSerializer{},
	FormatJSON: jsonSerializer{},
}

func SerializerFor(f Format) (Serializer, error) {
	s, ok := serializers[f]
	if !ok {
		return nil, apperr.Validation("unsupported export format %q", string(f))
	}
	return s, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(aggregator.Round2(v), 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func cellString(c Cell) string {
	switch {
	case c.Empty:
		return ""
	case c.IsTime():
		return formatTime(c.Time)
	default:
		return formatNumber(c.Number)
	}
}

func header(t Table) []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = string(c)
	}
	return h
}

type csvSerializer struct{}

func (csvSerializer) MediaType() string { return "text/csv" }
func (csvSerializer) Extension() string { return "csv" }

// Serialize writes RFC 4180 rows; values containing the delimiter, quotes or
// newlines are quoted by encoding/csv.
func (csvSerializer) Serialize(t Table, _ Meta) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header(t)); err != nil {
		return nil, err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, c := range row {
			record[i] = cellString(c)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}

type jsonSerializer struct{}

func (jsonSerializer) MediaType() string { return "application/json" }
func (jsonSerializer) Extension() string { return "json" }

// Serialize writes {"from","to","columns","rows"} with row keys in column order.
func (jsonSerializer) Serialize(t Table, meta Meta) ([]byte, error) {
	var buf bytes.Buffer
	enc := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}

	buf.WriteString(`{"from":`)
	if err := enc(formatTime(meta.From)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"to":`)
	if err := enc(formatTime(meta.To)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"columns":`)
	if err := enc(header(t)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"rows":[`)
	for r, row := range t.Rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, c := range row {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := enc(string(t.Columns[i])); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			var err error
			switch {
			case c.Empty:
				buf.WriteString("null")
			case c.IsTime():
				err = enc(formatTime(c.Time))
			default:
				buf.WriteString(formatNumber(c.Number))
			}
			if err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteString("]}\n")
	return buf.Bytes(), nil
}

type xlsxSerializer struct{}

const xlsxSheet = "Samples"

func (xlsxSerializer) MediaType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (xlsxSerializer) Extension() string { return "xlsx" }

func (xlsxSerializer) Serialize(t Table, meta Meta) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	// Fixed document properties keep repeated exports byte-identical.
	stamp := formatTime(meta.From)
	if err := f.SetDocProps(&excelize.DocProperties{
		Created:  stamp,
		Modified: stamp,
		Creator:  "solar-telemetry",
		Title:    "Solar export",
	}); err != nil {
		return nil, fmt.Errorf("xlsx properties: %w", err)
	}

	headerRow := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		headerRow[i] = string(c)
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &headerRow); err != nil {
		return nil, fmt.Errorf("xlsx header: %w", err)
	}

	for r, row := range t.Rows {
		values := make([]interface{}, len(row))
		for i, c := range row {
			switch {
			case c.Empty:
				values[i] = nil
			case c.IsTime():
				values[i] = formatTime(c.Time)
			default:
				values[i] = aggregator.Round2(c.Number)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("xlsx row %d: %w", r+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
