// Package export turns sample sets into downloadable artifacts. Field selection
// and row construction produce one Table; format serializers only encode it.
package export

import (
	"context"
	"fmt"
	"time"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/artifact"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/storage"
)

type SampleQuerier interface {
	Query(ctx context.Context, f storage.Filter) ([]storage.PowerSample, error)
}

// Request describes one export. InverterID narrows the owner's samples to a single inverter.
type Request struct {
	OwnerID    string         `json:"owner_id"`
	InverterID string         `json:"inverter_id,omitempty"`
	Fields     []string       `json:"fields"`
	Format     Format         `json:"format"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Location   *time.Location `json:"-"`
}

func (r Request) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Validate checks the request and resolves its columns and serializer.
func (r Request) Validate() ([]Field, Serializer, error) {
	if r.OwnerID == "" {
		return nil, nil, apperr.Validation("export owner is required")
	}
	if err := (aggregator.Window{From: r.From, To: r.To}).Validate(); err != nil {
		return nil, nil, err
	}
	fields, err := ResolveFields(r.Fields)
	if err != nil {
		return nil, nil, err
	}
	ser, err := SerializerFor(r.Format)
	if err != nil {
		return nil, nil, err
	}
	return fields, ser, nil
}

func (r Request) filter() storage.Filter {
	if r.InverterID != "" {
		return storage.Filter{InverterID: r.InverterID, From: r.From, To: r.To}
	}
	return storage.Filter{OwnerID: r.OwnerID, From: r.From, To: r.To}
}

// Filename is solar-export_{first day}_{last day}.{ext} in the request's timezone.
func Filename(from, to time.Time, loc *time.Location, ext string) string {
	last := to.Add(-time.Nanosecond)
	if last.Before(from) {
		last = from
	}
	return fmt.Sprintf("solar-export_%s_%s.%s",
		from.In(loc).Format(aggregator.DateLayout),
		last.In(loc).Format(aggregator.DateLayout),
		ext)
}

// Export serializes samples synchronously. The same inputs always yield the same bytes.
func Export(samples []storage.PowerSample, selection []string, format Format, from, to time.Time, loc *time.Location) (*artifact.Artifact, error) {
	fields, err := ResolveFields(selection)
	if err != nil {
		return nil, err
	}
	ser, err := SerializerFor(format)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return render(BuildTable(samples, fields), ser, from, to, loc)
}

func render(t Table, ser Serializer, from, to time.Time, loc *time.Location) (*artifact.Artifact, error) {
	data, err := ser.Serialize(t, Meta{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return &artifact.Artifact{
		Data:      data,
		MediaType: ser.MediaType(),
		Filename:  Filename(from, to, loc, ser.Extension()),
	}, nil
}

// Stages builds the export job: validating, collecting, building-table, serializing.
func Stages(q SampleQuerier, req Request) jobs.Pipeline {
	var (
		fields  []Field
		ser     Serializer
		samples []storage.PowerSample
		table   Table
		out     *artifact.Artifact
	)

	return jobs.Pipeline{
		Stages: []jobs.Stage{
			{
				Name:     "validating",
				Message:  "Validating export request",
				Progress: 10,
				Run: func(ctx context.Context) error {
					var err error
					fields, ser, err = req.Validate()
					return err
				},
			},
			{
				Name:     "collecting",
				Message:  "Collecting samples",
				Progress: 40,
				Run: func(ctx context.Context) error {
					var err error
					samples, err = q.Query(ctx, req.filter())
					return err
				},
			},
			{
				Name:     "building-table",
				Message:  "Building table",
				Progress: 70,
				Run: func(ctx context.Context) error {
					table = BuildTable(samples, fields)
					samples = nil
					return nil
				},
			},
			{
				Name:     "serializing",
				Message:  fmt.Sprintf("Writing %s file", req.Format),
				Progress: 100,
				Run: func(ctx context.Context) error {
					var err error
					out, err = render(table, ser, req.From, req.To, req.location())
					table = Table{}
					return err
				},
			},
		},
		Result: func() (*artifact.Artifact, error) {
			if out == nil {
				return nil, apperr.InvalidState("export produced no artifact")
			}
			return out, nil
		},
	}
}
