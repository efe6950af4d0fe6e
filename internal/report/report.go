// Package report builds the monthly PDF production report as a staged job.
package report

import (
	"context"
	"fmt"
	"time"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/artifact"
	"solar-telemetry/internal/cost"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/storage"
)

const MediaType = "application/pdf"

type SampleQuerier interface {
	Query(ctx context.Context, f storage.Filter) ([]storage.PowerSample, error)
}

// Request describes one monthly report. Tariff and Location are resolved from
// the owner's settings by the caller.
type Request struct {
	OwnerID       string         `json:"owner_id"`
	InverterID    string         `json:"inverter_id,omitempty"`
	Scope         string         `json:"scope,omitempty"`
	Year          int            `json:"year"`
	Month         time.Month     `json:"month"`
	Title         string         `json:"-"`
	IncludeCharts bool           `json:"include_charts"`
	Tariff        cost.Tariff    `json:"-"`
	Location      *time.Location `json:"-"`
}

func (r Request) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Request) Validate() error {
	if r.OwnerID == "" {
		return apperr.Validation("report owner is required")
	}
	if r.Month < time.January || r.Month > time.December {
		return apperr.Validation("report month must be between 1 and 12")
	}
	if r.Year < 2000 || r.Year > 9999 {
		return apperr.Validation("report year %d is out of range", r.Year)
	}
	return r.Tariff.Validate()
}

// Window is the calendar month in the request's timezone.
func (r Request) Window() aggregator.Window {
	from := time.Date(r.Year, r.Month, 1, 0, 0, 0, 0, r.location())
	return aggregator.Window{From: from, To: from.AddDate(0, 1, 0), Granularity: aggregator.Day}
}

// PeriodLabel is "{Month} {Year}".
func (r Request) PeriodLabel() string {
	return fmt.Sprintf("%s %d", r.Month, r.Year)
}

func (r Request) Filename() string {
	return fmt.Sprintf("Solar Report - %s.pdf", r.PeriodLabel())
}

func (r Request) filter() storage.Filter {
	w := r.Window()
	if r.InverterID != "" {
		return storage.Filter{InverterID: r.InverterID, From: w.From, To: w.To}
	}
	return storage.Filter{OwnerID: r.OwnerID, From: w.From, To: w.To}
}

// Figures are the computed values a report presents.
type Figures struct {
	Aggregate aggregator.Result
	Savings   cost.Cost
	Impact    cost.Impact
}

// Stages builds the report job: collecting, aggregating, rendering-charts and
// composing-document.
func Stages(q SampleQuerier, engine *cost.Engine, req Request) jobs.Pipeline {
	var (
		samples []storage.PowerSample
		figures Figures
		chart   []byte
		out     *artifact.Artifact
	)

	return jobs.Pipeline{
		Stages: []jobs.Stage{
			{
				Name:     "collecting",
				Message:  "Collecting samples",
				Progress: 25,
				Run: func(ctx context.Context) error {
					if err := req.Validate(); err != nil {
						return err
					}
					var err error
					samples, err = q.Query(ctx, req.filter())
					return err
				},
			},
			{
				Name:     "aggregating",
				Message:  "Aggregating production",
				Progress: 50,
				Run: func(ctx context.Context) error {
					var err error
					figures, err = Compute(engine, samples, req)
					samples = nil
					return err
				},
			},
			{
				Name:     "rendering-charts",
				Message:  "Rendering charts",
				Progress: 75,
				Run: func(ctx context.Context) error {
					if !req.IncludeCharts {
						return nil
					}
					var err error
					chart, err = DailyChart(figures.Aggregate.Days)
					return err
				},
			},
			{
				Name:     "composing-document",
				Message:  "Composing PDF document",
				Progress: 100,
				Run: func(ctx context.Context) error {
					data, err := Compose(req, figures, chart)
					if err != nil {
						return err
					}
					out = &artifact.Artifact{Data: data, MediaType: MediaType, Filename: req.Filename()}
					return nil
				},
			},
		},
		Result: func() (*artifact.Artifact, error) {
			if out == nil {
				return nil, apperr.InvalidState("report produced no document")
			}
			return out, nil
		},
	}
}

// Compute aggregates the month and derives savings and impact.
func Compute(engine *cost.Engine, samples []storage.PowerSample, req Request) (Figures, error) {
	res, err := aggregator.Aggregate(samples, req.Window(), req.location())
	if err != nil {
		return Figures{}, err
	}
	savings, err := engine.Costs(res, req.Tariff)
	if err != nil {
		return Figures{}, err
	}
	return Figures{
		Aggregate: res,
		Savings:   savings,
		Impact:    engine.EnvironmentalImpact(res.TotalProductionKWh),
	}, nil
}
