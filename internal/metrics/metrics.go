// Package metrics holds the prometheus collectors shared by the poller, the job
// coordinator and the HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solar"

type Metrics struct {
	Registry *prometheus.Registry

	PollsTotal      *prometheus.CounterVec
	PollDuration    prometheus.Histogram
	InvertersOnline prometheus.Gauge

	JobsTotal   *prometheus.CounterVec
	JobsRunning *prometheus.GaugeVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "polls_total",
				Help:      "Device polls by result",
			},
			[]string{"result"},
		),
		PollDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "poll_duration_seconds",
				Help:      "Duration of a single device poll",
				Buckets:   prometheus.DefBuckets,
			},
		),
		InvertersOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "inverters_online",
				Help:      "Inverters currently considered online",
			},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Finished export and report jobs by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		JobsRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "running",
				Help:      "Jobs currently running by kind",
			},
			[]string{"kind"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// The helpers below accept a nil receiver so components can run without metrics.

func (m *Metrics) ObservePoll(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(result).Inc()
	m.PollDuration.Observe(d.Seconds())
}

func (m *Metrics) SetInvertersOnline(n int) {
	if m == nil {
		return
	}
	m.InvertersOnline.Set(float64(n))
}

func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.JobsRunning.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind, status string) {
	if m == nil {
		return
	}
	m.JobsRunning.WithLabelValues(kind).Dec()
	m.JobsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
