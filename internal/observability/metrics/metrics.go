// Package metrics exposes routine cycle metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "routined"

type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal   *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	nextRun       *prometheus.GaugeVec
	running       prometheus.Gauge
	eventsDropped prometheus.Gauge
}

// New creates the routine metrics on a private registry that also carries
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routine_cycles_total",
				Help:      "Routine cycles by outcome",
			},
			[]string{"routine", "status"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "routine_cycle_duration_seconds",
				Help:      "Duration of a single routine action",
				Buckets:   []float64{.01, .1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"routine"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routine_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful cycle",
			},
			[]string{"routine"},
		),
		nextRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routine_next_run_timestamp_seconds",
				Help:      "Unix time the routine is next due",
			},
			[]string{"routine"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routines_running",
				Help:      "Number of routine runners currently looping",
			},
		),
		eventsDropped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "events_dropped",
				Help:      "Events dropped by slow bus subscribers",
			},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cyclesTotal,
		m.cycleDuration,
		m.lastSuccess,
		m.nextRun,
		m.running,
		m.eventsDropped,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordCycle(routine string, ok bool, took time.Duration, finished, next time.Time) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.cyclesTotal.WithLabelValues(routine, status).Inc()
	m.cycleDuration.WithLabelValues(routine).Observe(took.Seconds())
	if ok {
		m.lastSuccess.WithLabelValues(routine).Set(float64(finished.Unix()))
	}
	if !next.IsZero() {
		m.nextRun.WithLabelValues(routine).Set(float64(next.Unix()))
	}
}

func (m *Metrics) RoutineStarted() { m.running.Inc() }

func (m *Metrics) RoutineStopped() { m.running.Dec() }

func (m *Metrics) SetEventsDropped(n uint64) { m.eventsDropped.Set(float64(n)) }
