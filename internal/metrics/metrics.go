// Package metrics defines the Prometheus metrics exported by the
// backend. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kms"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

type Metrics struct {
	Flips          *prometheus.CounterVec
	FlipRestarts   *prometheus.CounterVec
	CursorRestores *prometheus.CounterVec
	SurfacesPurged prometheus.Counter
	Surfaces       prometheus.Gauge
}

// New creates and registers the backend metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Flips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flips_total",
			Help:      "Page flips requested by surfaces, by result.",
		}, []string{"result"}),
		FlipRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flip_restarts_total",
			Help:      "Page flips reissued after a session activation, by result.",
		}, []string{"result"}),
		CursorRestores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_restores_total",
			Help:      "Cursor images restored after a session activation, by the call that succeeded.",
		}, []string{"path"}),
		SurfacesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surfaces_purged_total",
			Help:      "Stale surface registry entries removed.",
		}),
		Surfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "surfaces",
			Help:      "Live surfaces.",
		}),
	}

	reg.MustRegister(m.Flips, m.FlipRestarts, m.CursorRestores, m.SurfacesPurged, m.Surfaces)
	return m
}

func (m *Metrics) Flip(result string) {
	if m != nil {
		m.Flips.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) FlipRestart(result string) {
	if m != nil {
		m.FlipRestarts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) CursorRestore(path string) {
	if m != nil {
		m.CursorRestores.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) Purged(n int) {
	if m != nil {
		m.SurfacesPurged.Add(float64(n))
	}
}

func (m *Metrics) SurfaceAdded() {
	if m != nil {
		m.Surfaces.Inc()
	}
}

func (m *Metrics) SurfaceRemoved() {
	if m != nil {
		m.Surfaces.Dec()
	}
}
