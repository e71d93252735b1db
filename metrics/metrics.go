// Package metrics exposes capture statistics as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gstcapture"

// Metrics holds the collectors of one process. All methods are safe on a nil
// receiver, which records nothing.
type Metrics struct {
	reg *prometheus.Registry

	framesCaptured *prometheus.CounterVec
	outletSent     *prometheus.CounterVec
	outletDropped  *prometheus.CounterVec
	restarts       *prometheus.CounterVec
	engineErrors   *prometheus.CounterVec
	coalesced      *prometheus.CounterVec
	running        *prometheus.GaugeVec
	fps            *prometheus.GaugeVec
}

// New registers the collectors, plus Go runtime and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		framesCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Samples captured and published to outlets.",
		}, []string{"source"}),
		outletSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outlet_sent_total",
			Help:      "Frames accepted by an outlet.",
		}, []string{"source", "outlet"}),
		outletDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outlet_dropped_total",
			Help:      "Frames an outlet refused while full or overwrote before they were read.",
		}, []string{"source", "outlet"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Pipeline restarts granted by the restart policy.",
		}, []string{"source", "cause"}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Errors posted on the pipeline bus.",
		}, []string{"source", "category"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_coalesced_total",
			Help:      "New-sample notifications merged into a pending wake-up.",
		}, []string{"source"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while a pipeline is playing.",
		}, []string{"source"}),
		fps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fps",
			Help:      "Mean frames per second over the recent window.",
		}, []string{"source"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesCaptured,
		m.outletSent,
		m.outletDropped,
		m.restarts,
		m.engineErrors,
		m.coalesced,
		m.running,
		m.fps,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) FrameCaptured(source string) {
	if m == nil {
		return
	}
	m.framesCaptured.WithLabelValues(source).Inc()
}

// Delivery records the outcome of publishing one frame to one outlet.
func (m *Metrics) Delivery(source, outlet string, delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.outletSent.WithLabelValues(source, outlet).Inc()
	} else {
		m.outletDropped.WithLabelValues(source, outlet).Inc()
	}
}

// Restart records a restart; cause is "build_error" or "connection_lost".
func (m *Metrics) Restart(source, cause string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(source, cause).Inc()
}

func (m *Metrics) EngineError(source, category string) {
	if m == nil {
		return
	}
	m.engineErrors.WithLabelValues(source, category).Inc()
}

func (m *Metrics) Coalesced(source string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.coalesced.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) SetRunning(source string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.running.WithLabelValues(source).Set(v)
}

func (m *Metrics) SetFPS(source string, fps float64) {
	if m == nil {
		return
	}
	m.fps.WithLabelValues(source).Set(fps)
}
