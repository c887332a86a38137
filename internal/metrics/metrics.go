// Package metrics exposes engine and pipeline activity as Prometheus
// metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cogstate/internal/engine"
	"cogstate/internal/pipeline"
)

const namespace = "cogstate"

// Metrics implements engine.Observer and pipeline.IngestMetrics.
type Metrics struct {
	registry *prometheus.Registry

	updates        *prometheus.CounterVec
	observations   *prometheus.CounterVec
	overrides      *prometheus.CounterVec
	salvaged       *prometheus.CounterVec
	keyEvents      *prometheus.CounterVec
	silenceUpdates prometheus.Counter
	updateDuration prometheus.Histogram
}

var (
	_ engine.Observer        = (*Metrics)(nil)
	_ pipeline.IngestMetrics = (*Metrics)(nil)
)

// New registers the collectors on reg. A nil reg gets a fresh registry that
// also carries the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Engine update calls by outcome",
		}, []string{"result"}),
		observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Applied updates by observation bin (25 is the penalty bin)",
		}, []string{"bin"}),
		overrides: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overrides_total",
			Help:      "Forced belief overrides by target state",
		}, []string{"state"}),
		salvaged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "salvaged_sections_total",
			Help:      "Panics recovered inside a guarded engine section",
		}, []string{"section"}),
		keyEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_events_total",
			Help:      "Key events taken off the queue",
		}, []string{"type"}),
		silenceUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_updates_total",
			Help:      "Silence observations fed to the engine",
		}),
		updateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Wall time of one engine update",
			Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBelief exports the hysteresis belief as cogstate_belief{state}.
// read is called on every scrape.
func (m *Metrics) ObserveBelief(read func() engine.Belief) {
	f := promauto.With(m.registry)
	for _, s := range engine.States {
		s := s
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "belief",
			Help:        "Displayed probability of each cognitive state",
			ConstLabels: prometheus.Labels{"state": s.String()},
		}, func() float64 { return read()[s] })
	}
}

// ObserveDropped exports a drop counter owned elsewhere as
// cogstate_dropped_events_total{stage}.
func (m *Metrics) ObserveDropped(stage string, read func() uint64) {
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "dropped_events_total",
		Help:        "Events discarded under backpressure",
		ConstLabels: prometheus.Labels{"stage": stage},
	}, func() float64 { return float64(read()) })
}

// UpdateObserved implements engine.Observer.
func (m *Metrics) UpdateObserved(res engine.Result, elapsed time.Duration) {
	m.updates.WithLabelValues(res.Outcome()).Inc()
	if !res.Applied {
		return
	}
	m.observations.WithLabelValues(strconv.Itoa(res.Observation)).Inc()
	m.updateDuration.Observe(elapsed.Seconds())
}

// OverrideApplied implements engine.Observer.
func (m *Metrics) OverrideApplied(target engine.State) {
	m.overrides.WithLabelValues(target.String()).Inc()
}

// SectionSalvaged implements engine.Observer.
func (m *Metrics) SectionSalvaged(section string) {
	m.salvaged.WithLabelValues(section).Inc()
}

// EventIngested implements pipeline.IngestMetrics.
func (m *Metrics) EventIngested(press bool) {
	if press {
		m.keyEvents.WithLabelValues("press").Inc()
	} else {
		m.keyEvents.WithLabelValues("release").Inc()
	}
}

// SilenceUpdate implements pipeline.IngestMetrics.
func (m *Metrics) SilenceUpdate(res engine.Result) {
	if res.Applied {
		m.silenceUpdates.Inc()
	}
}
