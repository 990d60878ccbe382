// Package metrics exposes Prometheus metrics for the challenge service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wildlife"

// Manager owns every collector. A nil *Manager is valid and records nothing,
// so services can be constructed without metrics in tests.
type Manager struct {
	registry *prometheus.Registry

	manifestGenerations *prometheus.CounterVec
	manifestCacheHits   prometheus.Counter
	generationLatency   prometheus.Histogram
	liveManifests       prometheus.Gauge

	sectionsRefreshed  *prometheus.CounterVec
	progressIncrements prometheus.Counter
	completions        *prometheus.CounterVec
	xpAwarded          prometheus.Counter
	sightingsIgnored   prometheus.Counter
}

// NewManager registers all collectors on a fresh registry.
func NewManager() *Manager {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)

	return &Manager{
		registry: reg,
		manifestGenerations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "generations_total",
			Help:      "Region manifest generation attempts by outcome",
		}, []string{"outcome"}),
		manifestCacheHits: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "cache_hits_total",
			Help:      "Manifest lookups served without calling the generator",
		}),
		generationLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "generation_seconds",
			Help:      "Latency of AI manifest generation calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		liveManifests: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "stored",
			Help:      "Number of persisted region manifests",
		}),
		sectionsRefreshed: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "sections_refreshed_total",
			Help:      "Challenge sections freshly sampled, by kind",
		}, []string{"kind"}),
		progressIncrements: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "progress_increments_total",
			Help:      "Task progress increments applied",
		}),
		completions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "completions_total",
			Help:      "Challenge sections completed, by kind",
		}, []string{"kind"}),
		xpAwarded: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progression",
			Name:      "xp_awarded_total",
			Help:      "Total XP granted",
		}),
		sightingsIgnored: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "duplicate_sightings_total",
			Help:      "Sighting confirmations skipped because the sighting id was already processed",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Manager) ManifestGenerated(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.manifestGenerations.WithLabelValues(outcome).Inc()
	m.generationLatency.Observe(took.Seconds())
}

func (m *Manager) ManifestCacheHit() {
	if m == nil {
		return
	}
	m.manifestCacheHits.Inc()
}

func (m *Manager) SetStoredManifests(n int64) {
	if m == nil {
		return
	}
	m.liveManifests.Set(float64(n))
}

func (m *Manager) SectionRefreshed(kind string) {
	if m == nil {
		return
	}
	m.sectionsRefreshed.WithLabelValues(kind).Inc()
}

func (m *Manager) ProgressIncremented(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.progressIncrements.Add(float64(n))
}

func (m *Manager) ChallengeCompleted(kind string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(kind).Inc()
}

func (m *Manager) XPAwarded(xp int64) {
	if m == nil || xp <= 0 {
		return
	}
	m.xpAwarded.Add(float64(xp))
}

func (m *Manager) DuplicateSighting() {
	if m == nil {
		return
	}
	m.sightingsIgnored.Inc()
}
