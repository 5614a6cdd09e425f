// Package metrics exposes Prometheus collectors for the conversation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeAdvanced = "advanced"
	OutcomeNoMatch  = "no_match"
	OutcomeEnded    = "ended"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	turns             *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	renderWarnings    prometheus.Counter
	sessionsStarted   prometheus.Counter
	sessionsEnded     *prometheus.CounterVec
	transcriptFailure prometheus.Counter
	cacheInvalidation prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "turns_total",
			Help:      "Processed conversation turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowbot",
			Name:      "turn_duration_seconds",
			Help:      "Time spent processing a turn, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}),
		renderWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "render_warnings_total",
			Help:      "Content clamped to platform limits while rendering.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "sessions_started_total",
			Help:      "Sessions created at the start node.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "sessions_ended_total",
			Help:      "Sessions ended by reason.",
		}, []string{"reason"}),
		transcriptFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "transcript_failures_total",
			Help:      "Transcript writes that failed after a committed turn.",
		}),
		cacheInvalidation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowbot",
			Name:      "graph_cache_invalidations_total",
			Help:      "Workflow activations that swapped the graph cache.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns,
		m.turnDuration,
		m.renderWarnings,
		m.sessionsStarted,
		m.sessionsEnded,
		m.transcriptFailure,
		m.cacheInvalidation,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recorders below accept a nil receiver so components can run without metrics.

func (m *Metrics) ObserveTurn(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(took.Seconds())
}

func (m *Metrics) RenderWarnings(n int) {
	if m == nil || n == 0 {
		return
	}
	m.renderWarnings.Add(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) TranscriptFailed() {
	if m == nil {
		return
	}
	m.transcriptFailure.Inc()
}

func (m *Metrics) CacheInvalidated() {
	if m == nil {
		return
	}
	m.cacheInvalidation.Inc()
}
