package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PollMetrics implements orchestrator.Metrics for the client side.
type PollMetrics struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	treesLoaded  prometheus.Histogram
	treesDropped prometheus.Counter
	inconsistent prometheus.Counter
}

func NewPollMetrics(service string) *PollMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	ticks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "poller",
			Name:        "ticks_total",
			Help:        "Status checks issued by the poller, by observed status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "poller",
			Name:        "sessions_total",
			Help:        "Polling sessions that stopped on their own, by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	treesLoaded := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "results",
			Name:        "trees_loaded",
			Help:        "Normalized trees per loaded result set.",
			Buckets:     prometheus.ExponentialBuckets(10, 4, 7),
			ConstLabels: constLabels,
		},
	)
	treesDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "results",
			Name:        "trees_dropped_total",
			Help:        "Tree records dropped for lacking a usable position.",
			ConstLabels: constLabels,
		},
	)
	inconsistent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "results",
			Name:        "inconsistent_summaries_total",
			Help:        "Summaries whose category counts disagree with the total.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(ticks, sessions, treesLoaded, treesDropped, inconsistent)

	return &PollMetrics{
		registry:     registry,
		ticks:        ticks,
		sessions:     sessions,
		treesLoaded:  treesLoaded,
		treesDropped: treesDropped,
		inconsistent: inconsistent,
	}
}

func (m *PollMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PollMetrics) PollTick(status string) {
	if status == "" {
		status = "error"
	}
	m.ticks.WithLabelValues(status).Inc()
}

func (m *PollMetrics) PollSessionStopped(outcome string) {
	m.sessions.WithLabelValues(outcome).Inc()
}

func (m *PollMetrics) ResultsLoaded(trees, dropped int, inconsistent bool) {
	m.treesLoaded.Observe(float64(trees))
	if dropped > 0 {
		m.treesDropped.Add(float64(dropped))
	}
	if inconsistent {
		m.inconsistent.Inc()
	}
}
