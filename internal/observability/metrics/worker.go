package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	outcomeTotal    *prometheus.CounterVec
	outcomeDuration *prometheus.HistogramVec
	outcomeInFlight prometheus.Gauge
	treesStored     prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	outcomeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "detection_outcomes_total",
			Help:      "Detection outcomes handled, by reported status and result.",
		},
		[]string{"service", "status", "result"},
	)
	outcomeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "detection_outcome_duration_seconds",
			Help:      "Time to persist a detection outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	outcomeInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "detection_outcomes_in_flight",
			Help:      "Number of detection outcomes being persisted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	treesStored := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "trees_per_outcome",
			Help:        "Tree records carried by completed outcomes.",
			Buckets:     prometheus.ExponentialBuckets(10, 4, 7),
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(outcomeTotal, outcomeDuration, outcomeInFlight, treesStored)

	return &WorkerMetrics{
		registry:        registry,
		outcomeTotal:    outcomeTotal,
		outcomeDuration: outcomeDuration,
		outcomeInFlight: outcomeInFlight,
		treesStored:     treesStored,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartOutcome() {
	m.outcomeInFlight.Inc()
}

func (m *WorkerMetrics) FinishOutcome(service, status string, trees int, duration time.Duration, err error) {
	m.outcomeInFlight.Dec()

	result := "success"
	if err != nil {
		result = "error"
	}
	if status == "" {
		status = "unknown"
	}

	m.outcomeTotal.WithLabelValues(service, status, result).Inc()
	m.outcomeDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if err == nil && status == "completed" {
		m.treesStored.Observe(float64(trees))
	}
}
