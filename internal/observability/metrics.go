package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolve_turns_total",
			Help: "Turns submitted, by directive.",
		},
		[]string{"directive"},
	)

	CapabilityErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolve_capability_errors_total",
			Help: "Failed capability calls, by capability.",
		},
		[]string{"capability"},
	)

	CapabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evolve_capability_duration_seconds",
			Help:    "Latency of capability calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"capability"},
	)

	StreamFragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evolve_stream_fragments_total",
			Help: "Streamed fragments applied to transcripts.",
		},
	)

	Cancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evolve_cancellations_total",
			Help: "Requests stopped by the user.",
		},
	)

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		TurnsTotal,
		CapabilityErrors,
		CapabilityDuration,
		StreamFragments,
		Cancellations,
		prometheus.NewGoCollector(),
	)
}

// MetricsHandler serves the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
