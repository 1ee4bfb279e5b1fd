package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registryRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedgate_registry_request_duration_seconds",
			Help:    "Latency of outbound partner registry calls.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation", "outcome"},
	)
	backendConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedgate_backend_connections_open",
			Help: "Backend connections currently held by in-flight requests.",
		},
	)
	backendConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedgate_backend_connections_total",
			Help: "Backend connection attempts by driver and result.",
		},
		[]string{"driver", "result"},
	)
	previewRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedgate_preview_requests_total",
			Help: "Preview pipeline outcomes.",
		},
		[]string{"outcome"},
	)
	sessionNegotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedgate_session_negotiations_total",
			Help: "Session negotiation outcomes by derived query flag.",
		},
		[]string{"queries", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		registryRequestDurationSeconds,
		backendConnectionsOpen,
		backendConnectionsTotal,
		previewRequestsTotal,
		sessionNegotiationsTotal,
	)
}

func ObserveRegistryRequest(operation, outcome string, elapsed time.Duration) {
	registryRequestDurationSeconds.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func ObserveConnectionOpened(driver string) {
	backendConnectionsTotal.WithLabelValues(driver, "ok").Inc()
	backendConnectionsOpen.Inc()
}

func ObserveConnectionFailed(driver, result string) {
	backendConnectionsTotal.WithLabelValues(driver, result).Inc()
}

func ObserveConnectionClosed() {
	backendConnectionsOpen.Dec()
}

func ObservePreview(outcome string) {
	previewRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveSessionNegotiation(queries bool, outcome string) {
	label := "false"
	if queries {
		label = "true"
	}
	sessionNegotiationsTotal.WithLabelValues(label, outcome).Inc()
}
