package metrics

import "github.com/prometheus/client_golang/prometheus"

// Generation Prometheus metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglet",
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests",
		},
		[]string{"tier", "model", "status"},
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglet",
			Name:      "generation_request_duration_seconds",
			Help:      "Generation request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tier", "model"},
	)

	GenerationFirstChunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raglet",
			Name:      "generation_first_chunk_duration_seconds",
			Help:      "Time to first streamed chunk in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tier", "model"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglet",
			Name:      "generation_tokens_total",
			Help:      "Total generation tokens consumed",
		},
		[]string{"tier", "model", "type"},
	)

	GenerationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglet",
			Name:      "generation_errors_total",
			Help:      "Total generation errors",
		},
		[]string{"tier", "model", "error_type"},
	)

	// BreakerState reports the circuit state per endpoint:
	// 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "raglet",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per endpoint (0 closed, 1 half-open, 2 open)",
		},
		[]string{"endpoint"},
	)

	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raglet",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"endpoint", "to"},
	)
)

var genMetricsRegistered bool

// RegisterGenerationMetrics registers Prometheus generation metrics. Must be called once from main.
func RegisterGenerationMetrics() {
	if genMetricsRegistered {
		return
	}
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationRequestDuration)
	prometheus.MustRegister(GenerationFirstChunkDuration)
	prometheus.MustRegister(GenerationTokensTotal)
	prometheus.MustRegister(GenerationErrorsTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(BreakerTransitionsTotal)
	genMetricsRegistered = true
}
