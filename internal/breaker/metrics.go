package breaker

import "github.com/prometheus/client_golang/prometheus"

// Package-level breaker metrics, labeled by dependency name, satisfying
// spec §4.3's CircuitBreaker requirement to export "state, success rate,
// failure count, last transition time". Grounded on the teacher's
// internal/obs/metrics.go (package-level vars registered once via init())
// and internal/producer-backpressure/types.go's CircuitBreakerState
// GaugeVec (there labeled by queue name, here by breaker name).
var (
	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current circuit breaker state per dependency (0=closed, 1=open, 2=half_open)",
	}, []string{"breaker"})

	successRateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_success_rate",
		Help: "Fraction of calls recorded as successes over the breaker's lifetime, per dependency",
	}, []string{"breaker"})

	failuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_failures_total",
		Help: "Total recorded call failures per dependency breaker",
	}, []string{"breaker"})

	lastTransitionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_last_transition_timestamp_seconds",
		Help: "Unix timestamp of the breaker's most recent state transition",
	}, []string{"breaker"})
)

func init() {
	prometheus.MustRegister(stateGauge, successRateGauge, failuresTotal, lastTransitionGauge)
}
