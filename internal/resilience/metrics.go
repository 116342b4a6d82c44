package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "checkout",
		Name:      "breaker_state",
		Help:      "Current breaker state: 0=closed,1=open,2=half-open",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "breaker_transition_total",
		Help:      "Count of breaker state transitions",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "breaker_open_total",
		Help:      "Number of times a breaker opened",
	}, []string{"target"})
	// HTTPAttempts counts outbound attempts by target and outcome.
	HTTPAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "outbound_http_attempts_total",
		Help:      "Outbound HTTP attempts by target and outcome",
	}, []string{"target", "outcome"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, HTTPAttempts)
}
