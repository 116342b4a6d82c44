package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentSessionTotal counts checkout session creation outcomes.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentConfirmTotal counts payment confirmation outcomes.
	PaymentConfirmTotal *prometheus.CounterVec
	// PaymentRetryAttempts counts confirmation attempts made by the retry loop.
	PaymentRetryAttempts prometheus.Counter
	// PaymentErrorsTotal counts reported payment errors by code.
	PaymentErrorsTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhooks by event and outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentEventsTotal counts emitted payment lifecycle events.
	PaymentEventsTotal *prometheus.CounterVec
	// CacheLookupsTotal counts storage cache reads by key and hit/miss.
	CacheLookupsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers payment collectors. It
// is safe to call more than once; only the first call has effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSessionTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of checkout session creation outcomes.",
		}, "result")
		PaymentConfirmTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirm_total",
			Help:      "Count of payment confirmation outcomes.",
		}, "result")
		PaymentRetryAttempts = registerCounter(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirm_retry_attempts_total",
			Help:      "Total confirmation attempts issued by the retry loop.",
		})
		PaymentErrorsTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_errors_total",
			Help:      "Count of payment errors reported to the user by code.",
		}, "code")
		PaymentWebhookTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, "event", "result")
		PaymentEventsTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Count of emitted payment lifecycle events.",
		}, "type")
		CacheLookupsTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Storage cache reads by key and result.",
		}, "key", "result")
	})
}

// ObserveCacheLookup records a cache read. It matches the cache read hook
// signature.
func ObserveCacheLookup(key string, hit bool) {
	if CacheLookupsTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(key, result).Inc()
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(opts, labels)
	if existing := mustRegisterCollector(reg, vec); existing != nil {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			return v
		}
	}
	return vec
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if existing := mustRegisterCollector(reg, c); existing != nil {
		if v, ok := existing.(prometheus.Counter); ok {
			return v
		}
	}
	return c
}

// mustRegisterCollector registers collector and returns the already registered
// instance when an identical collector exists.
func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
	return nil
}
