// Package metrics defines the Prometheus collectors of the OAuth helper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthURLsGenerated counts authorization URLs handed out.
	AuthURLsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oauth_helper_auth_urls_generated_total",
			Help: "The total number of authorization URLs generated.",
		},
	)

	// Exchanges counts code exchanges by mode and outcome kind.
	Exchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_helper_exchanges_total",
			Help: "The total number of code exchanges by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	// ExchangeFallbacks counts exchanges that needed the fallback body encoding.
	ExchangeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oauth_helper_exchange_fallbacks_total",
			Help: "The total number of token requests retried with the fallback encoding.",
		},
	)

	// ExchangeDuration tracks the latency of the upstream token exchange.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oauth_helper_exchange_duration_seconds",
			Help:    "A histogram of the upstream token exchange duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"outcome"},
	)

	// SessionsPurged counts expired flow sessions removed by lazy cleanup.
	SessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oauth_helper_sessions_purged_total",
			Help: "The total number of expired flow sessions removed.",
		},
	)
)

// ObserveExchange records one finished exchange.
func ObserveExchange(mode, outcome string, started time.Time, attempts int) {
	Exchanges.WithLabelValues(mode, outcome).Inc()
	ExchangeDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	if attempts > 1 {
		ExchangeFallbacks.Inc()
	}
}
