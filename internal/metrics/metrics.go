// Package metrics exposes the gateway's Prometheus instrumentation,
// grounded on the retrieval pack's prometheus-instrumented service
// (TGIFAI-friday) rather than the teacher, which carries no metrics
// surface of its own.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundTotal counts inbound webhook callbacks by channel and result.
	InboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wecom_gateway_inbound_total",
		Help: "Inbound EP webhook callbacks, by channel and outcome.",
	}, []string{"channel", "outcome"})

	// DispatchDuration measures how long one agent dispatch takes end to
	// end, from admission to Finalize.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wecom_gateway_dispatch_duration_seconds",
		Help:    "Agent dispatch duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	// TokenCacheRefreshTotal counts access-token lookups by outcome: served
	// from the cache, refreshed over the network, or failed.
	TokenCacheRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wecom_gateway_token_refresh_total",
		Help: "Access-token cache refreshes, by outcome.",
	}, []string{"outcome"})

	// ActiveStreams gauges the number of live Bot-channel streams.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wecom_gateway_active_streams",
		Help: "Currently open Bot-channel passive-reply streams.",
	})
)

// ObserveDispatch records one completed dispatch's duration.
func ObserveDispatch(channel string, start time.Time) {
	DispatchDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
}
