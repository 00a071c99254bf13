// Package metrics exposes the engine's Prometheus collectors on the default
// registry; the HTTP server serves them under /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchd",
		Name:      "orders_accepted_total",
		Help:      "Orders admitted to the book, by type and side.",
	}, []string{"type", "side"})

	OrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchd",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected at admission, by reason.",
	}, []string{"reason"})

	TradesExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "matchd",
		Name:      "trades_total",
		Help:      "Trades executed by the matching engine.",
	})

	TradedVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "matchd",
		Name:      "traded_volume_total",
		Help:      "Total executed quantity.",
	})

	RestingOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "matchd",
		Name:      "resting_orders",
		Help:      "Live orders currently in the book.",
	})

	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "matchd",
		Name:      "outbox_pending_records",
		Help:      "Trade outbox records not yet acknowledged by the broker.",
	})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "matchd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		OrdersAccepted,
		OrdersRejected,
		TradesExecuted,
		TradedVolume,
		RestingOrders,
		OutboxPending,
		HTTPDuration,
	)
}
