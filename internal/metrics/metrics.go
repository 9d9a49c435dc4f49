// Package metrics exposes the engine's Prometheus collectors.
// They are registered once at init and served by the admin API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OrdersPlaced counts orders submitted to the gateway by kind and side.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"kind", "side"},
	)

	// ExitReasons counts closed trades split by exit reason.
	ExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Trades closed split by exit reason",
		},
		[]string{"reason"},
	)

	// OpenTrades tracks the number of currently open trades.
	OpenTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_trades",
			Help: "Currently open trades",
		},
	)

	// Divergences counts reconciliation divergences needing intervention.
	Divergences = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconcile_divergences_total",
			Help: "Orders the exchange no longer recognises",
		},
	)

	// TickDuration observes control-loop tick latency.
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_tick_duration_seconds",
			Help:    "Control loop tick duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, ExitReasons, OpenTrades, Divergences, TickDuration)
}
