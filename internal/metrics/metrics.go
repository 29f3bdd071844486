// Package metrics defines the Prometheus instruments exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CandlesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_candles_processed_total",
		Help: "Closed candles consumed by the calculator.",
	}, []string{"symbol", "timeframe"})

	CandlesMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_candles_malformed_total",
		Help: "Candle stream entries skipped as malformed.",
	}, []string{"symbol", "timeframe"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_signals_emitted_total",
		Help: "Arm/disarm signals published by the calculator.",
	}, []string{"symbol", "kind"})

	SignalsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_signals_duplicate_total",
		Help: "Signal deliveries skipped by the idempotency gate.",
	}, []string{"symbol"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_orders_placed_total",
		Help: "Orders accepted by the exchange, by role.",
	}, []string{"symbol", "role"})

	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_orders_failed_total",
		Help: "Order placements rejected or errored, by role.",
	}, []string{"symbol", "role"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_handler_duration_seconds",
		Help:    "Arm/disarm handler execution time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	ReconcileInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_reconcile_inconsistencies_total",
		Help: "Local-vs-exchange drift findings healed by the reconciler.",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_reconcile_duration_seconds",
		Help:    "Full reconcile sweep duration.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)
