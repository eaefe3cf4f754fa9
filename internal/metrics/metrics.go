// Package metrics registers tvbot's Prometheus collectors on the default
// registry. The ops endpoint serves them on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch cycles by outcome: ok, error, panic.
	DispatchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbot_dispatch_cycles_total",
			Help: "Dispatch cycles run, by outcome",
		},
		[]string{"outcome"},
	)

	DispatchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvbot_dispatch_cycle_duration_seconds",
			Help:    "Wall time of one dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Entry outcomes inside a cycle: sent, no_recipients, malformed, save_failed, deactivated.
	DispatchEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbot_dispatch_entries_total",
			Help: "Due schedule entries handled, by outcome",
		},
		[]string{"outcome"},
	)

	// Per-recipient deliveries: success, failed.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbot_deliveries_total",
			Help: "Per-recipient delivery attempts, by status",
		},
		[]string{"status"},
	)

	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvbot_delivery_latency_seconds",
			Help:    "Latency of one recipient delivery including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	StoreOps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tvbot_store_op_duration_seconds",
			Help:    "Store load/save duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op", "store", "status"},
	)

	AdminActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbot_admin_actions_total",
			Help: "Administrative actions, by action and status",
		},
		[]string{"action", "status"},
	)

	PendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvbot_pending_entries",
			Help: "Active unsent schedule entries seen by the last cycle",
		},
	)
)

func RecordCycle(outcome string, d time.Duration) {
	DispatchCycles.WithLabelValues(outcome).Inc()
	DispatchCycleDuration.Observe(d.Seconds())
}

func IncrementEntry(outcome string) { DispatchEntries.WithLabelValues(outcome).Inc() }

func RecordDelivery(ok bool, d time.Duration) {
	Deliveries.WithLabelValues(status(ok)).Inc()
	DeliveryLatency.Observe(d.Seconds())
}

func RecordStoreOp(op, store string, err error, d time.Duration) {
	StoreOps.WithLabelValues(op, store, status(err == nil)).Observe(d.Seconds())
}

func IncrementAdmin(action string, err error) {
	AdminActions.WithLabelValues(action, status(err == nil)).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
