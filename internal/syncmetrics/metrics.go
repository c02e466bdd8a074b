// Package syncmetrics defines the sync engine's Prometheus instruments.
//
// Grounded on wisbric-nightowl's internal/telemetry/metrics.go (package-
// level var declarations with a namespace/subsystem, an All() registration
// helper) and arkeep-io-arkeep/server's promhttp wiring in its admin
// surface.
package syncmetrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "goldpos_sync"

var PushRecordsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "records_total",
		Help:      "Total number of records successfully pushed by full sync runs, recorded under table=\"all\".",
	},
	[]string{"table"},
)

var PushErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "errors_total",
		Help:      "Total number of per-record push failures, by table.",
	},
	[]string{"table"},
)

var PullRecordsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pull",
		Name:      "records_total",
		Help:      "Total number of records successfully pulled by full sync runs, recorded under table=\"all\".",
	},
	[]string{"table"},
)

var PullErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pull",
		Name:      "errors_total",
		Help:      "Total number of per-record pull failures, by table.",
	},
	[]string{"table"},
)

var SyncDurationSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "duration_seconds",
		Help:      "Duration of a full push+pull sync run.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
)

var SyncBusyTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "busy_total",
		Help:      "Total number of run_full_sync invocations rejected because a sync was already in flight.",
	},
)

var SyncGateHeld = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_held",
		Help:      "1 while a sync run holds the at-most-one gate, 0 otherwise.",
	},
)

var PendingChanges = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_changes",
		Help:      "Most recently observed count of pending, non-dead-lettered journal entries.",
	},
)

// All returns every sync metric for registration against a prometheus
// registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PushRecordsTotal,
		PushErrorsTotal,
		PullRecordsTotal,
		PullErrorsTotal,
		SyncDurationSeconds,
		SyncBusyTotal,
		SyncGateHeld,
		PendingChanges,
	}
}
