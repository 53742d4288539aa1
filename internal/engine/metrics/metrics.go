// Package metrics exposes the engine's Prometheus counters and gauges.
//
// Grounded on the teacher's internal/indexing/metrics/metrics.go
// (promauto-registered package vars), trimmed to the counters this engine's
// components actually move: head advance, reorg depth, log delivery,
// dead-letter backlog, and subscriber rollback.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeadNumber is the chain cache's current head block number.
	HeadNumber = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_head_number",
		Help: "Current chain cache head block number",
	})

	// BlocksIngested counts headers the engine has successfully applied,
	// labeled by the classification path that handled them.
	BlocksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_blocks_ingested_total",
		Help: "Total headers successfully applied, by ingest path",
	}, []string{"path"})

	// ReorgsDetected counts detected reorgs, labeled by whether the common
	// ancestor was found within the cache or forced a re-anchor.
	ReorgsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_reorgs_detected_total",
		Help: "Total reorgs detected, by resolution outcome",
	}, []string{"outcome"})

	// ReorgDepth records how many blocks were rolled back on each detected
	// reorg.
	ReorgDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logwatch_reorg_depth_blocks",
		Help:    "Depth, in blocks, of each detected reorg",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
	})

	// LogsDelivered counts logs dispatched to subscribers.
	LogsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_logs_delivered_total",
		Help: "Total logs dispatched to subscribers",
	})

	// SubscriberRollbacks counts Rollback calls made to subscribers.
	SubscriberRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_subscriber_rollbacks_total",
		Help: "Total Rollback calls made to subscribers",
	})

	// DeadLetterDepth is the current size of the dead-letter queue.
	DeadLetterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_deadletter_depth",
		Help: "Current number of ranges sitting in the dead-letter queue",
	})

	// RPCCallsTotal counts calls made against upstream providers.
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_rpc_calls_total",
		Help: "Total RPC calls made, by provider and method",
	}, []string{"provider", "method"})

	// RPCErrorsTotal counts failed calls against upstream providers.
	RPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_rpc_errors_total",
		Help: "Total RPC call failures, by provider and method",
	}, []string{"provider", "method"})
)
