// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsResolvedTotal tracks resolved records by kind and outcome
	RecordsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "records_total",
			Help:      "Total number of records resolved by kind and outcome",
		},
		[]string{"kind", "operation"},
	)

	// RecordsRejectedTotal tracks records that failed validation or normalization
	RecordsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "records_rejected_total",
			Help:      "Total number of records rejected before resolution",
		},
		[]string{"kind", "reason"},
	)

	// ConflictsTotal tracks field-level conflicts surfaced during merges
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "conflicts_total",
			Help:      "Total number of equal-precision field conflicts surfaced",
		},
		[]string{"kind"},
	)

	// ResolutionDuration tracks per-record resolution duration in seconds
	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "duration_seconds",
			Help:      "Duration of per-record resolution in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	// SearchDuration tracks similarity search duration in seconds
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)

	// FlushDuration tracks batch flush duration in seconds
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "persist",
			Name:      "flush_duration_seconds",
			Help:      "Duration of batch flushes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// QueueDepth tracks ops waiting in the batch queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "persist",
			Name:      "queue_depth",
			Help:      "Number of ops waiting in the batch queue",
		},
	)

	// BatchItemsTotal tracks persisted items by result
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "persist",
			Name:      "items_total",
			Help:      "Total number of batch items by result",
		},
		[]string{"result"},
	)

	// KafkaMessagesTotal tracks consumed messages by status
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total number of Kafka messages consumed by status",
		},
		[]string{"topic", "status"},
	)
)
