// Package metrics provides Prometheus metrics for zibridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsTotal tracks finished snapshots by status
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "snapshot",
			Name:      "snapshots_total",
			Help:      "Total number of snapshots by final status",
		},
		[]string{"source_type", "status"},
	)

	// ItemsIngested tracks entities ingested into snapshots
	ItemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "snapshot",
			Name:      "items_ingested_total",
			Help:      "Total number of entities ingested by object type and outcome",
		},
		[]string{"object_type", "outcome"},
	)

	// BlobWrites tracks blob writes versus deduplicated puts
	BlobWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "blob",
			Name:      "puts_total",
			Help:      "Total number of blob puts by result (written or deduplicated)",
		},
		[]string{"result"},
	)

	// FlushDuration tracks metadata batch flush duration
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zibridge",
			Subsystem: "snapshot",
			Name:      "flush_duration_seconds",
			Help:      "Duration of snapshot item batch flushes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// DiffsTotal tracks diff reports by status (identical or changed)
	DiffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "diff",
			Name:      "reports_total",
			Help:      "Total number of diff reports by status",
		},
		[]string{"status"},
	)

	// RestoreOperations tracks restore operations by phase and outcome
	RestoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "restore",
			Name:      "operations_total",
			Help:      "Total number of restore operations by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	// ConnectorRequests tracks outbound connector requests
	ConnectorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "connector",
			Name:      "requests_total",
			Help:      "Total number of outbound connector requests",
		},
		[]string{"connector", "method", "status_code"},
	)

	// ConnectorRequestDuration tracks outbound connector request duration
	ConnectorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zibridge",
			Subsystem: "connector",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound connector requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"connector", "method"},
	)

	// ConnectorRetries tracks retried connector requests
	ConnectorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "connector",
			Name:      "retries_total",
			Help:      "Total number of retried connector requests",
		},
		[]string{"connector"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zibridge",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordIngest records one ingested entity
func RecordIngest(objectType, outcome string) {
	ItemsIngested.WithLabelValues(objectType, outcome).Inc()
}

// RecordBlobPut records a blob put; written is false when the blob already existed
func RecordBlobPut(written bool) {
	if written {
		BlobWrites.WithLabelValues("written").Inc()
		return
	}
	BlobWrites.WithLabelValues("deduplicated").Inc()
}

// RecordRestoreOperation records one restore operation
func RecordRestoreOperation(phase, outcome string) {
	RestoreOperations.WithLabelValues(phase, outcome).Inc()
}

// RecordConnectorRequest records an outbound connector request
func RecordConnectorRequest(connector, method, statusCode string, durationSeconds float64) {
	ConnectorRequests.WithLabelValues(connector, method, statusCode).Inc()
	ConnectorRequestDuration.WithLabelValues(connector, method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
