// Package metrics exposes Prometheus collectors for the tracker. Collectors
// are registered on the default registry and served by the API's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanBatches counts block ranges scanned via eth_getLogs.
	ScanBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_scan_batches_total",
		Help: "Number of block ranges scanned for migration events.",
	})

	// RecordsInserted counts rows newly written to the store.
	RecordsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_records_inserted_total",
		Help: "Number of migration records inserted.",
	})

	// RecordsDuplicate counts rows skipped because the event was already stored.
	RecordsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_records_duplicate_total",
		Help: "Number of migration records skipped as duplicates.",
	})

	// LogsSkipped counts logs dropped because they could not be decoded.
	LogsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_logs_skipped_total",
		Help: "Number of logs skipped due to unrecognized shape.",
	})

	// RPCRetries counts retried chain calls after transient failures.
	RPCRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migration_rpc_retries_total",
		Help: "Number of chain RPC retries.",
	})

	// ClassifiedSources counts classification outcomes by source class.
	ClassifiedSources = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migration_classified_sources_total",
		Help: "Number of migrations classified, labeled by source class.",
	}, []string{"source"})

	// CursorBlock tracks the committed sync cursor height.
	CursorBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "migration_cursor_block",
		Help: "Last fully committed block height.",
	})

	// ChainHeadBlock tracks the chain head observed at the start of a pass.
	ChainHeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "migration_chain_head_block",
		Help: "Latest chain block height observed.",
	})

	// SyncPassSeconds observes wall time per sync pass.
	SyncPassSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "migration_sync_pass_seconds",
		Help:    "Duration of sync passes in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
