// Package store defines the durable sink and query surface for migration
// state. The postgres subpackage provides the production implementation;
// MemoryStore backs tests and dry runs.
package store

import (
	"context"
	"fmt"

	"migrationScope/internal/model"
)

// StoreError wraps a durable-write or read failure. The sync cursor never
// advances past a StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// RecordFilter narrows QueryRecords. Zero values leave a dimension open.
type RecordFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Source    model.SourceClass
	Limit     int
	Offset    int
}

// Store persists migration records, the sync cursor, and daily snapshots.
// Implementations must be safe for concurrent readers alongside the single
// sync writer.
type Store interface {
	// InsertBatch writes records idempotently and reports how many were new.
	// Records whose event identity is already stored are skipped.
	InsertBatch(ctx context.Context, records []model.MigrationRecord) (int, error)

	// CommitBatch writes records and advances the cursor to lastScanned in
	// one durable step. Either both take effect or neither does.
	CommitBatch(ctx context.Context, records []model.MigrationRecord, lastScanned int64) (int, error)

	// LoadCursor returns the sync cursor and whether one has been saved.
	LoadCursor(ctx context.Context) (model.SyncCursor, bool, error)

	// SaveCursor stores the full cursor row, creating it if absent.
	SaveCursor(ctx context.Context, cursor model.SyncCursor) error

	// QueryRecords returns stored records in (block_number, log_index) order.
	QueryRecords(ctx context.Context, filter RecordFilter) ([]model.MigrationRecord, error)

	// QueryByAddress returns records sent from addr in chain order. The
	// address is matched case-insensitively.
	QueryByAddress(ctx context.Context, addr string) ([]model.MigrationRecord, error)

	// CountRecords returns the number of stored records.
	CountRecords(ctx context.Context) (uint64, error)

	// UpdateSource rewrites the source class of one stored record.
	UpdateSource(ctx context.Context, id model.EventID, source model.SourceClass) error

	// ReplaceDailySnapshots atomically replaces all stored snapshots.
	ReplaceDailySnapshots(ctx context.Context, snapshots []model.DailySnapshot) error

	// LoadDailySnapshots returns stored snapshots ordered by date.
	LoadDailySnapshots(ctx context.Context) ([]model.DailySnapshot, error)

	// Reset drops all records, snapshots, and the cursor.
	Reset(ctx context.Context) error

	Close()
}
