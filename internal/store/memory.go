package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"migrationScope/internal/model"
)

// MemoryStore is an in-memory Store used by tests and dry runs. Records are
// keyed by event identity so duplicate inserts are no-ops.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[model.EventID]model.MigrationRecord
	cursor    *model.SyncCursor
	snapshots []model.DailySnapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.EventID]model.MigrationRecord)}
}

func (m *MemoryStore) insertLocked(records []model.MigrationRecord) int {
	inserted := 0
	for _, r := range records {
		id := r.ID()
		if _, ok := m.records[id]; ok {
			continue
		}
		m.records[id] = r
		inserted++
	}
	return inserted
}

// InsertBatch writes records idempotently and reports how many were new.
func (m *MemoryStore) InsertBatch(_ context.Context, records []model.MigrationRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(records), nil
}

// CommitBatch writes records and advances the cursor in one step.
func (m *MemoryStore) CommitBatch(_ context.Context, records []model.MigrationRecord, lastScanned int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor == nil {
		return 0, &StoreError{Op: "commit_batch", Err: errors.New("sync cursor not initialized")}
	}
	inserted := m.insertLocked(records)
	m.cursor.LastScannedBlock = lastScanned
	m.cursor.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return inserted, nil
}

// LoadCursor returns the sync cursor and whether one has been saved.
func (m *MemoryStore) LoadCursor(_ context.Context) (model.SyncCursor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cursor == nil {
		return model.SyncCursor{}, false, nil
	}
	return *m.cursor, true, nil
}

// SaveCursor stores the full cursor row.
func (m *MemoryStore) SaveCursor(_ context.Context, cursor model.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	m.cursor = &cursor
	return nil
}

func matchesFilter(r model.MigrationRecord, filter RecordFilter) bool {
	if filter.FromBlock > 0 && r.BlockNumber < filter.FromBlock {
		return false
	}
	if filter.ToBlock > 0 && r.BlockNumber > filter.ToBlock {
		return false
	}
	if filter.Source != "" && r.Source != filter.Source {
		return false
	}
	return true
}

func sortRecords(records []model.MigrationRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})
}

// QueryRecords returns stored records in (block_number, log_index) order.
func (m *MemoryStore) QueryRecords(_ context.Context, filter RecordFilter) ([]model.MigrationRecord, error) {
	m.mu.RLock()
	out := make([]model.MigrationRecord, 0, len(m.records))
	for _, r := range m.records {
		if matchesFilter(r, filter) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sortRecords(out)
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// QueryByAddress returns records sent from addr in chain order.
func (m *MemoryStore) QueryByAddress(_ context.Context, addr string) ([]model.MigrationRecord, error) {
	want := model.NormalizeAddress(addr)
	m.mu.RLock()
	var out []model.MigrationRecord
	for _, r := range m.records {
		if model.NormalizeAddress(r.FromAddress) == want {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sortRecords(out)
	return out, nil
}

// CountRecords returns the number of stored records.
func (m *MemoryStore) CountRecords(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records)), nil
}

// UpdateSource rewrites the source class of one stored record.
func (m *MemoryStore) UpdateSource(_ context.Context, id model.EventID, source model.SourceClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil
	}
	r.Source = source
	m.records[id] = r
	return nil
}

// ReplaceDailySnapshots atomically replaces all stored snapshots.
func (m *MemoryStore) ReplaceDailySnapshots(_ context.Context, snapshots []model.DailySnapshot) error {
	copied := make([]model.DailySnapshot, len(snapshots))
	copy(copied, snapshots)
	sort.Slice(copied, func(i, j int) bool { return copied[i].Date < copied[j].Date })

	m.mu.Lock()
	m.snapshots = copied
	m.mu.Unlock()
	return nil
}

// LoadDailySnapshots returns stored snapshots ordered by date.
func (m *MemoryStore) LoadDailySnapshots(_ context.Context) ([]model.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DailySnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out, nil
}

// Reset drops all records, snapshots, and the cursor.
func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[model.EventID]model.MigrationRecord)
	m.snapshots = nil
	m.cursor = nil
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() {}
