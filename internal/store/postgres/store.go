package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"migrationScope/internal/model"
	"migrationScope/internal/store"
)

// Store provides Postgres persistence for migration state.
type Store struct {
	pool *pgxpool.Pool
}

// Statements are executed one at a time because the extended protocol
// refuses multi-statement strings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS migrations (
		tx_hash TEXT NOT NULL,
		log_index BIGINT NOT NULL,
		block_number BIGINT NOT NULL,
		block_timestamp BIGINT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		raw_amount NUMERIC NOT NULL,
		scaled_amount NUMERIC NOT NULL,
		source TEXT NOT NULL,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tx_hash, log_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_migrations_block ON migrations (block_number, log_index)`,
	`CREATE INDEX IF NOT EXISTS idx_migrations_from ON migrations (from_address)`,
	`CREATE INDEX IF NOT EXISTS idx_migrations_timestamp ON migrations (block_timestamp)`,
	`CREATE TABLE IF NOT EXISTS sync_cursor (
		id INT PRIMARY KEY CHECK (id = 1),
		last_scanned_block BIGINT NOT NULL,
		deployment_block BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_snapshots (
		date TEXT PRIMARY KEY,
		count BIGINT NOT NULL,
		total_scaled NUMERIC NOT NULL,
		unique_senders BIGINT NOT NULL
	)`,
}

const insertRecordSQL = `
	INSERT INTO migrations (
		tx_hash, log_index, block_number, block_timestamp,
		from_address, to_address, raw_amount, scaled_amount, source, ingested_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9,
		COALESCE(NULLIF($10, '')::timestamptz, now())
	)
	ON CONFLICT (tx_hash, log_index) DO NOTHING
`

const selectRecordColumns = `
	tx_hash, log_index, block_number, block_timestamp,
	from_address, to_address, raw_amount::text, scaled_amount::text, source, ingested_at
`

// NewStore connects to Postgres and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &store.StoreError{Op: "init_schema", Err: err}
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func rawAmountArg(r model.MigrationRecord) string {
	if r.RawAmount == nil {
		return "0"
	}
	return r.RawAmount.String()
}

func queueInsert(batch *pgx.Batch, r model.MigrationRecord) {
	batch.Queue(insertRecordSQL,
		r.TxHash,
		int64(r.LogIndex),
		int64(r.BlockNumber),
		int64(r.BlockTimestamp),
		r.FromAddress,
		r.ToAddress,
		rawAmountArg(r),
		r.ScaledAmount.String(),
		string(r.Source),
		r.IngestedAt,
	)
}

// InsertBatch writes records idempotently and reports how many were new.
func (s *Store) InsertBatch(ctx context.Context, records []model.MigrationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		queueInsert(batch, r)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range records {
		tag, err := br.Exec()
		if err != nil {
			return 0, &store.StoreError{Op: "insert_batch", Err: err}
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// CommitBatch writes records and advances the cursor in one transaction.
func (s *Store) CommitBatch(ctx context.Context, records []model.MigrationRecord, lastScanned int64) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &store.StoreError{Op: "commit_batch", Err: err}
	}
	defer tx.Rollback(ctx)

	inserted := 0
	if len(records) > 0 {
		batch := &pgx.Batch{}
		for _, r := range records {
			queueInsert(batch, r)
		}
		br := tx.SendBatch(ctx, batch)
		for range records {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return 0, &store.StoreError{Op: "commit_batch", Err: err}
			}
			inserted += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return 0, &store.StoreError{Op: "commit_batch", Err: err}
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sync_cursor SET last_scanned_block = $1, updated_at = now() WHERE id = 1
	`, lastScanned)
	if err != nil {
		return 0, &store.StoreError{Op: "commit_batch", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return 0, &store.StoreError{Op: "commit_batch", Err: errors.New("sync cursor not initialized")}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &store.StoreError{Op: "commit_batch", Err: err}
	}
	return inserted, nil
}

// LoadCursor returns the sync cursor and whether one has been saved.
func (s *Store) LoadCursor(ctx context.Context) (model.SyncCursor, bool, error) {
	var (
		cursor    model.SyncCursor
		deployed  int64
		updatedAt time.Time
	)
	row := s.pool.QueryRow(ctx, `
		SELECT last_scanned_block, deployment_block, updated_at FROM sync_cursor WHERE id = 1
	`)
	if err := row.Scan(&cursor.LastScannedBlock, &deployed, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncCursor{}, false, nil
		}
		return model.SyncCursor{}, false, &store.StoreError{Op: "load_cursor", Err: err}
	}
	cursor.DeploymentBlock = uint64(deployed)
	cursor.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	return cursor, true, nil
}

// SaveCursor stores the full cursor row, creating it if absent.
func (s *Store) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursor (id, last_scanned_block, deployment_block, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET last_scanned_block = EXCLUDED.last_scanned_block,
			deployment_block = EXCLUDED.deployment_block,
			updated_at = now()
	`, cursor.LastScannedBlock, int64(cursor.DeploymentBlock))
	if err != nil {
		return &store.StoreError{Op: "save_cursor", Err: err}
	}
	return nil
}

func scanRecord(rows pgx.Rows) (model.MigrationRecord, error) {
	var (
		r          model.MigrationRecord
		logIndex   int64
		blockNum   int64
		blockTS    int64
		rawText    string
		scaledText string
		source     string
		ingestedAt time.Time
	)
	err := rows.Scan(
		&r.TxHash, &logIndex, &blockNum, &blockTS,
		&r.FromAddress, &r.ToAddress, &rawText, &scaledText, &source, &ingestedAt,
	)
	if err != nil {
		return model.MigrationRecord{}, err
	}

	raw, ok := new(big.Int).SetString(rawText, 10)
	if !ok {
		return model.MigrationRecord{}, fmt.Errorf("parse raw_amount %q", rawText)
	}
	scaled, err := decimal.NewFromString(scaledText)
	if err != nil {
		return model.MigrationRecord{}, fmt.Errorf("parse scaled_amount %q: %w", scaledText, err)
	}

	r.LogIndex = uint64(logIndex)
	r.BlockNumber = uint64(blockNum)
	r.BlockTimestamp = uint64(blockTS)
	r.RawAmount = raw
	r.ScaledAmount = scaled
	r.Source = model.SourceClass(source)
	r.IngestedAt = ingestedAt.UTC().Format(time.RFC3339)
	return r, nil
}

func (s *Store) queryRecords(ctx context.Context, sql string, args ...interface{}) ([]model.MigrationRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &store.StoreError{Op: "query_records", Err: err}
	}
	defer rows.Close()

	var out []model.MigrationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, &store.StoreError{Op: "query_records", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StoreError{Op: "query_records", Err: err}
	}
	return out, nil
}

// QueryRecords returns stored records in (block_number, log_index) order.
func (s *Store) QueryRecords(ctx context.Context, filter store.RecordFilter) ([]model.MigrationRecord, error) {
	sql := `SELECT ` + selectRecordColumns + ` FROM migrations`
	var conds []string
	var args []interface{}

	if filter.FromBlock > 0 {
		args = append(args, int64(filter.FromBlock))
		conds = append(conds, fmt.Sprintf("block_number >= $%d", len(args)))
	}
	if filter.ToBlock > 0 {
		args = append(args, int64(filter.ToBlock))
		conds = append(conds, fmt.Sprintf("block_number <= $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY block_number, log_index"
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return s.queryRecords(ctx, sql, args...)
}

// QueryByAddress returns records sent from addr in chain order. Addresses
// are stored lowercased, so lookups normalize first.
func (s *Store) QueryByAddress(ctx context.Context, addr string) ([]model.MigrationRecord, error) {
	sql := `SELECT ` + selectRecordColumns + ` FROM migrations WHERE from_address = $1 ORDER BY block_number, log_index`
	return s.queryRecords(ctx, sql, model.NormalizeAddress(addr))
}

// CountRecords returns the number of stored records.
func (s *Store) CountRecords(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM migrations`).Scan(&count); err != nil {
		return 0, &store.StoreError{Op: "count_records", Err: err}
	}
	return uint64(count), nil
}

// UpdateSource rewrites the source class of one stored record.
func (s *Store) UpdateSource(ctx context.Context, id model.EventID, source model.SourceClass) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE migrations SET source = $3 WHERE tx_hash = $1 AND log_index = $2
	`, id.TxHash, int64(id.LogIndex), string(source))
	if err != nil {
		return &store.StoreError{Op: "update_source", Err: err}
	}
	return nil
}

// ReplaceDailySnapshots atomically replaces all stored snapshots.
func (s *Store) ReplaceDailySnapshots(ctx context.Context, snapshots []model.DailySnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &store.StoreError{Op: "replace_snapshots", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM daily_snapshots`); err != nil {
		return &store.StoreError{Op: "replace_snapshots", Err: err}
	}

	if len(snapshots) > 0 {
		batch := &pgx.Batch{}
		for _, snap := range snapshots {
			batch.Queue(`
				INSERT INTO daily_snapshots (date, count, total_scaled, unique_senders)
				VALUES ($1, $2, $3::numeric, $4)
			`, snap.Date, int64(snap.Count), snap.TotalScaled.String(), int64(snap.UniqueSenders))
		}
		br := tx.SendBatch(ctx, batch)
		for range snapshots {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return &store.StoreError{Op: "replace_snapshots", Err: err}
			}
		}
		if err := br.Close(); err != nil {
			return &store.StoreError{Op: "replace_snapshots", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &store.StoreError{Op: "replace_snapshots", Err: err}
	}
	return nil
}

// LoadDailySnapshots returns stored snapshots ordered by date.
func (s *Store) LoadDailySnapshots(ctx context.Context) ([]model.DailySnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, count, total_scaled::text, unique_senders FROM daily_snapshots ORDER BY date
	`)
	if err != nil {
		return nil, &store.StoreError{Op: "load_snapshots", Err: err}
	}
	defer rows.Close()

	var out []model.DailySnapshot
	for rows.Next() {
		var (
			snap       model.DailySnapshot
			count      int64
			totalText  string
			uniqueFrom int64
		)
		if err := rows.Scan(&snap.Date, &count, &totalText, &uniqueFrom); err != nil {
			return nil, &store.StoreError{Op: "load_snapshots", Err: err}
		}
		total, err := decimal.NewFromString(totalText)
		if err != nil {
			return nil, &store.StoreError{Op: "load_snapshots", Err: fmt.Errorf("parse total_scaled %q: %w", totalText, err)}
		}
		snap.Count = uint64(count)
		snap.TotalScaled = total
		snap.UniqueSenders = uint64(uniqueFrom)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StoreError{Op: "load_snapshots", Err: err}
	}
	return out, nil
}

// Reset drops all records, snapshots, and the cursor.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &store.StoreError{Op: "reset", Err: err}
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM migrations`,
		`DELETE FROM daily_snapshots`,
		`DELETE FROM sync_cursor`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return &store.StoreError{Op: "reset", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &store.StoreError{Op: "reset", Err: err}
	}
	return nil
}
