// Package syncer orchestrates sync passes: it seeds the cursor from the
// deployment block, walks unscanned ranges through the scanner, and commits
// each batch with the cursor in one durable step.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"migrationScope/internal/aggregate"
	"migrationScope/internal/chain"
	"migrationScope/internal/metrics"
	"migrationScope/internal/model"
	"migrationScope/internal/scanner"
	"migrationScope/internal/store"
)

// ErrSyncInProgress reports that another pass holds the write lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// Ledger is the chain surface the syncer needs.
type Ledger interface {
	scanner.Ledger
	HasCode(ctx context.Context, addr common.Address, block uint64) (bool, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// Config holds runtime settings for the syncer.
type Config struct {
	Token             common.Address
	MigrationContract common.Address
	Decimals          uint8
	BatchSize         uint64
	MaxBlocksPerRun   uint64
	DefaultStartBlock uint64
	BridgeTopics      []common.Hash
	ClassifySources   bool
	SyncInterval      time.Duration
	SnapshotRefresh   bool
}

// Result summarizes one sync pass.
type Result struct {
	FromBlock   uint64 `json:"from_block"`
	ToBlock     uint64 `json:"to_block"`
	Batches     int    `json:"batches"`
	Inserted    int    `json:"inserted"`
	LastScanned int64  `json:"last_scanned"`
}

// Status describes sync progress relative to the chain head.
type Status struct {
	LastScannedBlock int64  `json:"last_scanned_block"`
	DeploymentBlock  uint64 `json:"deployment_block"`
	ChainHead        uint64 `json:"chain_head"`
	BlocksBehind     uint64 `json:"blocks_behind"`
	RecordCount      uint64 `json:"record_count"`
	CursorUpdatedAt  string `json:"cursor_updated_at"`
	Syncing          bool   `json:"syncing"`
}

// Syncer is the single writer over the store. Passes are serialized by a
// try-lock so overlapping triggers are rejected instead of queued.
type Syncer struct {
	cfg     Config
	ledger  Ledger
	store   store.Store
	scanner *scanner.Scanner
	logger  *zap.Logger

	running sync.Mutex
}

// New builds a Syncer with its dependencies.
func New(cfg Config, ledger Ledger, st store.Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		cfg:    cfg,
		ledger: ledger,
		store:  st,
		logger: logger,
		scanner: scanner.New(ledger, scanner.Config{
			Token:             cfg.Token,
			MigrationContract: cfg.MigrationContract,
			Decimals:          cfg.Decimals,
			BatchSize:         cfg.BatchSize,
			BridgeTopics:      cfg.BridgeTopics,
			ClassifySources:   cfg.ClassifySources,
			Logger:            logger,
		}),
	}
}

// ensureCursor loads the cursor, seeding it from the located deployment
// block on first run.
func (s *Syncer) ensureCursor(ctx context.Context) (model.SyncCursor, error) {
	cursor, ok, err := s.store.LoadCursor(ctx)
	if err != nil {
		return model.SyncCursor{}, err
	}
	if ok {
		return cursor, nil
	}

	latest, err := s.ledger.LatestBlock(ctx)
	if err != nil {
		return model.SyncCursor{}, err
	}

	deployment, err := chain.FindDeploymentBlock(ctx, s.ledger, s.cfg.MigrationContract, latest, s.logger)
	if err != nil {
		var syncErr *chain.SyncError
		if !errors.As(err, &syncErr) || s.cfg.DefaultStartBlock == 0 {
			return model.SyncCursor{}, err
		}
		s.logger.Warn("deployment location failed, using configured start block",
			zap.Uint64("start_block", s.cfg.DefaultStartBlock),
			zap.Error(err))
		deployment = s.cfg.DefaultStartBlock
	}

	cursor = model.NewCursor(deployment)
	if err := s.store.SaveCursor(ctx, cursor); err != nil {
		return model.SyncCursor{}, err
	}
	s.logger.Info("seeded sync cursor", zap.Uint64("deployment_block", deployment))
	return cursor, nil
}

// RunOnce executes a single sync pass. Overlapping calls fail fast with
// ErrSyncInProgress.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, ErrSyncInProgress
	}
	defer s.running.Unlock()
	return s.runLocked(ctx)
}

func (s *Syncer) runLocked(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.SyncPassSeconds.Observe(time.Since(start).Seconds())
	}()

	cursor, err := s.ensureCursor(ctx)
	if err != nil {
		return Result{}, err
	}

	latest, err := s.ledger.LatestBlock(ctx)
	if err != nil {
		return Result{}, err
	}
	metrics.ChainHeadBlock.Set(float64(latest))

	from := cursor.NextBlock()
	result := Result{FromBlock: from, ToBlock: latest, LastScanned: cursor.LastScannedBlock}
	if from > latest {
		s.logger.Info("nothing to sync",
			zap.Uint64("next_block", from),
			zap.Uint64("latest", latest))
		return result, nil
	}

	to := latest
	if s.cfg.MaxBlocksPerRun > 0 && to-from+1 > s.cfg.MaxBlocksPerRun {
		to = from + s.cfg.MaxBlocksPerRun - 1
		s.logger.Info("clamping pass size",
			zap.Uint64("to_block", to),
			zap.Uint64("latest", latest))
	}
	result.ToBlock = to

	err = s.scanner.Scan(ctx, from, to, func(records []model.MigrationRecord, batchEnd uint64) error {
		inserted, err := s.store.CommitBatch(ctx, records, int64(batchEnd))
		if err != nil {
			return err
		}
		result.Batches++
		result.Inserted += inserted
		result.LastScanned = int64(batchEnd)

		metrics.RecordsInserted.Add(float64(inserted))
		if duplicates := len(records) - inserted; duplicates > 0 {
			metrics.RecordsDuplicate.Add(float64(duplicates))
		}
		metrics.CursorBlock.Set(float64(batchEnd))
		return nil
	})
	if err != nil {
		return result, err
	}

	if s.cfg.SnapshotRefresh {
		// Snapshots are derived data; a refresh failure must not undo a
		// committed pass.
		if err := s.refreshSnapshots(ctx); err != nil {
			s.logger.Warn("snapshot refresh failed", zap.Error(err))
		}
	}

	s.logger.Info("sync pass complete",
		zap.Uint64("from_block", from),
		zap.Uint64("to_block", to),
		zap.Int("batches", result.Batches),
		zap.Int("inserted", result.Inserted))
	return result, nil
}

func (s *Syncer) refreshSnapshots(ctx context.Context) error {
	records, err := s.store.QueryRecords(ctx, store.RecordFilter{})
	if err != nil {
		return err
	}
	return s.store.ReplaceDailySnapshots(ctx, aggregate.Snapshots(records))
}

// RunContinuous keeps syncing until ctx is canceled, sleeping SyncInterval
// between passes. Failed passes are logged and retried on the next tick.
func (s *Syncer) RunContinuous(ctx context.Context) error {
	interval := s.cfg.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sync pass failed", zap.Error(err))
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-wait.C:
		}
	}
}

// Reset wipes all stored state. The next pass rebuilds from scratch.
func (s *Syncer) Reset(ctx context.Context) error {
	if !s.running.TryLock() {
		return ErrSyncInProgress
	}
	defer s.running.Unlock()
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.logger.Info("store reset, full rescan on next pass")
	return nil
}

// ResetAndRescan wipes stored state and immediately rebuilds it with one
// pass from the relocated deployment block.
func (s *Syncer) ResetAndRescan(ctx context.Context) (Result, error) {
	if err := s.Reset(ctx); err != nil {
		return Result{}, err
	}
	return s.RunOnce(ctx)
}

// Reclassify reruns source classification over stored records and rewrites
// any whose class changed. By default only unknown-source records are
// revisited; all makes it revisit everything. Returns how many records
// changed.
func (s *Syncer) Reclassify(ctx context.Context, all bool) (int, error) {
	if !s.running.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer s.running.Unlock()

	filter := store.RecordFilter{Source: model.SourceUnknown}
	if all {
		filter = store.RecordFilter{}
	}
	records, err := s.store.QueryRecords(ctx, filter)
	if err != nil {
		return 0, err
	}

	classifier := scanner.NewClassifier(s.ledger, s.cfg.BridgeTopics, s.logger)
	changed := 0
	for _, r := range records {
		select {
		case <-ctx.Done():
			return changed, ctx.Err()
		default:
		}

		lg := types.Log{
			TxHash:      common.HexToHash(r.TxHash),
			BlockNumber: r.BlockNumber,
		}
		cls := classifier.Classify(ctx, common.HexToAddress(r.FromAddress), lg)
		if cls == r.Source {
			continue
		}
		if err := s.store.UpdateSource(ctx, r.ID(), cls); err != nil {
			return changed, err
		}
		changed++
	}

	s.logger.Info("reclassification complete",
		zap.Int("revisited", len(records)),
		zap.Int("changed", changed))
	return changed, nil
}

// Status reports sync progress against the current chain head.
func (s *Syncer) Status(ctx context.Context) (Status, error) {
	var st Status

	cursor, ok, err := s.store.LoadCursor(ctx)
	if err != nil {
		return Status{}, err
	}
	if ok {
		st.LastScannedBlock = cursor.LastScannedBlock
		st.DeploymentBlock = cursor.DeploymentBlock
		st.CursorUpdatedAt = cursor.UpdatedAt
	} else {
		st.LastScannedBlock = -1
	}

	count, err := s.store.CountRecords(ctx)
	if err != nil {
		return Status{}, err
	}
	st.RecordCount = count

	latest, err := s.ledger.LatestBlock(ctx)
	if err != nil {
		return Status{}, err
	}
	st.ChainHead = latest
	if behind := int64(latest) - st.LastScannedBlock; behind > 0 {
		st.BlocksBehind = uint64(behind)
	}

	if s.running.TryLock() {
		s.running.Unlock()
	} else {
		st.Syncing = true
	}
	return st, nil
}
