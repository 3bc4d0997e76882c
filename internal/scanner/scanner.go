// Package scanner walks block ranges for token transfers into the migration
// contract and turns matching logs into migration records.
package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"migrationScope/internal/chain"
	"migrationScope/internal/metrics"
	"migrationScope/internal/model"
)

// TransferTopic is the keccak hash of the ERC-20 Transfer event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Ledger is the chain surface the scanner needs.
type Ledger interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error)
}

// Config controls what the scanner looks for.
type Config struct {
	Token             common.Address
	MigrationContract common.Address
	Decimals          uint8
	BatchSize         uint64
	BridgeTopics      []common.Hash
	ClassifySources   bool
	Logger            *zap.Logger
}

// EmitFunc receives decoded records one batch at a time. batchEnd is the
// last block the batch covered, so callers can commit progress per batch.
type EmitFunc func(records []model.MigrationRecord, batchEnd uint64) error

// Scanner filters token transfer logs addressed to the migration contract
// and decodes them into records.
type Scanner struct {
	ledger     Ledger
	cfg        Config
	classifier *Classifier
	logger     *zap.Logger
}

// New builds a Scanner over the given ledger.
func New(ledger Ledger, cfg Config) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scanner{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.ClassifySources {
		s.classifier = NewClassifier(ledger, cfg.BridgeTopics, logger)
	}
	return s
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// Scan walks [fromBlock, toBlock] in batches, decoding matching logs and
// emitting records in (block, log index) order. A failed emit stops the
// scan so no later batch can outrun uncommitted work.
func (s *Scanner) Scan(ctx context.Context, fromBlock, toBlock uint64, emit EmitFunc) error {
	ranges, err := SplitRange(fromBlock, toBlock, s.cfg.BatchSize)
	if err != nil {
		return &chain.PermanentError{Op: "scan", Err: err}
	}

	// Position 1 (from) stays open; position 2 pins the recipient.
	topics := [][]common.Hash{
		{TransferTopic},
		nil,
		{addressTopic(s.cfg.MigrationContract)},
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := s.ledger.FilterLogs(ctx, blockRange.From, blockRange.To, []common.Address{s.cfg.Token}, topics)
		if err != nil {
			return err
		}

		records, err := s.decodeBatch(ctx, logs)
		if err != nil {
			return err
		}
		metrics.ScanBatches.Inc()

		s.logger.Debug("scanned range",
			zap.Uint64("from_block", blockRange.From),
			zap.Uint64("to_block", blockRange.To),
			zap.Int("logs", len(logs)),
			zap.Int("records", len(records)))

		if err := emit(records, blockRange.To); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) decodeBatch(ctx context.Context, logs []types.Log) ([]model.MigrationRecord, error) {
	records := make([]model.MigrationRecord, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}

		event, err := decodeTransfer(lg)
		if err != nil {
			metrics.LogsSkipped.Inc()
			s.logger.Warn("skipping unrecognized log",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Uint64("log_index", uint64(lg.Index)),
				zap.Error(err))
			continue
		}

		// Timestamp lookups are chain calls; their failures abort the
		// batch rather than silently dropping the record.
		timestamp, err := s.ledger.BlockTimestamp(ctx, lg.BlockNumber)
		if err != nil {
			return nil, err
		}

		source := model.SourceUnknown
		if s.classifier != nil {
			source = s.classifier.Classify(ctx, event.From, lg)
		}

		records = append(records, model.MigrationRecord{
			TxHash:         lg.TxHash.Hex(),
			LogIndex:       uint64(lg.Index),
			BlockNumber:    lg.BlockNumber,
			BlockTimestamp: timestamp,
			FromAddress:    model.NormalizeAddress(event.From.Hex()),
			ToAddress:      model.NormalizeAddress(event.To.Hex()),
			RawAmount:      event.Amount,
			ScaledAmount:   model.ScaleRawAmount(event.Amount, s.cfg.Decimals),
			Source:         source,
			IngestedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})
	return records, nil
}

type transferEvent struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// decodeTransfer validates the log shape of an indexed ERC-20 Transfer and
// extracts its fields.
func decodeTransfer(lg types.Log) (transferEvent, error) {
	if len(lg.Topics) != 3 {
		return transferEvent{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}
	if lg.Topics[0] != TransferTopic {
		return transferEvent{}, fmt.Errorf("unexpected topic0: %s", lg.Topics[0].Hex())
	}
	if len(lg.Data) != 32 {
		return transferEvent{}, fmt.Errorf("expected 32 data bytes, got %d", len(lg.Data))
	}
	return transferEvent{
		From:   common.BytesToAddress(lg.Topics[1].Bytes()),
		To:     common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount: new(big.Int).SetBytes(lg.Data),
	}, nil
}
