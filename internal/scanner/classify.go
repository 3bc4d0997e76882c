package scanner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"migrationScope/internal/metrics"
	"migrationScope/internal/model"
)

// Classifier assigns a source class to migration senders.
//
// A sender whose migration transaction also emitted a recognized bridge
// event is bridged. A sender with prior chain activity is native. Everything
// else, including senders we failed to look up, stays unknown.
type Classifier struct {
	ledger       Ledger
	bridgeTopics map[common.Hash]struct{}
	logger       *zap.Logger
}

// NewClassifier builds a Classifier recognizing the given bridge topics.
func NewClassifier(ledger Ledger, bridgeTopics []common.Hash, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	topics := make(map[common.Hash]struct{}, len(bridgeTopics))
	for _, topic := range bridgeTopics {
		topics[topic] = struct{}{}
	}
	return &Classifier{
		ledger:       ledger,
		bridgeTopics: topics,
		logger:       logger,
	}
}

// Classify labels where the sender's tokens came from. Lookup failures
// degrade to SourceUnknown so one bad receipt cannot abort a batch.
func (c *Classifier) Classify(ctx context.Context, from common.Address, lg types.Log) model.SourceClass {
	cls := c.classify(ctx, from, lg)
	metrics.ClassifiedSources.WithLabelValues(string(cls)).Inc()
	return cls
}

func (c *Classifier) classify(ctx context.Context, from common.Address, lg types.Log) model.SourceClass {
	if len(c.bridgeTopics) > 0 {
		receipt, err := c.ledger.TransactionReceipt(ctx, lg.TxHash)
		if err != nil {
			c.logger.Warn("receipt lookup failed during classification",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Error(err))
			return model.SourceUnknown
		}
		for _, rlog := range receipt.Logs {
			if rlog == nil || len(rlog.Topics) == 0 {
				continue
			}
			if _, ok := c.bridgeTopics[rlog.Topics[0]]; ok {
				return model.SourceBridged
			}
		}
	}

	// Genesis transfers have no parent block to inspect.
	if lg.BlockNumber == 0 {
		return model.SourceUnknown
	}
	nonce, err := c.ledger.NonceAt(ctx, from, lg.BlockNumber-1)
	if err != nil {
		c.logger.Warn("nonce lookup failed during classification",
			zap.String("address", from.Hex()),
			zap.Error(err))
		return model.SourceUnknown
	}
	if nonce == 0 {
		return model.SourceUnknown
	}
	return model.SourceNative
}
