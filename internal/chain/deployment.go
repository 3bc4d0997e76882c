package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// CodeReader reports whether an address holds contract code at a block.
type CodeReader interface {
	HasCode(ctx context.Context, addr common.Address, block uint64) (bool, error)
}

// FindDeploymentBlock locates the first block at which addr holds code by
// binary searching [0, latest]. Code presence is monotone for ordinary
// deployments, so each probe halves the candidate window.
func FindDeploymentBlock(ctx context.Context, reader CodeReader, addr common.Address, latest uint64, logger *zap.Logger) (uint64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	present, err := reader.HasCode(ctx, addr, latest)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, &SyncError{
			Op:  "locate_deployment",
			Err: fmt.Errorf("no code at %s up to block %d", addr.Hex(), latest),
		}
	}
	if latest == 0 {
		return 0, nil
	}

	present, err = reader.HasCode(ctx, addr, 0)
	if err != nil {
		return 0, err
	}
	if present {
		return 0, nil
	}

	// Invariant: code absent at lo, present at hi.
	lo, hi := uint64(0), latest
	probes := 0
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		present, err := reader.HasCode(ctx, addr, mid)
		if err != nil {
			return 0, err
		}
		probes++
		if present {
			hi = mid
		} else {
			lo = mid
		}
	}

	logger.Info("located deployment block",
		zap.String("address", addr.Hex()),
		zap.Uint64("block", hi),
		zap.Int("probes", probes))
	return hi, nil
}
