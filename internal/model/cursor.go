package model

// SyncCursor is the persistent high-water mark of committed scan progress.
//
// LastScannedBlock is signed so a fresh cursor can sit one block before a
// deployment at block zero. Every block at or below it has been scanned and
// its events durably stored.
type SyncCursor struct {
	LastScannedBlock int64  `json:"last_scanned_block"`
	DeploymentBlock  uint64 `json:"deployment_block"`
	UpdatedAt        string `json:"updated_at"`
}

// NewCursor seeds a cursor immediately before the deployment block.
func NewCursor(deploymentBlock uint64) SyncCursor {
	return SyncCursor{
		LastScannedBlock: int64(deploymentBlock) - 1,
		DeploymentBlock:  deploymentBlock,
	}
}

// NextBlock returns the first block the cursor has not yet covered.
func (c SyncCursor) NextBlock() uint64 {
	if c.LastScannedBlock < 0 {
		return 0
	}
	return uint64(c.LastScannedBlock) + 1
}
