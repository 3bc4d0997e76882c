package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeCodeReader struct {
	deployedAt int64 // -1 means the address never has code
	probes     int
	failAt     map[uint64]error
}

func (f *fakeCodeReader) HasCode(_ context.Context, _ common.Address, block uint64) (bool, error) {
	f.probes++
	if err, ok := f.failAt[block]; ok {
		return false, err
	}
	if f.deployedAt < 0 {
		return false, nil
	}
	return block >= uint64(f.deployedAt), nil
}

var probeAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")

func TestFindDeploymentBlockMidChain(t *testing.T) {
	reader := &fakeCodeReader{deployedAt: 512}
	got, err := FindDeploymentBlock(context.Background(), reader, probeAddr, 1000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 512 {
		t.Fatalf("deployment block = %d, want 512", got)
	}
	if reader.probes > 12 {
		t.Fatalf("used %d probes, want at most 12", reader.probes)
	}
}

func TestFindDeploymentBlockAtGenesis(t *testing.T) {
	reader := &fakeCodeReader{deployedAt: 0}
	got, err := FindDeploymentBlock(context.Background(), reader, probeAddr, 500, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("deployment block = %d, want 0", got)
	}
	if reader.probes != 2 {
		t.Fatalf("used %d probes, want 2", reader.probes)
	}
}

func TestFindDeploymentBlockAtLatest(t *testing.T) {
	reader := &fakeCodeReader{deployedAt: 1000}
	got, err := FindDeploymentBlock(context.Background(), reader, probeAddr, 1000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Fatalf("deployment block = %d, want 1000", got)
	}
}

func TestFindDeploymentBlockEarly(t *testing.T) {
	reader := &fakeCodeReader{deployedAt: 1}
	got, err := FindDeploymentBlock(context.Background(), reader, probeAddr, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("deployment block = %d, want 1", got)
	}
}

func TestFindDeploymentBlockNeverDeployed(t *testing.T) {
	reader := &fakeCodeReader{deployedAt: -1}
	_, err := FindDeploymentBlock(context.Background(), reader, probeAddr, 1000, nil)
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("got %v, want SyncError", err)
	}
	if reader.probes != 1 {
		t.Fatalf("used %d probes, want 1", reader.probes)
	}
}

func TestFindDeploymentBlockProbeFailure(t *testing.T) {
	probeErr := errors.New("probe boom")
	reader := &fakeCodeReader{deployedAt: 512, failAt: map[uint64]error{500: probeErr}}
	_, err := FindDeploymentBlock(context.Background(), reader, probeAddr, 1000, nil)
	if !errors.Is(err, probeErr) {
		t.Fatalf("got %v, want wrapped probe error", err)
	}
}
