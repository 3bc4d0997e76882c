package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"migrationScope/internal/chain"
	"migrationScope/internal/model"
	"migrationScope/internal/scanner"
	"migrationScope/internal/store"
)

var (
	testToken    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testContract = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testSender   = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// fakeLedger scripts chain state for syncer tests. deployedAt < 0 means the
// contract never appears on chain.
type fakeLedger struct {
	mu          sync.Mutex
	latest      uint64
	deployedAt  int64
	logs        []types.Log
	nonces      map[common.Address]uint64
	receipts    map[common.Hash]*types.Receipt
	filterCalls [][2]uint64
	codeCalls   int

	filterStarted chan struct{}
	filterRelease chan struct{}
}

func (f *fakeLedger) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	if f.filterStarted != nil {
		f.filterStarted <- struct{}{}
	}
	if f.filterRelease != nil {
		<-f.filterRelease
	}

	f.mu.Lock()
	f.filterCalls = append(f.filterCalls, [2]uint64{fromBlock, toBlock})
	f.mu.Unlock()

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= fromBlock && lg.BlockNumber <= toBlock {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeLedger) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return 1700000000 + number*12, nil
}

func (f *fakeLedger) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, fmt.Errorf("no receipt for %s", txHash.Hex())
}

func (f *fakeLedger) NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error) {
	return f.nonces[addr], nil
}

func (f *fakeLedger) HasCode(ctx context.Context, addr common.Address, block uint64) (bool, error) {
	f.mu.Lock()
	f.codeCalls++
	f.mu.Unlock()
	return f.deployedAt >= 0 && block >= uint64(f.deployedAt), nil
}

func (f *fakeLedger) LatestBlock(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeLedger) calls() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]uint64, len(f.filterCalls))
	copy(out, f.filterCalls)
	return out
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func transferLog(block uint64, index uint, amount *big.Int) types.Log {
	var data [32]byte
	amount.FillBytes(data[:])
	return types.Log{
		Address:     testToken,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(index))),
		Topics: []common.Hash{
			scanner.TransferTopic,
			addrTopic(testSender),
			addrTopic(testContract),
		},
		Data: data[:],
	}
}

func testConfig() Config {
	return Config{
		Token:             testToken,
		MigrationContract: testContract,
		Decimals:          18,
		BatchSize:         100,
	}
}

func TestRunOnceSeedsCursorAndScans(t *testing.T) {
	amount, _ := new(big.Int).SetString("1500000000000000000", 10)
	ledger := &fakeLedger{
		latest:     250,
		deployedAt: 100,
		logs:       []types.Log{transferLog(150, 0, amount)},
	}
	st := store.NewMemoryStore()
	cfg := testConfig()
	cfg.SnapshotRefresh = true
	s := New(cfg, ledger, st, nil)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.FromBlock != 100 || res.ToBlock != 250 {
		t.Fatalf("pass covered [%d, %d], want [100, 250]", res.FromBlock, res.ToBlock)
	}
	if res.Batches != 2 {
		t.Fatalf("got %d batches, want 2", res.Batches)
	}
	if res.Inserted != 1 {
		t.Fatalf("got %d inserted, want 1", res.Inserted)
	}
	if res.LastScanned != 250 {
		t.Fatalf("got last scanned %d, want 250", res.LastScanned)
	}

	cursor, ok, err := st.LoadCursor(context.Background())
	if err != nil || !ok {
		t.Fatalf("LoadCursor: ok=%v err=%v", ok, err)
	}
	if cursor.DeploymentBlock != 100 {
		t.Fatalf("got deployment block %d, want 100", cursor.DeploymentBlock)
	}
	if cursor.LastScannedBlock != 250 {
		t.Fatalf("got cursor %d, want 250", cursor.LastScannedBlock)
	}

	records, err := st.QueryRecords(context.Background(), store.RecordFilter{})
	if err != nil {
		t.Fatalf("QueryRecords: %v", err)
	}
	if len(records) != 1 || records[0].ScaledAmount.String() != "1.5" {
		t.Fatalf("unexpected records: %+v", records)
	}

	snapshots, err := st.LoadDailySnapshots(context.Background())
	if err != nil {
		t.Fatalf("LoadDailySnapshots: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Count != 1 {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}
}

func TestRunOnceResumesFromCursor(t *testing.T) {
	ledger := &fakeLedger{latest: 210, deployedAt: 100}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.SyncCursor{LastScannedBlock: 199, DeploymentBlock: 100}); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	calls := ledger.calls()
	if len(calls) != 1 || calls[0] != [2]uint64{200, 210} {
		t.Fatalf("got filter calls %v, want [[200 210]]", calls)
	}
	if ledger.codeCalls != 0 {
		t.Fatalf("relocated deployment despite saved cursor (%d code probes)", ledger.codeCalls)
	}

	cursor, _, _ := st.LoadCursor(context.Background())
	if cursor.LastScannedBlock != 210 {
		t.Fatalf("got cursor %d, want 210", cursor.LastScannedBlock)
	}
}

func TestRunOnceNothingToSync(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: 100}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.SyncCursor{LastScannedBlock: 250, DeploymentBlock: 100}); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Batches != 0 || res.Inserted != 0 {
		t.Fatalf("no-op pass did work: %+v", res)
	}
	if len(ledger.calls()) != 0 {
		t.Fatalf("no-op pass filtered logs: %v", ledger.calls())
	}

	cursor, _, _ := st.LoadCursor(context.Background())
	if cursor.LastScannedBlock != 250 {
		t.Fatalf("no-op pass moved cursor to %d", cursor.LastScannedBlock)
	}
}

func TestRunOnceClampsPassSize(t *testing.T) {
	ledger := &fakeLedger{latest: 1000, deployedAt: 0}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.NewCursor(0)); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	cfg := testConfig()
	cfg.MaxBlocksPerRun = 50
	s := New(cfg, ledger, st, nil)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.FromBlock != 0 || res.ToBlock != 49 {
		t.Fatalf("pass covered [%d, %d], want [0, 49]", res.FromBlock, res.ToBlock)
	}

	// The next pass picks up where the clamp stopped.
	res, err = s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if res.FromBlock != 50 || res.ToBlock != 99 {
		t.Fatalf("second pass covered [%d, %d], want [50, 99]", res.FromBlock, res.ToBlock)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	ledger := &fakeLedger{
		latest:        250,
		deployedAt:    100,
		filterStarted: make(chan struct{}, 4),
		filterRelease: make(chan struct{}),
	}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.NewCursor(100)); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	<-ledger.filterStarted
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("overlapping pass got %v, want ErrSyncInProgress", err)
	}

	close(ledger.filterRelease)
	if err := <-done; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
}

// failingStore fails the nth CommitBatch to exercise mid-pass persistence
// failures.
type failingStore struct {
	*store.MemoryStore
	failOn int
	calls  int
}

func (f *failingStore) CommitBatch(ctx context.Context, records []model.MigrationRecord, lastScanned int64) (int, error) {
	f.calls++
	if f.calls == f.failOn {
		return 0, &store.StoreError{Op: "commit_batch", Err: errors.New("disk full")}
	}
	return f.MemoryStore.CommitBatch(ctx, records, lastScanned)
}

func TestRunOnceStopsOnCommitFailure(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: 100}
	st := &failingStore{MemoryStore: store.NewMemoryStore(), failOn: 2}
	if err := st.SaveCursor(context.Background(), model.NewCursor(100)); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	_, err := s.RunOnce(context.Background())
	var storeErr *store.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("got %v, want StoreError", err)
	}

	// The first batch committed; the cursor stops at its end.
	cursor, _, _ := st.LoadCursor(context.Background())
	if cursor.LastScannedBlock != 199 {
		t.Fatalf("got cursor %d, want 199", cursor.LastScannedBlock)
	}
}

func TestRunOnceFallsBackToStartBlock(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: -1}
	st := store.NewMemoryStore()
	cfg := testConfig()
	cfg.DefaultStartBlock = 77
	s := New(cfg, ledger, st, nil)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	cursor, ok, _ := st.LoadCursor(context.Background())
	if !ok || cursor.DeploymentBlock != 77 {
		t.Fatalf("got cursor %+v, want deployment 77", cursor)
	}
	calls := ledger.calls()
	if len(calls) == 0 || calls[0][0] != 77 {
		t.Fatalf("scan did not start at fallback block: %v", calls)
	}
}

func TestRunOnceFailsWithoutFallback(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: -1}
	st := store.NewMemoryStore()
	s := New(testConfig(), ledger, st, nil)

	_, err := s.RunOnce(context.Background())
	var syncErr *chain.SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("got %v, want SyncError", err)
	}
	if _, ok, _ := st.LoadCursor(context.Background()); ok {
		t.Fatal("cursor saved despite failed deployment location")
	}
}

func TestReclassify(t *testing.T) {
	active := common.HexToAddress("0x4444444444444444444444444444444444444444")
	fresh := common.HexToAddress("0x5555555555555555555555555555555555555555")
	ledger := &fakeLedger{
		latest:     250,
		deployedAt: 100,
		nonces:     map[common.Address]uint64{active: 5},
	}
	st := store.NewMemoryStore()
	seed := []model.MigrationRecord{
		{
			TxHash: "0xaa", LogIndex: 0, BlockNumber: 150, BlockTimestamp: 1700000000,
			FromAddress: model.NormalizeAddress(active.Hex()), ToAddress: "0x02",
			RawAmount: big.NewInt(10), Source: model.SourceUnknown,
		},
		{
			TxHash: "0xbb", LogIndex: 0, BlockNumber: 151, BlockTimestamp: 1700000012,
			FromAddress: model.NormalizeAddress(fresh.Hex()), ToAddress: "0x02",
			RawAmount: big.NewInt(20), Source: model.SourceUnknown,
		},
		{
			TxHash: "0xcc", LogIndex: 0, BlockNumber: 152, BlockTimestamp: 1700000024,
			FromAddress: "0x03", ToAddress: "0x02",
			RawAmount: big.NewInt(30), Source: model.SourceNative,
		},
	}
	if _, err := st.InsertBatch(context.Background(), seed); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	changed, err := s.Reclassify(context.Background(), false)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if changed != 1 {
		t.Fatalf("got %d changed, want 1", changed)
	}

	records, _ := st.QueryRecords(context.Background(), store.RecordFilter{})
	bySender := make(map[string]model.SourceClass, len(records))
	for _, r := range records {
		bySender[r.FromAddress] = r.Source
	}
	if bySender[model.NormalizeAddress(active.Hex())] != model.SourceNative {
		t.Fatalf("active sender not reclassified: %v", bySender)
	}
	if bySender[model.NormalizeAddress(fresh.Hex())] != model.SourceUnknown {
		t.Fatalf("fresh sender should stay unknown: %v", bySender)
	}

	// all revisits classified records too; 0x03 has no history and drops
	// back to unknown.
	changed, err = s.Reclassify(context.Background(), true)
	if err != nil {
		t.Fatalf("Reclassify all: %v", err)
	}
	if changed != 1 {
		t.Fatalf("got %d changed on full pass, want 1", changed)
	}
	records, _ = st.QueryRecords(context.Background(), store.RecordFilter{})
	for _, r := range records {
		if r.FromAddress == "0x03" && r.Source != model.SourceUnknown {
			t.Fatalf("full pass left 0x03 as %s", r.Source)
		}
	}
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	ledger := &fakeLedger{latest: 5, deployedAt: 0}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.SyncCursor{LastScannedBlock: 5, DeploymentBlock: 0}); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	cfg := testConfig()
	cfg.SyncInterval = 5 * time.Millisecond
	s := New(cfg, ledger, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	if err := s.RunContinuous(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestReset(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: 100}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.NewCursor(100)); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	if _, err := st.InsertBatch(context.Background(), []model.MigrationRecord{{
		TxHash: "0xaa", LogIndex: 0, BlockNumber: 150,
		FromAddress: "0x01", ToAddress: "0x02",
		RawAmount: big.NewInt(10), Source: model.SourceUnknown,
	}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	count, _ := st.CountRecords(context.Background())
	if count != 0 {
		t.Fatalf("got %d records after reset, want 0", count)
	}
	if _, ok, _ := st.LoadCursor(context.Background()); ok {
		t.Fatal("cursor survived reset")
	}
}

func TestResetAndRescan(t *testing.T) {
	amount, _ := new(big.Int).SetString("1500000000000000000", 10)
	ledger := &fakeLedger{
		latest:     250,
		deployedAt: 100,
		logs:       []types.Log{transferLog(150, 0, amount)},
	}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.SyncCursor{LastScannedBlock: 250, DeploymentBlock: 100}); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	if _, err := st.InsertBatch(context.Background(), []model.MigrationRecord{{
		TxHash: "0xstale", LogIndex: 0, BlockNumber: 10,
		FromAddress: "0x01", ToAddress: "0x02",
		RawAmount: big.NewInt(1), Source: model.SourceUnknown,
	}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	res, err := s.ResetAndRescan(context.Background())
	if err != nil {
		t.Fatalf("ResetAndRescan: %v", err)
	}
	if res.FromBlock != 100 || res.Inserted != 1 {
		t.Fatalf("unexpected rescan result: %+v", res)
	}

	records, _ := st.QueryRecords(context.Background(), store.RecordFilter{})
	if len(records) != 1 || records[0].TxHash == "0xstale" {
		t.Fatalf("stale records survived rescan: %+v", records)
	}
	cursor, _, _ := st.LoadCursor(context.Background())
	if cursor.LastScannedBlock != 250 || cursor.DeploymentBlock != 100 {
		t.Fatalf("unexpected cursor after rescan: %+v", cursor)
	}
}

func TestStatus(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: 100}
	st := store.NewMemoryStore()
	if err := st.SaveCursor(context.Background(), model.SyncCursor{LastScannedBlock: 190, DeploymentBlock: 100, UpdatedAt: "2024-05-01T00:00:00Z"}); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	if _, err := st.InsertBatch(context.Background(), []model.MigrationRecord{{
		TxHash: "0xaa", LogIndex: 0, BlockNumber: 150,
		FromAddress: "0x01", ToAddress: "0x02",
		RawAmount: big.NewInt(10), Source: model.SourceUnknown,
	}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	s := New(testConfig(), ledger, st, nil)

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LastScannedBlock != 190 || status.ChainHead != 250 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.BlocksBehind != 60 {
		t.Fatalf("got %d blocks behind, want 60", status.BlocksBehind)
	}
	if status.RecordCount != 1 {
		t.Fatalf("got %d records, want 1", status.RecordCount)
	}
	if status.Syncing {
		t.Fatal("idle syncer reported as syncing")
	}
}

func TestStatusWithoutCursor(t *testing.T) {
	ledger := &fakeLedger{latest: 250, deployedAt: 100}
	s := New(testConfig(), ledger, store.NewMemoryStore(), nil)

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LastScannedBlock != -1 {
		t.Fatalf("got last scanned %d, want -1", status.LastScannedBlock)
	}
	if status.BlocksBehind != 251 {
		t.Fatalf("got %d blocks behind, want 251", status.BlocksBehind)
	}
}
