package workers

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"mocha-rewards/chain"
	"mocha-rewards/models"
	"mocha-rewards/services"
	"mocha-rewards/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	contract = "0x00000000000000000000000000000000000000c0"
	creator  = "0x00000000000000000000000000000000000000aa"
	minter   = "0x0000000000000000000000000000000000000abc"
)

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errc: make(chan error, 1)} }

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

// fakeContract serves canned logs and token URIs.
type fakeContract struct {
	mu         sync.Mutex
	head       uint64
	logs       []chain.TransferEvent
	uriErr     map[int64]error
	subscribeN int
	sinks      chan chan<- chain.TransferEvent
	filterErr  error
}

func newFakeContract() *fakeContract {
	return &fakeContract{uriErr: map[int64]error{}, sinks: make(chan chan<- chain.TransferEvent, 4)}
}

func (f *fakeContract) Address() string { return contract }

func (f *fakeContract) SubscribeMints(_ context.Context, sink chan<- chain.TransferEvent) (chain.Subscription, error) {
	f.mu.Lock()
	f.subscribeN++
	f.mu.Unlock()
	f.sinks <- sink
	return newFakeSub(), nil
}

func (f *fakeContract) FilterMints(_ context.Context, from, to uint64) ([]chain.TransferEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []chain.TransferEvent
	for _, ev := range f.logs {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeContract) TokenURI(_ context.Context, id *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uriErr[id.Int64()]; err != nil {
		return "", err
	}
	return "ipfs://token/" + id.String(), nil
}

func (f *fakeContract) MintLimit(context.Context) (uint64, error) { return 100, nil }

func (f *fakeContract) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func mintEvent(tokenID int64, block uint64) chain.TransferEvent {
	return chain.TransferEvent{
		From:        chain.ZeroAddress,
		To:          minter,
		TokenID:     big.NewInt(tokenID),
		TxHash:      "0xfeed",
		BlockNumber: block,
	}
}

type stubMetadata struct {
	md  *models.TokenMetadata
	err error
}

func (s stubMetadata) Fetch(context.Context, string) (*models.TokenMetadata, []byte, error) {
	if s.err != nil || s.md == nil {
		return nil, nil, s.err
	}
	return s.md, []byte(`{"name":"` + s.md.Name + `"}`), nil
}

func setup(t *testing.T, maxMints int64) (*gorm.DB, *models.Memory, *fakeContract, *ChainListener) {
	t.Helper()
	db := testutil.OpenDB(t)
	mem := testutil.SeedMemory(t, db, testutil.MemoryFixture{Contract: contract, Creator: creator, MaxMints: maxMints})
	fc := newFakeContract()
	return db, mem, fc, NewChainListener(fc, services.NewLedger(db), nil)
}

func currentMints(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var m models.Memory
	require.NoError(t, db.First(&m, "id = ?", id).Error)
	return m.CurrentMints
}

func TestHandleMint_RecordsOnceAndIncrements(t *testing.T) {
	db, mem, _, l := setup(t, 10)
	ctx := context.Background()

	require.Equal(t, MintRecorded, l.HandleTransfer(ctx, mintEvent(42, 5)))
	require.Equal(t, int64(1), currentMints(t, db, mem.ID))

	require.Equal(t, MintDuplicate, l.HandleTransfer(ctx, mintEvent(42, 5)))
	require.Equal(t, int64(1), currentMints(t, db, mem.ID))

	um, found, err := l.Ledger.FindUserMemoryByToken(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, minter, um.OwnerWallet)
	require.Equal(t, models.UserMemoryStatusMinted, um.Status)
	require.Equal(t, "ipfs://token/42", um.TokenURI)
	require.Equal(t, uint64(5), um.BlockNumber)
}

func TestHandleTransfer_SkipsNonMintsAndRemovedLogs(t *testing.T) {
	db, mem, _, l := setup(t, 10)
	ctx := context.Background()

	transfer := mintEvent(1, 1)
	transfer.From = creator
	require.Equal(t, MintSkipped, l.HandleTransfer(ctx, transfer))

	removed := mintEvent(2, 1)
	removed.Removed = true
	require.Equal(t, MintSkipped, l.HandleTransfer(ctx, removed))
	require.Zero(t, currentMints(t, db, mem.ID))
}

func TestHandleMint_TokenURIFailureDropsEvent(t *testing.T) {
	db, mem, fc, l := setup(t, 10)
	fc.uriErr[9] = errors.New("rpc timeout")

	outcome, err := l.HandleMint(context.Background(), mintEvent(9, 1))
	require.Equal(t, MintFailed, outcome)
	require.True(t, services.IsCode(err, services.ErrUpstreamUnavailable))

	_, found, err := l.Ledger.FindUserMemoryByToken(context.Background(), 9)
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, currentMints(t, db, mem.ID))
}

func TestHandleMint_MissingRootMemory(t *testing.T) {
	db := testutil.OpenDB(t)
	l := NewChainListener(newFakeContract(), services.NewLedger(db), nil)

	outcome, err := l.HandleMint(context.Background(), mintEvent(1, 1))
	require.Equal(t, MintDropped, outcome)
	require.ErrorIs(t, err, services.ErrRootMemoryMissing)
}

func TestHandleMint_CapReached(t *testing.T) {
	db, mem, _, l := setup(t, 1)
	ctx := context.Background()

	require.Equal(t, MintRecorded, l.HandleTransfer(ctx, mintEvent(1, 1)))
	outcome, err := l.HandleMint(ctx, mintEvent(2, 1))
	require.Equal(t, MintDropped, outcome)
	require.ErrorIs(t, err, services.ErrMintCapReached)
	require.Equal(t, int64(1), currentMints(t, db, mem.ID))
}

func TestHandleMint_OutOfRangeTokenID(t *testing.T) {
	_, _, _, l := setup(t, 10)
	ev := mintEvent(0, 1)
	ev.TokenID = new(big.Int).Lsh(big.NewInt(1), 70)

	outcome, err := l.HandleMint(context.Background(), ev)
	require.Equal(t, MintDropped, outcome)
	require.Error(t, err)
}

func TestHandleMint_MetadataIsBestEffort(t *testing.T) {
	_, _, _, l := setup(t, 10)
	ctx := context.Background()

	l.Metadata = stubMetadata{md: &models.TokenMetadata{
		Name:       "Rare",
		Attributes: []models.TokenAttribute{{TraitType: "MaxRedemptions", Value: float64(5)}},
	}}
	require.Equal(t, MintRecorded, l.HandleTransfer(ctx, mintEvent(1, 1)))
	um, _, err := l.Ledger.FindUserMemoryByToken(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), um.MaxRedemptions)

	l.Metadata = stubMetadata{err: errors.New("gateway down")}
	require.Equal(t, MintRecorded, l.HandleTransfer(ctx, mintEvent(2, 1)))
	um, _, err = l.Ledger.FindUserMemoryByToken(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), um.MaxRedemptions)
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	db, mem, fc, l := setup(t, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var sink chan<- chain.TransferEvent
	select {
	case sink = <-fc.sinks:
	case <-time.After(time.Second):
		t.Fatal("listener never subscribed")
	}

	require.ErrorIs(t, l.Run(ctx), ErrListenerRunning)

	sink <- mintEvent(1, 1)
	sink <- mintEvent(1, 1)
	sink <- mintEvent(2, 1)
	require.Eventually(t, func() bool { return currentMints(t, db, mem.ID) == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRun_ResubscribesAfterFailure(t *testing.T) {
	_, _, fc, l := setup(t, 10)
	l.Backoff = 10 * time.Millisecond

	sub := newFakeSub()
	wrapped := &failingOnce{fakeContract: fc, sub: sub}
	l.Chain = wrapped

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-fc.sinks
	sub.errc <- errors.New("connection reset")
	select {
	case <-fc.sinks:
	case <-time.After(time.Second):
		t.Fatal("listener did not resubscribe")
	}

	cancel()
	require.NoError(t, <-done)
}

// failingOnce hands out sub on the first subscription and fresh subs afterwards.
type failingOnce struct {
	*fakeContract
	sub  *fakeSub
	used bool
}

func (f *failingOnce) SubscribeMints(ctx context.Context, sink chan<- chain.TransferEvent) (chain.Subscription, error) {
	if _, err := f.fakeContract.SubscribeMints(ctx, sink); err != nil {
		return nil, err
	}
	if !f.used {
		f.used = true
		return f.sub, nil
	}
	return newFakeSub(), nil
}
