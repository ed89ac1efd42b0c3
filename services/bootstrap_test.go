package services

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"mocha-rewards/models"
	"mocha-rewards/testutil"

	"github.com/stretchr/testify/require"
)

type stubMintLimit struct {
	limit uint64
	err   error
	calls atomic.Int32
}

func (s *stubMintLimit) MintLimit(context.Context) (uint64, error) {
	s.calls.Add(1)
	return s.limit, s.err
}

func bootstrapDefaults() DefaultMemory {
	return DefaultMemory{
		ContractAddress: "0x00000000000000000000000000000000000000C0",
		CreatorWallet:   "0x00000000000000000000000000000000000000AA",
		Title:           "Project Mocha",
		Description:     "root memory",
	}
}

func TestEnsureDefaultMemory_Idempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	chain := &stubMintLimit{limit: 500}
	boot := NewBootstrapper(db, chain, NewQRGenerator(nil), bootstrapDefaults())
	ctx := context.Background()

	first, created, err := boot.EnsureDefaultMemory(ctx)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(500), first.MaxMints)
	require.Equal(t, testContract, *first.ContractAddress)
	require.Equal(t, testCreator, first.CreatorWallet)
	require.Equal(t, models.QRContent(first.ID), first.QRCode)
	require.Contains(t, first.QRImage, "data:image/png;base64,")
	require.Equal(t, models.MemoryStatusActive, first.Status)

	second, created, err := boot.EnsureDefaultMemory(ctx)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int32(1), chain.calls.Load())

	var count int64
	require.NoError(t, db.Model(&models.Memory{}).Where("contract_address = ?", testContract).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestEnsureDefaultMemory_ChainUnavailable(t *testing.T) {
	db := testutil.OpenDB(t)
	boot := NewBootstrapper(db, &stubMintLimit{err: errors.New("dial tcp: refused")}, NewQRGenerator(nil), bootstrapDefaults())

	_, _, err := boot.EnsureDefaultMemory(context.Background())
	require.True(t, IsCode(err, ErrUpstreamUnavailable))

	var count int64
	require.NoError(t, db.Model(&models.Memory{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEnsureDefaultMemory_RequiresContract(t *testing.T) {
	boot := NewBootstrapper(testutil.OpenDB(t), &stubMintLimit{}, NewQRGenerator(nil), DefaultMemory{})
	_, _, err := boot.EnsureDefaultMemory(context.Background())
	require.True(t, IsCode(err, ErrInvalidRequest))
}

func TestEnsureDefaultMemory_ClampsHugeMintLimit(t *testing.T) {
	db := testutil.OpenDB(t)
	boot := NewBootstrapper(db, &stubMintLimit{limit: math.MaxUint64}, NewQRGenerator(nil), bootstrapDefaults())

	mem, created, err := boot.EnsureDefaultMemory(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(math.MaxInt64), mem.MaxMints)
}
