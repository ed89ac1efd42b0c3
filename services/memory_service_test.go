package services

import (
	"context"
	"testing"

	"mocha-rewards/models"
	"mocha-rewards/testutil"

	"github.com/stretchr/testify/require"
)

func newTestMemoryService(t *testing.T) *MemoryService {
	t.Helper()
	db := testutil.OpenDB(t)
	return NewMemoryService(db, NewLedger(db), NewQRGenerator(nil), NewRedemptionEngine(db, nil))
}

func TestCreateMemory_Defaults(t *testing.T) {
	svc := newTestMemoryService(t)

	mem, err := svc.CreateMemory(context.Background(), "0x00000000000000000000000000000000000000AA", CreateMemoryInput{
		Title: "  Latte Art  ",
	})
	require.NoError(t, err)
	require.Equal(t, "Latte Art", mem.Title)
	require.Equal(t, testCreator, mem.CreatorWallet)
	require.Equal(t, int64(1), mem.MaxMints)
	require.Zero(t, mem.CurrentMints)
	require.Equal(t, int64(1), mem.RedemptionsPerToken)
	require.True(t, mem.IsRedeemable)
	require.Equal(t, models.MemoryStatusActive, mem.Status)
	require.Equal(t, models.QRContent(mem.ID), mem.QRCode)
	require.Nil(t, mem.ContractAddress)

	var stored models.Memory
	require.NoError(t, svc.DB.First(&stored, "id = ?", mem.ID).Error)
	require.Equal(t, mem.QRImage, stored.QRImage)
}

func TestCreateMemory_NotRedeemable(t *testing.T) {
	svc := newTestMemoryService(t)
	no := false

	mem, err := svc.CreateMemory(context.Background(), testCreator, CreateMemoryInput{Title: "Souvenir", IsRedeemable: &no, MaxMints: 10})
	require.NoError(t, err)

	var stored models.Memory
	require.NoError(t, svc.DB.First(&stored, "id = ?", mem.ID).Error)
	require.False(t, stored.IsRedeemable)
	require.Equal(t, int64(10), stored.MaxMints)
}

func TestCreateMemory_Validation(t *testing.T) {
	svc := newTestMemoryService(t)
	ctx := context.Background()

	_, err := svc.CreateMemory(ctx, testCreator, CreateMemoryInput{})
	require.True(t, IsCode(err, ErrInvalidRequest))

	_, err = svc.CreateMemory(ctx, testCreator, CreateMemoryInput{Title: "x", MaxMints: -1})
	require.True(t, IsCode(err, ErrInvalidRequest))

	_, err = svc.CreateMemory(ctx, testCreator, CreateMemoryInput{Title: "x", ContractAddress: "not-an-address"})
	require.True(t, IsCode(err, ErrInvalidRequest))
}

func TestCreateMemory_DuplicateContract(t *testing.T) {
	svc := newTestMemoryService(t)
	ctx := context.Background()

	first, err := svc.CreateMemory(ctx, testCreator, CreateMemoryInput{Title: "a", ContractAddress: "0x00000000000000000000000000000000000000C0"})
	require.NoError(t, err)
	require.Equal(t, testContract, *first.ContractAddress)

	_, err = svc.CreateMemory(ctx, testCreator, CreateMemoryInput{Title: "b", ContractAddress: testContract})
	require.True(t, IsCode(err, ErrConflict))
}

func TestParseTokenID(t *testing.T) {
	id, err := ParseTokenID(" 42 ")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = ParseTokenID("-1")
	require.True(t, IsCode(err, ErrInvalidRequest))
	_, err = ParseTokenID("abc")
	require.True(t, IsCode(err, ErrInvalidRequest))
}
