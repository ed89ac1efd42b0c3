package services

import (
	"context"
	"fmt"
	"log"
	"math"

	"mocha-rewards/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MintLimitReader is the single chain call the bootstrap needs.
type MintLimitReader interface {
	MintLimit(ctx context.Context) (uint64, error)
}

// DefaultMemory describes the root memory created for the deployed contract.
type DefaultMemory struct {
	ContractAddress string
	CreatorWallet   string
	Title           string
	Description     string
	ImageURL        string
}

// Bootstrapper makes sure a root Memory exists for the deployed contract before
// any mint event is processed.
type Bootstrapper struct {
	DB       *gorm.DB
	Chain    MintLimitReader
	QR       *QRGenerator
	Defaults DefaultMemory
}

func NewBootstrapper(db *gorm.DB, chain MintLimitReader, qr *QRGenerator, defaults DefaultMemory) *Bootstrapper {
	return &Bootstrapper{DB: db, Chain: chain, QR: qr, Defaults: defaults}
}

// EnsureDefaultMemory returns the root memory, creating it when missing. Repeated or
// concurrent calls leave exactly one row for the contract.
func (b *Bootstrapper) EnsureDefaultMemory(ctx context.Context) (*models.Memory, bool, error) {
	contract := models.NormalizeAddress(b.Defaults.ContractAddress)
	if contract == "" {
		return nil, false, NewInvalidRequest("contract address is required")
	}
	ledger := NewLedger(b.DB)

	if mem, found, err := ledger.FindMemoryByContract(ctx, contract); err != nil {
		return nil, false, NewInternal(err)
	} else if found {
		log.Printf("[Bootstrap] root memory %s already present for %s", mem.ID, contract)
		return mem, false, nil
	}

	limit, err := b.Chain.MintLimit(ctx)
	if err != nil {
		log.Printf("❌ [Bootstrap] mintLimit() failed: %v", err)
		return nil, false, NewUpstreamUnavailable(err)
	}

	mem := &models.Memory{
		ID:                  uuid.NewString(),
		ContractAddress:     &contract,
		CreatorWallet:       models.NormalizeAddress(b.Defaults.CreatorWallet),
		Title:               b.Defaults.Title,
		Description:         b.Defaults.Description,
		ImageURL:            b.Defaults.ImageURL,
		IsRedeemable:        true,
		MaxMints:            int64(min(limit, math.MaxInt64)),
		RedemptionsPerToken: 1,
		Status:              models.MemoryStatusActive,
	}
	mem.QRCode, mem.QRImage, err = b.QR.Generate(ctx, mem.ID, mem.Title)
	if err != nil {
		return nil, false, NewInternal(err)
	}

	res := b.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_address"}},
		DoNothing: true,
	}).Create(mem)
	if res.Error != nil {
		return nil, false, NewInternal(fmt.Errorf("insert root memory: %w", res.Error))
	}

	stored, found, err := ledger.FindMemoryByContract(ctx, contract)
	if err != nil {
		return nil, false, NewInternal(err)
	}
	if !found {
		return nil, false, NewInternal(fmt.Errorf("root memory for %s missing after insert", contract))
	}
	created := res.RowsAffected == 1
	if created {
		log.Printf("✅ [Bootstrap] created root memory %s for %s (max_mints=%d)", stored.ID, contract, stored.MaxMints)
	}
	return stored, created, nil
}
