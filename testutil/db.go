// Package testutil opens throwaway databases and seeds fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"mocha-rewards/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated SQLite database under t.TempDir(). A single connection
// serializes transactions the way row locks do on Postgres.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "mocha.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// MemoryFixture describes a memory to seed. Zero values get sensible defaults.
type MemoryFixture struct {
	Contract            string
	Creator             string
	MaxMints            int64
	CurrentMints        int64
	RedemptionsPerToken int64
	NotRedeemable       bool
	Status              models.MemoryStatus
}

// SeedMemory inserts a memory and returns it.
func SeedMemory(t *testing.T, db *gorm.DB, f MemoryFixture) *models.Memory {
	t.Helper()

	mem := &models.Memory{
		ID:                  uuid.NewString(),
		CreatorWallet:       models.NormalizeAddress(f.Creator),
		Title:               "Test Memory",
		IsRedeemable:        !f.NotRedeemable,
		MaxMints:            f.MaxMints,
		CurrentMints:        f.CurrentMints,
		RedemptionsPerToken: f.RedemptionsPerToken,
		Status:              f.Status,
	}
	mem.QRCode = models.QRContent(mem.ID)
	if f.Contract != "" {
		contract := models.NormalizeAddress(f.Contract)
		mem.ContractAddress = &contract
	}
	if mem.MaxMints == 0 {
		mem.MaxMints = 100
	}
	if mem.RedemptionsPerToken == 0 {
		mem.RedemptionsPerToken = 1
	}
	if mem.Status == "" {
		mem.Status = models.MemoryStatusActive
	}
	if err := db.Create(mem).Error; err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return mem
}

// SeedToken inserts a minted token owned by owner against mem.
func SeedToken(t *testing.T, db *gorm.DB, mem *models.Memory, tokenID int64, owner string, maxRedemptions int64) *models.UserMemory {
	t.Helper()

	var user models.User
	wallet := models.NormalizeAddress(owner)
	if err := db.Where(models.User{WalletAddress: wallet}).
		Attrs(models.User{ID: uuid.NewString()}).
		FirstOrCreate(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	um := &models.UserMemory{
		ID:             uuid.NewString(),
		TokenID:        tokenID,
		MemoryID:       mem.ID,
		UserID:         user.ID,
		OwnerWallet:    user.WalletAddress,
		TxHash:         "0xseed",
		Status:         models.UserMemoryStatusMinted,
		MaxRedemptions: maxRedemptions,
		MintedAt:       time.Now(),
	}
	if err := db.Create(um).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return um
}
