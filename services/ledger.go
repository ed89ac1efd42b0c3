package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mocha-rewards/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRootMemoryMissing means no Memory exists for the contract a mint came from.
	ErrRootMemoryMissing = errors.New("no memory registered for contract")
	// ErrMintCapReached means recording the mint would push current_mints past max_mints.
	ErrMintCapReached = errors.New("memory mint cap reached")
)

// Ledger owns Memory, UserMemory and User records.
type Ledger struct {
	DB *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db}
}

// MintRecord is everything the ledger needs to record one on-chain mint.
type MintRecord struct {
	ContractAddress string
	OwnerWallet     string
	TokenID         int64
	TxHash          string
	BlockNumber     uint64
	TokenURI        string
	Metadata        *models.TokenMetadata
	MetadataRaw     []byte
	MintedAt        time.Time
}

// FindUserMemoryByToken looks up a token's record; found is false when it does not exist.
func (l *Ledger) FindUserMemoryByToken(ctx context.Context, tokenID int64) (*models.UserMemory, bool, error) {
	var um models.UserMemory
	if err := l.DB.WithContext(ctx).Where("token_id = ?", tokenID).First(&um).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &um, true, nil
}

// FindMemoryByContract looks up the Memory bound to a deployed contract.
func (l *Ledger) FindMemoryByContract(ctx context.Context, contract string) (*models.Memory, bool, error) {
	var mem models.Memory
	err := l.DB.WithContext(ctx).
		Where("contract_address = ?", models.NormalizeAddress(contract)).
		First(&mem).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &mem, true, nil
}

// ensureUser creates the user if absent. Existing rows are left untouched.
func ensureUser(tx *gorm.DB, wallet string) (*models.User, error) {
	user := models.User{ID: uuid.NewString(), WalletAddress: wallet}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", wallet, err)
	}
	var stored models.User
	if err := tx.Where("wallet_address = ?", wallet).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load user %s: %w", wallet, err)
	}
	return &stored, nil
}

// EnsureUser is the standalone form of the create-if-absent user upsert.
func (l *Ledger) EnsureUser(ctx context.Context, wallet string) (*models.User, error) {
	return ensureUser(l.DB.WithContext(ctx), models.NormalizeAddress(wallet))
}

// RecordMint upserts the owner, inserts the UserMemory and increments the memory's
// mint counter in one transaction. created is false when token_id was already recorded,
// in which case nothing else changes.
func (l *Ledger) RecordMint(ctx context.Context, rec MintRecord) (*models.UserMemory, bool, error) {
	owner := models.NormalizeAddress(rec.OwnerWallet)
	contract := models.NormalizeAddress(rec.ContractAddress)
	mintedAt := rec.MintedAt
	if mintedAt.IsZero() {
		mintedAt = time.Now()
	}

	var (
		recorded models.UserMemory
		created  bool
	)
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := ensureUser(tx, owner)
		if err != nil {
			return err
		}

		var mem models.Memory
		if err := tx.Where("contract_address = ?", contract).First(&mem).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w %s", ErrRootMemoryMissing, contract)
			}
			return err
		}

		maxRedemptions := mem.RedemptionsPerToken
		if rec.Metadata != nil {
			if n, ok := rec.Metadata.MaxRedemptions(); ok {
				maxRedemptions = n
			}
		}
		if maxRedemptions < 1 {
			maxRedemptions = 1
		}

		recorded = models.UserMemory{
			ID:             uuid.NewString(),
			TokenID:        rec.TokenID,
			MemoryID:       mem.ID,
			UserID:         user.ID,
			OwnerWallet:    owner,
			TxHash:         rec.TxHash,
			BlockNumber:    rec.BlockNumber,
			TokenURI:       rec.TokenURI,
			Status:         models.UserMemoryStatusMinted,
			MaxRedemptions: maxRedemptions,
			MintedAt:       mintedAt,
		}
		if len(rec.MetadataRaw) > 0 {
			recorded.Metadata = datatypes.JSON(rec.MetadataRaw)
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_id"}},
			DoNothing: true,
		}).Create(&recorded)
		if res.Error != nil {
			return fmt.Errorf("insert user memory %d: %w", rec.TokenID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // replayed event
		}

		res = tx.Model(&models.Memory{}).
			Where("id = ? AND current_mints < max_mints", mem.ID).
			Update("current_mints", gorm.Expr("current_mints + 1"))
		if res.Error != nil {
			return fmt.Errorf("increment current_mints for %s: %w", mem.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: memory %s max_mints=%d", ErrMintCapReached, mem.ID, mem.MaxMints)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, _, err := l.FindUserMemoryByToken(ctx, rec.TokenID)
		return existing, false, err
	}
	return &recorded, true, nil
}

// LatestTokenForWallet returns the most recently minted token owned by wallet.
func (l *Ledger) LatestTokenForWallet(ctx context.Context, wallet string) (*models.UserMemory, error) {
	var um models.UserMemory
	err := l.DB.WithContext(ctx).
		Where("owner_wallet = ?", models.NormalizeAddress(wallet)).
		Order("minted_at DESC").
		First(&um).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound("No token ID found", map[string]any{"wallet": wallet})
		}
		return nil, NewInternal(err)
	}
	return &um, nil
}

// OwnedMemory is a token owned by a wallet joined with its memory summary.
type OwnedMemory struct {
	MemoryID        string                  `json:"id"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description"`
	ImageURL        string                  `json:"image_url"`
	IsRedeemable    bool                    `json:"is_redeemable"`
	TokenID         int64                   `json:"token_id"`
	Status          models.UserMemoryStatus `json:"status"`
	RedemptionCount int64                   `json:"redemption_count"`
	MaxRedemptions  int64                   `json:"max_redemptions"`
	MintedAt        time.Time               `json:"minted_at"`
	RedeemedAt      *time.Time              `json:"redeemed_at,omitempty"`
}

// UserMemories lists the tokens a wallet owns, newest first.
func (l *Ledger) UserMemories(ctx context.Context, wallet string) ([]OwnedMemory, error) {
	out := []OwnedMemory{}
	err := l.DB.WithContext(ctx).
		Table("user_memories AS um").
		Select(`m.id AS memory_id, m.title, m.description, m.image_url, m.is_redeemable,
			um.token_id, um.status, um.redemption_count, um.max_redemptions, um.minted_at, um.redeemed_at`).
		Joins("JOIN memories AS m ON m.id = um.memory_id").
		Where("um.owner_wallet = ?", models.NormalizeAddress(wallet)).
		Order("um.minted_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, NewInternal(err)
	}
	return out, nil
}

// CreatedMemory is a memory with its token counts grouped by status.
type CreatedMemory struct {
	models.Memory
	Stats map[string]int64 `json:"stats"`
}

// CreatedMemories lists the memories a creator issued, newest first.
func (l *Ledger) CreatedMemories(ctx context.Context, creator string) ([]CreatedMemory, error) {
	db := l.DB.WithContext(ctx)

	var memories []models.Memory
	if err := db.Where("creator_wallet = ?", models.NormalizeAddress(creator)).
		Order("created_at DESC").
		Find(&memories).Error; err != nil {
		return nil, NewInternal(err)
	}

	out := make([]CreatedMemory, len(memories))
	if len(memories) == 0 {
		return out, nil
	}
	ids := make([]string, len(memories))
	index := make(map[string]int, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
		index[m.ID] = i
		out[i] = CreatedMemory{Memory: m, Stats: map[string]int64{}}
	}

	var rows []struct {
		MemoryID string
		Status   string
		Count    int64
	}
	if err := db.Model(&models.UserMemory{}).
		Select("memory_id, status, COUNT(*) AS count").
		Where("memory_id IN ?", ids).
		Group("memory_id, status").
		Scan(&rows).Error; err != nil {
		return nil, NewInternal(err)
	}
	for _, r := range rows {
		out[index[r.MemoryID]].Stats[r.Status] = r.Count
	}
	return out, nil
}

// MemoryDetail is a memory plus the caller's token status, if they hold one.
type MemoryDetail struct {
	models.Memory
	UserStatus *models.UserMemoryStatus `json:"user_status"`
}

func (l *Ledger) MemoryDetails(ctx context.Context, memoryID, wallet string) (*MemoryDetail, error) {
	db := l.DB.WithContext(ctx)

	var mem models.Memory
	if err := db.Where("id = ?", memoryID).First(&mem).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound("Memory not found", map[string]any{"id": memoryID})
		}
		return nil, NewInternal(err)
	}

	detail := &MemoryDetail{Memory: mem}
	var um models.UserMemory
	err := db.Where("memory_id = ? AND owner_wallet = ?", mem.ID, models.NormalizeAddress(wallet)).
		Order("minted_at DESC").
		First(&um).Error
	switch {
	case err == nil:
		status := um.Status
		detail.UserStatus = &status
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, NewInternal(err)
	}
	return detail, nil
}

// Minters lists every token minted against a memory. Only the creator may ask.
func (l *Ledger) Minters(ctx context.Context, memoryID, creator string) ([]models.UserMemory, error) {
	db := l.DB.WithContext(ctx)

	var mem models.Memory
	if err := db.Where("id = ? AND creator_wallet = ?", memoryID, models.NormalizeAddress(creator)).
		First(&mem).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound("Memory not found", map[string]any{"id": memoryID})
		}
		return nil, NewInternal(err)
	}

	minters := []models.UserMemory{}
	if err := db.Where("memory_id = ?", mem.ID).Order("minted_at ASC").Find(&minters).Error; err != nil {
		return nil, NewInternal(err)
	}
	return minters, nil
}

// ExpireMemory moves an active memory owned by creator to expired.
func (l *Ledger) ExpireMemory(ctx context.Context, memoryID, creator string) (*models.Memory, error) {
	db := l.DB.WithContext(ctx)
	creator = models.NormalizeAddress(creator)

	res := db.Model(&models.Memory{}).
		Where("id = ? AND creator_wallet = ? AND status = ?", memoryID, creator, models.MemoryStatusActive).
		Update("status", models.MemoryStatusExpired)
	if res.Error != nil {
		return nil, NewInternal(res.Error)
	}

	var mem models.Memory
	if err := db.Where("id = ? AND creator_wallet = ?", memoryID, creator).First(&mem).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound("Memory not found or not owned by you", map[string]any{"id": memoryID})
		}
		return nil, NewInternal(err)
	}
	if res.RowsAffected == 0 {
		return nil, NewConflict("memory already expired", map[string]any{"id": memoryID})
	}
	return &mem, nil
}

// ExpireToken moves a token to the terminal expired state.
func (l *Ledger) ExpireToken(ctx context.Context, tokenID int64) (*models.UserMemory, error) {
	db := l.DB.WithContext(ctx)

	res := db.Model(&models.UserMemory{}).
		Where("token_id = ? AND status <> ?", tokenID, models.UserMemoryStatusExpired).
		Update("status", models.UserMemoryStatusExpired)
	if res.Error != nil {
		return nil, NewInternal(res.Error)
	}

	um, found, err := l.FindUserMemoryByToken(ctx, tokenID)
	if err != nil {
		return nil, NewInternal(err)
	}
	if !found {
		return nil, NewNotFound("token not found", map[string]any{"token_id": tokenID})
	}
	if res.RowsAffected == 0 {
		return nil, NewConflict("token already expired", map[string]any{"token_id": tokenID})
	}
	return um, nil
}

// SyncMintCounts sets current_mints to the number of recorded tokens wherever the two
// disagree and the count fits under max_mints. Returns the number of memories fixed.
func (l *Ledger) SyncMintCounts(ctx context.Context) (int64, error) {
	const minted = "(SELECT COUNT(*) FROM user_memories WHERE user_memories.memory_id = memories.id)"
	res := l.DB.WithContext(ctx).Exec(
		"UPDATE memories SET current_mints = " + minted +
			" WHERE current_mints <> " + minted +
			" AND " + minted + " <= max_mints",
	)
	if res.Error != nil {
		return 0, fmt.Errorf("sync mint counts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Cursor returns the last block scanned for contract.
func (l *Ledger) Cursor(ctx context.Context, contract string) (uint64, bool, error) {
	var cur models.ChainCursor
	err := l.DB.WithContext(ctx).Where("contract = ?", models.NormalizeAddress(contract)).First(&cur).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return cur.LastBlock, true, nil
}

// AdvanceCursor moves the contract's cursor forward to block. It never moves backwards.
func (l *Ledger) AdvanceCursor(ctx context.Context, contract string, block uint64) error {
	contract = models.NormalizeAddress(contract)
	db := l.DB.WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}},
		DoNothing: true,
	}).Create(&models.ChainCursor{Contract: contract, LastBlock: block}).Error; err != nil {
		return fmt.Errorf("create cursor: %w", err)
	}
	return db.Model(&models.ChainCursor{}).
		Where("contract = ? AND last_block < ?", contract, block).
		Update("last_block", block).Error
}
