package services

import (
	"context"
	"errors"
	"log"
	"time"

	"mocha-rewards/models"

	"gorm.io/gorm"
)

// Notifier receives events after a state change has been committed.
type Notifier interface {
	Emit(channel, event string, payload any) int
}

// RedeemRequest is the creator's request to redeem one token held by minter_wallet.
type RedeemRequest struct {
	MinterWallet    string `json:"minter_wallet"`
	TokenID         int64  `json:"token_id"`
	ContractAddress string `json:"contract_address"`
}

type RedeemResult struct {
	Success         bool                    `json:"success"`
	TokenID         int64                   `json:"token_id"`
	Status          models.UserMemoryStatus `json:"status"`
	RedemptionCount int64                   `json:"redemption_count"`
	MaxRedemptions  int64                   `json:"max_redemptions"`
}

// TokenRedeemedEvent is the payload pushed to the owner's channel.
type TokenRedeemedEvent struct {
	TokenID         int64     `json:"tokenId"`
	RedemptionCount int64     `json:"redemptionCount"`
	MaxRedemptions  int64     `json:"maxRedemptions"`
	Timestamp       time.Time `json:"timestamp"`
}

// RedemptionEngine owns the minted -> redeemed transition of UserMemory rows.
type RedemptionEngine struct {
	DB       *gorm.DB
	Notifier Notifier
	now      func() time.Time
}

func NewRedemptionEngine(db *gorm.DB, notifier Notifier) *RedemptionEngine {
	return &RedemptionEngine{DB: db, Notifier: notifier, now: time.Now}
}

var redeemableStatuses = []string{
	string(models.UserMemoryStatusMinted),
	string(models.UserMemoryStatusRedeemed),
}

// Redeem applies one redemption for the token. The counter is guarded by a single
// conditional UPDATE, so concurrent calls for the same token succeed at most
// max_redemptions times in total.
func (e *RedemptionEngine) Redeem(ctx context.Context, caller Identity, req RedeemRequest) (*RedeemResult, error) {
	creator := models.NormalizeAddress(caller.Wallet)
	minter := models.NormalizeAddress(req.MinterWallet)
	contract := models.NormalizeAddress(req.ContractAddress)
	if creator == "" {
		return nil, NewUnauthorized("authentication required")
	}
	if minter == "" || contract == "" || req.TokenID < 0 {
		return nil, NewInvalidRequest("minter_wallet, token_id and contract_address are required")
	}

	var result RedeemResult
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mem models.Memory
		if err := tx.Where("contract_address = ? AND creator_wallet = ?", contract, creator).
			First(&mem).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFound("Memory not found or not owned by you", map[string]any{
					"contract_address": contract,
				})
			}
			return NewInternal(err)
		}
		if mem.Status == models.MemoryStatusExpired {
			return NewConflict("memory expired", map[string]any{"memory_id": mem.ID})
		}
		if !mem.IsRedeemable {
			return NewConflict("memory is not redeemable", map[string]any{"memory_id": mem.ID})
		}

		res := tx.Model(&models.UserMemory{}).
			Where("token_id = ? AND owner_wallet = ? AND memory_id = ?", req.TokenID, minter, mem.ID).
			Where("status IN ? AND redemption_count < max_redemptions", redeemableStatuses).
			Updates(map[string]any{
				"status":           models.UserMemoryStatusRedeemed,
				"redeemed_at":      e.now(),
				"redemption_count": gorm.Expr("redemption_count + 1"),
			})
		if res.Error != nil {
			return NewInternal(res.Error)
		}
		if res.RowsAffected == 0 {
			return diagnoseRedeemMiss(tx, req.TokenID, minter, mem.ID)
		}

		var um models.UserMemory
		if err := tx.Where("token_id = ?", req.TokenID).First(&um).Error; err != nil {
			return NewInternal(err)
		}
		result = RedeemResult{
			Success:         true,
			TokenID:         um.TokenID,
			Status:          um.Status,
			RedemptionCount: um.RedemptionCount,
			MaxRedemptions:  um.MaxRedemptions,
		}
		return nil
	})
	if err != nil {
		if IsCode(err, ErrConflict) || IsCode(err, ErrNotFound) {
			log.Printf("⚠️  [Redeem] token %d for %s rejected: %v", req.TokenID, minter, err)
		} else {
			log.Printf("❌ [Redeem] token %d for %s failed: %v", req.TokenID, minter, err)
		}
		return nil, AsServiceError(err)
	}

	log.Printf("✅ [Redeem] token %d redeemed by %s (%d/%d)", result.TokenID, creator, result.RedemptionCount, result.MaxRedemptions)
	e.notify(minter, result)
	return &result, nil
}

// diagnoseRedeemMiss explains why the conditional update matched nothing. It runs after
// the update and only chooses the message; it never decides whether redemption happens.
func diagnoseRedeemMiss(tx *gorm.DB, tokenID int64, minter, memoryID string) error {
	details := map[string]any{"token_id": tokenID}
	var um models.UserMemory
	err := tx.Where("token_id = ? AND owner_wallet = ? AND memory_id = ?", tokenID, minter, memoryID).
		First(&um).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewConflict("token not found", details)
	case err != nil:
		return NewInternal(err)
	case um.Status == models.UserMemoryStatusExpired:
		return NewConflict("token expired", details)
	default:
		details["redemption_count"] = um.RedemptionCount
		details["max_redemptions"] = um.MaxRedemptions
		return NewConflict("already redeemed", details)
	}
}

func (e *RedemptionEngine) notify(wallet string, result RedeemResult) {
	if e.Notifier == nil {
		return
	}
	delivered := e.Notifier.Emit(wallet, EventTokenRedeemed, TokenRedeemedEvent{
		TokenID:         result.TokenID,
		RedemptionCount: result.RedemptionCount,
		MaxRedemptions:  result.MaxRedemptions,
		Timestamp:       e.now(),
	})
	log.Printf("[Notifier] %s for token %d delivered to %d session(s)", EventTokenRedeemed, result.TokenID, delivered)
}
