package models

import (
	"time"

	"gorm.io/datatypes"
)

// UserMemoryStatus is the redemption state of a single minted token.
type UserMemoryStatus string

const (
	UserMemoryStatusMinted   UserMemoryStatus = "minted"
	UserMemoryStatusRedeemed UserMemoryStatus = "redeemed"
	UserMemoryStatusExpired  UserMemoryStatus = "expired"
)

// UserMemory is the ownership and redemption record of one minted token.
// Created exactly once per on-chain mint (unique token_id), never deleted.
type UserMemory struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TokenID     int64  `gorm:"not null;uniqueIndex" json:"token_id"`
	MemoryID    string `gorm:"type:varchar(36);not null;index" json:"memory_id"`
	UserID      string `gorm:"type:varchar(36);not null;index" json:"user_id"`
	OwnerWallet string `gorm:"type:varchar(42);not null;index" json:"owner_wallet"` // lower-cased
	TxHash      string `gorm:"type:varchar(66);not null" json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`

	TokenURI string         `gorm:"type:text" json:"token_uri,omitempty"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`

	Status          UserMemoryStatus `gorm:"type:varchar(16);not null;default:'minted';index" json:"status"`
	RedemptionCount int64            `gorm:"not null;default:0" json:"redemption_count"`
	MaxRedemptions  int64            `gorm:"not null;default:1" json:"max_redemptions"`

	MintedAt   time.Time  `gorm:"not null" json:"minted_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TokenMetadata is the subset of ERC-721 metadata JSON the service reads.
type TokenMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Image       string           `json:"image"`
	Attributes  []TokenAttribute `json:"attributes,omitempty"`
}

type TokenAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// MaxRedemptionsCap bounds the MaxRedemptions trait read from token metadata.
const MaxRedemptionsCap = 1_000_000

// MaxRedemptions returns the MaxRedemptions trait when present and positive, capped at
// MaxRedemptionsCap.
func (m TokenMetadata) MaxRedemptions() (int64, bool) {
	for _, a := range m.Attributes {
		if a.TraitType != "MaxRedemptions" {
			continue
		}
		switch v := a.Value.(type) {
		case float64:
			if v >= MaxRedemptionsCap {
				return MaxRedemptionsCap, true
			}
			if v >= 1 {
				return int64(v), true
			}
		case int64:
			if v >= 1 {
				return min(v, MaxRedemptionsCap), true
			}
		case int:
			if v >= 1 {
				return min(int64(v), MaxRedemptionsCap), true
			}
		}
	}
	return 0, false
}
