package models

import (
	"strings"
	"time"
)

// MemoryStatus is the lifecycle state of a collectible definition.
type MemoryStatus string

const (
	MemoryStatusActive  MemoryStatus = "active"
	MemoryStatusExpired MemoryStatus = "expired"
)

// Memory is the off-chain definition of a collectible, tied to at most one deployed contract.
type Memory struct {
	ID              string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ContractAddress *string `gorm:"type:varchar(42);uniqueIndex" json:"contract_address,omitempty"` // lower-cased; nil until deployed
	CreatorWallet   string  `gorm:"type:varchar(42);not null;index" json:"creator_wallet"`         // lower-cased
	Title           string  `gorm:"not null" json:"title"`
	Description     string  `gorm:"type:text" json:"description"`
	ImageURL        string  `gorm:"type:text" json:"image_url"`
	IsRedeemable    bool    `gorm:"not null" json:"is_redeemable"`
	MaxMints        int64   `gorm:"not null;default:1" json:"max_mints"`
	CurrentMints    int64   `gorm:"not null;default:0" json:"current_mints"`

	// RedemptionsPerToken seeds UserMemory.MaxRedemptions for tokens minted against this memory.
	RedemptionsPerToken int64 `gorm:"not null;default:1" json:"redemptions_per_token"`

	// QR fields are written once on insert and never updated.
	QRCode  string `gorm:"type:varchar(64);uniqueIndex" json:"qr_code"`
	QRImage string `gorm:"type:text" json:"qr_image"`

	Status    MemoryStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeAddress lower-cases and trims a wallet or contract address.
// Every address is stored and compared in this form.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// QRContent is the payload encoded into a memory's QR code.
func QRContent(memoryID string) string {
	return "memory:" + memoryID
}
