package models

import "time"

// User is a wallet known to the service. Created on first mint; existing rows are never updated by ingestion.
type User struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WalletAddress string    `gorm:"type:varchar(42);uniqueIndex;not null" json:"wallet_address"` // lower-cased
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
