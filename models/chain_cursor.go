package models

import "time"

// ChainCursor records how far the backfill reconciler has scanned a contract's logs.
type ChainCursor struct {
	Contract  string    `gorm:"primaryKey;type:varchar(42)" json:"contract"`
	LastBlock uint64    `gorm:"not null;default:0" json:"last_block"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&User{}, &Memory{}, &UserMemory{}, &ChainCursor{}}
}
