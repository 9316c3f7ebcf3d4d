package models

import (
	"time"
)

// Wallet holds a user's balance in minor currency units.
// Version is bumped on every balance change and guards concurrent writers.
type Wallet struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID   string    `gorm:"uniqueIndex;not null" json:"owner_id"`
	Balance   int64     `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	Currency  string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
