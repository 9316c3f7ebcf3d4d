package models

import (
	"time"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
)

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction is a single deposit or withdrawal against one wallet.
// ExternalReference is the processor's object id; it is unique when set and
// doubles as the idempotency key for callbacks.
type Transaction struct {
	ID                string            `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID          string            `gorm:"type:uuid;not null;index" json:"wallet_id"`
	Amount            int64             `gorm:"not null;check:amount > 0" json:"amount"`
	Kind              TransactionKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Status            TransactionStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	ExternalReference *string           `gorm:"uniqueIndex" json:"external_reference"`
	Metadata          JSON              `gorm:"type:jsonb" json:"metadata"`
	CreatedAt         time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Reference returns the external reference or "" when none is attached yet.
func (t *Transaction) Reference() string {
	if t.ExternalReference == nil {
		return ""
	}
	return *t.ExternalReference
}
