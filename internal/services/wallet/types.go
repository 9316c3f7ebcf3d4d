package wallet

import (
	"time"

	"walletledger/internal/models"
)

type Config struct {
	StoreTimeout time.Duration
}

type TransactionPage struct {
	Transactions []models.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	Limit        int                  `json:"limit"`
}
