package wallet

import (
	"context"

	"walletledger/internal/models"
)

type Service interface {
	CreateWallet(ctx context.Context, ownerID, currency string) (*models.Wallet, bool, error)
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	GetOwnedWallet(ctx context.Context, walletID, ownerID string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, walletID string, page, limit int) (*TransactionPage, error)
}

// Cache is the wallet read cache. GetWallet returns nil, nil on a miss.
type Cache interface {
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	CacheWallet(ctx context.Context, wallet *models.Wallet) error
	InvalidateWallet(ctx context.Context, walletID string) error
}
