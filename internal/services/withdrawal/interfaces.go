package withdrawal

import (
	"context"
)

// Service admits user-initiated withdrawals.
type Service interface {
	Withdraw(ctx context.Context, req Request) (*Result, error)
}

// WalletCache is invalidated after the reservation and after compensation.
type WalletCache interface {
	InvalidateWallet(ctx context.Context, walletID string) error
}
