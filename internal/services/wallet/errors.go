package wallet

import apperrors "walletledger/internal/errors"

var (
	ErrNotOwner        = apperrors.New("WALLET_NOT_OWNED", "wallet belongs to another user")
	ErrInvalidCurrency = apperrors.New("INVALID_CURRENCY", "currency must be a three letter ISO code")
)
