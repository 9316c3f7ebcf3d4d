package withdrawal

import (
	"time"

	"walletledger/internal/models"
	"walletledger/internal/utils/retry"
)

type Config struct {
	// DefaultCurrency is used when the wallet carries none.
	DefaultCurrency string
	StoreTimeout    time.Duration
	Retry           retry.Policy
	// MaxAmount caps a single withdrawal in minor units; 0 means no cap.
	MaxAmount int64
}

type Request struct {
	WalletID string
	Amount   int64
}

// Result describes an accepted initiation. The payout is not final until the
// processor calls back.
type Result struct {
	Transaction *models.Transaction
	Wallet      *models.Wallet
	Reference   string
}
