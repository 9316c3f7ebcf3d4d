package intent

import "walletledger/internal/models"

// Outcome reports what applying an intent did. Duplicate is set when the
// transaction was already terminal or the reference already recorded, in
// which case nothing changed.
type Outcome struct {
	Transaction *models.Transaction
	Wallet      *models.Wallet
	Delta       int64
	Duplicate   bool
	Settled     bool
}
