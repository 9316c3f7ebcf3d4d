package intent

import (
	"context"

	"walletledger/internal/services/events"
)

// Applier applies normalized intents to the ledger.
type Applier interface {
	Apply(ctx context.Context, in events.Intent) (*Outcome, error)
}

// WalletCache is invalidated after every balance change. Failures are logged
// and otherwise ignored; the cache is never authoritative.
type WalletCache interface {
	InvalidateWallet(ctx context.Context, walletID string) error
}
