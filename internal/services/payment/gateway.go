// Package payment talks to the payment processor. Callers see two calls and
// two failure classes: ErrUpstreamUnavailable when the processor could not be
// reached or did not answer in time, and ErrProcessorRejected when it answered
// and refused.
package payment

import "context"

// Metadata keys attached to every processor object so callbacks can be tied
// back to the ledger.
const (
	MetadataWalletID      = "wallet_id"
	MetadataTransactionID = "transaction_id"
)

type Gateway interface {
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
}

// PayoutRequest sends Amount minor units out of the platform account.
// TransactionID is the idempotency key, so a retried request never pays twice.
type PayoutRequest struct {
	TransactionID string
	WalletID      string
	Amount        int64
	Currency      string
}

type PayoutResult struct {
	Reference string
	Status    string
}

type IntentRequest struct {
	TransactionID string
	WalletID      string
	Amount        int64
	Currency      string
}

type IntentResult struct {
	Reference    string
	ClientSecret string
	Status       string
}
