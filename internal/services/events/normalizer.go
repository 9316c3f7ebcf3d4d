// Package events turns verified processor callbacks into ledger intents.
// Translation is pure: nothing here touches the store.
package events

import (
	"fmt"
	"strings"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/services/payment"
)

const metadataFailureReason = "failure_reason"

var typeAliases = map[string]string{
	TypeDepositSucceeded:       TypeDepositSucceeded,
	TypePayoutPaid:             TypePayoutPaid,
	TypePayoutFailed:           TypePayoutFailed,
	"payment_intent.succeeded": TypeDepositSucceeded,
	"payout.paid":              TypePayoutPaid,
	"payout.failed":            TypePayoutFailed,
}

// CanonicalType maps a processor event type to its canonical name, or ""
// when the type is not one the ledger acts on.
func CanonicalType(t string) string {
	return typeAliases[strings.TrimSpace(t)]
}

// Normalize validates ev and returns the matching intent. Unknown types and
// missing required fields are ErrUnrecognizedEvent.
func Normalize(ev Event) (Intent, error) {
	canonical := CanonicalType(ev.Type)
	if canonical == "" {
		return nil, fmt.Errorf("%w: event type %q", apperrors.ErrUnrecognizedEvent, ev.Type)
	}

	env := Envelope{
		EventID:       ev.ID,
		Reference:     strings.TrimSpace(ev.Reference),
		WalletID:      strings.TrimSpace(ev.Metadata[payment.MetadataWalletID]),
		TransactionID: strings.TrimSpace(ev.Metadata[payment.MetadataTransactionID]),
	}
	if env.Reference == "" {
		return nil, fmt.Errorf("%w: %s event without reference", apperrors.ErrUnrecognizedEvent, canonical)
	}
	if env.WalletID == "" {
		return nil, fmt.Errorf("%w: %s event %s without %s metadata",
			apperrors.ErrUnrecognizedEvent, canonical, env.Reference, payment.MetadataWalletID)
	}

	switch canonical {
	case TypeDepositSucceeded:
		amount, err := requireAmount(canonical, ev)
		if err != nil {
			return nil, err
		}
		return DepositSucceeded{Envelope: env, Amount: amount}, nil
	case TypePayoutPaid:
		return PayoutPaid{Envelope: env}, nil
	default:
		amount, err := requireAmount(canonical, ev)
		if err != nil {
			return nil, err
		}
		return PayoutFailed{Envelope: env, Amount: amount, Reason: ev.Metadata[metadataFailureReason]}, nil
	}
}

func requireAmount(canonical string, ev Event) (int64, error) {
	if ev.Amount == nil {
		return 0, fmt.Errorf("%w: %s event %s without amount", apperrors.ErrUnrecognizedEvent, canonical, ev.Reference)
	}
	if *ev.Amount <= 0 {
		return 0, fmt.Errorf("%w: %s event %s with amount %d", apperrors.ErrUnrecognizedEvent, canonical, ev.Reference, *ev.Amount)
	}
	return *ev.Amount, nil
}
