package events

import (
	"encoding/json"
	"fmt"

	apperrors "walletledger/internal/errors"

	"github.com/stripe/stripe-go/v72"
)

// stripeObject is the subset of payment intent and payout objects the ledger
// reads.
type stripeObject struct {
	ID             string            `json:"id"`
	Amount         *int64            `json:"amount"`
	AmountReceived *int64            `json:"amount_received"`
	Metadata       map[string]string `json:"metadata"`
	FailureCode    string            `json:"failure_code"`
	FailureMessage string            `json:"failure_message"`
}

// FromStripe converts a verified Stripe event. The event type is passed
// through untouched so Normalize decides what is recognized.
func FromStripe(se stripe.Event) (Event, error) {
	ev := Event{
		ID:       se.ID,
		Type:     se.Type,
		Metadata: map[string]string{},
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return ev, fmt.Errorf("%w: event %s has no data object", apperrors.ErrUnrecognizedEvent, se.ID)
	}

	var obj stripeObject
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return ev, fmt.Errorf("%w: event %s: %v", apperrors.ErrUnrecognizedEvent, se.ID, err)
	}

	ev.Reference = obj.ID
	ev.Amount = obj.Amount
	if obj.AmountReceived != nil && *obj.AmountReceived > 0 {
		ev.Amount = obj.AmountReceived
	}
	for k, v := range obj.Metadata {
		ev.Metadata[k] = v
	}
	if obj.FailureCode != "" || obj.FailureMessage != "" {
		ev.Metadata[metadataFailureReason] = obj.FailureCode + ": " + obj.FailureMessage
	}
	return ev, nil
}
