package events

import "walletledger/internal/models"

// Canonical event types. The processor's own names are mapped onto these in
// the normalizer.
const (
	TypeDepositSucceeded = "deposit-succeeded"
	TypePayoutPaid       = "payout-paid"
	TypePayoutFailed     = "payout-failed"
)

// Event is a verified processor callback in processor-neutral form.
// Amount is nil when the event carried none.
type Event struct {
	ID        string
	Type      string
	Reference string
	Amount    *int64
	Metadata  map[string]string
}

// Envelope carries the fields every intent has.
type Envelope struct {
	EventID       string
	Reference     string
	WalletID      string
	TransactionID string
}

// Intent is one of DepositSucceeded, PayoutPaid or PayoutFailed.
type Intent interface {
	Header() Envelope
	Kind() models.TransactionKind
	Target() models.TransactionStatus
	Name() string
	isIntent()
}

type DepositSucceeded struct {
	Envelope
	Amount int64
}

type PayoutPaid struct {
	Envelope
}

type PayoutFailed struct {
	Envelope
	Amount int64
	Reason string
}

func (e Envelope) Header() Envelope { return e }

func (DepositSucceeded) Kind() models.TransactionKind     { return models.KindDeposit }
func (DepositSucceeded) Target() models.TransactionStatus { return models.StatusSuccess }
func (DepositSucceeded) Name() string                     { return TypeDepositSucceeded }
func (DepositSucceeded) isIntent()                        {}

func (PayoutPaid) Kind() models.TransactionKind     { return models.KindWithdrawal }
func (PayoutPaid) Target() models.TransactionStatus { return models.StatusSuccess }
func (PayoutPaid) Name() string                     { return TypePayoutPaid }
func (PayoutPaid) isIntent()                        {}

func (PayoutFailed) Kind() models.TransactionKind     { return models.KindWithdrawal }
func (PayoutFailed) Target() models.TransactionStatus { return models.StatusFailed }
func (PayoutFailed) Name() string                     { return TypePayoutFailed }
func (PayoutFailed) isIntent()                        {}
