// Package ledger holds the transaction state machine: which status changes
// are legal for a transaction and what each one does to the wallet balance.
//
// Pending withdrawals are already debited when created, pending deposits have
// no balance effect. Both terminal statuses are absorbing.
package ledger

import (
	"fmt"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/models"
)

// Effect is the outcome of planning a transition on a transaction row.
type Effect struct {
	From  models.TransactionStatus
	To    models.TransactionStatus
	Delta int64
	// NoOp is set when the row is already terminal; To and Delta are then
	// the zero values and nothing must be written.
	NoOp bool
}

// Plan decides the effect of moving tx to target. kind is what the caller
// believes the row to be; a mismatch means two unrelated objects share a
// reference and is reported as a schema violation.
func Plan(tx *models.Transaction, kind models.TransactionKind, target models.TransactionStatus) (Effect, error) {
	if tx == nil {
		return Effect{}, apperrors.ErrTransactionNotFound
	}
	if !target.Terminal() {
		return Effect{}, fmt.Errorf("%w: target status %q is not terminal", apperrors.ErrSchemaViolation, target)
	}
	if kind != "" && tx.Kind != kind {
		return Effect{}, fmt.Errorf("%w: transaction %s is a %s, not a %s",
			apperrors.ErrSchemaViolation, tx.ID, tx.Kind, kind)
	}
	if tx.Amount <= 0 {
		return Effect{}, fmt.Errorf("%w: transaction %s has non-positive amount %d",
			apperrors.ErrSchemaViolation, tx.ID, tx.Amount)
	}

	switch tx.Status {
	case models.StatusSuccess, models.StatusFailed:
		return Effect{From: tx.Status, NoOp: true}, nil
	case models.StatusPending:
	default:
		return Effect{}, fmt.Errorf("%w: transaction %s has unknown status %q",
			apperrors.ErrSchemaViolation, tx.ID, tx.Status)
	}

	delta, err := balanceDelta(tx.Kind, target, tx.Amount)
	if err != nil {
		return Effect{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return Effect{From: models.StatusPending, To: target, Delta: delta}, nil
}

func balanceDelta(kind models.TransactionKind, target models.TransactionStatus, amount int64) (int64, error) {
	switch kind {
	case models.KindDeposit:
		if target == models.StatusSuccess {
			return amount, nil
		}
		return 0, nil
	case models.KindWithdrawal:
		if target == models.StatusFailed {
			// release the reservation taken at initiation
			return amount, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown transaction kind %q", apperrors.ErrSchemaViolation, kind)
	}
}

// ReservationDelta is the balance effect of creating a pending row of kind.
func ReservationDelta(kind models.TransactionKind, amount int64) int64 {
	if kind == models.KindWithdrawal {
		return -amount
	}
	return 0
}

// Contribution is what a row in its current status contributes to the
// wallet balance. The sum over all rows of a wallet equals its balance.
func Contribution(tx *models.Transaction) int64 {
	switch {
	case tx.Kind == models.KindDeposit && tx.Status == models.StatusSuccess:
		return tx.Amount
	case tx.Kind == models.KindWithdrawal && tx.Status != models.StatusFailed:
		return -tx.Amount
	default:
		return 0
	}
}
