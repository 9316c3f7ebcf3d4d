package repositories

import (
	"context"
	"errors"

	"walletledger/internal/models"
	"walletledger/internal/services/ledger"
)

var ErrDuplicateWallet = errors.New("wallet already exists")

// LedgerStore is the only way wallet and transaction state changes. Every
// mutating method is a single atomic commit; none of them hands the caller a
// read that it must later write back.
type LedgerStore interface {
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	ReadWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerID string) (*models.Wallet, error)

	// ApplyDelta adds delta to the balance if the stored version still equals
	// expectedVersion, and bumps the version. Fails with ErrVersionConflict
	// otherwise, or ErrInsufficientFunds if the balance would go negative.
	ApplyDelta(ctx context.Context, walletID string, delta, expectedVersion int64) (*models.Wallet, error)

	// CreateTransaction inserts a row that has no balance effect yet, such as
	// a pending deposit. Fails with ErrDuplicateReference on a reused reference
	// or id.
	CreateTransaction(ctx context.Context, tx *models.Transaction) error

	// ReserveWithdrawal debits the wallet by tx.Amount under the version check
	// and inserts tx as a pending withdrawal, together.
	ReserveWithdrawal(ctx context.Context, tx *models.Transaction, expectedVersion int64) (*models.Wallet, error)

	// AttachReference records the processor's id on a row that has none.
	AttachReference(ctx context.Context, transactionID, reference string) error

	// TransitionTransaction moves a pending row to a terminal status and
	// applies the balance delta the state machine assigns, together. A row
	// that is already terminal is left untouched and ErrAlreadyTerminal is
	// returned alongside the current state.
	TransitionTransaction(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// SettleDeposit inserts an already successful deposit and credits the
	// wallet, together. Used when the processor reports a payment this
	// service never saw initiated.
	SettleDeposit(ctx context.Context, tx *models.Transaction) (*TransitionResult, error)

	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, int64, error)

	// Snapshot reads the wallet and the totals of its rows from one
	// consistent view.
	Snapshot(ctx context.Context, walletID string) (*models.Wallet, LedgerTotals, error)
}

// TransitionRequest selects a row by external reference, falling back to the
// internal id when no row carries the reference yet. In the fallback case the
// reference is attached as part of the transition. A non-empty WalletID must
// match the row's wallet or nothing is written.
type TransitionRequest struct {
	Reference     string
	TransactionID string
	WalletID      string
	Kind          models.TransactionKind
	Target        models.TransactionStatus
}

type TransitionResult struct {
	Transaction *models.Transaction
	Wallet      *models.Wallet
	Effect      ledger.Effect
}

// LedgerTotals are the sums the balance invariant is checked against.
type LedgerTotals struct {
	SettledDeposits     int64
	ReservedWithdrawals int64
	PendingDeposits     int64
}

// ExpectedBalance is what the wallet balance must equal for these totals.
func (t LedgerTotals) ExpectedBalance() int64 {
	return t.SettledDeposits - t.ReservedWithdrawals
}
