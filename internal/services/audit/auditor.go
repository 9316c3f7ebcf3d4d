// Package audit checks a wallet against its transaction history.
package audit

import (
	"context"
	"fmt"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/repositories"

	"go.uber.org/zap"
)

// Report is the result of one verification. Expected is what the balance
// must be given the wallet's transaction rows.
type Report struct {
	WalletID            string    `json:"wallet_id"`
	Balance             int64     `json:"balance"`
	Expected            int64     `json:"expected"`
	SettledDeposits     int64     `json:"settled_deposits"`
	ReservedWithdrawals int64     `json:"reserved_withdrawals"`
	PendingDeposits     int64     `json:"pending_deposits"`
	Consistent          bool      `json:"consistent"`
	CheckedAt           time.Time `json:"checked_at"`
}

type Auditor struct {
	store  repositories.LedgerStore
	logger *zap.Logger
}

func NewAuditor(store repositories.LedgerStore, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{store: store, logger: logger}
}

// Verify recomputes the balance from the wallet's rows. A mismatch or a
// negative balance returns the report together with ErrSchemaViolation; the
// data is reported, never repaired.
func (a *Auditor) Verify(ctx context.Context, walletID string) (*Report, error) {
	w, totals, err := a.store.Snapshot(ctx, walletID)
	if err != nil {
		return nil, err
	}

	r := &Report{
		WalletID:            w.ID,
		Balance:             w.Balance,
		Expected:            totals.ExpectedBalance(),
		SettledDeposits:     totals.SettledDeposits,
		ReservedWithdrawals: totals.ReservedWithdrawals,
		PendingDeposits:     totals.PendingDeposits,
		CheckedAt:           time.Now().UTC(),
	}
	r.Consistent = r.Balance == r.Expected && r.Balance >= 0
	if !r.Consistent {
		a.logger.Error("wallet balance does not match its transactions",
			zap.String("wallet_id", w.ID),
			zap.Int64("balance", r.Balance),
			zap.Int64("expected", r.Expected))
		return r, fmt.Errorf("%w: wallet %s balance %d, transactions imply %d",
			apperrors.ErrSchemaViolation, w.ID, r.Balance, r.Expected)
	}
	return r, nil
}
