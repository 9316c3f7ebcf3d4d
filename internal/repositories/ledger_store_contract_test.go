package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLedgerStoreContract exercises behavior every LedgerStore must share.
// newStore must return an empty store.
func runLedgerStoreContract(t *testing.T, newStore func(t *testing.T) LedgerStore) {
	ctx := context.Background()

	seedWallet := func(t *testing.T, s LedgerStore, balance int64) *models.Wallet {
		t.Helper()
		w := &models.Wallet{OwnerID: uuid.NewString(), Currency: "usd"}
		require.NoError(t, s.CreateWallet(ctx, w))
		if balance > 0 {
			ref := "py_seed_" + uuid.NewString()
			_, err := s.SettleDeposit(ctx, &models.Transaction{
				WalletID:          w.ID,
				Amount:            balance,
				Kind:              models.KindDeposit,
				Status:            models.StatusSuccess,
				ExternalReference: &ref,
			})
			require.NoError(t, err)
		}
		out, err := s.ReadWallet(ctx, w.ID)
		require.NoError(t, err)
		return out
	}

	t.Run("CreateWallet rejects a second wallet for the same owner", func(t *testing.T) {
		s := newStore(t)
		w := &models.Wallet{OwnerID: "owner-1", Currency: "usd"}
		require.NoError(t, s.CreateWallet(ctx, w))
		assert.NotEmpty(t, w.ID)

		err := s.CreateWallet(ctx, &models.Wallet{OwnerID: "owner-1", Currency: "usd"})
		assert.ErrorIs(t, err, ErrDuplicateWallet)

		found, err := s.FindWalletByOwner(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, w.ID, found.ID)
		assert.Equal(t, int64(0), found.Balance)

		_, err = s.ReadWallet(ctx, uuid.NewString())
		assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)
	})

	t.Run("ApplyDelta checks the version and the floor", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 100)

		updated, err := s.ApplyDelta(ctx, w.ID, -40, w.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(60), updated.Balance)
		assert.Equal(t, w.Version+1, updated.Version)

		_, err = s.ApplyDelta(ctx, w.ID, -10, w.Version)
		assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

		_, err = s.ApplyDelta(ctx, w.ID, -61, updated.Version)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

		after, err := s.ReadWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), after.Balance)
		assert.Equal(t, updated.Version, after.Version)
	})

	t.Run("ReserveWithdrawal debits and records together", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 5000)

		tx := &models.Transaction{WalletID: w.ID, Amount: 2000, Kind: models.KindWithdrawal, Status: models.StatusPending}
		updated, err := s.ReserveWithdrawal(ctx, tx, w.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), updated.Balance)
		assert.NotEmpty(t, tx.ID)

		stored, err := s.GetTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, stored.Status)
		assert.Equal(t, "", stored.Reference())

		over := &models.Transaction{WalletID: w.ID, Amount: 3001, Kind: models.KindWithdrawal, Status: models.StatusPending}
		_, err = s.ReserveWithdrawal(ctx, over, updated.Version)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

		stale := &models.Transaction{WalletID: w.ID, Amount: 10, Kind: models.KindWithdrawal, Status: models.StatusPending}
		_, err = s.ReserveWithdrawal(ctx, stale, w.Version)
		assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

		_, total, err := s.ListTransactions(ctx, w.ID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total, "failed reservations must not leave rows behind")
	})

	t.Run("TransitionTransaction credits a deposit exactly once", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 0)
		ref := "pi_" + uuid.NewString()
		tx := &models.Transaction{WalletID: w.ID, Amount: 1500, Kind: models.KindDeposit, Status: models.StatusPending, ExternalReference: &ref}
		require.NoError(t, s.CreateTransaction(ctx, tx))

		req := TransitionRequest{Reference: ref, Kind: models.KindDeposit, Target: models.StatusSuccess}
		res, err := s.TransitionTransaction(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), res.Wallet.Balance)
		assert.Equal(t, models.StatusSuccess, res.Transaction.Status)
		assert.Equal(t, int64(1500), res.Effect.Delta)

		res, err = s.TransitionTransaction(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
		require.NotNil(t, res)
		assert.True(t, res.Effect.NoOp)
		assert.Equal(t, int64(1500), res.Wallet.Balance)

		_, err = s.TransitionTransaction(ctx, TransitionRequest{Reference: ref, Kind: models.KindDeposit, Target: models.StatusFailed})
		assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)

		after, err := s.ReadWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1500), after.Balance)
	})

	t.Run("TransitionTransaction releases a failed withdrawal", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 1000)
		tx := &models.Transaction{WalletID: w.ID, Amount: 400, Kind: models.KindWithdrawal, Status: models.StatusPending}
		_, err := s.ReserveWithdrawal(ctx, tx, w.Version)
		require.NoError(t, err)
		require.NoError(t, s.AttachReference(ctx, tx.ID, "po_1"))

		res, err := s.TransitionTransaction(ctx, TransitionRequest{Reference: "po_1", Kind: models.KindWithdrawal, Target: models.StatusFailed})
		require.NoError(t, err)
		assert.Equal(t, int64(1000), res.Wallet.Balance)

		_, err = s.TransitionTransaction(ctx, TransitionRequest{Reference: "po_1", Kind: models.KindWithdrawal, Target: models.StatusSuccess})
		assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
	})

	t.Run("TransitionTransaction leaves the balance alone on a paid withdrawal", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 1000)
		tx := &models.Transaction{WalletID: w.ID, Amount: 400, Kind: models.KindWithdrawal, Status: models.StatusPending}
		_, err := s.ReserveWithdrawal(ctx, tx, w.Version)
		require.NoError(t, err)

		res, err := s.TransitionTransaction(ctx, TransitionRequest{
			Reference:     "po_late",
			TransactionID: tx.ID,
			Kind:          models.KindWithdrawal,
			Target:        models.StatusSuccess,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(600), res.Wallet.Balance)
		assert.Equal(t, "po_late", res.Transaction.Reference(), "fallback by id attaches the reference")

		_, err = s.TransitionTransaction(ctx, TransitionRequest{Reference: "po_late", Kind: models.KindWithdrawal, Target: models.StatusSuccess})
		assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
	})

	t.Run("TransitionTransaction rejects mismatched and unknown rows", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 0)
		ref := "pi_" + uuid.NewString()
		require.NoError(t, s.CreateTransaction(ctx, &models.Transaction{
			WalletID: w.ID, Amount: 100, Kind: models.KindDeposit, Status: models.StatusPending, ExternalReference: &ref,
		}))

		_, err := s.TransitionTransaction(ctx, TransitionRequest{Reference: ref, Kind: models.KindWithdrawal, Target: models.StatusFailed})
		assert.ErrorIs(t, err, apperrors.ErrSchemaViolation)

		_, err = s.TransitionTransaction(ctx, TransitionRequest{Reference: ref, WalletID: uuid.NewString(), Kind: models.KindDeposit, Target: models.StatusSuccess})
		assert.ErrorIs(t, err, apperrors.ErrSchemaViolation)

		_, err = s.TransitionTransaction(ctx, TransitionRequest{Reference: "po_missing", Kind: models.KindWithdrawal, Target: models.StatusSuccess})
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

		after, err := s.ReadWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), after.Balance)
	})

	t.Run("SettleDeposit is idempotent on the reference", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 0)
		ref := "pi_direct"
		deposit := func() *models.Transaction {
			r := ref
			return &models.Transaction{WalletID: w.ID, Amount: 250, Kind: models.KindDeposit, Status: models.StatusSuccess, ExternalReference: &r}
		}

		res, err := s.SettleDeposit(ctx, deposit())
		require.NoError(t, err)
		assert.Equal(t, int64(250), res.Wallet.Balance)

		_, err = s.SettleDeposit(ctx, deposit())
		assert.ErrorIs(t, err, apperrors.ErrDuplicateReference)

		missing := deposit()
		missing.WalletID = uuid.NewString()
		other := "pi_other"
		missing.ExternalReference = &other
		_, err = s.SettleDeposit(ctx, missing)
		assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)

		after, err := s.ReadWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(250), after.Balance)
	})

	t.Run("rows for a malformed wallet id report WalletNotFound", func(t *testing.T) {
		s := newStore(t)
		ref := "pi_bad_wallet"

		_, err := s.SettleDeposit(ctx, &models.Transaction{
			WalletID: "not-a-uuid", Amount: 100, Kind: models.KindDeposit, Status: models.StatusSuccess, ExternalReference: &ref,
		})
		assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)
		assert.False(t, apperrors.IsTransient(err))

		err = s.CreateTransaction(ctx, &models.Transaction{WalletID: "w-1", Amount: 100, Kind: models.KindDeposit, Status: models.StatusPending})
		assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)

		_, err = s.ReserveWithdrawal(ctx, &models.Transaction{WalletID: "w-1", Amount: 100, Kind: models.KindWithdrawal, Status: models.StatusPending}, 0)
		assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)
	})

	t.Run("stored rows do not share metadata with callers", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 0)
		txn := &models.Transaction{
			WalletID: w.ID, Amount: 40, Kind: models.KindDeposit, Status: models.StatusPending,
			Metadata: models.JSON{"source": "api"},
		}
		require.NoError(t, s.CreateTransaction(ctx, txn))
		txn.Metadata["source"] = "tampered"

		read, err := s.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "api", read.Metadata["source"])
		read.Metadata["source"] = "tampered"

		again, err := s.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "api", again.Metadata["source"])
	})

	t.Run("CreateTransaction refuses rows that would move the balance", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 0)

		err := s.CreateTransaction(ctx, &models.Transaction{WalletID: w.ID, Amount: 10, Kind: models.KindWithdrawal, Status: models.StatusPending})
		assert.ErrorIs(t, err, apperrors.ErrSchemaViolation)

		err = s.CreateTransaction(ctx, &models.Transaction{WalletID: w.ID, Amount: 0, Kind: models.KindDeposit, Status: models.StatusPending})
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	})

	t.Run("AttachReference", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 100)
		a := &models.Transaction{WalletID: w.ID, Amount: 10, Kind: models.KindDeposit, Status: models.StatusPending}
		b := &models.Transaction{WalletID: w.ID, Amount: 20, Kind: models.KindDeposit, Status: models.StatusPending}
		require.NoError(t, s.CreateTransaction(ctx, a))
		require.NoError(t, s.CreateTransaction(ctx, b))

		require.NoError(t, s.AttachReference(ctx, a.ID, "pi_a"))
		require.NoError(t, s.AttachReference(ctx, a.ID, "pi_a"))
		assert.ErrorIs(t, s.AttachReference(ctx, a.ID, "pi_other"), apperrors.ErrSchemaViolation)
		assert.ErrorIs(t, s.AttachReference(ctx, b.ID, "pi_a"), apperrors.ErrDuplicateReference)
		assert.ErrorIs(t, s.AttachReference(ctx, uuid.NewString(), "pi_x"), apperrors.ErrTransactionNotFound)
	})

	t.Run("Snapshot totals match the balance", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 1000)
		pending := &models.Transaction{WalletID: w.ID, Amount: 77, Kind: models.KindDeposit, Status: models.StatusPending}
		require.NoError(t, s.CreateTransaction(ctx, pending))
		wd := &models.Transaction{WalletID: w.ID, Amount: 300, Kind: models.KindWithdrawal, Status: models.StatusPending}
		_, err := s.ReserveWithdrawal(ctx, wd, w.Version)
		require.NoError(t, err)

		wallet, totals, err := s.Snapshot(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), totals.SettledDeposits)
		assert.Equal(t, int64(300), totals.ReservedWithdrawals)
		assert.Equal(t, int64(77), totals.PendingDeposits)
		assert.Equal(t, wallet.Balance, totals.ExpectedBalance())
	})

	t.Run("ListTransactions pages newest first", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 0)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.CreateTransaction(ctx, &models.Transaction{
				WalletID: w.ID, Amount: int64(i + 1), Kind: models.KindDeposit, Status: models.StatusPending,
			}))
		}

		page, total, err := s.ListTransactions(ctx, w.ID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, page, 2)

		rest, _, err := s.ListTransactions(ctx, w.ID, 10, 4)
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})

	t.Run("concurrent reservations never overdraw", func(t *testing.T) {
		s := newStore(t)
		w := seedWallet(t, s, 1000)

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for attempt := 0; attempt < 50; attempt++ {
					cur, err := s.ReadWallet(ctx, w.ID)
					if err != nil {
						return
					}
					tx := &models.Transaction{WalletID: w.ID, Amount: 300, Kind: models.KindWithdrawal, Status: models.StatusPending}
					_, err = s.ReserveWithdrawal(ctx, tx, cur.Version)
					if errors.Is(err, apperrors.ErrVersionConflict) {
						continue
					}
					if err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
					}
					return
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, succeeded)
		wallet, totals, err := s.Snapshot(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), wallet.Balance)
		assert.Equal(t, wallet.Balance, totals.ExpectedBalance())
	})
}
