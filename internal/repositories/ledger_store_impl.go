package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/models"
	"walletledger/internal/services/ledger"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns the Postgres-backed LedgerStore. db must be opened
// with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func NewLedgerStore(db *gorm.DB) LedgerStore {
	return &ledgerStore{
		db: db,
	}
}

func (r *ledgerStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	if wallet.Balance != 0 {
		return fmt.Errorf("%w: wallets are provisioned empty", apperrors.ErrSchemaViolation)
	}
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateWallet
		}
		return storeErr("create wallet", err)
	}
	return nil
}

func (r *ledgerStore) ReadWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	return readWallet(r.db.WithContext(ctx), walletID)
}

func (r *ledgerStore) FindWalletByOwner(ctx context.Context, ownerID string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, storeErr("find wallet by owner", err)
	}
	return &wallet, nil
}

func (r *ledgerStore) ApplyDelta(ctx context.Context, walletID string, delta, expectedVersion int64) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := casDelta(tx, walletID, delta, expectedVersion); err != nil {
			return err
		}
		w, err := readWallet(tx, walletID)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (r *ledgerStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := validateNewRow(txn); err != nil {
		return err
	}
	if ledger.Contribution(txn) != 0 {
		return fmt.Errorf("%w: %s %s rows affect the balance and need a reservation",
			apperrors.ErrSchemaViolation, txn.Status, txn.Kind)
	}
	return insertTransaction(r.db.WithContext(ctx), txn)
}

func (r *ledgerStore) ReserveWithdrawal(ctx context.Context, txn *models.Transaction, expectedVersion int64) (*models.Wallet, error) {
	if err := validateNewRow(txn); err != nil {
		return nil, err
	}
	if txn.Kind != models.KindWithdrawal || txn.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: reservation requires a pending withdrawal", apperrors.ErrSchemaViolation)
	}

	var wallet *models.Wallet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := casDelta(tx, txn.WalletID, ledger.ReservationDelta(txn.Kind, txn.Amount), expectedVersion); err != nil {
			return err
		}
		if err := insertTransaction(tx, txn); err != nil {
			return err
		}
		w, err := readWallet(tx, txn.WalletID)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (r *ledgerStore) AttachReference(ctx context.Context, transactionID, reference string) error {
	if reference == "" {
		return fmt.Errorf("%w: empty reference", apperrors.ErrSchemaViolation)
	}
	if !validID(transactionID) {
		return apperrors.ErrTransactionNotFound
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockTransactionBy(tx, "id = ?", transactionID)
		if err != nil {
			return err
		}
		switch row.Reference() {
		case reference:
			return nil
		case "":
		default:
			return fmt.Errorf("%w: transaction %s already carries reference %s",
				apperrors.ErrSchemaViolation, transactionID, row.Reference())
		}
		err = tx.Model(&models.Transaction{}).
			Where("id = ? AND external_reference IS NULL", transactionID).
			Updates(map[string]interface{}{
				"external_reference": reference,
				"updated_at":         time.Now().UTC(),
			}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrDuplicateReference
		}
		return storeErr("attach reference", err)
	})
}

func (r *ledgerStore) TransitionTransaction(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	var result TransitionResult
	var noOp bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := resolveRow(tx, req)
		if err != nil {
			return err
		}
		if err := checkWallet(row, req.WalletID); err != nil {
			return err
		}

		effect, err := ledger.Plan(row, req.Kind, req.Target)
		if err != nil {
			return err
		}
		result.Effect = effect
		if effect.NoOp {
			noOp = true
			result.Transaction = row
			w, err := readWallet(tx, row.WalletID)
			if err != nil {
				return err
			}
			result.Wallet = w
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":     effect.To,
			"updated_at": now,
		}
		if row.ExternalReference == nil && req.Reference != "" {
			updates["external_reference"] = req.Reference
		}
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", row.ID, models.StatusPending).
			Updates(updates)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return apperrors.ErrDuplicateReference
			}
			return storeErr("transition transaction", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: transaction %s changed under row lock", apperrors.ErrSchemaViolation, row.ID)
		}

		if effect.Delta != 0 {
			if err := addDelta(tx, row.WalletID, effect.Delta, now); err != nil {
				return err
			}
		}

		updated, err := lockTransactionBy(tx, "id = ?", row.ID)
		if err != nil {
			return err
		}
		w, err := readWallet(tx, row.WalletID)
		if err != nil {
			return err
		}
		result.Transaction = updated
		result.Wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noOp {
		return &result, apperrors.ErrAlreadyTerminal
	}
	return &result, nil
}

func (r *ledgerStore) SettleDeposit(ctx context.Context, txn *models.Transaction) (*TransitionResult, error) {
	if err := validateNewRow(txn); err != nil {
		return nil, err
	}
	if txn.Kind != models.KindDeposit || txn.Status != models.StatusSuccess || txn.Reference() == "" {
		return nil, fmt.Errorf("%w: settlement requires a successful deposit with a reference", apperrors.ErrSchemaViolation)
	}

	var result TransitionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertTransaction(tx, txn); err != nil {
			return err
		}
		if err := addDelta(tx, txn.WalletID, txn.Amount, time.Now().UTC()); err != nil {
			return err
		}
		w, err := readWallet(tx, txn.WalletID)
		if err != nil {
			return err
		}
		result.Transaction = txn
		result.Wallet = w
		result.Effect = ledger.Effect{To: models.StatusSuccess, Delta: txn.Amount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *ledgerStore) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	if !validID(transactionID) {
		return nil, apperrors.ErrTransactionNotFound
	}
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", transactionID).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, storeErr("get transaction", err)
	}
	return &txn, nil
}

func (r *ledgerStore) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, int64, error) {
	if !validID(walletID) {
		return []models.Transaction{}, 0, nil
	}
	var total int64
	base := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("wallet_id = ?", walletID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, storeErr("count transactions", err)
	}

	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, 0, storeErr("list transactions", err)
	}
	return txns, total, nil
}

func (r *ledgerStore) Snapshot(ctx context.Context, walletID string) (*models.Wallet, LedgerTotals, error) {
	var wallet *models.Wallet
	var totals LedgerTotals

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := readWallet(tx, walletID)
		if err != nil {
			return err
		}
		wallet = w

		err = tx.Model(&models.Transaction{}).
			Select(`
				COALESCE(SUM(CASE WHEN kind = ? AND status = ? THEN amount ELSE 0 END), 0) AS settled_deposits,
				COALESCE(SUM(CASE WHEN kind = ? AND status IN ? THEN amount ELSE 0 END), 0) AS reserved_withdrawals,
				COALESCE(SUM(CASE WHEN kind = ? AND status = ? THEN amount ELSE 0 END), 0) AS pending_deposits
			`,
				models.KindDeposit, models.StatusSuccess,
				models.KindWithdrawal, []models.TransactionStatus{models.StatusPending, models.StatusSuccess},
				models.KindDeposit, models.StatusPending,
			).
			Where("wallet_id = ?", walletID).
			Scan(&totals).Error
		return storeErr("sum transactions", err)
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, LedgerTotals{}, err
	}
	return wallet, totals, nil
}

// Helper functions

// casDelta applies delta under the version check inside tx and explains a
// miss by re-reading the row within the same transaction.
func casDelta(tx *gorm.DB, walletID string, delta, expectedVersion int64) error {
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND version = ? AND balance + ? >= 0", walletID, expectedVersion, delta).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return storeErr("apply delta", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := readWallet(tx, walletID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: wallet %s at version %d, expected %d",
			apperrors.ErrVersionConflict, walletID, current.Version, expectedVersion)
	}
	return fmt.Errorf("%w: wallet %s balance %d, delta %d",
		apperrors.ErrInsufficientFunds, walletID, current.Balance, delta)
}

// addDelta applies a delta owed by a transition. The row lock on the
// transaction already serializes this with other callers, so no version
// check is needed; the version is still bumped so concurrent reservations
// notice the change.
func addDelta(tx *gorm.DB, walletID string, delta int64, now time.Time) error {
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance + ? >= 0", walletID, delta).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return storeErr("apply transition delta", res.Error)
	}
	if res.RowsAffected != 1 {
		if _, err := readWallet(tx, walletID); err != nil {
			return err
		}
		return fmt.Errorf("%w: delta %d would make wallet %s negative",
			apperrors.ErrSchemaViolation, delta, walletID)
	}
	return nil
}

func readWallet(db *gorm.DB, walletID string) (*models.Wallet, error) {
	if !validID(walletID) {
		return nil, apperrors.ErrWalletNotFound
	}
	var wallet models.Wallet
	if err := db.Where("id = ?", walletID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, storeErr("read wallet", err)
	}
	return &wallet, nil
}

func lockTransactionBy(tx *gorm.DB, query string, arg interface{}) (*models.Transaction, error) {
	var row models.Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, arg).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, storeErr("lock transaction", err)
	}
	return &row, nil
}

func resolveRow(tx *gorm.DB, req TransitionRequest) (*models.Transaction, error) {
	if req.Reference != "" {
		row, err := lockTransactionBy(tx, "external_reference = ?", req.Reference)
		if err == nil || !errors.Is(err, apperrors.ErrTransactionNotFound) {
			return row, err
		}
	}
	if !validID(req.TransactionID) {
		return nil, apperrors.ErrTransactionNotFound
	}

	row, err := lockTransactionBy(tx, "id = ?", req.TransactionID)
	if err != nil {
		return nil, err
	}
	if req.Reference != "" && row.ExternalReference != nil && *row.ExternalReference != req.Reference {
		return nil, fmt.Errorf("%w: transaction %s carries reference %s, event says %s",
			apperrors.ErrSchemaViolation, row.ID, *row.ExternalReference, req.Reference)
	}
	return row, nil
}

func checkWallet(row *models.Transaction, walletID string) error {
	if walletID != "" && row.WalletID != walletID {
		return fmt.Errorf("%w: transaction %s belongs to wallet %s, event names %s",
			apperrors.ErrSchemaViolation, row.ID, row.WalletID, walletID)
	}
	return nil
}

// validID filters ids Postgres would reject as uuid input before they reach
// the query.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func insertTransaction(db *gorm.DB, txn *models.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Metadata == nil {
		txn.Metadata = models.JSON{}
	}
	if err := db.Create(txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrDuplicateReference
		}
		return storeErr("create transaction", err)
	}
	return nil
}

func validateNewRow(txn *models.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: nil transaction", apperrors.ErrSchemaViolation)
	}
	if txn.Amount <= 0 {
		return apperrors.ErrInvalidAmount
	}
	if !validID(txn.WalletID) {
		return apperrors.ErrWalletNotFound
	}
	if txn.ExternalReference != nil && *txn.ExternalReference == "" {
		txn.ExternalReference = nil
	}
	return nil
}

// storeErr keeps domain and context errors as they are and marks anything
// else coming out of the driver as a transient store failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *apperrors.DomainError
	if errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrStoreUnavailable, op, err)
}
