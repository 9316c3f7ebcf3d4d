package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/models"
	"walletledger/internal/services/ledger"

	"github.com/google/uuid"
)

// MemoryStore is an in-process LedgerStore with the same semantics as the
// Postgres store. One mutex stands in for the database transaction, so every
// method is atomic with respect to the others.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	owners  map[string]string
	txs     map[string]*models.Transaction
	refs    map[string]string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*models.Wallet),
		owners:  make(map[string]string),
		txs:     make(map[string]*models.Transaction),
		refs:    make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ LedgerStore = (*MemoryStore)(nil)

func (m *MemoryStore) CreateWallet(_ context.Context, wallet *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wallet.Balance != 0 {
		return fmt.Errorf("%w: wallets are provisioned empty", apperrors.ErrSchemaViolation)
	}
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	if _, ok := m.wallets[wallet.ID]; ok {
		return ErrDuplicateWallet
	}
	if _, ok := m.owners[wallet.OwnerID]; ok {
		return ErrDuplicateWallet
	}
	if wallet.Currency == "" {
		wallet.Currency = "usd"
	}
	now := m.now()
	wallet.CreatedAt, wallet.UpdatedAt = now, now

	stored := *wallet
	m.wallets[wallet.ID] = &stored
	m.owners[wallet.OwnerID] = wallet.ID
	return nil
}

func (m *MemoryStore) ReadWallet(_ context.Context, walletID string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

func (m *MemoryStore) FindWalletByOwner(_ context.Context, ownerID string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.owners[ownerID]
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	out := *m.wallets[id]
	return &out, nil
}

func (m *MemoryStore) ApplyDelta(_ context.Context, walletID string, delta, expectedVersion int64) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.casDeltaLocked(walletID, delta, expectedVersion); err != nil {
		return nil, err
	}
	out := *m.wallets[walletID]
	return &out, nil
}

func (m *MemoryStore) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	if err := validateNewRow(txn); err != nil {
		return err
	}
	if ledger.Contribution(txn) != 0 {
		return fmt.Errorf("%w: %s %s rows affect the balance and need a reservation",
			apperrors.ErrSchemaViolation, txn.Status, txn.Kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[txn.WalletID]; !ok {
		return apperrors.ErrWalletNotFound
	}
	return m.insertLocked(txn)
}

func (m *MemoryStore) ReserveWithdrawal(_ context.Context, txn *models.Transaction, expectedVersion int64) (*models.Wallet, error) {
	if err := validateNewRow(txn); err != nil {
		return nil, err
	}
	if txn.Kind != models.KindWithdrawal || txn.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: reservation requires a pending withdrawal", apperrors.ErrSchemaViolation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflictsLocked(txn) {
		return nil, apperrors.ErrDuplicateReference
	}
	if err := m.casDeltaLocked(txn.WalletID, ledger.ReservationDelta(txn.Kind, txn.Amount), expectedVersion); err != nil {
		return nil, err
	}
	if err := m.insertLocked(txn); err != nil {
		return nil, err
	}
	out := *m.wallets[txn.WalletID]
	return &out, nil
}

func (m *MemoryStore) AttachReference(_ context.Context, transactionID, reference string) error {
	if reference == "" {
		return fmt.Errorf("%w: empty reference", apperrors.ErrSchemaViolation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.txs[transactionID]
	if !ok {
		return apperrors.ErrTransactionNotFound
	}
	switch row.Reference() {
	case reference:
		return nil
	case "":
	default:
		return fmt.Errorf("%w: transaction %s already carries reference %s",
			apperrors.ErrSchemaViolation, transactionID, row.Reference())
	}
	if _, taken := m.refs[reference]; taken {
		return apperrors.ErrDuplicateReference
	}
	ref := reference
	row.ExternalReference = &ref
	row.UpdatedAt = m.now()
	m.refs[reference] = row.ID
	return nil
}

func (m *MemoryStore) TransitionTransaction(_ context.Context, req TransitionRequest) (*TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, err := m.resolveLocked(req)
	if err != nil {
		return nil, err
	}
	if err := checkWallet(row, req.WalletID); err != nil {
		return nil, err
	}
	effect, err := ledger.Plan(row, req.Kind, req.Target)
	if err != nil {
		return nil, err
	}
	wallet, ok := m.wallets[row.WalletID]
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	if effect.NoOp {
		tx, w := copyTransaction(row), *wallet
		return &TransitionResult{Transaction: &tx, Wallet: &w, Effect: effect}, apperrors.ErrAlreadyTerminal
	}
	if wallet.Balance+effect.Delta < 0 {
		return nil, fmt.Errorf("%w: delta %d would make wallet %s negative",
			apperrors.ErrSchemaViolation, effect.Delta, wallet.ID)
	}
	attach := row.ExternalReference == nil && req.Reference != ""
	if attach {
		if _, taken := m.refs[req.Reference]; taken {
			return nil, apperrors.ErrDuplicateReference
		}
	}

	now := m.now()
	if attach {
		ref := req.Reference
		row.ExternalReference = &ref
		m.refs[ref] = row.ID
	}
	row.Status = effect.To
	row.UpdatedAt = now
	if effect.Delta != 0 {
		wallet.Balance += effect.Delta
		wallet.Version++
		wallet.UpdatedAt = now
	}

	tx, w := copyTransaction(row), *wallet
	return &TransitionResult{Transaction: &tx, Wallet: &w, Effect: effect}, nil
}

func (m *MemoryStore) SettleDeposit(_ context.Context, txn *models.Transaction) (*TransitionResult, error) {
	if err := validateNewRow(txn); err != nil {
		return nil, err
	}
	if txn.Kind != models.KindDeposit || txn.Status != models.StatusSuccess || txn.Reference() == "" {
		return nil, fmt.Errorf("%w: settlement requires a successful deposit with a reference", apperrors.ErrSchemaViolation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wallet, ok := m.wallets[txn.WalletID]
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	if m.conflictsLocked(txn) {
		return nil, apperrors.ErrDuplicateReference
	}
	if err := m.insertLocked(txn); err != nil {
		return nil, err
	}
	wallet.Balance += txn.Amount
	wallet.Version++
	wallet.UpdatedAt = m.now()

	tx, w := copyTransaction(txn), *wallet
	return &TransitionResult{
		Transaction: &tx,
		Wallet:      &w,
		Effect:      ledger.Effect{To: models.StatusSuccess, Delta: txn.Amount},
	}, nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.txs[transactionID]
	if !ok {
		return nil, apperrors.ErrTransactionNotFound
	}
	out := copyTransaction(row)
	return &out, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, walletID string, limit, offset int) ([]models.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []models.Transaction
	for _, tx := range m.txs {
		if tx.WalletID == walletID {
			rows = append(rows, copyTransaction(tx))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	total := int64(len(rows))
	if offset >= len(rows) {
		return []models.Transaction{}, total, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, total, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, walletID string) (*models.Wallet, LedgerTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, LedgerTotals{}, apperrors.ErrWalletNotFound
	}
	var totals LedgerTotals
	for _, tx := range m.txs {
		if tx.WalletID != walletID {
			continue
		}
		switch {
		case tx.Kind == models.KindDeposit && tx.Status == models.StatusSuccess:
			totals.SettledDeposits += tx.Amount
		case tx.Kind == models.KindDeposit && tx.Status == models.StatusPending:
			totals.PendingDeposits += tx.Amount
		case tx.Kind == models.KindWithdrawal && tx.Status != models.StatusFailed:
			totals.ReservedWithdrawals += tx.Amount
		}
	}
	out := *w
	return &out, totals, nil
}

// Corrupt overwrites a stored row without any checks. Tests use it to model
// persisted state that breaks the ledger invariants.
func (m *MemoryStore) Corrupt(walletID string, mutate func(w *models.Wallet)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[walletID]; ok {
		mutate(w)
	}
}

func (m *MemoryStore) casDeltaLocked(walletID string, delta, expectedVersion int64) error {
	w, ok := m.wallets[walletID]
	if !ok {
		return apperrors.ErrWalletNotFound
	}
	if w.Version != expectedVersion {
		return fmt.Errorf("%w: wallet %s at version %d, expected %d",
			apperrors.ErrVersionConflict, walletID, w.Version, expectedVersion)
	}
	if w.Balance+delta < 0 {
		return fmt.Errorf("%w: wallet %s balance %d, delta %d",
			apperrors.ErrInsufficientFunds, walletID, w.Balance, delta)
	}
	w.Balance += delta
	w.Version++
	w.UpdatedAt = m.now()
	return nil
}

// conflictsLocked reports whether inserting txn would violate a unique
// constraint, on the reference or on the id.
func (m *MemoryStore) conflictsLocked(txn *models.Transaction) bool {
	if ref := txn.Reference(); ref != "" {
		if _, taken := m.refs[ref]; taken {
			return true
		}
	}
	if txn.ID != "" {
		if _, exists := m.txs[txn.ID]; exists {
			return true
		}
	}
	return false
}

func (m *MemoryStore) insertLocked(txn *models.Transaction) error {
	if m.conflictsLocked(txn) {
		return apperrors.ErrDuplicateReference
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Metadata == nil {
		txn.Metadata = models.JSON{}
	}
	now := m.now()
	txn.CreatedAt, txn.UpdatedAt = now, now

	stored := copyTransaction(txn)
	if txn.ExternalReference != nil {
		m.refs[*txn.ExternalReference] = txn.ID
	}
	m.txs[txn.ID] = &stored
	return nil
}

func (m *MemoryStore) resolveLocked(req TransitionRequest) (*models.Transaction, error) {
	if req.Reference != "" {
		if id, ok := m.refs[req.Reference]; ok {
			return m.txs[id], nil
		}
	}
	if req.TransactionID == "" {
		return nil, apperrors.ErrTransactionNotFound
	}
	row, ok := m.txs[req.TransactionID]
	if !ok {
		return nil, apperrors.ErrTransactionNotFound
	}
	if req.Reference != "" && row.ExternalReference != nil && *row.ExternalReference != req.Reference {
		return nil, fmt.Errorf("%w: transaction %s carries reference %s, event says %s",
			apperrors.ErrSchemaViolation, row.ID, *row.ExternalReference, req.Reference)
	}
	return row, nil
}

// copyTransaction detaches a row from the caller: the reference pointer and
// the metadata map are duplicated along with the struct.
func copyTransaction(txn *models.Transaction) models.Transaction {
	out := *txn
	if txn.ExternalReference != nil {
		ref := *txn.ExternalReference
		out.ExternalReference = &ref
	}
	if txn.Metadata != nil {
		out.Metadata = models.NewJSON(txn.Metadata)
	}
	return out
}
