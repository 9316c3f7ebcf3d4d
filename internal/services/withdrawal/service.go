// Package withdrawal implements synchronous admission of withdrawals: check
// the balance, reserve the amount together with a pending row, then ask the
// processor to pay out. A payout the processor did not accept is compensated
// by failing the row, which releases the reservation.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/metrics"
	"walletledger/internal/models"
	"walletledger/internal/repositories"
	"walletledger/internal/services/payment"
	"walletledger/internal/utils/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type service struct {
	store   repositories.LedgerStore
	gateway payment.Gateway
	cache   WalletCache
	config  Config
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewService(
	store repositories.LedgerStore,
	gateway payment.Gateway,
	cache WalletCache,
	config Config,
	logger *zap.Logger,
	mc metrics.Collector,
) Service {
	if store == nil {
		panic("ledger store is required")
	}
	if gateway == nil {
		panic("payment gateway is required")
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = DefaultCurrency
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &service{
		store:   store,
		gateway: gateway,
		cache:   cache,
		config:  config,
		logger:  logger,
		metrics: mc,
	}
}

func (s *service) Withdraw(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration(operationWithdraw, time.Since(start)) }()

	if req.Amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}
	if s.config.MaxAmount > 0 && req.Amount > s.config.MaxAmount {
		return nil, fmt.Errorf("%w: %d exceeds the per-withdrawal limit of %d",
			apperrors.ErrInvalidAmount, req.Amount, s.config.MaxAmount)
	}

	tx := &models.Transaction{
		ID:       uuid.NewString(),
		WalletID: req.WalletID,
		Amount:   req.Amount,
		Kind:     models.KindWithdrawal,
		Status:   models.StatusPending,
		Metadata: models.NewJSON(map[string]interface{}{"source": "api"}),
	}
	log := s.logger.With(
		zap.String("wallet_id", req.WalletID),
		zap.String("transaction_id", tx.ID),
		zap.Int64("amount", req.Amount),
	)

	wallet, err := s.reserve(ctx, tx)
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, apperrors.ErrInsufficientFunds) {
			result = metrics.ResultRejected
		}
		s.metrics.RecordOperationResult(operationWithdraw, result)
		log.Info("withdrawal not admitted", zap.Error(err))
		return nil, err
	}
	s.invalidate(ctx, log, req.WalletID)
	log.Info("withdrawal reserved", zap.Int64("balance", wallet.Balance))

	currency := wallet.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	payout, err := s.gateway.CreatePayout(ctx, payment.PayoutRequest{
		TransactionID: tx.ID,
		WalletID:      req.WalletID,
		Amount:        req.Amount,
		Currency:      currency,
	})
	if err != nil {
		log.Warn("payout not accepted, releasing reservation", zap.Error(err))
		if cerr := s.compensate(ctx, log, tx); cerr != nil {
			s.metrics.RecordOperationResult(operationWithdraw, metrics.ResultError)
			return nil, fmt.Errorf("payout failed (%w) and compensation failed: %v", err, cerr)
		}
		s.metrics.RecordOperationResult(operationWithdraw, metrics.ResultRejected)
		return nil, fmt.Errorf("payout initiation: %w", err)
	}

	s.attach(ctx, log, tx.ID, payout.Reference)
	ref := payout.Reference
	tx.ExternalReference = &ref

	s.metrics.RecordOperationResult(operationWithdraw, metrics.ResultSuccess)
	log.Info("payout initiated", zap.String("reference", payout.Reference), zap.String("status", payout.Status))
	return &Result{Transaction: tx, Wallet: wallet, Reference: payout.Reference}, nil
}

// reserve re-reads the wallet on every attempt so a version conflict is
// resolved against fresh state, and a re-read that shows too little money
// ends the loop with ErrInsufficientFunds. A retry first looks for the row:
// an earlier attempt may have committed with its answer lost, and the
// balance it left behind must not be read as a refusal.
func (s *service) reserve(ctx context.Context, tx *models.Transaction) (*models.Wallet, error) {
	var wallet *models.Wallet
	attempt := 0
	err := retry.Do(ctx, s.config.Retry, apperrors.IsTransient, func(ctx context.Context) error {
		retrying := attempt > 0
		if retrying {
			s.metrics.RecordRetry(operationReserve)
		}
		attempt++

		sctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
		defer cancel()

		if retrying {
			w, committed, err := s.committed(sctx, tx)
			if err != nil {
				return err
			}
			if committed {
				wallet = w
				return nil
			}
		}

		current, err := s.store.ReadWallet(sctx, tx.WalletID)
		if err != nil {
			return err
		}
		if tx.Amount > current.Balance {
			return fmt.Errorf("%w: balance %d, requested %d", apperrors.ErrInsufficientFunds, current.Balance, tx.Amount)
		}

		w, err := s.store.ReserveWithdrawal(sctx, tx, current.Version)
		if errors.Is(err, apperrors.ErrDuplicateReference) {
			w, committed, cerr := s.committed(sctx, tx)
			if cerr != nil {
				return cerr
			}
			if !committed {
				return fmt.Errorf("%w: transaction id %s reported as duplicate but not found", apperrors.ErrStoreUnavailable, tx.ID)
			}
			wallet = w
			return nil
		}
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

// committed reports whether tx's reservation is already in the store. A row
// with tx's id on another wallet is corruption, not a duplicate.
func (s *service) committed(ctx context.Context, tx *models.Transaction) (*models.Wallet, bool, error) {
	existing, err := s.store.GetTransaction(ctx, tx.ID)
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if existing.WalletID != tx.WalletID || existing.Kind != models.KindWithdrawal || existing.Amount != tx.Amount {
		return nil, false, fmt.Errorf("%w: transaction %s does not match the reservation", apperrors.ErrSchemaViolation, tx.ID)
	}
	w, err := s.store.ReadWallet(ctx, tx.WalletID)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// compensate fails the pending row, releasing the reservation. It runs even
// if the caller's context is gone, and it is a no-op when a callback already
// terminalized the row.
func (s *service) compensate(ctx context.Context, log *zap.Logger, tx *models.Transaction) error {
	base := context.WithoutCancel(ctx)
	err := retry.Do(base, s.config.Retry, apperrors.IsTransient, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
		defer cancel()

		_, err := s.store.TransitionTransaction(sctx, repositories.TransitionRequest{
			TransactionID: tx.ID,
			WalletID:      tx.WalletID,
			Kind:          models.KindWithdrawal,
			Target:        models.StatusFailed,
		})
		return err
	})

	switch {
	case err == nil:
		s.metrics.RecordCompensation(metrics.ResultSuccess)
		s.invalidate(base, log, tx.WalletID)
		log.Info("reservation released")
		return nil
	case errors.Is(err, apperrors.ErrAlreadyTerminal):
		s.metrics.RecordCompensation(metrics.ResultDuplicate)
		log.Info("reservation already terminal, nothing to release")
		return nil
	default:
		s.metrics.RecordCompensation(metrics.ResultError)
		log.Error("failed to release reservation", zap.Error(err))
		return err
	}
}

// attach records the processor reference. Failure is not fatal: the payout
// carries the transaction id in its metadata and the callback attaches the
// reference when it finds none.
func (s *service) attach(ctx context.Context, log *zap.Logger, txID, reference string) {
	base := context.WithoutCancel(ctx)
	err := retry.Do(base, s.config.Retry, apperrors.IsTransient, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
		defer cancel()
		return s.store.AttachReference(sctx, txID, reference)
	})
	if err != nil {
		s.metrics.RecordOperationResult(operationAttach, metrics.ResultError)
		log.Warn("failed to attach payout reference", zap.String("reference", reference), zap.Error(err))
	}
}

func (s *service) invalidate(ctx context.Context, log *zap.Logger, walletID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateWallet(ctx, walletID); err != nil {
		log.Warn("failed to invalidate wallet cache", zap.Error(err))
	}
}
