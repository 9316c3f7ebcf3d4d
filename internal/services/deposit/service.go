// Package deposit creates deposit intents. A deposit is recorded as pending
// with no balance effect; only the processor's success callback credits it.
package deposit

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

const operationCreate = "create_deposit"

type Service interface {
	CreateIntent(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	DefaultCurrency string
	StoreTimeout    time.Duration
	Retry           retry.Policy
}

type Request struct {
	WalletID string
	Amount   int64
}

// Result is what the client needs to complete the payment with the processor.
type Result struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	ClientSecret  string `json:"client_secret"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type service struct {
	store   repositories.LedgerStore
	gateway payment.Gateway
	config  Config
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewService(store repositories.LedgerStore, gateway payment.Gateway, config Config, logger *zap.Logger, mc metrics.Collector) Service {
	if store == nil {
		panic("ledger store is required")
	}
	if gateway == nil {
		panic("payment gateway is required")
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "usd"
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &service{store: store, gateway: gateway, config: config, logger: logger, metrics: mc}
}

func (s *service) CreateIntent(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration(operationCreate, time.Since(start)) }()

	if req.Amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}

	wallet, err := s.readWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	currency := wallet.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	tx := &models.Transaction{
		ID:       uuid.NewString(),
		WalletID: wallet.ID,
		Amount:   req.Amount,
		Kind:     models.KindDeposit,
		Status:   models.StatusPending,
		Metadata: models.NewJSON(map[string]interface{}{"source": "api"}),
	}
	log := s.logger.With(
		zap.String("wallet_id", wallet.ID),
		zap.String("transaction_id", tx.ID),
		zap.Int64("amount", req.Amount),
	)

	if err := s.storeCall(ctx, func(ctx context.Context) error {
		err := s.store.CreateTransaction(ctx, tx)
		if errors.Is(err, apperrors.ErrDuplicateReference) {
			if _, gerr := s.store.GetTransaction(ctx, tx.ID); gerr == nil {
				return nil
			}
		}
		return err
	}); err != nil {
		s.metrics.RecordOperationResult(operationCreate, metrics.ResultError)
		return nil, fmt.Errorf("record pending deposit: %w", err)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, payment.IntentRequest{
		TransactionID: tx.ID,
		WalletID:      wallet.ID,
		Amount:        req.Amount,
		Currency:      currency,
	})
	if err != nil {
		s.abandon(ctx, log, tx)
		s.metrics.RecordOperationResult(operationCreate, metrics.ResultRejected)
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	if err := s.storeCall(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return s.store.AttachReference(ctx, tx.ID, intent.Reference)
	}); err != nil {
		// the success callback carries transaction_id and attaches it then
		log.Warn("failed to attach payment intent reference", zap.String("reference", intent.Reference), zap.Error(err))
	}

	s.metrics.RecordOperationResult(operationCreate, metrics.ResultSuccess)
	log.Info("deposit intent created", zap.String("reference", intent.Reference))
	return &Result{
		TransactionID: tx.ID,
		Reference:     intent.Reference,
		ClientSecret:  intent.ClientSecret,
		Amount:        req.Amount,
		Currency:      currency,
	}, nil
}

// abandon fails a pending deposit whose intent was never created. There is
// no balance effect either way; this only keeps the row from lingering.
func (s *service) abandon(ctx context.Context, log *zap.Logger, tx *models.Transaction) {
	err := s.storeCall(context.WithoutCancel(ctx), func(ctx context.Context) error {
		_, err := s.store.TransitionTransaction(ctx, repositories.TransitionRequest{
			TransactionID: tx.ID,
			WalletID:      tx.WalletID,
			Kind:          models.KindDeposit,
			Target:        models.StatusFailed,
		})
		return err
	})
	if err != nil && !apperrors.IsExpectedDuplicate(err) {
		log.Warn("failed to mark abandoned deposit failed", zap.Error(err))
		return
	}
	log.Info("pending deposit abandoned")
}

func (s *service) readWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		wallet, err = s.store.ReadWallet(ctx, walletID)
		return err
	})
	return wallet, err
}

func (s *service) storeCall(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.config.Retry, apperrors.IsTransient, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
		defer cancel()
		return fn(sctx)
	})
}
