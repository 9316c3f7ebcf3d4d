package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/metrics"
	"walletledger/internal/models"
	"walletledger/internal/repositories"

	"go.uber.org/zap"
)

type service struct {
	store   repositories.LedgerStore
	cache   Cache
	config  Config
	logger  *zap.Logger
	metrics metrics.Collector
}

// NewService creates a new wallet service. cache may be nil.
func NewService(store repositories.LedgerStore, cache Cache, config Config, logger *zap.Logger, mc metrics.Collector) Service {
	if store == nil {
		panic("ledger store is required")
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
	return &service{
		store:   store,
		cache:   cache,
		config:  config,
		logger:  logger,
		metrics: mc,
	}
}

// CreateWallet provisions an empty wallet. The bool is false when the owner
// already had one, which is then returned unchanged.
func (s *service) CreateWallet(ctx context.Context, ownerID, currency string) (*models.Wallet, bool, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, false, errors.New("owner id is required")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, false, ErrInvalidCurrency
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	if existing, err := s.store.FindWalletByOwner(ctx, ownerID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, apperrors.ErrWalletNotFound) {
		return nil, false, err
	}

	w := &models.Wallet{OwnerID: ownerID, Currency: currency}
	err := s.store.CreateWallet(ctx, w)
	if errors.Is(err, repositories.ErrDuplicateWallet) {
		// lost a race with another provisioning call
		existing, ferr := s.store.FindWalletByOwner(ctx, ownerID)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create wallet: %w", err)
	}

	s.logger.Info("wallet provisioned", zap.String("wallet_id", w.ID), zap.String("owner_id", ownerID))
	return w, true, nil
}

func (s *service) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	if s.cache != nil {
		cached, err := s.cache.GetWallet(ctx, walletID)
		if err != nil {
			s.logger.Warn("wallet cache read failed", zap.String("wallet_id", walletID), zap.Error(err))
		}
		if cached != nil {
			s.metrics.RecordCacheHit(cacheName)
			return cached, nil
		}
		s.metrics.RecordCacheMiss(cacheName)
	}

	sctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	w, err := s.store.ReadWallet(sctx, walletID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheWallet(ctx, w); err != nil {
			s.logger.Warn("failed to cache wallet", zap.String("wallet_id", walletID), zap.Error(err))
		}
	}
	return w, nil
}

func (s *service) GetOwnedWallet(ctx context.Context, walletID, ownerID string) (*models.Wallet, error) {
	w, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return w, nil
}

func (s *service) ListTransactions(ctx context.Context, walletID string, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	txs, total, err := s.store.ListTransactions(ctx, walletID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return &TransactionPage{Transactions: txs, Total: total, Page: page, Limit: limit}, nil
}
