// Command wallet_seed provisions a wallet for an owner. Running it twice for
// the same owner returns the existing wallet.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"walletledger/internal/config"
	"walletledger/internal/logging"
	"walletledger/internal/repositories"
	"walletledger/internal/services/wallet"

	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	owner := flag.String("owner", os.Getenv("WALLET_OWNER_ID"), "owner id the wallet belongs to")
	currency := flag.String("currency", cfg.PayoutCurrency, "ISO currency code")
	flag.Parse()

	if *owner == "" {
		log.Fatal("-owner or WALLET_OWNER_ID must be set")
	}

	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := repositories.NewDB(cfg.DB)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer func() {
		if err := repositories.CloseDB(db); err != nil {
			logger.Warn("failed to close database connection", zap.Error(err))
		}
	}()
	if err := repositories.Migrate(db); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	svc := wallet.NewService(repositories.NewLedgerStore(db), nil, wallet.Config{StoreTimeout: cfg.StoreTimeout}, logger, nil)
	w, created, err := svc.CreateWallet(context.Background(), *owner, *currency)
	if err != nil {
		logger.Fatal("failed to provision wallet", zap.String("owner_id", *owner), zap.Error(err))
	}

	if !created {
		logger.Info("wallet already exists", zap.String("wallet_id", w.ID), zap.String("owner_id", w.OwnerID))
		return
	}
	logger.Info("wallet created", zap.String("wallet_id", w.ID), zap.String("owner_id", w.OwnerID), zap.String("currency", w.Currency))
}
