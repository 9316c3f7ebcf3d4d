// Package main runs the wallet ledger HTTP service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletledger/internal/config"
	"walletledger/internal/handlers"
	"walletledger/internal/logging"
	"walletledger/internal/metrics"
	"walletledger/internal/middleware"
	"walletledger/internal/repositories"
	"walletledger/internal/repositories/cache"
	"walletledger/internal/routes"
	"walletledger/internal/services/audit"
	"walletledger/internal/services/callback"
	"walletledger/internal/services/deposit"
	"walletledger/internal/services/intent"
	"walletledger/internal/services/payment"
	"walletledger/internal/services/wallet"
	"walletledger/internal/services/withdrawal"
	"walletledger/internal/utils/retry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	db, err := repositories.NewDB(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := repositories.CloseDB(db); err != nil {
			logger.Warn("failed to close database connection", zap.Error(err))
		}
	}()
	if err := repositories.Migrate(db); err != nil {
		return err
	}
	logger.Info("connected to database", zap.String("host", cfg.DB.Host), zap.String("name", cfg.DB.Name))

	cacheService := cache.NewCacheService(cache.NewRedisClient(cfg.Redis), cfg.WalletCacheTTL, cfg.DedupTTL)
	defer func() {
		if err := cacheService.Close(); err != nil {
			logger.Warn("failed to close redis connection", zap.Error(err))
		}
	}()
	if err := cacheService.HealthCheck(context.Background()); err != nil {
		// Redis only backs the read cache and the dedup shortcut.
		logger.Warn("redis unavailable at startup", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewPrometheus(registry)

	go reportPoolStats(db, logger)

	app := newApp(cfg, db, cacheService, mc, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}
	return app.ShutdownWithTimeout(15 * time.Second)
}

func newApp(cfg config.Config, db *gorm.DB, cacheService *cache.CacheService, mc metrics.Collector, registry *prometheus.Registry, logger *zap.Logger) *fiber.App {
	store := repositories.NewLedgerStore(db)
	policy := retry.Policy{Attempts: cfg.RetryAttempts, Base: cfg.RetryBase, Max: cfg.RetryMax}
	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.ProcessorTimeout, payment.BreakerConfig{
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
	}, logger.Named("payment"), mc)

	walletService := wallet.NewService(store, cacheService, wallet.Config{StoreTimeout: cfg.StoreTimeout}, logger.Named("wallet"), mc)
	depositService := deposit.NewService(store, gateway, deposit.Config{
		DefaultCurrency: cfg.PayoutCurrency,
		StoreTimeout:    cfg.StoreTimeout,
		Retry:           policy,
	}, logger.Named("deposit"), mc)
	withdrawalService := withdrawal.NewService(store, gateway, cacheService, withdrawal.Config{
		DefaultCurrency: cfg.PayoutCurrency,
		StoreTimeout:    cfg.StoreTimeout,
		Retry:           policy,
		MaxAmount:       cfg.MaxWithdrawalAmount,
	}, logger.Named("withdrawal"), mc)
	processor := intent.NewProcessor(store, cacheService, policy, logger.Named("intent"), mc)
	intake := callback.NewService(processor, cacheService, logger.Named("callback"), mc)

	app := fiber.New(fiber.Config{
		AppName:      "walletledger",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD,OPTIONS",
		AllowCredentials: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.SetupRoutes(app, routes.Handlers{
		Health: handlers.NewHealthHandler(map[string]handlers.Checker{
			"database": func(ctx context.Context) error { return repositories.Ping(ctx, db) },
			"redis":    cacheService.HealthCheck,
		}, 2*time.Second),
		Wallet:  handlers.NewWalletHandler(walletService, audit.NewAuditor(store, logger.Named("audit")), logger.Named("http")),
		Payment: handlers.NewPaymentHandler(walletService, depositService, withdrawalService, logger.Named("http")),
		Webhook: handlers.NewWebhookHandler(cfg.StripeWebhookSecret, intake, logger.Named("webhook")),
		Auth:    middleware.NewAuthMiddleware(cfg.JWTSecret, logger.Named("auth")),
		Metrics: adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	}, routes.Limits{
		PayoutsPerWindow: cfg.PayoutRateLimit,
		Window:           cfg.PayoutRateWindow,
	})
	return app
}

func reportPoolStats(db *gorm.DB, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		stats := sqlDB.Stats()
		logger.Debug("db pool stats",
			zap.Int("open", stats.OpenConnections),
			zap.Int("idle", stats.Idle),
			zap.Int("in_use", stats.InUse),
			zap.Int64("wait_count", stats.WaitCount),
			zap.Duration("wait_duration", stats.WaitDuration),
		)
	}
}
