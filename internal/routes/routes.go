// Package routes mounts the HTTP surface on a fiber app.
package routes

import (
	"time"

	"walletledger/internal/handlers"
	"walletledger/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handlers struct {
	Health  *handlers.HealthHandler
	Wallet  *handlers.WalletHandler
	Payment *handlers.PaymentHandler
	Webhook *handlers.WebhookHandler
	Auth    *middleware.AuthMiddleware
	// Metrics is mounted at /metrics when set.
	Metrics fiber.Handler
}

type Limits struct {
	PayoutsPerWindow int
	Window           time.Duration
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, h Handlers, limits Limits) {
	app.Get("/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics)
	}

	// Processor callbacks authenticate by signature, not by token.
	app.Post("/webhooks/stripe", h.Webhook.Stripe)

	api := app.Group("/api", h.Auth.Handler)

	wallets := api.Group("/wallets")
	wallets.Get("/:id", h.Wallet.GetWallet)
	wallets.Get("/:id/transactions", h.Wallet.GetTransactions)
	wallets.Get("/:id/audit", h.Wallet.Audit)
	wallets.Post("/:id/deposits", h.Payment.CreateDeposit)
	wallets.Post("/:id/payouts", payoutLimiter(limits), h.Payment.CreatePayout)
}

func payoutLimiter(limits Limits) fiber.Handler {
	limit := limits.PayoutsPerWindow
	if limit <= 0 {
		limit = 10
	}
	window := limits.Window
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := middleware.UserID(c); id != "" {
				return id
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	})
}
