package handlers

import (
	"walletledger/internal/middleware"
	"walletledger/internal/services/deposit"
	"walletledger/internal/services/wallet"
	"walletledger/internal/services/withdrawal"
	"walletledger/internal/utils"
	"walletledger/internal/utils/response"
	"walletledger/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	walletService     wallet.Service
	depositService    deposit.Service
	withdrawalService withdrawal.Service
	logger            *zap.Logger
}

func NewPaymentHandler(walletSvc wallet.Service, depositSvc deposit.Service, withdrawalSvc withdrawal.Service, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		walletService:     walletSvc,
		depositService:    depositSvc,
		withdrawalService: withdrawalSvc,
		logger:            logger,
	}
}

type amountInput struct {
	Amount int64 `json:"amount"`
}

func parseAmount(c *fiber.Ctx) (int64, []validation.ValidationError) {
	v := validation.New()
	var input amountInput
	if err := c.BodyParser(&input); err != nil {
		v.AddError("body", "invalid request format")
		return 0, v.Errors
	}

	v.ID("wallet_id", c.Params("id"))
	v.Amount("amount", input.Amount, 0)
	if !v.Valid() {
		return 0, v.Errors
	}
	return input.Amount, nil
}

// CreateDeposit opens a payment intent for a deposit into the caller's wallet.
// Nothing is credited until the processor confirms it.
func (h *PaymentHandler) CreateDeposit(c *fiber.Ctx) error {
	amount, errs := parseAmount(c)
	if errs != nil {
		return response.ValidationError(c, errs)
	}

	ctx := c.UserContext()
	w, err := h.walletService.GetOwnedWallet(ctx, c.Params("id"), middleware.UserID(c))
	if err != nil {
		return response.FromError(c, err)
	}

	result, err := h.depositService.CreateIntent(ctx, deposit.Request{WalletID: w.ID, Amount: amount})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, "Deposit initiated", result)
}

// CreatePayout reserves funds and requests a payout. The payout settles when
// the processor calls back.
func (h *PaymentHandler) CreatePayout(c *fiber.Ctx) error {
	amount, errs := parseAmount(c)
	if errs != nil {
		return response.ValidationError(c, errs)
	}

	ctx := c.UserContext()
	w, err := h.walletService.GetOwnedWallet(ctx, c.Params("id"), middleware.UserID(c))
	if err != nil {
		return response.FromError(c, err)
	}

	result, err := h.withdrawalService.Withdraw(ctx, withdrawal.Request{WalletID: w.ID, Amount: amount})
	if err != nil {
		return response.FromError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Payout initiated",
		"data": fiber.Map{
			"transaction":     result.Transaction,
			"reference":       result.Reference,
			"balance":         result.Wallet.Balance,
			"display_balance": utils.FormatAmount(result.Wallet.Balance, result.Wallet.Currency),
		},
	})
}
