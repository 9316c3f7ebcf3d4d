package handlers

import (
	"context"
	"time"

	"walletledger/internal/middleware"
	"walletledger/internal/models"
	"walletledger/internal/services/audit"
	"walletledger/internal/services/wallet"
	"walletledger/internal/utils"
	"walletledger/internal/utils/pagination"
	"walletledger/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Auditor interface {
	Verify(ctx context.Context, walletID string) (*audit.Report, error)
}

type WalletHandler struct {
	walletService wallet.Service
	auditor       Auditor
	logger        *zap.Logger
}

func NewWalletHandler(walletService wallet.Service, auditor Auditor, logger *zap.Logger) *WalletHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletHandler{
		walletService: walletService,
		auditor:       auditor,
		logger:        logger,
	}
}

type walletView struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Balance        int64     `json:"balance"`
	DisplayBalance string    `json:"display_balance"`
	Currency       string    `json:"currency"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newWalletView(w *models.Wallet) walletView {
	return walletView{
		ID:             w.ID,
		OwnerID:        w.OwnerID,
		Balance:        w.Balance,
		DisplayBalance: utils.FormatAmount(w.Balance, w.Currency),
		Currency:       w.Currency,
		Version:        w.Version,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// GetWallet returns the caller's wallet.
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	w, err := h.walletService.GetOwnedWallet(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Wallet retrieved successfully", newWalletView(w))
}

// GetTransactions lists the wallet's transactions, newest first.
func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	ctx := c.UserContext()
	w, err := h.walletService.GetOwnedWallet(ctx, c.Params("id"), middleware.UserID(c))
	if err != nil {
		return response.FromError(c, err)
	}

	p := pagination.ParseFromRequest(c)
	page, err := h.walletService.ListTransactions(ctx, w.ID, p.Page, p.Limit)
	if err != nil {
		h.logger.Error("failed to list transactions", zap.String("wallet_id", w.ID), zap.Error(err))
		return response.FromError(c, err)
	}

	p.Page, p.Limit, p.Total = page.Page, page.Limit, page.Total
	return c.JSON(pagination.Response(p, page.Transactions))
}

// Audit recomputes the wallet balance from its rows. A drifted wallet is
// reported with a 500 and the report attached.
func (h *WalletHandler) Audit(c *fiber.Ctx) error {
	ctx := c.UserContext()
	w, err := h.walletService.GetOwnedWallet(ctx, c.Params("id"), middleware.UserID(c))
	if err != nil {
		return response.FromError(c, err)
	}

	report, err := h.auditor.Verify(ctx, w.ID)
	if err != nil {
		if report == nil {
			return response.FromError(c, err)
		}
		return c.Status(response.Status(err)).JSON(fiber.Map{
			"error": err.Error(),
			"data":  report,
		})
	}
	return response.Success(c, "Wallet is consistent", report)
}
