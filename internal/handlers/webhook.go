package handlers

import (
	"context"
	"net/http"

	"walletledger/internal/services/callback"
	"walletledger/internal/services/events"
	"walletledger/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

const signatureHeader = "Stripe-Signature"

type Intake interface {
	Handle(ctx context.Context, ev events.Event) (*callback.Result, error)
}

// WebhookHandler receives processor callbacks. Only events with a valid
// signature reach the ledger.
type WebhookHandler struct {
	secret string
	intake Intake
	logger *zap.Logger
}

func NewWebhookHandler(secret string, intake Intake, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, intake: intake, logger: logger}
}

// Stripe answers 2xx for applied and duplicate events. Anything else makes
// the processor redeliver.
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	se, err := webhook.ConstructEvent(c.Body(), c.Get(signatureHeader), h.secret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.String("ip", c.IP()), zap.Error(err))
		return response.BadRequest(c, "invalid webhook signature")
	}

	log := h.logger.With(zap.String("event_id", se.ID), zap.String("event_type", se.Type))

	ev, err := events.FromStripe(se)
	if err != nil {
		log.Warn("undecodable webhook event", zap.Error(err))
		return response.FromError(c, err)
	}

	res, err := h.intake.Handle(c.UserContext(), ev)
	if err != nil {
		status := response.Status(err)
		if status >= http.StatusInternalServerError {
			log.Error("webhook event not applied", zap.Int("status", status), zap.Error(err))
		} else {
			log.Warn("webhook event not applied", zap.Int("status", status), zap.Error(err))
		}
		return response.FromError(c, err)
	}

	return c.JSON(fiber.Map{
		"received":  true,
		"event_id":  res.EventID,
		"duplicate": res.Duplicate,
	})
}
