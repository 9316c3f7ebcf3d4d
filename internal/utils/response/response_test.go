package response

import (
	"fmt"
	"testing"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, fiber.StatusOK},
		{apperrors.ErrAlreadyTerminal, fiber.StatusOK},
		{fmt.Errorf("settle: %w", apperrors.ErrDuplicateReference), fiber.StatusOK},
		{apperrors.ErrInvalidAmount, fiber.StatusBadRequest},
		{apperrors.ErrUnrecognizedEvent, fiber.StatusBadRequest},
		{wallet.ErrNotOwner, fiber.StatusForbidden},
		{apperrors.ErrWalletNotFound, fiber.StatusNotFound},
		{fmt.Errorf("event evt_1: %w", apperrors.ErrTransactionNotFound), fiber.StatusNotFound},
		{apperrors.ErrVersionConflict, fiber.StatusConflict},
		{apperrors.ErrInsufficientFunds, fiber.StatusUnprocessableEntity},
		{apperrors.ErrProcessorRejected, fiber.StatusUnprocessableEntity},
		{apperrors.ErrUpstreamUnavailable, fiber.StatusServiceUnavailable},
		{apperrors.ErrSchemaViolation, fiber.StatusInternalServerError},
		{fmt.Errorf("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err), "%v", tt.err)
	}
}
