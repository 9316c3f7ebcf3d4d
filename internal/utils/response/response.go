package response

import (
	"errors"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

func ValidationError(c *fiber.Ctx, errs interface{}) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"errors": errs,
	})
}

// FromError writes err with the status its domain code maps to. Unknown
// errors become a 500 without leaking the message.
func FromError(c *fiber.Ctx, err error) error {
	status := Status(err)
	if status == fiber.StatusInternalServerError {
		return c.Status(status).JSON(fiber.Map{
			"error": "internal error",
			"code":  apperrors.Code(err),
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  apperrors.Code(err),
	})
}

// Status maps a domain error to an HTTP status.
func Status(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case apperrors.IsExpectedDuplicate(err):
		return fiber.StatusOK
	case errors.Is(err, apperrors.ErrInvalidAmount),
		errors.Is(err, apperrors.ErrUnrecognizedEvent),
		errors.Is(err, wallet.ErrInvalidCurrency):
		return fiber.StatusBadRequest
	case errors.Is(err, wallet.ErrNotOwner):
		return fiber.StatusForbidden
	case errors.Is(err, apperrors.ErrWalletNotFound),
		errors.Is(err, apperrors.ErrTransactionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrVersionConflict):
		return fiber.StatusConflict
	case errors.Is(err, apperrors.ErrInsufficientFunds),
		errors.Is(err, apperrors.ErrProcessorRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrUpstreamUnavailable),
		errors.Is(err, apperrors.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
