// Package middleware provides HTTP middleware for the fiber app.
package middleware

import (
	"errors"
	"strings"

	"walletledger/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const localUserID = "userID"

// Claims are issued by the identity service. Subject is the owner id wallets
// are keyed by.
type Claims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware validates HS256 bearer tokens and stores the caller's
// user id in the request locals.
type AuthMiddleware struct {
	secret []byte
	logger *zap.Logger
}

func NewAuthMiddleware(secret string, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{secret: []byte(secret), logger: logger}
}

func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
	}

	claims, err := m.parse(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		m.logger.Debug("token rejected", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	c.Locals("claims", claims)
	c.Locals(localUserID, claims.Subject)
	return c.Next()
}

func (m *AuthMiddleware) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// UserID returns the authenticated caller, or "" outside the middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// RequireUser rejects requests that did not pass through Handler.
func RequireUser(c *fiber.Ctx) error {
	if UserID(c) == "" {
		return response.Unauthorized(c)
	}
	return c.Next()
}
