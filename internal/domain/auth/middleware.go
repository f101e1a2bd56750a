package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/utils"
)

const (
	// IdentityKey is the key used to store the identity in Fiber context
	IdentityKey = "identity"
)

// bearerToken returns the token of an "Authorization: Bearer <token>" header, or ""
func bearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthMiddleware verifies the bearer access token against signature, expiry and the blacklist
func AuthMiddleware(svc session.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := bearerToken(c)
		if raw == "" {
			return utils.ErrorResponse(c, ErrMissingToken)
		}

		claims, err := svc.ValidateAccessToken(c.UserContext(), raw)
		if err != nil {
			return utils.ErrorResponse(c, apiError(err))
		}

		c.Locals(IdentityKey, &Identity{
			Username: claims.Subject,
			Role:     claims.Role,
			DeviceID: claims.DeviceID,
			TokenID:  claims.ID,
		})

		return c.Next()
	}
}

// GetIdentity extracts the identity from Fiber context
func GetIdentity(c *fiber.Ctx) *Identity {
	identity, ok := c.Locals(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
