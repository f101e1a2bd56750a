package auth

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/utils"
)

var (
	ErrInvalidCredentials = utils.NewAPIError("INVALID_CREDENTIALS", "Invalid username or password", fiber.StatusUnauthorized)
	ErrInvalidToken       = utils.NewAPIError("INVALID_TOKEN", "Invalid or expired token", fiber.StatusUnauthorized)
	ErrMissingToken       = utils.NewAPIError("MISSING_TOKEN", "Authentication required", fiber.StatusUnauthorized)
	ErrMissingCredentials = utils.NewAPIError("MISSING_CREDENTIALS", "Username and password are required", fiber.StatusBadRequest)
	ErrInvalidDevice      = utils.NewAPIError("INVALID_DEVICE_ID", "Invalid device id", fiber.StatusBadRequest)
	ErrCurrentDevice      = utils.NewAPIError("DEVICE_MISMATCH", "Cannot revoke the current device, use logout", fiber.StatusBadRequest)
)

// apiError maps session errors onto HTTP errors. Token failures share one
// generic message so callers cannot tell which check failed.
func apiError(err error) *utils.APIError {
	switch {
	case errors.Is(err, session.ErrStoreUnavailable):
		slog.Error("Session backend unavailable", "error", err)
		return utils.ErrServiceUnavailable
	case errors.Is(err, session.ErrAuthenticationFailed):
		return ErrInvalidCredentials
	case errors.Is(err, session.ErrInvalidRefreshToken),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrTokenReuseDetected),
		errors.Is(err, session.ErrInvalidAccessToken),
		errors.Is(err, session.ErrTokenRevoked):
		return ErrInvalidToken
	case errors.Is(err, session.ErrDeviceMismatch):
		return ErrCurrentDevice
	case errors.Is(err, session.ErrInvalidDeviceID):
		return ErrInvalidDevice
	default:
		slog.Error("Unhandled session error", "error", err)
		return utils.ErrInternalServer
	}
}
