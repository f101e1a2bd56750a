package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/utils"
)

type Handler struct {
	sessions session.Service
	cookie   config.CookieConfig
	clock    clock.Clock
}

func NewHandler(s session.Service, cookie config.CookieConfig, clk clock.Clock) *Handler {
	return &Handler{sessions: s, cookie: cookie, clock: clk}
}

// RegisterRoutes mounts the auth endpoints on router. Session management routes sit behind requireAuth.
func (h *Handler) RegisterRoutes(router fiber.Router, requireAuth fiber.Handler) {
	router.Post("/login", h.Login)
	router.Post("/refresh", h.Refresh)
	router.Post("/logout", h.Logout)

	sessions := router.Group("/sessions", requireAuth)
	sessions.Get("/", h.ListSessions)
	sessions.Delete("/others", h.RevokeOtherSessions)
	sessions.Delete("/:deviceId", h.RevokeSession)
	sessions.Delete("/", h.RevokeAllSessions)
}

func (h *Handler) tokenResponse(res *session.Result) TokenResponse {
	expiresIn := int64(res.AccessExpiresAt.Sub(h.clock.Now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		DeviceID:    res.DeviceID,
		User:        res.Identity,
	}
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}
	if req.Username == "" || req.Password == "" {
		return utils.ErrorResponse(c, ErrMissingCredentials)
	}

	res, err := h.sessions.Login(c.UserContext(), session.LoginRequest{
		Username:             req.Username,
		Password:             req.Password,
		DeviceID:             req.DeviceID,
		ExistingRefreshToken: c.Cookies(h.cookie.Name),
		UserAgent:            c.Get(fiber.HeaderUserAgent),
		IPAddress:            c.IP(),
	})
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	setRefreshCookie(c, h.cookie, res.RefreshToken, res.RefreshExpiresAt)

	return utils.SuccessResponse(c, h.tokenResponse(res), "Login successful")
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	refresh := c.Cookies(h.cookie.Name)
	if refresh == "" {
		return utils.ErrorResponse(c, ErrMissingToken)
	}

	res, err := h.sessions.Refresh(c.UserContext(), refresh)
	if err != nil {
		apiErr := apiError(err)
		if apiErr.Status == fiber.StatusUnauthorized {
			clearRefreshCookie(c, h.cookie)
		}
		return utils.ErrorResponse(c, apiErr)
	}

	if res.RefreshToken != "" {
		setRefreshCookie(c, h.cookie, res.RefreshToken, res.RefreshExpiresAt)
	}

	return utils.SuccessResponse(c, h.tokenResponse(res), "Token refreshed")
}

// Logout always succeeds and clears the refresh cookie
func (h *Handler) Logout(c *fiber.Ctx) error {
	h.sessions.Logout(c.UserContext(), bearerToken(c), c.Cookies(h.cookie.Name))
	clearRefreshCookie(c, h.cookie)
	return utils.SuccessResponse(c, nil, "Logged out")
}

// currentDevice resolves the caller's device from the refresh cookie
func (h *Handler) currentDevice(c *fiber.Ctx, ident *Identity) (string, error) {
	return h.sessions.CurrentDevice(ident.Username, c.Cookies(h.cookie.Name))
}

func (h *Handler) ListSessions(c *fiber.Ctx) error {
	ident := GetIdentity(c)
	if ident == nil {
		return utils.ErrorResponse(c, ErrMissingToken)
	}

	current, err := h.currentDevice(c, ident)
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	sessions, err := h.sessions.ListSessions(c.UserContext(), ident.Username, current)
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	return utils.SuccessResponse(c, fiber.Map{"sessions": sessions}, "Sessions retrieved")
}

func (h *Handler) RevokeOtherSessions(c *fiber.Ctx) error {
	ident := GetIdentity(c)
	if ident == nil {
		return utils.ErrorResponse(c, ErrMissingToken)
	}

	current, err := h.currentDevice(c, ident)
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	n, err := h.sessions.RevokeOtherSessions(c.UserContext(), ident.Username, current)
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	return utils.SuccessResponse(c, fiber.Map{"revoked": n}, "Other sessions revoked")
}

func (h *Handler) RevokeSession(c *fiber.Ctx) error {
	ident := GetIdentity(c)
	if ident == nil {
		return utils.ErrorResponse(c, ErrMissingToken)
	}

	current, err := h.currentDevice(c, ident)
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	target := c.Params("deviceId")
	if target == current {
		return utils.ErrorResponse(c, apiError(session.ErrDeviceMismatch))
	}

	if err := h.sessions.RevokeSession(c.UserContext(), ident.Username, target); err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	return utils.SuccessResponse(c, fiber.Map{"device_id": target}, "Session revoked")
}

// RevokeAllSessions signs the caller out everywhere, including this device
func (h *Handler) RevokeAllSessions(c *fiber.Ctx) error {
	ident := GetIdentity(c)
	if ident == nil {
		return utils.ErrorResponse(c, ErrMissingToken)
	}

	n, err := h.sessions.RevokeAllSessions(c.UserContext(), ident.Username)
	if err != nil {
		return utils.ErrorResponse(c, apiError(err))
	}

	// the bearer token stays valid until expiry otherwise
	h.sessions.Logout(c.UserContext(), bearerToken(c), "")
	clearRefreshCookie(c, h.cookie)

	return utils.SuccessResponse(c, fiber.Map{"revoked": n}, "All sessions revoked")
}
