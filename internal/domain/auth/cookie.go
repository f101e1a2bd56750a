package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/sessionkeeper/internal/config"
)

func setRefreshCookie(c *fiber.Ctx, cfg config.CookieConfig, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

func clearRefreshCookie(c *fiber.Ctx, cfg config.CookieConfig) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}
