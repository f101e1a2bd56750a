package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/Anvoria/sessionkeeper/internal/domain/auth"
	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
	"github.com/Anvoria/sessionkeeper/internal/utils"
)

// Routes holds what the HTTP surface needs
type Routes struct {
	Sessions session.Service
	Cookie   config.CookieConfig
	Clock    clock.Clock
	Gatherer prometheus.Gatherer
	Codec    token.Codec
	// Health reports backend reachability; nil means always healthy
	Health func(ctx context.Context) bool
}

// SetupRoutes sets up the routes for the application
func SetupRoutes(app *fiber.App, r Routes) {
	if r.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{})))
	}

	// public keys are only published for asymmetric signing
	if ks, ok := r.Codec.(*token.KeyStore); ok {
		app.Get("/.well-known/jwks.json", func(c *fiber.Ctx) error {
			return c.JSON(ks.JWKS())
		})
	}

	api := app.Group("/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		if r.Health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if !r.Health(ctx) {
				return utils.ErrorResponse(c, utils.ErrServiceUnavailable)
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})

	handler := auth.NewHandler(r.Sessions, r.Cookie, r.Clock)
	handler.RegisterRoutes(api.Group("/auth"), auth.AuthMiddleware(r.Sessions))
}
