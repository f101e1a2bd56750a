package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Anvoria/sessionkeeper/internal/cache"
	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/Anvoria/sessionkeeper/internal/database"
	"github.com/Anvoria/sessionkeeper/internal/domain/blacklist"
	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/domain/token"
	"github.com/Anvoria/sessionkeeper/internal/domain/user"
	"github.com/Anvoria/sessionkeeper/internal/metrics"
	"github.com/Anvoria/sessionkeeper/internal/migrations"
	"github.com/Anvoria/sessionkeeper/internal/scheduler"
	"github.com/Anvoria/sessionkeeper/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Start connects every backend, runs migrations, starts the background sweepers and
// serves HTTP until SIGINT or SIGTERM.
func Start(cfg *config.Config, env *config.Environment) error {
	initLogger(cfg.Logging.Level)
	clk := clock.System()

	codec, err := NewCodec(cfg, env, clk)
	if err != nil {
		slog.Error("Failed to initialize token codec", "error", err)
		return err
	}

	if err := database.ConnectDB(cfg); err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	defer func() { _ = database.CloseDB() }()
	slog.Info("Database connected successfully")

	if err := migrations.RunMigrations(cfg); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return err
	}
	slog.Info("Migrations completed successfully")

	if cfg.Session.Store == config.StoreRedis {
		if err := cache.ConnectRedis(&cfg.Redis); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			return err
		}
		defer func() { _ = cache.CloseRedis() }()
	}

	store, list := NewBackends(cfg, clk)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var identities session.IdentityProvider = user.NewService(user.NewRepository(database.DB))
	if cfg.Session.Store == config.StoreRedis && cfg.Auth.IdentityCacheTTL > 0 {
		identities = cache.NewIdentityCache(cache.RedisClient, identities, cfg.Auth.IdentityCacheEvery())
	}

	svc := session.NewService(
		store,
		codec,
		list,
		identities,
		clk,
		m,
		session.Config{
			AccessTTL:              cfg.Auth.AccessTTL(),
			RefreshTTL:             cfg.Auth.RefreshTTL(),
			RotateRefreshOnRefresh: cfg.Auth.RotateRefreshOnRefresh,
			BlacklistFailOpen:      cfg.Auth.BlacklistFailOpen,
		},
	)

	sched := scheduler.New()
	sched.Every("session-sweeper", cfg.Session.SweepEvery(), session.NewSweeper(store, clk, m).Run)
	sched.Every("blacklist-janitor", cfg.Session.BlacklistSweepEvery(), blacklist.NewJanitor(list, m).Run)

	app := NewApp(cfg, Routes{
		Sessions: svc,
		Clock:    clk,
		Gatherer: registry,
		Codec:    codec,
		Health:   healthCheck(cfg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Address()
		slog.Info("Server starting",
			"address", addr,
			"app", cfg.App.Name,
			"version", cfg.App.Version,
			"store", cfg.Session.Store,
			"signing", cfg.Auth.Signing,
		)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Failed to start server", "error", err)
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	}
}

// NewCodec builds the token codec selected by auth.signing
func NewCodec(cfg *config.Config, env *config.Environment, clk clock.Clock) (token.Codec, error) {
	switch cfg.Auth.Signing {
	case config.SigningHS256:
		secret, err := env.HMACSecret()
		if err != nil {
			return nil, err
		}
		return token.NewHMACCodec(secret, clk)
	case config.SigningRS256:
		if cfg.Auth.KeysPath != "" {
			return token.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID, clk)
		}
		priv, err := config.LoadRSAPrivateKey(env.PrivateKey, env.Environment)
		if err != nil {
			return nil, err
		}
		kid := cfg.Auth.ActiveKID
		if kid == "" {
			kid = "default"
		}
		return token.NewKeyStore(priv, kid, clk)
	default:
		return nil, fmt.Errorf("unknown signing algorithm %q", cfg.Auth.Signing)
	}
}

// NewBackends builds the session store and blacklist for the configured store.
// Redis must already be connected when the store is redis.
func NewBackends(cfg *config.Config, clk clock.Clock) (session.Store, blacklist.Blacklist) {
	timeout := cfg.Session.Timeout()

	switch cfg.Session.Store {
	case config.StoreRedis:
		return session.NewRedisStore(cache.RedisClient, clk, timeout), blacklist.NewRedis(cache.RedisClient, clk, timeout)
	case config.StorePostgres:
		return session.NewPostgresStore(database.DB, timeout), blacklist.NewMemory(clk)
	default:
		return session.NewMemoryStore(), blacklist.NewMemory(clk)
	}
}

func healthCheck(cfg *config.Config) func(ctx context.Context) bool {
	if cfg.Session.Store != config.StoreRedis {
		return nil
	}
	return cache.Healthy
}

// NewApp configures the Fiber app with security middleware and routes
func NewApp(cfg *config.Config, routes Routes) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    64 * 1024,
		ErrorHandler: utils.ErrorHandler,
	})

	app.Use(helmet.New())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit.Max,
		Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.ErrorResponse(c, utils.ErrTooManyRequests)
		},
	}))

	// credentials are never allowed with a wildcard origin
	if len(cfg.Server.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
			AllowMethods:     "GET,POST,DELETE,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
			AllowCredentials: true,
			ExposeHeaders:    "Content-Length",
			MaxAge:           3600,
		}))
	}

	if routes.Cookie.Name == "" {
		routes.Cookie = cfg.Auth.Cookie
	}
	SetupRoutes(app, routes)

	return app
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(handler))
}
