package users

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Anvoria/sessionkeeper/internal/cache"
	"github.com/Anvoria/sessionkeeper/internal/cli"
	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/Anvoria/sessionkeeper/internal/database"
	"github.com/Anvoria/sessionkeeper/internal/domain/session"
	"github.com/Anvoria/sessionkeeper/internal/domain/user"
	"github.com/Anvoria/sessionkeeper/internal/migrations"
)

// Invalidator drops a cached identity
type Invalidator interface {
	Invalidate(ctx context.Context, username string) error
}

// Command implements the users management command
type Command struct {
	// Open returns the user service and a cleanup func; nil connects to the configured database
	Open func() (user.Service, func(), error)
	// Sessions returns what disabling a user must clear: the session store and the identity
	// cache, either of which may be nil. nil connects to the configured backends.
	Sessions func() (session.Store, Invalidator, func(), error)
	Out      io.Writer
}

func (c *Command) Name() string {
	return "users"
}

func (c *Command) Description() string {
	return "Provision login identities (create, list, enable, disable)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "create":
		return c.runCreate(args[1:])
	case "list":
		return c.runList()
	case "enable":
		return c.runSetActive(args[1:], true)
	case "disable":
		return c.runSetActive(args[1:], false)
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: authly-cli users <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  create -username <name> -password <pw> [-role USER|ADMIN]\n")
	fmt.Fprintf(os.Stderr, "  list\n")
	fmt.Fprintf(os.Stderr, "  enable -username <name>\n")
	fmt.Fprintf(os.Stderr, "  disable -username <name>   Revoke every session and drop the cached identity\n")
}

func (c *Command) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

func (c *Command) open() (user.Service, func(), error) {
	if c.Open != nil {
		return c.Open()
	}

	cfg, _, err := cli.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := database.ConnectDB(cfg); err != nil {
		return nil, nil, err
	}
	if err := migrations.RunMigrations(cfg); err != nil {
		_ = database.CloseDB()
		return nil, nil, err
	}

	return user.NewService(user.NewRepository(database.DB)), func() { _ = database.CloseDB() }, nil
}

func (c *Command) sessions() (session.Store, Invalidator, func(), error) {
	if c.Sessions != nil {
		return c.Sessions()
	}

	cfg, _, err := cli.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	switch cfg.Session.Store {
	case config.StoreRedis:
		if err := cache.ConnectRedis(&cfg.Redis); err != nil {
			return nil, nil, nil, err
		}
		store := session.NewRedisStore(cache.RedisClient, clock.System(), cfg.Session.Timeout())
		var inv Invalidator
		if cfg.Auth.IdentityCacheTTL > 0 {
			inv = cache.NewIdentityCache(cache.RedisClient, nil, cfg.Auth.IdentityCacheEvery())
		}
		return store, inv, func() { _ = cache.CloseRedis() }, nil
	case config.StorePostgres:
		// open already connected the database
		return session.NewPostgresStore(database.DB, cfg.Session.Timeout()), nil, func() {}, nil
	default:
		// in-process sessions fail their next refresh once the user is disabled
		return nil, nil, func() {}, nil
	}
}

// revokeAccess clears every session and the cached identity of a disabled user
func (c *Command) revokeAccess(ctx context.Context, username string) error {
	store, inv, closeFn, err := c.sessions()
	if err != nil {
		return fmt.Errorf("user disabled but sessions were not revoked: %w", err)
	}
	defer closeFn()

	if inv != nil {
		if err := inv.Invalidate(ctx, username); err != nil {
			return fmt.Errorf("user disabled but cached identity was not dropped: %w", err)
		}
	}
	if store != nil {
		n, err := store.DeleteAll(ctx, username)
		if err != nil {
			return fmt.Errorf("user disabled but sessions were not revoked: %w", err)
		}
		fmt.Fprintf(c.out(), "Revoked %d session(s) for %s\n", n, username)
	}
	return nil
}

func (c *Command) runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	username := fs.String("username", "", "Username (required)")
	password := fs.String("password", "", "Password (required)")
	role := fs.String("role", string(user.RoleUser), "Role: USER or ADMIN")

	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	u, err := svc.Create(context.Background(), user.CreateRequest{
		Username: *username,
		Password: *password,
		Role:     user.Role(strings.ToUpper(*role)),
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(c.out(), "User created\n")
	fmt.Fprintf(c.out(), "  Username: %s\n", u.Username)
	fmt.Fprintf(c.out(), "  Role:     %s\n", u.Role)
	return nil
}

func (c *Command) runList() error {
	svc, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	users, err := svc.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	w := tabwriter.NewWriter(c.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tACTIVE\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", u.Username, u.Role, u.IsActive, u.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func (c *Command) runSetActive(args []string, active bool) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	username := fs.String("username", "", "Username (required)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return user.ErrUsernameRequired
	}

	svc, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	if err := svc.SetActive(ctx, *username, active); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	fmt.Fprintf(c.out(), "User %s active=%t\n", *username, active)
	if active {
		return nil
	}
	return c.revokeAccess(ctx, *username)
}
