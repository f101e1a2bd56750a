package sessions

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/cache"
	"github.com/Anvoria/sessionkeeper/internal/cli"
	"github.com/Anvoria/sessionkeeper/internal/clock"
	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/Anvoria/sessionkeeper/internal/database"
	"github.com/Anvoria/sessionkeeper/internal/domain/session"
)

// Command gives operators direct access to the configured session store
type Command struct {
	// Open returns the store and a cleanup func; nil connects to the configured backend
	Open  func() (session.Store, func(), error)
	Clock clock.Clock
	Out   io.Writer
}

func (c *Command) Name() string {
	return "sessions"
}

func (c *Command) Description() string {
	return "Inspect and revoke stored sessions (list, revoke, revoke-all, sweep)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "list":
		return c.runList(args[1:])
	case "revoke":
		return c.runRevoke(args[1:])
	case "revoke-all":
		return c.runRevokeAll(args[1:])
	case "sweep":
		return c.runSweep()
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: authly-cli sessions <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  list -username <name>                    List a user's sessions, expired included\n")
	fmt.Fprintf(os.Stderr, "  revoke -username <name> -device <id>     Revoke one device\n")
	fmt.Fprintf(os.Stderr, "  revoke-all -username <name>              Sign a user out everywhere\n")
	fmt.Fprintf(os.Stderr, "  sweep                                    Delete expired sessions now\n")
}

func (c *Command) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

func (c *Command) clock() clock.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clock.System()
}

func (c *Command) open() (session.Store, func(), error) {
	if c.Open != nil {
		return c.Open()
	}

	cfg, _, err := cli.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Session.Store {
	case config.StoreRedis:
		if err := cache.ConnectRedis(&cfg.Redis); err != nil {
			return nil, nil, err
		}
		store := session.NewRedisStore(cache.RedisClient, c.clock(), cfg.Session.Timeout())
		return store, func() { _ = cache.CloseRedis() }, nil
	case config.StorePostgres:
		if err := database.ConnectDB(cfg); err != nil {
			return nil, nil, err
		}
		store := session.NewPostgresStore(database.DB, cfg.Session.Timeout())
		return store, func() { _ = database.CloseDB() }, nil
	default:
		return nil, nil, fmt.Errorf("session store %q lives inside the server process", cfg.Session.Store)
	}
}

func usernameFlag(name string, args []string, extra func(*flag.FlagSet)) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	username := fs.String("username", "", "Username (required)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *username == "" {
		return "", fmt.Errorf("username is required")
	}
	return *username, nil
}

func (c *Command) runList(args []string) error {
	username, err := usernameFlag("list", args, nil)
	if err != nil {
		return err
	}

	store, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	sessions, err := store.FindByUsername(context.Background(), username)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUsedAt.After(sessions[j].LastUsedAt)
	})

	now := c.clock().Now()
	w := tabwriter.NewWriter(c.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tLAST USED\tEXPIRES\tSTATE\tIP\tUSER AGENT")
	for _, s := range sessions {
		state := "active"
		if s.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.DeviceID,
			s.LastUsedAt.UTC().Format(time.RFC3339),
			s.ExpiresAt.UTC().Format(time.RFC3339),
			state,
			s.IPAddress,
			s.UserAgent,
		)
	}
	return w.Flush()
}

func (c *Command) runRevoke(args []string) error {
	var device *string
	username, err := usernameFlag("revoke", args, func(fs *flag.FlagSet) {
		device = fs.String("device", "", "Device ID (required)")
	})
	if err != nil {
		return err
	}
	if *device == "" {
		return fmt.Errorf("device is required")
	}

	store, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	deleted, err := store.Delete(context.Background(), session.Key{Username: username, DeviceID: *device})
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	if deleted {
		fmt.Fprintf(c.out(), "Revoked session %s:%s\n", username, *device)
	} else {
		fmt.Fprintf(c.out(), "No session for %s:%s\n", username, *device)
	}
	return nil
}

func (c *Command) runRevokeAll(args []string) error {
	username, err := usernameFlag("revoke-all", args, nil)
	if err != nil {
		return err
	}

	store, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.DeleteAll(context.Background(), username)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	fmt.Fprintf(c.out(), "Revoked %d session(s) for %s\n", n, username)
	return nil
}

func (c *Command) runSweep() error {
	store, closeFn, err := c.open()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := session.NewSweeper(store, c.clock(), nil).SweepOnce(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out(), "Swept %d expired session(s)\n", n)
	return nil
}
