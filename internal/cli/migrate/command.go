package migrate

import (
	"flag"
	"fmt"
	"os"

	"github.com/Anvoria/sessionkeeper/internal/cli"
	"github.com/Anvoria/sessionkeeper/internal/config"
	"github.com/Anvoria/sessionkeeper/internal/migrations"
)

// Command applies or reverts the embedded schema migrations
type Command struct {
	// Up and Down default to the migrations package
	Up   func(cfg *config.Config) error
	Down func(cfg *config.Config, steps int) error
	// Config defaults to cli.LoadConfig
	Config func() (*config.Config, error)
}

func (c *Command) Name() string {
	return "migrate"
}

func (c *Command) Description() string {
	return "Apply or roll back database migrations (up, down)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "up":
		return c.runUp()
	case "down":
		return c.runDown(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: authly-cli migrate <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  up                 Apply all pending migrations\n")
	fmt.Fprintf(os.Stderr, "  down [-steps <n>]  Revert the last n migrations (default: 1)\n")
}

func (c *Command) config() (*config.Config, error) {
	if c.Config != nil {
		return c.Config()
	}
	cfg, _, err := cli.LoadConfig()
	return cfg, err
}

func (c *Command) runUp() error {
	cfg, err := c.config()
	if err != nil {
		return err
	}

	up := c.Up
	if up == nil {
		up = migrations.RunMigrations
	}
	return up(cfg)
}

func (c *Command) runDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "Number of migrations to revert")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", *steps)
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}

	down := c.Down
	if down == nil {
		down = migrations.Rollback
	}
	return down(cfg, *steps)
}
