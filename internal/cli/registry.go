package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Anvoria/sessionkeeper/internal/config"
)

// Command is a top-level CLI command
type Command interface {
	Name() string
	Description() string
	Run(args []string) error
}

// Registry dispatches arguments to registered commands
type Registry struct {
	commands map[string]Command
	out      io.Writer
}

// NewRegistry creates an empty registry writing usage to stderr
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command), out: os.Stderr}
}

// Register adds a command, replacing any command with the same name
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Run executes the command named by args[0] with the remaining arguments
func (r *Registry) Run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		r.printUsage()
		if len(args) == 0 {
			return fmt.Errorf("command required")
		}
		return nil
	}

	cmd, ok := r.commands[args[0]]
	if !ok {
		r.printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return cmd.Run(args[1:])
}

func (r *Registry) printUsage() {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(r.out, "Usage: authly-cli <command> [subcommand] [args]\n\n")
	fmt.Fprintf(r.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(r.out, "  %-12s %s\n", name, r.commands[name].Description())
	}
}

// LoadConfig reads the environment and the YAML configuration it points at
func LoadConfig() (*config.Config, *config.Environment, error) {
	env := config.LoadEnv()
	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, env, nil
}
