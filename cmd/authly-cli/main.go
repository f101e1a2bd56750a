package main

import (
	"fmt"
	"os"

	"github.com/Anvoria/sessionkeeper/internal/cli"
	"github.com/Anvoria/sessionkeeper/internal/cli/keys"
	"github.com/Anvoria/sessionkeeper/internal/cli/migrate"
	"github.com/Anvoria/sessionkeeper/internal/cli/sessions"
	"github.com/Anvoria/sessionkeeper/internal/cli/users"
)

func main() {
	registry := cli.NewRegistry()

	registry.Register(&keys.Command{})
	registry.Register(&users.Command{})
	registry.Register(&sessions.Command{})
	registry.Register(&migrate.Command{})

	if err := registry.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
