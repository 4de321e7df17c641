// Command dashboard polls a Manager's status port and renders a live
// terminal view of its nodes and tasks (spec §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/jobmesh/dispatchd/internal/dashboard"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dashboard [manager_ip [status_port]]",
	Short: "Poll a Manager's status port and render a live dashboard",
	Args:  cobra.MaximumNArgs(2),
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg := dashboard.Config{ManagerIP: "127.0.0.1", StatusPort: 6000}

	if len(args) >= 1 {
		cfg.ManagerIP = args[0]
	}
	if len(args) == 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid status_port %q: %w", args[1], err)
		}
		cfg.StatusPort = port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return dashboard.New(cfg).Run(ctx)
}
