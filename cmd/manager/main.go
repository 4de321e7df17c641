// Command manager runs the dispatcher's Manager: the State Store,
// Scheduler, Health Monitor, Transport Listener, and Status Publisher
// (spec §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/jobmesh/dispatchd/internal/config"
	"github.com/jobmesh/dispatchd/internal/manager"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "manager [port]",
	Short: "Run the job dispatcher Manager",
	Args:  cobra.MaximumNArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("config", "", "Path to an optional YAML configuration file")
	rootCmd.Flags().Int("status-port", 0, "Status port (overrides config/default)")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config/default)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.Port = port
	}
	if statusPort, _ := cmd.Flags().GetInt("status-port"); statusPort != 0 {
		cfg.StatusPort = statusPort
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if logJSON, _ := cmd.Flags().GetBool("log-json"); logJSON {
		cfg.LogJSON = true
	}

	mgr, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return mgr.Run(ctx)
}
