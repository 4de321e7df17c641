// Command node runs a Worker Node agent: it registers with a Manager,
// accepts one-shot task assignments, and reports completion (spec §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/jobmesh/dispatchd/internal/log"
	"github.com/jobmesh/dispatchd/internal/nodeagent"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "node <node_id> <manager_ip> <manager_port> <listen_port>",
	Short: "Run a worker node agent",
	Args:  cobra.ExactArgs(4),
	RunE:  run,
}

func init() {
	rootCmd.Flags().Int("memory-mb", 512, "Memory advertised to the Manager on registration")
	rootCmd.Flags().Duration("work-duration", time.Second, "Synthetic delay before reporting task completion")
	rootCmd.Flags().Duration("dial-timeout", 2*time.Second, "Timeout for the registration connection")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
}

func run(cmd *cobra.Command, args []string) error {
	managerPort, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid manager_port %q: %w", args[2], err)
	}
	listenPort, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid listen_port %q: %w", args[3], err)
	}

	memoryMB, _ := cmd.Flags().GetInt("memory-mb")
	workDuration, _ := cmd.Flags().GetDuration("work-duration")
	dialTimeout, _ := cmd.Flags().GetDuration("dial-timeout")
	logLevel, _ := cmd.Flags().GetString("log-level")
	log.Init(log.Config{Level: log.Level(logLevel)})

	agent := nodeagent.New(nodeagent.Config{
		NodeID:       args[0],
		ManagerIP:    args[1],
		ManagerPort:  managerPort,
		ListenPort:   listenPort,
		MemoryMB:     memoryMB,
		WorkDuration: workDuration,
		DialTimeout:  dialTimeout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return agent.Run(ctx)
}
