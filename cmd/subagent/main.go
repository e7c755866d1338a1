package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/subagent"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "subagent",
	Short:   "a sub-agent's scheduler/executor/staging pipeline over one node group",
	Long:    `subagent runs the scheduler, executor, and staging components over the node slice Agent-0 assigned it, joining Agent-0's registry cluster as a non-voting follower (spec.md §4.3).`,
	Version: Version,
	RunE:    runSubagent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("subagent version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "subagent.json", "path to this sub-agent's derived AgentConfig document")
	rootCmd.Flags().String("nats-url", "", "NATS URL for the cross-process bridge shared with agent_0 (empty uses the in-process Local bridge — only useful in a single-process test harness)")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "emit JSON logs")
}

func runSubagent(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	natsURL, _ := cmd.Flags().GetString("nats-url")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load sub-agent config: %w", err)
	}

	var bus bridge.PubSub
	if natsURL != "" {
		nc, dialErr := bridge.DialNATS(natsURL)
		if dialErr != nil {
			return fmt.Errorf("dial nats bridge: %w", dialErr)
		}
		defer nc.Close()
		bus = nc
	} else {
		bus = bridge.NewLocal()
	}

	sa, err := subagent.New(cfg, bus)
	if err != nil {
		return fmt.Errorf("construct sub-agent: %w", err)
	}

	// A deployed sub-agent would next call the leader's AddNonvoter
	// (sa.Registry()'s nodeID/bindAddr) over whatever admin RPC the site
	// wires up; this reference implementation has no such channel — see
	// DESIGN.md's note on cmd/subagent.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return sa.Run(ctx)
}
