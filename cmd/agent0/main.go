package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpilot/pilot/pkg/agent0"
	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/mailbox"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/registry"
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
	Use:     "agent0",
	Short:   "agent_0 — the RADICAL-Pilot pilot-job supervisor",
	Long:    `agent_0 polls its mailbox for claimed tasks, schedules and executes them across the pilot's nodes, and reports final state back to the client (spec.md §4.8).`,
	Version: Version,
	RunE:    runAgent0,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("agent0 version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "agent.json", "path to the agent_0 AgentConfig document")
	rootCmd.Flags().String("mailbox", "./pilot.db", "path to the bbolt mailbox database")
	rootCmd.Flags().String("nats-url", "", "NATS URL for the cross-process bridge (empty uses the in-process Local bridge)")
	rootCmd.Flags().String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "emit JSON logs")
	rootCmd.Flags().String("registry-data-dir", "./registry", "Raft data directory for this agent's registry replica")
}

func runAgent0(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	mailboxPath, _ := cmd.Flags().GetString("mailbox")
	natsURL, _ := cmd.Flags().GetString("nats-url")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	registryDataDir, _ := cmd.Flags().GetString("registry-data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}

	mbox, err := mailbox.OpenBolt(mailboxPath)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	defer mbox.Close()

	var bus interface {
		bridge.PubSub
		bridge.Queue
	}
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

	if cfg.RegistryNodeID == "" {
		cfg.RegistryNodeID = "agent_0"
	}
	if cfg.RegistryBindAddr == "" {
		cfg.RegistryBindAddr = "127.0.0.1:7000"
	}
	if cfg.RegistryDataDir == "" {
		cfg.RegistryDataDir = registryDataDir
	}
	reg, err := registry.New(registry.Config{
		NodeID:   cfg.RegistryNodeID,
		BindAddr: cfg.RegistryBindAddr,
		DataDir:  cfg.RegistryDataDir,
	})
	if err != nil {
		return fmt.Errorf("construct registry: %w", err)
	}
	if err := reg.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap registry: %w", err)
	}

	agent, err := agent0.New(cfg, mbox, bus, bus, reg)
	if err != nil {
		return fmt.Errorf("construct agent_0: %w", err)
	}

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
	go func() {
		if srvErr := metricsSrv.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Logger.Warn().Err(srvErr).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	exitCode := agent.Run(ctx)
	if exitCode != agent0.ExitOK {
		os.Exit(exitCode)
	}
	return nil
}
