package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/raptor"
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
	Use:     "raptor-worker",
	Short:   "a raptor function-task worker",
	Long:    `raptor-worker is the process a RAPTOR_WORKER task's executor spawns: it drains its master's request queue and reports results back, without ever interpreting the function payload itself (spec.md §4.9).`,
	Version: Version,
	RunE:    runRaptorWorker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("raptor-worker version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("nats-url", "", "NATS URL for the bridge shared with the master's agent process (empty uses the in-process Local bridge — only useful when spawned in the same process as its master)")
	rootCmd.Flags().String("master-uid", "", "the RAPTOR_MASTER task's uid, naming the request/response queue pair")
	rootCmd.Flags().String("worker-uid", "", "this RAPTOR_WORKER task's own uid, used only for logging")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "emit JSON logs")
	_ = rootCmd.MarkFlagRequired("master-uid")
	_ = rootCmd.MarkFlagRequired("worker-uid")
}

func runRaptorWorker(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	natsURL, _ := cmd.Flags().GetString("nats-url")
	masterUID, _ := cmd.Flags().GetString("master-uid")
	workerUID, _ := cmd.Flags().GetString("worker-uid")

	var queue bridge.Queue
	if natsURL != "" {
		nc, err := bridge.DialNATS(natsURL)
		if err != nil {
			return fmt.Errorf("dial nats bridge: %w", err)
		}
		defer nc.Close()
		queue = nc
	} else {
		queue = bridge.NewLocal()
	}

	worker := raptor.NewWorker(queue, masterUID, workerUID, raptor.NoopExec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start raptor worker: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	cancel()
	return worker.Stop()
}
