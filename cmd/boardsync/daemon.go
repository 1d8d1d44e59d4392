package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adiwijaya/boardsync/internal/config"
	"github.com/adiwijaya/boardsync/internal/dashboard"
	"github.com/adiwijaya/boardsync/internal/scheduler"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync scheduler in the foreground",
	Long: `Run the scheduler that keeps every enrolled board in sync.

On each tick the scheduler enumerates users with sync enabled, runs one
job per enrolled board on a bounded worker pool, and retries transient
failures with backoff. SIGINT or SIGTERM shuts down cleanly, letting
in-flight jobs drain.

Examples:
  boardsync daemon
  boardsync daemon --with-dashboard
`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Bool("with-dashboard", false, "Serve the live monitoring WebSocket endpoint")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, st, svc, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)

	var pub scheduler.Publisher
	withDash, _ := cmd.Flags().GetBool("with-dashboard")
	if withDash {
		dash := dashboard.NewServer(&dashboard.Config{Port: cfg.Dashboard.Port})
		if err := dash.Start(); err != nil {
			return err
		}
		defer func() { _ = dash.Stop() }()
		pub = dash
	}

	sched, err := scheduler.New(svc, pub, &scheduler.Config{
		TickInterval:   cfg.Scheduler.TickInterval,
		Concurrency:    cfg.Scheduler.Concurrency,
		JobTimeout:     cfg.Scheduler.JobTimeout,
		MaxRetries:     cfg.Scheduler.MaxRetries,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Pick up tick interval changes without a restart.
	stopWatch, err := config.Watch(configPath, logger, func(next *config.Config) {
		sched.Retune(next.Scheduler.TickInterval)
	})
	if err != nil {
		logger.Printf("warning: config watching disabled: %v", err)
	} else {
		defer stopWatch()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Println("daemon stopped")
	return nil
}
