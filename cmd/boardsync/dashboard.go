package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adiwijaya/boardsync/internal/config"
	"github.com/adiwijaya/boardsync/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the monitoring WebSocket server standalone",
	Long: `Serve the live monitoring endpoint without the scheduler. Useful for
checking connectivity; normally the dashboard runs inside the daemon
via 'boardsync daemon --with-dashboard'.`,
	RunE: runDashboard,
}

func init() {
	dashboardCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Dashboard.Port
	}

	srv := dashboard.NewServer(&dashboard.Config{Port: port})
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Stop()
}
