// Command boardsync keeps Trello boards and Google Calendars in sync.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/adiwijaya/boardsync/internal/auth"
	"github.com/adiwijaya/boardsync/internal/config"
	"github.com/adiwijaya/boardsync/internal/service"
	"github.com/adiwijaya/boardsync/internal/store"
)

var (
	rootCmd = &cobra.Command{
		Use:   "boardsync",
		Short: "Bidirectional Trello / Google Calendar sync bridge",
		Long: `boardsync mirrors Trello cards into Google Calendar events and back.

Cards with a due date become one-hour events; cards without one become
all-day placeholders. Events created directly on the calendar flow back
as cards. Run 'boardsync daemon' to sync enrolled boards continuously,
or 'boardsync sync' for a one-shot cycle.`,
		SilenceUsage: true,
	}

	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "boardsync.yaml",
		"Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEnv loads configuration and opens the store and service. The caller
// owns the returned store and must Close it.
func openEnv() (*config.Config, *store.Store, *service.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	guard := auth.New(st, cfg.Google.ClientID, cfg.Google.ClientSecret, nil)
	svc := service.New(st, guard, service.Config{TrelloAPIKey: cfg.Trello.APIKey}, nil)
	return cfg, st, svc, nil
}
