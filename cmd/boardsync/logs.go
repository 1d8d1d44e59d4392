package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs USER",
	Short: "Show a user's sync history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().Int("limit", 50, "Maximum number of entries to show")
	logsCmd.Flags().Bool("json", false, "Print entries as JSON")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	_, st, svc, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	entries, err := svc.GetSyncLogs(context.Background(), args[0], limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No sync activity recorded.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-20s %-8s %s\n",
			e.Timestamp.Format(time.RFC3339), e.Direction, e.Action, e.Details)
	}
	return nil
}
