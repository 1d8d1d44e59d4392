package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adiwijaya/boardsync/internal/engine"
	"github.com/adiwijaya/boardsync/internal/model"
)

var syncCmd = &cobra.Command{
	Use:   "sync USER BOARD LIST",
	Short: "Run one sync cycle for a single board",
	Long: `Run one reconciliation cycle for the given user, board and list,
then print the report.

Examples:
  boardsync sync u1 5f9a... 5f9b...
  boardsync sync u1 5f9a... 5f9b... --due-only --json
`,
	Args: cobra.ExactArgs(3),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("due-only", false, "Skip creating events for cards without a due date")
	syncCmd.Flags().Bool("json", false, "Print the report as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	_, st, svc, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	dueOnly, _ := cmd.Flags().GetBool("due-only")
	asJSON, _ := cmd.Flags().GetBool("json")

	report, err := svc.RunSync(context.Background(), engine.Job{
		UserID:  args[0],
		BoardID: args[1],
		ListID:  args[2],
		DueOnly: dueOnly,
	})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	if report.Failures() > 0 {
		return fmt.Errorf("%d of %d operations failed", report.Failures(), report.Ops())
	}
	return nil
}

func printReport(report *model.SyncReport) {
	fmt.Printf("Sync %s/%s: %d operations, %d failed\n",
		report.UserID, report.BoardID, report.Ops(), report.Failures())
	printOps("cards -> calendar", report.TrelloToCalendar)
	printOps("calendar -> cards", report.CalendarToTrello)
}

func printOps(label string, ops []model.OpResult) {
	if len(ops) == 0 {
		return
	}
	fmt.Printf("  %s:\n", label)
	for _, op := range ops {
		status := "ok"
		if !op.Success {
			status = "FAILED: " + op.Error
		}
		fmt.Printf("    %-8s %-24s %s\n", op.Action, op.Title, status)
	}
}
