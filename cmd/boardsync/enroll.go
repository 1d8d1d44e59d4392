package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adiwijaya/boardsync/internal/model"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll USER",
	Short: "Set which boards a user syncs",
	Long: `Replace a user's board enrollments. Each --board takes a BOARD:LIST
pair naming the Trello board and the list where cards created from
calendar events land.

Examples:
  boardsync enroll u1 --board 5f9a...:5f9b...
  boardsync enroll u1 --board b1:l1 --board b2:l2 --validate
  boardsync enroll u1 --disable
`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().StringArray("board", nil, "BOARD:LIST pair, repeatable")
	enrollCmd.Flags().Bool("disable", false, "Disable sync for the user")
	enrollCmd.Flags().Bool("validate", false, "Check boards and lists against Trello before saving")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	_, st, svc, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	userID := args[0]
	pairs, _ := cmd.Flags().GetStringArray("board")
	disable, _ := cmd.Flags().GetBool("disable")
	validate, _ := cmd.Flags().GetBool("validate")

	if disable && len(pairs) > 0 {
		return fmt.Errorf("--disable and --board are mutually exclusive")
	}
	if !disable && len(pairs) == 0 {
		return fmt.Errorf("at least one --board is required (or use --disable)")
	}

	var boards []model.Enrollment
	for _, p := range pairs {
		boardID, listID, ok := strings.Cut(p, ":")
		if !ok || boardID == "" || listID == "" {
			return fmt.Errorf("invalid --board %q, want BOARD:LIST", p)
		}
		boards = append(boards, model.Enrollment{BoardID: boardID, ListID: listID})
	}

	ctx := context.Background()
	if disable {
		user, err := st.GetUserContext(ctx, userID)
		if err != nil {
			return err
		}
		if err := svc.SetSyncEnrollment(ctx, userID, user.Boards, false); err != nil {
			return err
		}
		fmt.Printf("Sync disabled for %s.\n", userID)
		return nil
	}

	if validate {
		if err := svc.ValidateEnrollment(ctx, userID, boards); err != nil {
			return err
		}
	}
	if err := svc.SetSyncEnrollment(ctx, userID, boards, true); err != nil {
		return err
	}
	fmt.Printf("Sync enabled for %s with %d board(s).\n", userID, len(boards))
	return nil
}
