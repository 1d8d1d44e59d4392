package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrolled users and their last sync times",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, st, _, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	users, err := st.ListSyncEnabledUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users with sync enabled.")
		return nil
	}

	for _, user := range users {
		fmt.Printf("%s (%d board(s))\n", user.ID, len(user.Boards))
		for _, b := range user.Boards {
			snap, err := st.GetSnapshot(ctx, user.ID, b.BoardID)
			if err != nil {
				fmt.Printf("  %s -> %s  (snapshot unreadable: %v)\n", b.BoardID, b.ListID, err)
				continue
			}
			last := "never"
			if !snap.LastSync.IsZero() {
				last = snap.LastSync.Format(time.RFC3339)
			}
			fmt.Printf("  %s -> %s  cards=%d events=%d last=%s\n",
				b.BoardID, b.ListID, len(snap.Cards), len(snap.Events), last)
		}
	}
	return nil
}
