package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adiwijaya/boardsync/internal/model"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage stored users and credentials",
}

var userAddCmd = &cobra.Command{
	Use:   "add USER",
	Short: "Create or update a user with their API credentials",
	Long: `Store a user's Trello token and Google OAuth tokens so sync jobs can
be run for them. Obtain the tokens through your own authorization
flow; this command only persists them.

Example:
  boardsync user add u1 --email u1@example.com \
    --trello-token tok --google-access at --google-refresh rt
`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userShowCmd = &cobra.Command{
	Use:   "show USER",
	Short: "Show a user's sync configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserShow,
}

func init() {
	userAddCmd.Flags().String("email", "", "Contact email")
	userAddCmd.Flags().String("trello-token", "", "Trello user token")
	userAddCmd.Flags().String("google-access", "", "Google access token")
	userAddCmd.Flags().String("google-refresh", "", "Google refresh token")
	userAddCmd.Flags().String("google-expiry", "", "Access token expiry (RFC 3339)")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userShowCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	_, st, _, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	userID := args[0]
	email, _ := cmd.Flags().GetString("email")
	trelloToken, _ := cmd.Flags().GetString("trello-token")
	access, _ := cmd.Flags().GetString("google-access")
	refresh, _ := cmd.Flags().GetString("google-refresh")
	expiryStr, _ := cmd.Flags().GetString("google-expiry")

	var expiry time.Time
	if expiryStr != "" {
		expiry, err = time.Parse(time.RFC3339, expiryStr)
		if err != nil {
			return fmt.Errorf("invalid --google-expiry: %w", err)
		}
	}

	ctx := context.Background()
	user, err := st.GetUserContext(ctx, userID)
	if err != nil {
		user = &model.User{ID: userID}
	}
	if email != "" {
		user.Email = email
	}
	if trelloToken != "" {
		user.TrelloToken = trelloToken
	}
	if access != "" {
		user.Google.AccessToken = access
	}
	if refresh != "" {
		user.Google.RefreshToken = refresh
	}
	if !expiry.IsZero() {
		user.Google.Expiry = expiry
	}

	if err := st.UpsertUserContext(ctx, user); err != nil {
		return err
	}
	fmt.Printf("Stored user %s.\n", userID)
	return nil
}

func runUserShow(cmd *cobra.Command, args []string) error {
	_, st, _, err := openEnv()
	if err != nil {
		return err
	}
	defer st.Close()

	user, err := st.GetUserContext(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("User:         %s\n", user.ID)
	if user.Email != "" {
		fmt.Printf("Email:        %s\n", user.Email)
	}
	fmt.Printf("Sync enabled: %v\n", user.SyncEnabled)
	fmt.Printf("Trello token: %s\n", maskToken(user.TrelloToken))
	fmt.Printf("Google token: %s (expires %s)\n",
		maskToken(user.Google.AccessToken), user.Google.Expiry.Format(time.RFC3339))
	for _, b := range user.Boards {
		fmt.Printf("Board:        %s -> %s\n", b.BoardID, b.ListID)
	}
	return nil
}

func maskToken(tok string) string {
	if tok == "" {
		return "(not set)"
	}
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}
