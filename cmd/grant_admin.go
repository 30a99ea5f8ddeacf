package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"parlor/db"
)

var revokeAdmin bool

var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin <username>",
	Short: "Mark a user as an administrator",
	Long: `Mark a user as an administrator. The flag is read at login, so a
connected user must log in again for it to show on their messages.`,
	Args: cobra.ExactArgs(1),
	RunE: grantAdmin,
}

func init() {
	grantAdminCmd.Flags().BoolVar(&revokeAdmin, "revoke", false, "remove the administrator flag instead")
	rootCmd.AddCommand(grantAdminCmd)
}

func grantAdmin(cmd *cobra.Command, args []string) error {
	store, err := db.Open(cmd.Context(), cfg.Database, cfg.Messages.HistoryLimit)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	username := args[0]
	if err := store.SetAdmin(cmd.Context(), username, !revokeAdmin); err != nil {
		return fmt.Errorf("update %s: %w", username, err)
	}

	if revokeAdmin {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is no longer an administrator\n", username)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now an administrator\n", username)
	}
	return nil
}
