package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authStorage int

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize a storage that uses OAuth2 credentials",
	Long: `Storages configured with client_id, client_secret and redirect_callback
need an authorization before they can be synchronized.

Example usage:
  bynder2 auth url --storage 2                # print the authorization URL
  bynder2 auth exchange --storage 2 <code>    # store the token of a code`,
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the authorization URL of a storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := oauthStorage(cfg, authStorage)
		if err != nil {
			return err
		}
		authURL, state, err := auth.AuthCodeURL()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Open this URL and grant access:")
		fmt.Fprintln(out, authURL)
		fmt.Fprintf(out, "\nThe callback receives state %s. Pass the code to \"bynder2 auth exchange\".\n", state)
		return nil
	},
}

var authExchangeCmd = &cobra.Command{
	Use:   "exchange <code>",
	Short: "Exchange an authorization code for a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := oauthStorage(cfg, authStorage)
		if err != nil {
			return err
		}
		if _, err := auth.Exchange(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("code exchange failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token of storage %d stored in %s\n", authStorage, auth.TokenPath())
		return nil
	},
}

func init() {
	authCmd.PersistentFlags().IntVarP(&authStorage, "storage", "s", 0, "storage uid")
	authCmd.MarkPersistentFlagRequired("storage")
	authCmd.AddCommand(authURLCmd, authExchangeCmd)
	rootCmd.AddCommand(authCmd)
}
