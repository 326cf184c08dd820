package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/google"
)

func newLoginCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize calagent to use your Google Calendar",
		Long: `Open the Google consent page and store the resulting token in the user
cache directory. The token is used by 'chat', 'ask' and the stdio MCP server.
Use --account to keep several Google accounts side by side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireGoogle(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			token, err := google.Login(ctx, google.ClientConfig{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
			}, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			if err := google.NewFileTokenProvider().SaveTokenForAccount(account, token); err != nil {
				return err
			}

			email, err := google.FetchUserEmail(ctx, oauth2.StaticTokenSource(token))
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Token saved for account %q.\n", account)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (account %q).\n", email, account)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", google.DefaultAccount, "Account name to store the token under")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove a stored Google token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := google.NewFileTokenProvider().DeleteTokenForAccount(account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed token for account %q.\n", account)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", google.DefaultAccount, "Account name whose token to remove")
	return cmd
}
