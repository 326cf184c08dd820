package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/session"
)

func newAskCmd() *cobra.Command {
	var (
		account    string
		showIntent bool
	)

	cmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Run a single request against your calendar",
		Long: `Run one request and print the answer. Nothing is remembered between
invocations, so follow-ups like "schedule anyway" need 'calagent chat'.`,
		Example: `  calagent ask "what's on my calendar tomorrow?"
  calagent ask "schedule sync with bob tomorrow at 3pm"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			logger, err := newLogger(os.Stderr)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			controller, err := a.sc.ControllerForAccount(account)
			if err != nil {
				return fmt.Errorf("failed to open calendar for account %q: %w", account, err)
			}

			turn, turnErr := controller.HandleTurn(ctx, strings.Join(args, " "), session.State{})
			printTurn(cmd.OutOrStdout(), turn, turnErr)
			if showIntent {
				data, err := json.MarshalIndent(turn.Intent, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return turnErr
		},
	}

	cmd.Flags().StringVar(&account, "account", google.DefaultAccount, "Account whose calendar to use")
	cmd.Flags().BoolVar(&showIntent, "show-intent", false, "Also print the classified intent as JSON")
	return cmd
}
