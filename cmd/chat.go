package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/dialogue"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/logging"
)

var (
	assistantColor = color.New(color.FgGreen)
	failureColor   = color.New(color.FgRed)
	hintColor      = color.New(color.Faint)
)

func newChatCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the calendar assistant in the terminal",
		Long: `Start an interactive conversation. Follow-ups such as "schedule anyway"
or "the second one" refer to the previous answer. Type 'exit' to quit.

Requires a token stored with 'calagent login'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(account)
		},
	}

	cmd.Flags().StringVar(&account, "account", google.DefaultAccount, "Account whose calendar to use")
	return cmd
}

func runChat(account string) error {
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
	sess, err := a.sc.Sessions().Create(account, nil)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            color.CyanString("you> "),
		HistoryFile:       historyFile(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	_, _ = hintColor.Fprintf(out, "calagent %s (%s). Type 'exit' to quit.\n\n", version, cfg.TimeZone)

	for {
		input, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(input) == 0 {
				break
			}
			continue
		} else if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}

		lease, err := a.sc.Sessions().Acquire(ctx, sess.ID)
		if err != nil {
			return err
		}
		turn, err := controller.HandleTurn(ctx, input, lease.State)
		if err != nil {
			logger.Debug("Turn failed", logging.Err(err))
		} else {
			lease.Commit(turn.State)
		}
		lease.Release()

		printTurn(out, turn, err)
		_, _ = fmt.Fprintln(out)
	}

	return nil
}

// printTurn writes a turn's response the way chat does.
func printTurn(w io.Writer, turn dialogue.Turn, err error) {
	if err != nil {
		_, _ = failureColor.Fprintln(w, turn.Response)
		return
	}
	_, _ = assistantColor.Fprintln(w, turn.Response)
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "calagent")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}
