package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teemow/calagent/internal/config"
	"github.com/teemow/calagent/internal/logging"
)

// rootCmd represents the base command for the calagent application
var rootCmd = &cobra.Command{
	Use:   "calagent",
	Short: "Manage your Google Calendar in plain language",
	Long: `calagent reads free-text requests such as "what's on tomorrow?",
"schedule sync with bob at 3pm" or "cancel the review" and carries them out
on your Google Calendar.

It can run as:
  - An HTTP chat API for the web frontend (serve)
  - An MCP (Model Context Protocol) server for AI assistants (serve --transport stdio)
  - An interactive terminal chat (chat)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.ReadFile(v, configFile)
	},
}

var (
	// version will be set by main
	version = "dev"

	v = config.New()

	configFile string
	debugMode  bool
	logFormat  string
)

// SetVersion sets the version for the root command
func SetVersion(ver string) {
	version = ver
	rootCmd.Version = ver
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calagent version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: $HOME/.config/calagent/calagent.yaml or ./calagent.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")
	rootCmd.PersistentFlags().String("timezone", "", "IANA time zone for reading and showing times (e.g. Europe/Berlin)")
	mustBind(v, config.KeyTimeZone, rootCmd.PersistentFlags().Lookup("timezone"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newContactsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}

// loadConfig resolves the configuration after flags have been parsed.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w, never stdout,
// so the stdio MCP transport stays clean.
func newLogger(w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(w, logging.Options{Format: logFormat, Debug: debugMode})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// mustBind binds a flag to a config key; it only fails on a nil flag.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag for %s: %v", key, err))
	}
}
