package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/config"
	"github.com/teemow/calagent/internal/contacts"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/server"
	"github.com/teemow/calagent/internal/session"
)

// app holds what every assistant host is built from.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	contacts *contacts.Directory
	sc       *server.ServerContext
}

type appOptions struct {
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// newApp opens the contact directory, the classifier and the server context.
// The caller must call close.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := cfg.RequireGemini(); err != nil {
		return nil, err
	}

	dir, err := contacts.Open(ctx, cfg.Contacts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contacts: %w", err)
	}

	classifier, err := intent.NewGeminiClassifier(ctx, cfg.Gemini.APIKey, intent.ClassifierConfig{
		Location: cfg.Location,
		Model:    cfg.Gemini.Model,
		Logger:   logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		_ = dir.Close()
		return nil, err
	}

	sc, err := server.NewServerContext(ctx, server.ContextOptions{
		OAuth:         oauthConfig(cfg),
		Classifier:    classifier,
		Contacts:      dir,
		TokenProvider: google.NewFileTokenProvider(),
		Sessions: session.NewStore(session.Options{
			TTL:         cfg.Session.TTL,
			MaxSessions: cfg.Session.MaxSessions,
			Logger:      logger,
			Metrics:     opts.Metrics,
		}),
		CalendarID: cfg.Calendar.ID,
		Location:   cfg.Location,
		Logger:     logger,
		Metrics:    opts.Metrics,
		Audit:      opts.Audit,
	})
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("failed to create server context: %w", err)
	}

	return &app{cfg: cfg, logger: logger, contacts: dir, sc: sc}, nil
}

func (a *app) close() {
	if err := a.sc.Shutdown(); err != nil {
		a.logger.Warn("Error during server context shutdown", logging.Err(err))
	}
	if err := a.contacts.Close(); err != nil {
		a.logger.Warn("Error closing contacts", logging.Err(err))
	}
}

// oauthConfig returns nil without client credentials; stored tokens are then
// used as they are and are not refreshed.
func oauthConfig(cfg config.Config) *oauth2.Config {
	if cfg.RequireGoogle() != nil {
		return nil
	}
	return google.OAuthConfig(google.ClientConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
	})
}
