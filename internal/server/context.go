package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/dialogue"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/session"
)

const (
	// DefaultGatewayCacheSize bounds the number of cached calendar clients.
	DefaultGatewayCacheSize = 1024

	// DefaultGatewayCacheTTL is how long a calendar client is reused.
	DefaultGatewayCacheTTL = time.Hour
)

// GatewayFactory builds the calendar gateway for one user's credentials.
type GatewayFactory func(ctx context.Context, ts oauth2.TokenSource) (dialogue.Gateway, error)

// ContextOptions configures a ServerContext.
type ContextOptions struct {
	// OAuth is the Google OAuth client; it refreshes stored tokens.
	OAuth *oauth2.Config

	Classifier intent.Classifier
	Contacts   dialogue.ContactLister
	Sessions   *session.Store

	// TokenProvider supplies tokens stored by the CLI login, for hosts
	// without a browser sign-in.
	TokenProvider google.TokenProvider

	// NewGateway overrides how calendar gateways are built, for tests.
	NewGateway GatewayFactory

	CalendarID string
	Location   *time.Location

	GatewayCacheSize int
	GatewayCacheTTL  time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// ServerContext holds the dependencies shared by every host
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	oauth         *oauth2.Config
	classifier    intent.Classifier
	contacts      dialogue.ContactLister
	sessions      *session.Store
	tokenProvider google.TokenProvider
	newGateway    GatewayFactory
	location      *time.Location
	logger        *slog.Logger
	metrics       *instrumentation.Metrics
	audit         *instrumentation.AuditLogger

	// gateways maps a session id or "account:<name>" to its calendar client.
	gateways *expirable.LRU[string, dialogue.Gateway]

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, opts ContextOptions) (*ServerContext, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GatewayCacheSize <= 0 {
		opts.GatewayCacheSize = DefaultGatewayCacheSize
	}
	if opts.GatewayCacheTTL <= 0 {
		opts.GatewayCacheTTL = DefaultGatewayCacheTTL
	}
	if opts.NewGateway == nil {
		calOpts := calendar.Options{
			CalendarID: opts.CalendarID,
			TimeZone:   opts.Location.String(),
			Metrics:    opts.Metrics,
			Logger:     opts.Logger,
		}
		opts.NewGateway = func(ctx context.Context, ts oauth2.TokenSource) (dialogue.Gateway, error) {
			return calendar.NewClient(ctx, ts, calOpts)
		}
	}

	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:           shutdownCtx,
		cancel:        cancel,
		oauth:         opts.OAuth,
		classifier:    opts.Classifier,
		contacts:      opts.Contacts,
		sessions:      opts.Sessions,
		tokenProvider: opts.TokenProvider,
		newGateway:    opts.NewGateway,
		location:      opts.Location,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		audit:         opts.Audit,
		gateways:      expirable.NewLRU[string, dialogue.Gateway](opts.GatewayCacheSize, nil, opts.GatewayCacheTTL),
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Sessions returns the session store.
func (sc *ServerContext) Sessions() *session.Store {
	return sc.sessions
}

// OAuthConfig returns the Google OAuth client, nil when not configured.
func (sc *ServerContext) OAuthConfig() *oauth2.Config {
	return sc.oauth
}

// Logger returns the shared logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Metrics returns the shared metrics recorder, possibly nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the turn audit logger, possibly nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// ControllerForSession returns a controller acting on the calendar of the
// session's user. The gateway is created on first use and cached.
func (sc *ServerContext) ControllerForSession(sess session.Session) (*dialogue.Controller, error) {
	if sess.Token == nil {
		return nil, fmt.Errorf("session %s has no Google token", logging.ShortID(sess.ID))
	}

	gw, err := sc.gateway(sess.ID, func() (oauth2.TokenSource, error) {
		return sc.tokenSource(sess.Token), nil
	})
	if err != nil {
		return nil, err
	}
	return sc.controller(gw), nil
}

// ControllerForAccount returns a controller acting on the calendar of an
// account logged in through the CLI.
func (sc *ServerContext) ControllerForAccount(account string) (*dialogue.Controller, error) {
	gw, err := sc.gateway("account:"+account, func() (oauth2.TokenSource, error) {
		if sc.tokenProvider == nil {
			return nil, fmt.Errorf("no token provider configured")
		}
		token, err := sc.tokenProvider.GetTokenForAccount(sc.ctx, account)
		if err != nil {
			return nil, err
		}
		return sc.tokenSource(token), nil
	})
	if err != nil {
		return nil, err
	}
	return sc.controller(gw), nil
}

// ForgetSession drops the session and its cached gateway.
func (sc *ServerContext) ForgetSession(id string) {
	sc.gateways.Remove(id)
	sc.sessions.Delete(id)
}

func (sc *ServerContext) gateway(key string, source func() (oauth2.TokenSource, error)) (dialogue.Gateway, error) {
	if sc.IsShutdown() {
		return nil, fmt.Errorf("server is shutting down")
	}
	if gw, ok := sc.gateways.Get(key); ok {
		return gw, nil
	}

	ts, err := source()
	if err != nil {
		return nil, err
	}
	gw, err := sc.newGateway(sc.ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar client: %w", err)
	}
	sc.gateways.Add(key, gw)
	return gw, nil
}

func (sc *ServerContext) tokenSource(token *oauth2.Token) oauth2.TokenSource {
	if sc.oauth == nil {
		return oauth2.StaticTokenSource(token)
	}
	return sc.oauth.TokenSource(sc.ctx, token)
}

func (sc *ServerContext) controller(gw dialogue.Gateway) *dialogue.Controller {
	return dialogue.NewController(sc.classifier, gw, sc.contacts, dialogue.Config{
		Location: sc.location,
		Logger:   sc.logger,
		Metrics:  sc.metrics,
	})
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.gateways.Purge()
	sc.sessions.Stop()
	sc.cancel()
	return nil
}
