package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/calagent/internal/config"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/resources"
	"github.com/teemow/calagent/internal/server"
	"github.com/teemow/calagent/internal/tools/assistant_tools"
)

// Transports accepted by serve.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		transport     string
		secureCookies bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API or the MCP server",
		Long: `Start calagent as a long-running host.

Supports two transports:
  - http: Chat API for the web frontend (default). Users sign in with Google
    at /auth/google and send requests to POST /api/query.
  - stdio: MCP server exposing the assistant_query tool. It acts on the
    calendar of an account stored with 'calagent login'.

Configuration:
  GEMINI_API_KEY (or CALAGENT_GEMINI_API_KEY) is always required.
  The http transport also needs GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(transport, secureCookies)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", TransportHTTP, "Transport type: http or stdio")
	cmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "Mark session cookies Secure (enable when served over HTTPS)")
	cmd.Flags().String("http-addr", config.DefaultHTTPAddr, "HTTP listen address. Can also use CALAGENT_HTTP_ADDR or PORT env vars.")
	cmd.Flags().String("frontend-origin", config.DefaultFrontendOrigin, "Origin of the web frontend allowed by CORS")
	cmd.Flags().String("static-dir", "", "Serve a built frontend from this directory")
	cmd.Flags().Bool("metrics-enabled", false, "Enable the metrics server on a dedicated port. Can also use CALAGENT_METRICS_ENABLED env var.")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "Metrics server address")

	mustBind(v, config.KeyHTTPAddr, cmd.Flags().Lookup("http-addr"))
	mustBind(v, config.KeyFrontendOrigin, cmd.Flags().Lookup("frontend-origin"))
	mustBind(v, config.KeyStaticDir, cmd.Flags().Lookup("static-dir"))
	mustBind(v, config.KeyMetricsEnabled, cmd.Flags().Lookup("metrics-enabled"))
	mustBind(v, config.KeyMetricsAddr, cmd.Flags().Lookup("metrics-addr"))

	return cmd
}

func runServe(transport string, secureCookies bool) error {
	if transport != TransportHTTP && transport != TransportStdio {
		return fmt.Errorf("unsupported transport type: %s (supported: http, stdio)", transport)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == TransportHTTP {
		if err := cfg.RequireGoogle(); err != nil {
			return err
		}
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instrConfig.CalendarID = cfg.Calendar.ID
	instrConfig.TimeZone = cfg.TimeZone
	instrConfig.Transport = transport

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("Error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var opts appOptions
	if provider.Enabled() {
		opts.Metrics = provider.Metrics()
		opts.Audit = instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)
	}

	a, err := newApp(shutdownCtx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.close()

	switch transport {
	case TransportStdio:
		return runStdioServer(a)
	default:
		return runHTTPServer(shutdownCtx, a, provider, secureCookies)
	}
}

func runStdioServer(a *app) error {
	mcpSrv := newMCPServer()
	if err := assistant_tools.RegisterAssistantTools(mcpSrv, a.sc, a.contacts); err != nil {
		return fmt.Errorf("failed to register assistant tools: %w", err)
	}
	if err := resources.RegisterResources(mcpSrv, a.sc, a.contacts); err != nil {
		return fmt.Errorf("failed to register resources: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// newMCPServer creates the MCP server the assistant tools register with.
func newMCPServer() *mcpserver.MCPServer {
	return mcpserver.NewMCPServer("calagent", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
	)
}

// runHTTPServer runs the chat API and, when enabled, the metrics server
// until ctx is done or either of them fails.
func runHTTPServer(ctx context.Context, a *app, provider *instrumentation.Provider, secureCookies bool) error {
	httpServer, err := server.NewHTTPServer(a.sc, server.HTTPServerConfig{
		Addr:           a.cfg.HTTP.Addr,
		FrontendOrigin: a.cfg.HTTP.FrontendOrigin,
		StaticDir:      a.cfg.HTTP.StaticDir,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
		SecureCookies:  secureCookies,
		Debug:          debugMode,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    a.cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  a.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		g.Go(func() error {
			if err := serveUntilDone(gctx, metricsServer.Start, metricsServer.Shutdown); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	a.logger.Info("Starting calagent chat API",
		slog.String("addr", a.cfg.HTTP.Addr),
		slog.String("frontend_origin", a.cfg.HTTP.FrontendOrigin),
		slog.String("timezone", a.cfg.TimeZone))

	g.Go(func() error {
		if err := serveUntilDone(gctx, httpServer.Start, httpServer.Shutdown); err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("HTTP server gracefully stopped")
	return nil
}

// serveUntilDone runs start until ctx is done, then calls shutdown with a
// bounded timeout. A start error other than http.ErrServerClosed is returned.
func serveUntilDone(ctx context.Context, start func() error, shutdown func(context.Context) error) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		return nil
	case err := <-serverDone:
		return err
	}
}
