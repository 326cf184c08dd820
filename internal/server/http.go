package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/session"
)

const (
	// SessionCookie carries the session id.
	SessionCookie = "calagent_session"

	// StateCookie carries the OAuth state between redirect and callback.
	StateCookie = "calagent_oauth_state"

	stateCookieMaxAge = 10 * 60

	// DefaultRequestTimeout bounds one /api/query turn.
	DefaultRequestTimeout = 60 * time.Second

	maxQueryLength = 4096
)

// ErrNotAuthenticated is returned when a request carries no live session.
var ErrNotAuthenticated = errors.New("not authenticated")

// UserInfoFunc resolves the signed-in user's email from their token.
type UserInfoFunc func(ctx context.Context, ts oauth2.TokenSource) (string, error)

// HTTPServerConfig configures the chat API.
type HTTPServerConfig struct {
	Addr string
	// FrontendOrigin is allowed by CORS and is where sign-in redirects to.
	FrontendOrigin string
	// StaticDir, when set, serves a single-page app with index.html fallback.
	StaticDir      string
	RequestTimeout time.Duration
	// SecureCookies marks cookies Secure; enable behind HTTPS.
	SecureCookies bool
	Debug         bool
	Version       string

	// UserInfo overrides the Google userinfo lookup, for tests.
	UserInfo UserInfoFunc
}

// HTTPServer is the browser-facing chat API.
type HTTPServer struct {
	sc         *ServerContext
	config     HTTPServerConfig
	engine     *gin.Engine
	httpServer *http.Server
	health     *HealthChecker
	audit      *instrumentation.AuditLogger
	logger     *slog.Logger
}

type queryRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPServer creates the chat API on top of sc.
func NewHTTPServer(sc *ServerContext, config HTTPServerConfig) (*HTTPServer, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context is required")
	}
	if sc.OAuthConfig() == nil {
		return nil, fmt.Errorf("google OAuth client is required for the HTTP server")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.UserInfo == nil {
		config.UserInfo = func(ctx context.Context, ts oauth2.TokenSource) (string, error) {
			return google.FetchUserEmail(ctx, ts)
		}
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &HTTPServer{
		sc:     sc,
		config: config,
		engine: gin.New(),
		health: NewHealthChecker(sc, config.Version),
		audit:  sc.AuditLogger(),
		logger: logging.WithService(sc.Logger(), "http"),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *HTTPServer) setupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestMetrics(s.sc.Metrics(), s.logger))

	if s.config.FrontendOrigin != "" {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:     []string{s.config.FrontendOrigin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s.health.RegisterHealthEndpoints(s.engine)

	auth := s.engine.Group("/auth/google")
	{
		auth.GET("", s.handleLogin)
		auth.GET("/callback", s.handleCallback)
	}

	api := s.engine.Group("/api")
	{
		api.GET("/user", s.handleUser)
		api.POST("/logout", s.handleLogout)
		api.POST("/query", s.handleQuery)
	}

	s.engine.NoRoute(s.handleNoRoute)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Health returns the server's health checker.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.config.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *HTTPServer) handleLogin(c *gin.Context) {
	state := uuid.NewString()
	s.setCookie(c, StateCookie, state, stateCookieMaxAge)
	c.Redirect(http.StatusFound, google.AuthCodeURL(s.sc.OAuthConfig(), state))
}

func (s *HTTPServer) handleCallback(c *gin.Context) {
	ctx := c.Request.Context()
	metrics := s.sc.Metrics()

	if errParam := c.Query("error"); errParam != "" {
		metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.logger.WarnContext(ctx, "Google sign-in denied", "reason", errParam)
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Authentication failed"})
		return
	}

	expected, err := c.Cookie(StateCookie)
	s.setCookie(c, StateCookie, "", -1)
	if err != nil || expected == "" || c.Query("state") != expected {
		metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid OAuth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Missing authorization code"})
		return
	}

	conf := s.sc.OAuthConfig()
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.logger.WarnContext(ctx, "OAuth code exchange failed", logging.Err(err))
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Authentication failed"})
		return
	}

	email, err := s.config.UserInfo(ctx, conf.TokenSource(ctx, token))
	if err != nil {
		metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.logger.WarnContext(ctx, "Failed to fetch user info", logging.Err(err))
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Authentication failed"})
		return
	}

	sess, err := s.sc.Sessions().Create(email, token)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create session", logging.Err(err))
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Too many active sessions"})
		return
	}

	metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	s.logger.InfoContext(ctx, "User signed in", logging.UserHash(email), logging.Session(sess.ID))

	s.setCookie(c, SessionCookie, sess.ID, int(s.sessionMaxAge().Seconds()))
	target := s.config.FrontendOrigin
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}

func (s *HTTPServer) handleUser(c *gin.Context) {
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{"email": sess.Email}})
}

func (s *HTTPServer) handleLogout(c *gin.Context) {
	if sess, err := s.sessionFromRequest(c); err == nil {
		s.sc.ForgetSession(sess.ID)
		s.logger.InfoContext(c.Request.Context(), "User signed out", logging.Session(sess.ID))
	}
	s.setCookie(c, SessionCookie, "", -1)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (s *HTTPServer) handleQuery(c *gin.Context) {
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Not authenticated"})
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Query is required"})
		return
	}
	if len(req.Query) > maxQueryLength {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Query is too long"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()

	ta := instrumentation.NewTurnAudit("http").
		WithUser(sess.Email, sess.ID).
		WithUtterance(req.Query)

	lease, err := s.sc.Sessions().Acquire(ctx, sess.ID)
	if err != nil {
		s.finishAudit(ctx, ta, err)
		s.internalError(c, err)
		return
	}
	defer lease.Release()

	controller, err := s.sc.ControllerForSession(lease.Session)
	if err != nil {
		s.finishAudit(ctx, ta, err)
		s.internalError(c, err)
		return
	}

	turn, err := controller.HandleTurn(ctx, req.Query, lease.State)
	ta.WithOutcome(string(turn.Intent.Kind), string(turn.Transition))
	s.finishAudit(ctx, ta, err)
	if err != nil {
		s.internalError(c, err)
		return
	}

	lease.Commit(turn.State)
	c.JSON(http.StatusOK, gin.H{"response": turn.Response, "data": turn.Intent})
}

func (s *HTTPServer) handleNoRoute(c *gin.Context) {
	path := c.Request.URL.Path
	if s.config.StaticDir == "" || c.Request.Method != http.MethodGet ||
		strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/") {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
		return
	}
	serveSPA(c, s.config.StaticDir)
}

func (s *HTTPServer) finishAudit(ctx context.Context, ta *instrumentation.TurnAudit, err error) {
	s.audit.LogTurn(ctx, ta.WithSpanContext(ctx).Complete(err))
}

func (s *HTTPServer) internalError(c *gin.Context, err error) {
	s.logger.ErrorContext(c.Request.Context(), "Error processing query", logging.Err(err))
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
}

// sessionFromRequest resolves the session cookie to a live session.
func (s *HTTPServer) sessionFromRequest(c *gin.Context) (session.Session, error) {
	id, err := c.Cookie(SessionCookie)
	if err != nil || id == "" {
		return session.Session{}, ErrNotAuthenticated
	}
	sess, err := s.sc.Sessions().Get(id)
	if err != nil {
		return session.Session{}, ErrNotAuthenticated
	}
	return sess, nil
}

func (s *HTTPServer) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", s.config.SecureCookies, true)
}

func (s *HTTPServer) sessionMaxAge() time.Duration {
	return s.sc.Sessions().TTL()
}
