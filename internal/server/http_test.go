package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/dialogue"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/session"
)

const testOrigin = "http://localhost:5175"

type stubClassifier map[string]intent.Record

func (s stubClassifier) Classify(_ context.Context, utterance string, _ time.Time, _ map[string]string) intent.Record {
	if rec, ok := s[utterance]; ok {
		return rec
	}
	return intent.Record{Kind: intent.Unknown}
}

type stubGateway struct {
	mu        sync.Mutex
	events    []calendar.Event
	conflicts []calendar.Event
	err       error
	created   []calendar.EventInput
}

func (g *stubGateway) ListEvents(context.Context, time.Time, time.Time, int64) ([]calendar.Event, error) {
	return g.events, g.err
}

func (g *stubGateway) CheckAvailability(context.Context, time.Time, time.Time) (calendar.Availability, error) {
	return calendar.Availability{Available: len(g.conflicts) == 0, Conflicts: g.conflicts}, g.err
}

func (g *stubGateway) CreateEvent(_ context.Context, in calendar.EventInput) (*calendar.Event, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, in)
	return &calendar.Event{ID: "new", HTMLLink: "https://calendar.google.com/event?eid=new"}, nil
}

func (g *stubGateway) DeleteEvent(context.Context, string) error {
	return g.err
}

type testEnv struct {
	sc      *ServerContext
	server  *HTTPServer
	gateway *stubGateway
	tokens  *httptest.Server
}

func newTestEnv(t *testing.T, records stubClassifier, staticDir string) *testEnv {
	t.Helper()

	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","refresh_token":"rt","expires_in":3600}`))
	}))
	t.Cleanup(tokens.Close)

	gw := &stubGateway{}
	store := session.NewStore(session.Options{Logger: logging.Discard()})

	sc, err := NewServerContext(context.Background(), ContextOptions{
		OAuth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:3000/auth/google/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.example.com/auth",
				TokenURL: tokens.URL + "/token",
			},
		},
		Classifier: records,
		Sessions:   store,
		NewGateway: func(context.Context, oauth2.TokenSource) (dialogue.Gateway, error) { return gw, nil },
		Logger:     logging.Discard(),
		Audit:      instrumentation.NewAuditLogger(logging.Discard(), instrumentation.AuditLoggingConfig{Enabled: true}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	srv, err := NewHTTPServer(sc, HTTPServerConfig{
		FrontendOrigin: testOrigin,
		StaticDir:      staticDir,
		RequestTimeout: 5 * time.Second,
		UserInfo: func(context.Context, oauth2.TokenSource) (string, error) {
			return "user@example.com", nil
		},
	})
	require.NoError(t, err)

	return &testEnv{sc: sc, server: srv, gateway: gw, tokens: tokens}
}

func (e *testEnv) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	sess, err := e.sc.Sessions().Create("user@example.com", &oauth2.Token{AccessToken: "at"})
	require.NoError(t, err)
	return &http.Cookie{Name: SessionCookie, Value: sess.ID}
}

func (e *testEnv) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestQuery_RequiresSession(t *testing.T) {
	env := newTestEnv(t, stubClassifier{}, "")

	rec := env.do(http.MethodPost, "/api/query", `{"query":"what's on"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", decode(t, rec)["error"])

	rec = env.do(http.MethodPost, "/api/query", `{"query":"what's on"}`, &http.Cookie{Name: SessionCookie, Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuery_RunsTurn(t *testing.T) {
	env := newTestEnv(t, stubClassifier{"what's on": {Kind: intent.List}}, "")
	env.gateway.events = []calendar.Event{
		{Summary: "Standup", Start: time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)},
	}
	cookie := env.signIn(t)

	rec := env.do(http.MethodPost, "/api/query", `{"query":"what's on"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Here are your upcoming events:\nTue, Jan 7, 9:00 AM - Standup", body["response"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "LIST_EVENTS", data["intent"])
}

func TestQuery_CarriesStateAcrossTurns(t *testing.T) {
	start := time.Date(2025, 1, 7, 15, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	env := newTestEnv(t, stubClassifier{
		"schedule sync": {Kind: intent.Create, Summary: "sync", StartTime: &start, EndTime: &end},
		"schedule anyway": {Kind: intent.Unknown, ForceOverride: true},
	}, "")
	env.gateway.conflicts = []calendar.Event{{Summary: "Dentist"}}
	cookie := env.signIn(t)

	rec := env.do(http.MethodPost, "/api/query", `{"query":"schedule sync"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["response"], "found a conflict with: Dentist")
	assert.Empty(t, env.gateway.created)

	rec = env.do(http.MethodPost, "/api/query", `{"query":"schedule anyway"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["response"], "I've forced that schedule for you.")
	require.Len(t, env.gateway.created, 1)
	assert.Equal(t, "sync", env.gateway.created[0].Summary)

	state, err := env.sc.Sessions().State(cookie.Value)
	require.NoError(t, err)
	assert.Nil(t, state.PendingConflict)
}

func TestQuery_GatewayFailure(t *testing.T) {
	start := time.Date(2025, 1, 7, 15, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	env := newTestEnv(t, stubClassifier{
		"schedule sync": {Kind: intent.Create, Summary: "sync", StartTime: &start, EndTime: &end},
	}, "")
	env.gateway.err = errors.New("token expired")
	cookie := env.signIn(t)

	rec := env.do(http.MethodPost, "/api/query", `{"query":"schedule sync"}`, cookie)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decode(t, rec)["error"])

	state, err := env.sc.Sessions().State(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, session.State{}, state)
}

func TestQuery_BadRequests(t *testing.T) {
	env := newTestEnv(t, stubClassifier{}, "")
	cookie := env.signIn(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `query=hello`},
		{"empty query", `{"query":"   "}`},
		{"too long", `{"query":"` + strings.Repeat("a", maxQueryLength+1) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/query", tt.body, cookie)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUserAndLogout(t *testing.T) {
	env := newTestEnv(t, stubClassifier{}, "")
	cookie := env.signIn(t)

	rec := env.do(http.MethodGet, "/api/user", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"user": map[string]any{"email": "user@example.com"}}, decode(t, rec))

	rec = env.do(http.MethodPost, "/api/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := findCookie(rec, SessionCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	rec = env.do(http.MethodGet, "/api/user", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGoogleSignIn(t *testing.T) {
	env := newTestEnv(t, stubClassifier{}, "")

	rec := env.do(http.MethodGet, "/auth/google", "")
	require.Equal(t, http.StatusFound, rec.Code)

	stateCookie := findCookie(rec, StateCookie)
	require.NotNil(t, stateCookie)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", loc.Host)
	assert.Equal(t, stateCookie.Value, loc.Query().Get("state"))
	assert.Equal(t, "offline", loc.Query().Get("access_type"))
	assert.Equal(t, "consent", loc.Query().Get("prompt"))

	t.Run("state mismatch", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/auth/google/callback?code=good-code&state=other", "", stateCookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad code", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/auth/google/callback?code=bad&state="+stateCookie.Value, "", stateCookie)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("success", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/auth/google/callback?code=good-code&state="+stateCookie.Value, "", stateCookie)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, testOrigin, rec.Header().Get("Location"))

		sessCookie := findCookie(rec, SessionCookie)
		require.NotNil(t, sessCookie)
		assert.True(t, sessCookie.HttpOnly)

		sess, err := env.sc.Sessions().Get(sessCookie.Value)
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", sess.Email)
		assert.Equal(t, "rt", sess.Token.RefreshToken)
	})
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, stubClassifier{}, "")

	for _, path := range []string{"/healthz", "/readyz", "/healthz/detailed"} {
		rec := env.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	env.server.Health().SetReady(false)
	rec := env.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, stubClassifier{}, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))

	env := newTestEnv(t, stubClassifier{}, dir)

	rec := env.do(http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = env.do(http.MethodGet, "/calendar/today", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")

	rec = env.do(http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
