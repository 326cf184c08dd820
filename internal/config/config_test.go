package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "gemini-flash-latest", cfg.Gemini.Model)
	assert.Equal(t, "UTC", cfg.TimeZone)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, "http://localhost:5175", cfg.HTTP.FrontendOrigin)
	assert.Equal(t, 60*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 10000, cfg.Session.MaxSessions)
	assert.Equal(t, "primary", cfg.Calendar.ID)
	assert.Equal(t, "http://localhost:3000/auth/google/callback", cfg.Google.RedirectURL)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NotEmpty(t, cfg.Contacts.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"unknown timezone", KeyTimeZone, "Mars/Olympus"},
		{"empty timezone", KeyTimeZone, ""},
		{"zero request timeout", KeyRequestTimeout, "0s"},
		{"negative ttl", KeySessionTTL, "-1h"},
		{"no sessions", KeyMaxSessions, 0},
		{"empty calendar", KeyCalendarID, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestNew_Environment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "legacy-key")
	t.Setenv("CALAGENT_GOOGLE_CLIENT_ID", "prefixed-id")
	t.Setenv("GOOGLE_CLIENT_ID", "legacy-id")
	t.Setenv("CALAGENT_HTTP_REQUEST_TIMEOUT", "5s")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("PORT", "8080")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "legacy-key", cfg.Gemini.APIKey)
	assert.Equal(t, "prefixed-id", cfg.Google.ClientID)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: America/New_York
http:
  addr: "127.0.0.1:4000"
  static_dir: ./web/dist
google:
  redirect_url: https://cal.example.com/auth/google/callback
metrics:
  enabled: true
`), 0o600))

	v := newTestViper()
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", cfg.TimeZone)
	assert.Equal(t, "127.0.0.1:4000", cfg.HTTP.Addr)
	assert.Equal(t, "./web/dist", cfg.HTTP.StaticDir)
	assert.Equal(t, "https://cal.example.com/auth/google/callback", cfg.Google.RedirectURL)
	assert.True(t, cfg.Metrics.Enabled)

	assert.Error(t, ReadFile(newTestViper(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestRequire(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.RequireGemini())
	assert.Error(t, cfg.RequireGoogle())

	cfg.Gemini.APIKey = "k"
	cfg.Google = GoogleConfig{ClientID: "id", ClientSecret: "secret"}
	assert.NoError(t, cfg.RequireGemini())
	assert.NoError(t, cfg.RequireGoogle())
}
