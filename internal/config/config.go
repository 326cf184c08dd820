// Package config loads calagent settings from flags, the environment and an
// optional calagent.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/session"
)

// Configuration keys.
const (
	KeyGeminiAPIKey       = "gemini.api_key"
	KeyGeminiModel        = "gemini.model"
	KeyGoogleClientID     = "google.client_id"
	KeyGoogleClientSecret = "google.client_secret"
	KeyGoogleRedirectURL  = "google.redirect_url"
	KeyTimeZone           = "timezone"
	KeyHTTPAddr           = "http.addr"
	KeyFrontendOrigin     = "http.frontend_origin"
	KeyStaticDir          = "http.static_dir"
	KeyRequestTimeout     = "http.request_timeout"
	KeySessionTTL         = "session.ttl"
	KeyMaxSessions        = "session.max_sessions"
	KeyContactsDB         = "contacts.db"
	KeyCalendarID         = "calendar.id"
	KeyMetricsEnabled     = "metrics.enabled"
	KeyMetricsAddr        = "metrics.addr"
)

const (
	// EnvPrefix prefixes every environment override, e.g. CALAGENT_HTTP_ADDR.
	EnvPrefix = "CALAGENT"

	// FileName is the config file name without extension.
	FileName = "calagent"

	DefaultHTTPAddr       = ":3000"
	DefaultFrontendOrigin = "http://localhost:5175"
	DefaultRequestTimeout = 60 * time.Second
	DefaultMetricsAddr    = ":9090"
)

// legacyEnv are the unprefixed variable names accepted for compatibility
// with existing .env files.
var legacyEnv = map[string]string{
	KeyGeminiAPIKey:       "GEMINI_API_KEY",
	KeyGoogleClientID:     "GOOGLE_CLIENT_ID",
	KeyGoogleClientSecret: "GOOGLE_CLIENT_SECRET",
	KeyTimeZone:           "TIMEZONE",
}

// Config is the resolved configuration.
type Config struct {
	Gemini   GeminiConfig
	Google   GoogleConfig
	TimeZone string
	Location *time.Location
	HTTP     HTTPConfig
	Session  SessionConfig
	Contacts ContactsConfig
	Calendar CalendarConfig
	Metrics  MetricsConfig
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type HTTPConfig struct {
	Addr           string
	FrontendOrigin string
	StaticDir      string
	RequestTimeout time.Duration
}

type SessionConfig struct {
	TTL         time.Duration
	MaxSessions int
}

type ContactsConfig struct {
	Path string
}

type CalendarConfig struct {
	ID string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// New returns a viper instance with defaults, config search paths and
// environment bindings applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "calagent"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// Prefixed names win over the legacy ones.
		_ = v.BindEnv(key, envName(key), env)
	}
	// PORT sets only the port of the listen address.
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_HTTP_ADDR") == "" {
		v.SetDefault(KeyHTTPAddr, ":"+port)
	}

	return v
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyGeminiModel, intent.DefaultModel)
	v.SetDefault(KeyTimeZone, "UTC")
	v.SetDefault(KeyHTTPAddr, DefaultHTTPAddr)
	v.SetDefault(KeyFrontendOrigin, DefaultFrontendOrigin)
	v.SetDefault(KeyRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeySessionTTL, session.DefaultTTL)
	v.SetDefault(KeyMaxSessions, session.DefaultMaxSessions)
	v.SetDefault(KeyContactsDB, defaultContactsPath())
	v.SetDefault(KeyCalendarID, calendar.DefaultCalendarID)
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyMetricsAddr, DefaultMetricsAddr)
}

// ReadFile reads path, or the first calagent.yaml on the search path when
// path is empty. A missing file on the search path is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load resolves the configuration from v. It does not check that the
// settings needed by a particular command are present; see the Require
// methods.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Gemini: GeminiConfig{
			APIKey: v.GetString(KeyGeminiAPIKey),
			Model:  v.GetString(KeyGeminiModel),
		},
		Google: GoogleConfig{
			ClientID:     v.GetString(KeyGoogleClientID),
			ClientSecret: v.GetString(KeyGoogleClientSecret),
			RedirectURL:  v.GetString(KeyGoogleRedirectURL),
		},
		TimeZone: v.GetString(KeyTimeZone),
		HTTP: HTTPConfig{
			Addr:           v.GetString(KeyHTTPAddr),
			FrontendOrigin: v.GetString(KeyFrontendOrigin),
			StaticDir:      v.GetString(KeyStaticDir),
			RequestTimeout: v.GetDuration(KeyRequestTimeout),
		},
		Session: SessionConfig{
			TTL:         v.GetDuration(KeySessionTTL),
			MaxSessions: v.GetInt(KeyMaxSessions),
		},
		Contacts: ContactsConfig{Path: v.GetString(KeyContactsDB)},
		Calendar: CalendarConfig{ID: v.GetString(KeyCalendarID)},
		Metrics: MetricsConfig{
			Enabled: v.GetBool(KeyMetricsEnabled),
			Addr:    v.GetString(KeyMetricsAddr),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid timezone %q: %w", cfg.TimeZone, err)
	}
	cfg.Location = loc

	if cfg.Google.RedirectURL == "" {
		cfg.Google.RedirectURL = defaultRedirectURL(cfg.HTTP.Addr)
	}

	return cfg, nil
}

// Validate checks values that are wrong regardless of the command run.
func (c *Config) Validate() error {
	if c.TimeZone == "" {
		return fmt.Errorf("timezone cannot be empty")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be positive, got %s", c.HTTP.RequestTimeout)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive, got %d", c.Session.MaxSessions)
	}
	if c.Contacts.Path == "" {
		return fmt.Errorf("contacts.db cannot be empty")
	}
	if c.Calendar.ID == "" {
		return fmt.Errorf("calendar.id cannot be empty")
	}
	return nil
}

// RequireGemini reports a missing classifier key.
func (c *Config) RequireGemini() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini API key is not set (set %s or GEMINI_API_KEY)", envName(KeyGeminiAPIKey))
	}
	return nil
}

// RequireGoogle reports missing OAuth client credentials.
func (c *Config) RequireGoogle() error {
	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("google OAuth client is not configured (set %s and %s)",
			envName(KeyGoogleClientID), envName(KeyGoogleClientSecret))
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func defaultRedirectURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/auth/google/callback"
}

func defaultContactsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "contacts.db"
	}
	return filepath.Join(dir, "calagent", "contacts.db")
}
