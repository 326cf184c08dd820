package google

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// ClientConfig carries the OAuth client credentials.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is the web callback; the CLI login overrides it with a
	// loopback address.
	RedirectURL string
}

// OAuthConfig returns the oauth2 configuration for cfg.
func OAuthConfig(cfg ClientConfig) *oauth2.Config {
	scopes := make([]string, len(DefaultOAuthScopes))
	copy(scopes, DefaultOAuthScopes)
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
}

// AuthCodeURL returns the consent URL asking for a refresh token.
func AuthCodeURL(conf *oauth2.Config, state string) string {
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// NewHTTPClient returns an HTTP client authenticated by ts.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors.
func NewHTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	client := oauth2.NewClient(ctx, ts)
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			ForceAttemptHTTP2: false,
			Proxy:             http.ProxyFromEnvironment,
		}
	}
	return client
}

// FetchUserEmail returns the email address of the token's owner.
func FetchUserEmail(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (string, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(NewHTTPClient(ctx, ts))}, opts...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create oauth2 service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("user info carries no email address")
	}
	return info.Email, nil
}
