package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Login runs the installed-app flow: it serves a loopback callback, prints
// the consent URL to out and waits for Google to redirect back with a code.
func Login(ctx context.Context, cfg ClientConfig, out io.Writer) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open callback listener: %w", err)
	}

	cfg.RedirectURL = fmt.Sprintf("http://%s/callback", listener.Addr().String())
	conf := OAuthConfig(cfg)
	state := uuid.NewString()

	type result struct {
		token *oauth2.Token
		err   error
	}
	results := make(chan result, 1)
	send := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "oauth link is not valid", http.StatusBadRequest)
			return
		}
		if msg := query.Get("error"); msg != "" {
			http.Error(w, "authorization denied", http.StatusBadRequest)
			send(result{err: fmt.Errorf("authorization denied: %s", msg)})
			return
		}

		token, err := conf.Exchange(req.Context(), query.Get("code"))
		if err != nil {
			http.Error(w, "unable to retrieve token", http.StatusBadRequest)
			send(result{err: fmt.Errorf("failed to exchange auth code: %w", err)})
			return
		}
		_, _ = fmt.Fprintln(w, "All good, you can close this window!")
		send(result{token: token})
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			send(result{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	_, _ = fmt.Fprintf(out, "\nGo to the following link in your browser:\n%s\n\n", AuthCodeURL(conf, state))

	select {
	case r := <-results:
		return r.token, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
