package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const authTimeout = 5 * time.Minute

// LinkLocal links ownerID from a terminal: it prints the consent URL and
// serves the redirect URL's address until Google calls back with the code.
func (l *Linker) LinkLocal(ctx context.Context, ownerID string, out io.Writer) error {
	redirect, err := url.Parse(l.oauth.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL %q: %w", l.oauth.RedirectURL, err)
	}
	if redirect.Hostname() != "localhost" && redirect.Hostname() != "127.0.0.1" {
		return fmt.Errorf("redirect URL %s is not a local address", l.oauth.RedirectURL)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", redirect.Host, err)
	}
	defer listener.Close()

	done := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if _, err := l.Callback(r.Context(), q.Get("state"), q.Get("code")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			done <- err
			return
		}
		fmt.Fprintln(w, "Authentication successful! You can close this window.")
		done <- nil
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	defer server.Shutdown(context.Background())

	authURL, err := l.AuthURL(ownerID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Open the following URL in your browser to link Google Calendar:\n%s\n", authURL)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(authTimeout):
		return errors.New("authorization timed out, please try again")
	}
}
