// Package auth links a user's Google account and hands out authenticated
// HTTP clients for it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/chronos/pkg/config"
	"github.com/harrisonrobin/chronos/pkg/model"
	"github.com/harrisonrobin/chronos/pkg/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// ErrNotLinked is returned for an owner that has not linked a Google account.
var ErrNotLinked = errors.New("google account not linked")

const stateTTL = 10 * time.Minute

// Scopes requested when linking an account.
var Scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// TokenStore persists one token per owner.
type TokenStore interface {
	SaveToken(ctx context.Context, tok store.UserToken) error
	LoadToken(ctx context.Context, ownerID string) (store.UserToken, error)
}

// NewOAuthConfig builds the OAuth client from a downloaded credentials file
// or, when none is configured, from the client id and secret.
func NewOAuthConfig(cfg config.Google) (*oauth2.Config, error) {
	if cfg.CredentialsFile != "" {
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read client secret file %s: %w", cfg.CredentialsFile, err)
		}
		oc, err := google.ConfigFromJSON(b, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
		}
		if cfg.RedirectURL != "" {
			oc.RedirectURL = cfg.RedirectURL
		}
		return oc, nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client credentials are not configured")
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}, nil
}

type pendingState struct {
	ownerID string
	expires time.Time
}

// Linker runs the authorization code flow for many owners at once and
// serves per-owner clients from the stored tokens.
type Linker struct {
	log    *slog.Logger
	oauth  *oauth2.Config
	tokens TokenStore
	now    func() time.Time

	mu     sync.Mutex
	states map[string]pendingState
	subs   map[*Subscription]struct{}
}

func NewLinker(log *slog.Logger, oc *oauth2.Config, tokens TokenStore) *Linker {
	return &Linker{
		log:    log,
		oauth:  oc,
		tokens: tokens,
		now:    time.Now,
		states: make(map[string]pendingState),
		subs:   make(map[*Subscription]struct{}),
	}
}

// AuthURL returns the consent page URL for ownerID. The state parameter is
// an opaque token that expires after ten minutes.
func (l *Linker) AuthURL(ownerID string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("%w: missing owner", model.ErrInvalidInput)
	}
	state := uuid.NewString()
	now := l.now()

	l.mu.Lock()
	for s, p := range l.states {
		if now.After(p.expires) {
			delete(l.states, s)
		}
	}
	l.states[state] = pendingState{ownerID: ownerID, expires: now.Add(stateTTL)}
	l.mu.Unlock()

	// Offline access with forced consent so that a refresh token is returned.
	return l.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// Callback completes the flow started by AuthURL and returns the owner the
// account was linked for.
func (l *Linker) Callback(ctx context.Context, state, code string) (string, error) {
	l.mu.Lock()
	p, ok := l.states[state]
	delete(l.states, state)
	l.mu.Unlock()

	if !ok || l.now().After(p.expires) {
		return "", fmt.Errorf("%w: unknown or expired state", model.ErrInvalidInput)
	}
	if code == "" {
		return "", fmt.Errorf("%w: authorization code not found", model.ErrInvalidInput)
	}

	tok, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("unable to retrieve token from Google: %w", err)
	}
	if err := l.tokens.SaveToken(ctx, fromOAuth(p.ownerID, tok)); err != nil {
		return "", err
	}

	l.log.Info("google account linked", "owner_id", p.ownerID)
	l.publish(LinkEvent{OwnerID: p.ownerID, At: l.now()})
	return p.ownerID, nil
}

// Client returns an HTTP client authorized as ownerID. Tokens refreshed by
// the client are written back to the store.
func (l *Linker) Client(ctx context.Context, ownerID string) (*http.Client, error) {
	ut, err := l.tokens.LoadToken(ctx, ownerID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrNotLinked)
	}
	if err != nil {
		return nil, err
	}

	tok := toOAuth(ut)
	src := &persistingSource{
		log:     l.log,
		ownerID: ownerID,
		tokens:  l.tokens,
		base:    l.oauth.TokenSource(context.WithoutCancel(ctx), tok),
		last:    tok.AccessToken,
	}
	return oauth2.NewClient(context.WithoutCancel(ctx), oauth2.ReuseTokenSource(tok, src)), nil
}

// persistingSource saves every token that differs from the last one seen.
type persistingSource struct {
	log     *slog.Logger
	ownerID string
	tokens  TokenStore
	base    oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.tokens.SaveToken(context.Background(), fromOAuth(s.ownerID, tok)); err != nil {
			s.log.Warn("could not save refreshed token", "owner_id", s.ownerID, "error", err)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}

func toOAuth(ut store.UserToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  ut.AccessToken,
		RefreshToken: ut.RefreshToken,
		TokenType:    ut.TokenType,
	}
	if ut.Expiry != nil {
		tok.Expiry = *ut.Expiry
	}
	return tok
}

func fromOAuth(ownerID string, tok *oauth2.Token) store.UserToken {
	ut := store.UserToken{
		OwnerID:      ownerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		ut.Expiry = &exp
	}
	return ut
}
