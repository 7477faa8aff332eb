// Package auth signs the CLI in through a Supabase OAuth provider and caches
// the resulting session between runs.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/justestif/syncmaster/internal/models"
)

const (
	// DefaultRedirectURL uses explicit IPv4 loopback for local development.
	DefaultRedirectURL = "http://127.0.0.1:8080/callback"
	callbackTimeout    = 2 * time.Minute
)

var (
	// ErrAuthTimeout is returned when the OAuth callback is not received in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrNotSignedIn is returned by Restore when no usable session is cached.
	ErrNotSignedIn = errors.New("not signed in")
)

// Provider starts and completes a PKCE sign-in.
type Provider interface {
	AuthorizeURL(provider, redirectTo string) (authURL, verifier string, err error)
	ExchangeCode(ctx context.Context, code, verifier string) (*models.Session, error)
}

// Authenticator runs the browser OAuth flow for the CLI.
type Authenticator struct {
	provider    Provider
	cache       *SessionCache
	redirectURL string
	timeout     time.Duration
	out         io.Writer
	openBrowser func(string) error
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithRedirectURL sets the loopback callback URL. Its host:port is where the
// callback server listens.
func WithRedirectURL(u string) Option {
	return func(a *Authenticator) {
		a.redirectURL = u
	}
}

// WithTimeout sets how long to wait for the callback.
func WithTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		a.timeout = d
	}
}

// WithOutput sets where sign-in instructions are printed.
func WithOutput(w io.Writer) Option {
	return func(a *Authenticator) {
		a.out = w
	}
}

// WithBrowser sets a function called with the authorize URL, for example to
// open it automatically.
func WithBrowser(open func(string) error) Option {
	return func(a *Authenticator) {
		a.openBrowser = open
	}
}

// New creates an Authenticator.
func New(provider Provider, cache *SessionCache, opts ...Option) *Authenticator {
	a := &Authenticator{
		provider:    provider,
		cache:       cache,
		redirectURL: DefaultRedirectURL,
		timeout:     callbackTimeout,
		out:         io.Discard,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Restore returns the cached session. Expired sessions are returned only when
// they carry a refresh token, since the Supabase client refreshes on use.
func (a *Authenticator) Restore() (*models.Session, error) {
	session, err := a.cache.Load()
	if err != nil {
		return nil, fmt.Errorf("loading cached session: %w", err)
	}
	if session == nil || (session.Expired() && session.RefreshToken == "") {
		return nil, ErrNotSignedIn
	}
	return session, nil
}

// Remember caches a session obtained some other way, such as a password sign-in.
func (a *Authenticator) Remember(session *models.Session) error {
	if session.Offline {
		return nil
	}
	return a.cache.Save(session)
}

// Forget deletes the cached session.
func (a *Authenticator) Forget() error {
	return a.cache.Delete()
}

// Login performs the OAuth authorization code flow with PKCE against the
// named provider and caches the session.
func (a *Authenticator) Login(ctx context.Context, provider string) (*models.Session, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	callback, err := url.Parse(a.redirectURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URL: %w", err)
	}
	q := callback.Query()
	q.Set("state", state)
	callback.RawQuery = q.Encode()

	authURL, verifier, err := a.provider.AuthorizeURL(provider, callback.String())
	if err != nil {
		return nil, fmt.Errorf("building authorize URL: %w", err)
	}

	sessionCh := make(chan *models.Session, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callback.Path, func(w http.ResponseWriter, r *http.Request) {
		a.handleCallback(w, r, state, verifier, sessionCh, errCh)
	})

	ln, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return nil, fmt.Errorf("listening for callback: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintln(a.out, "\nTo sign in, open this URL in your browser:")
	fmt.Fprintln(a.out, authURL)
	fmt.Fprintln(a.out, "\nWaiting for sign-in...")
	if a.openBrowser != nil {
		_ = a.openBrowser(authURL)
	}

	var session *models.Session
	select {
	case session = <-sessionCh:
	case err := <-errCh:
		return nil, err
	case <-time.After(a.timeout):
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := a.cache.Save(session); err != nil {
		fmt.Fprintf(a.out, "Warning: failed to cache session: %v\n", err)
	}
	return session, nil
}

// handleCallback processes the redirect back from Supabase.
func (a *Authenticator) handleCallback(w http.ResponseWriter, r *http.Request, expectedState, verifier string, sessionCh chan<- *models.Session, errCh chan<- error) {
	q := r.URL.Query()
	if q.Get("state") != expectedState {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		errCh <- ErrStateMismatch
		return
	}

	if errMsg := q.Get("error"); errMsg != "" {
		desc := q.Get("error_description")
		http.Error(w, "Sign-in failed: "+errMsg, http.StatusBadRequest)
		errCh <- fmt.Errorf("oauth error: %s: %s", errMsg, desc)
		return
	}

	session, err := a.provider.ExchangeCode(r.Context(), q.Get("code"), verifier)
	if err != nil {
		http.Error(w, "Failed to complete sign-in", http.StatusInternalServerError)
		errCh <- fmt.Errorf("exchanging code for session: %w", err)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>SyncMaster</title></head>
<body>
<h1>Signed in</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)
	sessionCh <- session
}

// generateState creates a random state string for OAuth CSRF protection.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
