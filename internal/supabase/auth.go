package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/syncmaster/internal/models"
)

// tokenResponse is the GoTrue session payload.
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	User         models.AuthUser `json:"user"`
}

// signUpResponse covers both shapes GoTrue returns from /signup: a session when
// auto-confirm is on, a bare user when confirmation is required.
type signUpResponse struct {
	tokenResponse
	ID    string              `json:"id"`
	Email string              `json:"email"`
	Meta  models.UserMetadata `json:"user_metadata"`
}

func (t tokenResponse) session() *models.Session {
	s := &models.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

// SignIn authenticates with email and password and stores the session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, models.Validationf("email and password are required")
	}

	var resp tokenResponse
	err := c.do(ctx, request{
		op:      "signing in",
		service: "auth",
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   url.Values{"grant_type": {"password"}},
		body:    map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := resp.session()
	c.setSession(session)
	return session, nil
}

// SignUp registers a new account and creates its profile row. A nil session
// with a nil error means the project requires email confirmation first.
func (c *Client) SignUp(ctx context.Context, email, password, name string, role models.Role) (*models.Session, error) {
	if email == "" || password == "" || name == "" {
		return nil, models.Validationf("email, password and name are required")
	}
	if !role.Valid() {
		return nil, models.Validationf("unknown role %q", role)
	}

	var resp signUpResponse
	err := c.do(ctx, request{
		op:      "signing up",
		service: "auth",
		method:  http.MethodPost,
		path:    "/auth/v1/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     models.UserMetadata{Name: name, Role: role},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	userID := resp.User.ID
	if userID == "" {
		userID = resp.ID
	}

	var session *models.Session
	if resp.AccessToken != "" {
		session = resp.session()
		c.setSession(session)
	}

	// Without a session the insert usually fails row-level security; the
	// profile is then created by a database trigger or on first sign-in.
	if userID != "" {
		profile := models.NewProfile(userID, email, name, role)
		if err := c.InsertProfile(ctx, profile); err != nil {
			c.log.Warn().Err(err).Str("user_id", userID).Bool("has_session", session != nil).Msg("creating profile after sign-up")
		}
	}
	return session, nil
}

// SignOut ends the session on the server and forgets it locally. The local
// session is cleared even if the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.CurrentSession()
	c.setSession(nil)
	if session == nil || session.AccessToken == "" {
		return nil
	}

	err := c.do(ctx, request{
		op:      "signing out",
		service: "auth",
		method:  http.MethodPost,
		path:    "/auth/v1/logout",
		bearer:  session.AccessToken,
	}, nil)
	if err != nil {
		return err
	}
	return nil
}

// GetSession returns the current session, refreshing it when expired. It
// returns nil without error when nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	if c.CurrentSession() == nil {
		return nil, nil
	}
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return c.CurrentSession(), nil
}

// User fetches the signed-in user from the auth server.
func (c *Client) User(ctx context.Context) (*models.AuthUser, error) {
	session := c.CurrentSession()
	if session == nil {
		return nil, ErrNotAuthenticated
	}

	var user models.AuthUser
	err := c.do(ctx, request{
		op:      "fetching user",
		service: "auth",
		method:  http.MethodGet,
		path:    "/auth/v1/user",
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshSession exchanges the refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*models.Session, error) {
	session := c.CurrentSession()
	if session == nil || session.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	tok, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}
	next := tok.session()
	c.setSession(next)
	return next, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		op:      "refreshing session",
		service: "auth",
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   url.Values{"grant_type": {"refresh_token"}},
		body:    map[string]string{"refresh_token": refreshToken},
		bearer:  c.cfg.AnonKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.User.ID == "" {
		if s := c.CurrentSession(); s != nil {
			resp.User = s.User
		}
	}
	return &resp, nil
}

// ResendConfirmation sends the sign-up confirmation email again.
func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	if email == "" {
		return models.Validationf("email is required")
	}
	return c.do(ctx, request{
		op:      "resending confirmation",
		service: "auth",
		method:  http.MethodPost,
		path:    "/auth/v1/resend",
		body:    map[string]string{"type": "signup", "email": email},
	}, nil)
}

// AuthorizeURL builds the OAuth redirect for provider using PKCE. The caller
// keeps verifier and passes it to ExchangeCode when the provider redirects back.
func (c *Client) AuthorizeURL(provider, redirectTo string) (authURL, verifier string, err error) {
	if !c.Configured() {
		return "", "", &Error{Kind: KindNetwork, Op: "building authorize URL", sentinel: ErrNotConfigured}
	}
	if provider == "" {
		return "", "", models.Validationf("provider is required")
	}

	verifier = oauth2.GenerateVerifier()
	q := url.Values{
		"provider":              {provider},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"s256"},
	}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.cfg.URL + "/auth/v1/authorize?" + q.Encode(), verifier, nil
}

// ExchangeCode completes an OAuth sign-in started with AuthorizeURL.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*models.Session, error) {
	if code == "" || verifier == "" {
		return nil, models.Validationf("authorization code and verifier are required")
	}

	var resp tokenResponse
	err := c.do(ctx, request{
		op:      "exchanging auth code",
		service: "auth",
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   url.Values{"grant_type": {"pkce"}},
		body:    map[string]string{"auth_code": code, "code_verifier": verifier},
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := resp.session()
	c.setSession(session)
	return session, nil
}

// refreshSource adapts the GoTrue refresh grant to oauth2.TokenSource.
type refreshSource struct {
	ctx    context.Context
	client *Client
	token  string
	user   *models.AuthUser
}

func (s *refreshSource) Token() (*oauth2.Token, error) {
	resp, err := s.client.refresh(s.ctx, s.token)
	if err != nil {
		return nil, err
	}
	*s.user = resp.User
	return SessionToken(resp.session()), nil
}

// SessionToken converts a session to an oauth2 token.
func SessionToken(s *models.Session) *oauth2.Token {
	if s == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "bearer",
		Expiry:       s.ExpiresAt,
	}
}

// TokenSession converts an oauth2 token back to a session for user.
func TokenSession(tok *oauth2.Token, user models.AuthUser) *models.Session {
	return &models.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		User:         user,
	}
}

// ensureFresh refreshes the session when its access token has expired.
func (c *Client) ensureFresh(ctx context.Context) error {
	session := c.CurrentSession()
	if session == nil || session.RefreshToken == "" || session.Offline {
		return nil
	}

	user := session.User
	src := oauth2.ReuseTokenSource(SessionToken(session), &refreshSource{
		ctx:    ctx,
		client: c,
		token:  session.RefreshToken,
		user:   &user,
	})
	tok, err := src.Token()
	if err != nil {
		return fmt.Errorf("refreshing expired session: %w", err)
	}
	if tok.AccessToken != session.AccessToken {
		c.setSession(TokenSession(tok, user))
		c.log.Debug().Str("user_id", user.ID).Msg("session refreshed")
	}
	return nil
}
