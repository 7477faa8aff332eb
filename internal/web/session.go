// Package web serves the SyncMaster JSON API over HTTP.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/justestif/syncmaster/internal/db"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

const (
	sessionCookieName = "syncmaster_session"
	sessionTTL        = 24 * time.Hour
)

// Session is a signed-in browser. Auth carries the Supabase tokens, or an
// offline identity when the user signed in against the fallback store.
type Session struct {
	ID        string
	Auth      models.Session
	CreatedAt time.Time
	ExpiresAt time.Time
}

func newSession(auth models.Session, now time.Time) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Auth: auth, CreatedAt: now, ExpiresAt: now.Add(sessionTTL)}, nil
}

// UserID returns the signed-in user's id.
func (s *Session) UserID() string {
	return s.Auth.User.ID
}

// Role returns the role recorded at sign-up. Accounts without one, such as
// first-time OAuth users, are artists.
func (s *Session) Role() models.Role {
	if s.Auth.User.Metadata.Role == models.RoleSupervisor {
		return models.RoleSupervisor
	}
	return models.RoleArtist
}

// Token returns the Supabase tokens as an oauth2 token.
func (s *Session) Token() *oauth2.Token {
	return supabase.SessionToken(&s.Auth)
}

// SessionStore keeps browser sessions between requests.
type SessionStore interface {
	Create(ctx context.Context, auth models.Session) (*Session, error)

	// Get returns nil for unknown and expired sessions.
	Get(ctx context.Context, id string) *Session
	Delete(ctx context.Context, id string)

	// UpdateToken records tokens refreshed while serving a request.
	UpdateToken(ctx context.Context, id string, token *oauth2.Token)
}

// MemorySessions is a SessionStore that forgets everything on restart.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemorySessions creates an empty in-memory store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*Session), now: time.Now}
}

func (m *MemorySessions) Create(_ context.Context, auth models.Session) (*Session, error) {
	s, err := newSession(auth, m.now())
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	out := *s
	return &out, nil
}

// Get drops the session when it has expired.
func (m *MemorySessions) Get(_ context.Context, id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if m.now().After(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil
	}
	out := *s
	return &out
}

func (m *MemorySessions) Delete(_ context.Context, id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *MemorySessions) UpdateToken(_ context.Context, id string, token *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Auth = *supabase.TokenSession(token, s.Auth.User)
	}
}

// DBSessions is a SessionStore over the web_sessions table, so that a restart
// does not sign everybody out.
type DBSessions struct {
	repo *db.SessionRepository
	log  zerolog.Logger
}

// NewDBSessions creates a store over database.
func NewDBSessions(database *db.DB, log zerolog.Logger) *DBSessions {
	return &DBSessions{repo: database.Sessions(), log: log}
}

func (d *DBSessions) Create(ctx context.Context, auth models.Session) (*Session, error) {
	s, err := newSession(auth, time.Now())
	if err != nil {
		return nil, err
	}
	if err := d.repo.Create(ctx, &db.WebSession{
		ID:        s.ID,
		Auth:      s.Auth,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Get treats lookup failures as a missing session; the user signs in again.
func (d *DBSessions) Get(ctx context.Context, id string) *Session {
	ws, err := d.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			d.log.Warn().Err(err).Msg("loading web session")
		}
		return nil
	}
	return &Session{ID: ws.ID, Auth: ws.Auth, CreatedAt: ws.CreatedAt, ExpiresAt: ws.ExpiresAt}
}

func (d *DBSessions) Delete(ctx context.Context, id string) {
	if err := d.repo.Delete(ctx, id); err != nil {
		d.log.Warn().Err(err).Msg("deleting web session")
	}
}

func (d *DBSessions) UpdateToken(ctx context.Context, id string, token *oauth2.Token) {
	if err := d.repo.UpdateToken(ctx, id, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		d.log.Warn().Err(err).Msg("saving refreshed token")
	}
}

var (
	_ SessionStore = (*MemorySessions)(nil)
	_ SessionStore = (*DBSessions)(nil)
)

// sessionCookie reads and writes the cookie naming a session.
type sessionCookie struct {
	secure bool
}

func (c sessionCookie) read(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c sessionCookie) set(w http.ResponseWriter, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c sessionCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
	})
}

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
