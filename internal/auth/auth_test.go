package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justestif/syncmaster/internal/models"
)

func TestSessionCache_SaveAndLoad(t *testing.T) {
	tests := []struct {
		name    string
		session *models.Session
	}{
		{
			name: "basic session",
			session: &models.Session{
				AccessToken:  "test-access-token",
				RefreshToken: "test-refresh-token",
				ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
				User:         models.AuthUser{ID: "u1", Email: "a@example.com"},
			},
		},
		{
			name: "session without refresh",
			session: &models.Session{
				AccessToken: "access-only",
				ExpiresAt:   time.Now().Add(30 * time.Minute).Truncate(time.Second),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))

			if err := cache.Save(tt.session); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			loaded, err := cache.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded == nil {
				t.Fatal("Load() returned nil session")
			}
			if loaded.AccessToken != tt.session.AccessToken {
				t.Errorf("AccessToken = %q, want %q", loaded.AccessToken, tt.session.AccessToken)
			}
			if loaded.RefreshToken != tt.session.RefreshToken {
				t.Errorf("RefreshToken = %q, want %q", loaded.RefreshToken, tt.session.RefreshToken)
			}
			if !loaded.ExpiresAt.Equal(tt.session.ExpiresAt) {
				t.Errorf("ExpiresAt = %v, want %v", loaded.ExpiresAt, tt.session.ExpiresAt)
			}
			if loaded.User.ID != tt.session.User.ID {
				t.Errorf("User.ID = %q, want %q", loaded.User.ID, tt.session.User.ID)
			}
		})
	}
}

func TestSessionCache_LoadNonExistent(t *testing.T) {
	cache := NewSessionCache(filepath.Join(t.TempDir(), "nonexistent", "session.json"))

	session, err := cache.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if session != nil {
		t.Errorf("Load() = %v, want nil for non-existent file", session)
	}
}

func TestSessionCache_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeply", "session.json")
	cache := NewSessionCache(path)

	if err := cache.Save(&models.Session{AccessToken: "test-token"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Save() did not create session file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("session file mode = %v, want 0600", perm)
	}
}

func TestSessionCache_SaveNil(t *testing.T) {
	cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))
	if err := cache.Save(nil); err == nil {
		t.Error("Save(nil) should return error")
	}
}

func TestSessionCache_Delete(t *testing.T) {
	cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))
	if err := cache.Save(&models.Session{AccessToken: "test-token"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := cache.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(cache.Path()); !os.IsNotExist(err) {
		t.Error("Delete() did not remove session file")
	}
	if err := cache.Delete(); err != nil {
		t.Errorf("Delete() on missing file error = %v, want nil", err)
	}
}

func TestRestore(t *testing.T) {
	tests := []struct {
		name    string
		session *models.Session
		wantErr error
	}{
		{"nothing cached", nil, ErrNotSignedIn},
		{"valid", &models.Session{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}, nil},
		{"expired with refresh", &models.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Hour)}, nil},
		{"expired without refresh", &models.Session{AccessToken: "a", ExpiresAt: time.Now().Add(-time.Hour)}, ErrNotSignedIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))
			if tt.session != nil {
				if err := cache.Save(tt.session); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
			}

			a := New(nil, cache)
			_, err := a.Restore()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Restore() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemember_SkipsOfflineSessions(t *testing.T) {
	cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))
	a := New(nil, cache)

	if err := a.Remember(&models.Session{AccessToken: "x", Offline: true}); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if s, _ := cache.Load(); s != nil {
		t.Errorf("offline session was cached: %+v", s)
	}
}

type fakeProvider struct {
	redirectTo string
	verifier   string
	code       string
}

func (p *fakeProvider) AuthorizeURL(provider, redirectTo string) (string, string, error) {
	p.redirectTo = redirectTo
	p.verifier = "verifier-" + provider
	return "https://project.supabase.co/auth/v1/authorize?provider=" + provider, p.verifier, nil
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code, verifier string) (*models.Session, error) {
	if verifier != p.verifier {
		return nil, errors.New("verifier mismatch")
	}
	p.code = code
	return &models.Session{AccessToken: "tok-" + code, User: models.AuthUser{ID: "u1"}}, nil
}

func freeRedirectURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return fmt.Sprintf("http://%s/callback", addr)
}

func TestLogin(t *testing.T) {
	cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))
	provider := &fakeProvider{}

	a := New(provider, cache,
		WithRedirectURL(freeRedirectURL(t)),
		WithTimeout(5*time.Second),
		WithBrowser(func(string) error {
			go func() {
				u, _ := url.Parse(provider.redirectTo)
				q := u.Query()
				q.Set("code", "abc")
				u.RawQuery = q.Encode()
				resp, err := http.Get(u.String())
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		}),
	)

	session, err := a.Login(context.Background(), "github")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.AccessToken != "tok-abc" {
		t.Errorf("AccessToken = %q, want %q", session.AccessToken, "tok-abc")
	}

	cached, err := cache.Load()
	if err != nil || cached == nil || cached.AccessToken != "tok-abc" {
		t.Errorf("cached session = %+v, %v", cached, err)
	}
}

func TestLogin_StateMismatch(t *testing.T) {
	cache := NewSessionCache(filepath.Join(t.TempDir(), "session.json"))
	provider := &fakeProvider{}
	redirect := freeRedirectURL(t)

	a := New(provider, cache,
		WithRedirectURL(redirect),
		WithTimeout(5*time.Second),
		WithBrowser(func(string) error {
			go func() {
				resp, err := http.Get(redirect + "?state=forged&code=abc")
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		}),
	)

	_, err := a.Login(context.Background(), "github")
	if !errors.Is(err, ErrStateMismatch) {
		t.Errorf("Login() error = %v, want ErrStateMismatch", err)
	}
	if provider.code != "" {
		t.Error("code was exchanged despite state mismatch")
	}
}

func TestGenerateState(t *testing.T) {
	state1, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error = %v", err)
	}

	if len(state1) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("generateState() length = %d, want 32", len(state1))
	}

	state2, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error = %v", err)
	}
	if state1 == state2 {
		t.Error("generateState() returned same value twice")
	}
}
