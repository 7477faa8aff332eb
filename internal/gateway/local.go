package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/syncmaster/internal/localstore"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

// Local is the fallback Backend over the local store. Auth is an offline
// shim: accounts exist only in the store, passwords are not checked, and the
// signed-in user is kept under the mock session key.
type Local struct {
	store    *localstore.Store
	mediaDir string
}

// LocalOption configures Local.
type LocalOption func(*Local)

// WithMediaDir sets where offline uploads are written.
func WithMediaDir(dir string) LocalOption {
	return func(l *Local) {
		l.mediaDir = dir
	}
}

// NewLocal creates a Local over store.
func NewLocal(store *localstore.Store, opts ...LocalOption) *Local {
	l := &Local{
		store:    store,
		mediaDir: filepath.Join(os.TempDir(), "syncmaster-media"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Local) Store() *localstore.Store {
	return l.store
}

func offlineSession(p models.Profile) models.Session {
	return models.Session{
		User: models.AuthUser{
			ID:       p.ID,
			Email:    p.Email,
			Metadata: models.UserMetadata{Name: p.Name, Role: p.Role},
		},
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Offline:   true,
	}
}

func (l *Local) startSession(ctx context.Context, p models.Profile) (*models.Session, error) {
	session := offlineSession(p)
	if err := l.store.SetMockSession(ctx, session); err != nil {
		return nil, err
	}
	if err := l.store.SetCurrentUser(ctx, &p); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignIn signs in a user previously registered while offline.
func (l *Local) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, models.Validationf("email and password are required")
	}
	p, err := l.store.UserByEmail(ctx, email)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, supabase.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	return l.startSession(ctx, *p)
}

// SignUp registers an offline account and signs it in. Offline accounts never
// need email confirmation.
func (l *Local) SignUp(ctx context.Context, email, password, name string, role models.Role) (*models.Session, error) {
	if email == "" || password == "" || name == "" {
		return nil, models.Validationf("email, password and name are required")
	}
	if !role.Valid() {
		return nil, models.Validationf("unknown role %q", role)
	}
	if _, err := l.store.UserByEmail(ctx, email); err == nil {
		return nil, models.Validationf("an account with email %s already exists", email)
	}

	p := models.NewProfile(uuid.NewString(), email, name, role)
	if err := l.store.SaveUser(ctx, p); err != nil {
		return nil, err
	}
	return l.startSession(ctx, p)
}

func (l *Local) SignOut(ctx context.Context) error {
	if err := l.store.ClearMockSession(ctx); err != nil {
		return err
	}
	return l.store.SetCurrentUser(ctx, nil)
}

func (l *Local) GetSession(ctx context.Context) (*models.Session, error) {
	return l.store.MockSession(ctx)
}

// ResendConfirmation is a no-op offline.
func (l *Local) ResendConfirmation(context.Context, string) error {
	return nil
}

// Briefs returns the static seed briefs.
func (l *Local) Briefs(context.Context) ([]models.Brief, error) {
	return models.SeedBriefs(), nil
}

// Directory returns the static seed directory.
func (l *Local) Directory(context.Context) ([]models.Agency, error) {
	return models.SeedDirectory(), nil
}

func (l *Local) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	return l.store.Tracks(ctx, ownerID)
}

func (l *Local) Track(ctx context.Context, id string) (*models.Track, error) {
	return l.store.Track(ctx, id)
}

func (l *Local) InsertTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	return l.store.AddTrack(ctx, t)
}

func (l *Local) UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error {
	return l.store.UpdateTrack(ctx, id, patch)
}

func (l *Local) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	return l.store.Applications(ctx, ownerID)
}

func (l *Local) ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	return l.store.ApplicationsForBriefs(ctx, briefIDs)
}

func (l *Local) InsertApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	return l.store.AddApplication(ctx, a)
}

func (l *Local) UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error {
	return l.store.UpdateApplicationStatus(ctx, id, status)
}

func (l *Local) Profile(ctx context.Context, id string) (*models.Profile, error) {
	return l.store.User(ctx, id)
}

func (l *Local) InsertProfile(ctx context.Context, p models.Profile) error {
	return l.store.SaveUser(ctx, p)
}

func (l *Local) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	return l.store.UpdateUser(ctx, id, patch)
}

// UploadAudio copies the file into the media directory and returns a file URL.
func (l *Local) UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error) {
	return l.saveMedia(ctx, "audio", file, ownerID)
}

// UploadAvatar copies the file into the media directory and returns a file URL.
func (l *Local) UploadAvatar(ctx context.Context, file models.File, ownerID string) (string, error) {
	return l.saveMedia(ctx, "avatars", file, ownerID)
}

func (l *Local) saveMedia(ctx context.Context, kind string, file models.File, ownerID string) (string, error) {
	if file.Body == nil || file.Name == "" {
		return "", models.Validationf("no file selected")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(l.mediaDir, kind, ownerID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating media directory: %w", err)
	}
	if _, err := file.Body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding file: %w", err)
	}

	name := uuid.NewString() + "-" + strings.ReplaceAll(filepath.Base(file.Name), " ", "_")
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("creating media file: %w", err)
	}
	defer f.Close()

	var src io.Reader = file.Body
	if file.Progress != nil {
		src = &progressReader{r: file.Body, fn: file.Progress}
	}
	if _, err := io.Copy(f, src); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), nil
}

type progressReader struct {
	r  io.Reader
	n  int64
	fn func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.fn(p.n)
	}
	return n, err
}

// Watch hooks fn to the store's change signal. fn runs synchronously on the
// mutating goroutine.
func (l *Local) Watch(_ context.Context, table, _ string, fn func(supabase.Change)) (func(), error) {
	cancel := l.store.Listen(func() {
		fn(supabase.Change{Type: "*", Table: table})
	})
	return cancel, nil
}

var _ Backend = (*Local)(nil)
