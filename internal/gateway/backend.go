// Package gateway puts the remote data gateway and the local fallback store
// behind one interface and decides, per call, which of the two answers.
package gateway

import (
	"context"

	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

// Auth is the authentication capability.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, email, password, name string, role models.Role) (*models.Session, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*models.Session, error)
	ResendConfirmation(ctx context.Context, email string) error
}

// Rows is the row storage capability for the four entity collections plus
// the read-only directory.
type Rows interface {
	Briefs(ctx context.Context) ([]models.Brief, error)
	Directory(ctx context.Context) ([]models.Agency, error)

	Tracks(ctx context.Context, ownerID string) ([]models.Track, error)
	Track(ctx context.Context, id string) (*models.Track, error)
	InsertTrack(ctx context.Context, t models.Track) (*models.Track, error)
	UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error

	Applications(ctx context.Context, ownerID string) ([]models.Application, error)
	ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error)
	InsertApplication(ctx context.Context, a models.Application) (*models.Application, error)
	UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error

	Profile(ctx context.Context, id string) (*models.Profile, error)
	InsertProfile(ctx context.Context, p models.Profile) error
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error
}

// Blobs is the object storage capability.
type Blobs interface {
	UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error)
	UploadAvatar(ctx context.Context, file models.File, ownerID string) (string, error)
}

// Watcher attaches a change hook to a table. The returned stop func must be
// idempotent.
type Watcher interface {
	Watch(ctx context.Context, table, filter string, fn func(supabase.Change)) (func(), error)
}

// Backend is the full capability set. Remote and Local implement it, and so
// does the Gateway that chooses between them.
type Backend interface {
	Auth
	Rows
	Blobs
	Watcher
}

// Remote is the Supabase-backed Backend. Rows come from the Supabase REST API
// unless a direct Postgres store is supplied.
type Remote struct {
	client *supabase.Client
	direct Rows
	rows   Rows
}

// NewRemote creates a Remote. A nil direct uses the Supabase REST API for rows.
func NewRemote(client *supabase.Client, direct Rows) *Remote {
	r := &Remote{client: client, direct: direct, rows: direct}
	if direct == nil {
		r.rows = client
	}
	return r
}

// ForSession returns a Remote acting on behalf of session.
func (r *Remote) ForSession(session *models.Session) Backend {
	return NewRemote(r.client.WithSession(session), r.direct)
}

// Client returns the underlying Supabase client.
func (r *Remote) Client() *supabase.Client {
	return r.client
}

func (r *Remote) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	return r.client.SignIn(ctx, email, password)
}

// SignUp registers with Supabase auth. When rows live in a direct Postgres
// store the profile is also written there.
func (r *Remote) SignUp(ctx context.Context, email, password, name string, role models.Role) (*models.Session, error) {
	session, err := r.client.SignUp(ctx, email, password, name, role)
	if err != nil {
		return nil, err
	}
	if session != nil && r.direct != nil {
		profile := models.NewProfile(session.User.ID, email, name, role)
		if err := r.direct.InsertProfile(ctx, profile); err != nil {
			return session, err
		}
	}
	return session, nil
}

func (r *Remote) SignOut(ctx context.Context) error {
	return r.client.SignOut(ctx)
}

func (r *Remote) GetSession(ctx context.Context) (*models.Session, error) {
	return r.client.GetSession(ctx)
}

func (r *Remote) ResendConfirmation(ctx context.Context, email string) error {
	return r.client.ResendConfirmation(ctx, email)
}

func (r *Remote) Briefs(ctx context.Context) ([]models.Brief, error) {
	return r.rows.Briefs(ctx)
}

func (r *Remote) Directory(ctx context.Context) ([]models.Agency, error) {
	return r.rows.Directory(ctx)
}

func (r *Remote) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	return r.rows.Tracks(ctx, ownerID)
}

func (r *Remote) Track(ctx context.Context, id string) (*models.Track, error) {
	return r.rows.Track(ctx, id)
}

func (r *Remote) InsertTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	return r.rows.InsertTrack(ctx, t)
}

func (r *Remote) UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error {
	return r.rows.UpdateTrack(ctx, id, patch)
}

func (r *Remote) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	return r.rows.Applications(ctx, ownerID)
}

func (r *Remote) ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	return r.rows.ApplicationsForBriefs(ctx, briefIDs)
}

func (r *Remote) InsertApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	return r.rows.InsertApplication(ctx, a)
}

func (r *Remote) UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error {
	return r.rows.UpdateApplicationStatus(ctx, id, status)
}

func (r *Remote) Profile(ctx context.Context, id string) (*models.Profile, error) {
	return r.rows.Profile(ctx, id)
}

func (r *Remote) InsertProfile(ctx context.Context, p models.Profile) error {
	return r.rows.InsertProfile(ctx, p)
}

func (r *Remote) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	return r.rows.UpdateProfile(ctx, id, patch)
}

func (r *Remote) UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error) {
	return r.client.UploadAudio(ctx, file, ownerID)
}

func (r *Remote) UploadAvatar(ctx context.Context, file models.File, ownerID string) (string, error) {
	return r.client.UploadAvatar(ctx, file, ownerID)
}

func (r *Remote) Watch(ctx context.Context, table, filter string, fn func(supabase.Change)) (func(), error) {
	return r.client.Watch(ctx, table, filter, fn)
}

var (
	_ Backend = (*Remote)(nil)
	_ Rows    = (*supabase.Client)(nil)
)
