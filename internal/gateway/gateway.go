package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

// Source names the backend that answered a call.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Gateway is the try-remote-then-local policy. Each call is its own failure
// domain: a network failure on one call sends only that call to the local
// backend.
type Gateway struct {
	remote Backend
	local  *Local
	log    zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// New creates a Gateway. remote may be nil, in which case every call goes to
// local.
func New(remote Backend, local *Local, opts ...Option) *Gateway {
	g := &Gateway{
		remote: remote,
		local:  local,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type sessionBinder interface {
	ForSession(session *models.Session) Backend
}

// ForSession returns a Gateway acting for session. Offline sessions belong to
// the local backend only, since their user ids do not exist remotely.
func (g *Gateway) ForSession(session *models.Session) *Gateway {
	if session == nil {
		return g
	}
	if session.Offline {
		return &Gateway{local: g.local, log: g.log}
	}
	remote := g.remote
	if b, ok := remote.(sessionBinder); ok {
		remote = b.ForSession(session)
	}
	return &Gateway{remote: remote, local: g.local, log: g.log}
}

// Detached returns a Gateway whose remote holds no session and does not share
// session state with g, so that signing in through it leaves g untouched.
func (g *Gateway) Detached() *Gateway {
	remote := g.remote
	if b, ok := remote.(sessionBinder); ok {
		remote = b.ForSession(nil)
	}
	return &Gateway{remote: remote, local: g.local, log: g.log}
}

// Local returns the fallback backend.
func (g *Gateway) Local() *Local {
	return g.local
}

// Remote returns the remote backend, or nil.
func (g *Gateway) Remote() Backend {
	return g.remote
}

func (g *Gateway) backend(src Source) Backend {
	if src == SourceRemote && g.remote != nil {
		return g.remote
	}
	return g.local
}

func (g *Gateway) fellBack(op string, err error) {
	ev := g.log.Warn()
	if errors.Is(err, supabase.ErrNotConfigured) {
		ev = g.log.Debug()
	}
	ev.Err(err).Str("op", op).Msg("remote unreachable, using fallback store")
}

// attempt runs fn against the remote backend and, only if that fails with a
// network-class error, against the local one. The answering backend is
// recorded on the Trace carried by ctx, if any.
func attempt[T any](ctx context.Context, g *Gateway, op string, fn func(Backend) (T, error)) (T, Source, error) {
	if g.remote != nil {
		v, err := fn(g.remote)
		if err == nil || !IsNetwork(err) {
			traceFrom(ctx).record(SourceRemote)
			return v, SourceRemote, err
		}
		g.fellBack(op, err)
	}
	v, err := fn(g.local)
	traceFrom(ctx).record(SourceLocal)
	return v, SourceLocal, err
}

func call[T any](ctx context.Context, g *Gateway, op string, fn func(Backend) (T, error)) (T, error) {
	v, _, err := attempt(ctx, g, op, fn)
	return v, err
}

func exec(ctx context.Context, g *Gateway, op string, fn func(Backend) error) error {
	_, _, err := attempt(ctx, g, op, func(b Backend) (struct{}, error) {
		return struct{}{}, fn(b)
	})
	return err
}

func (g *Gateway) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, models.Validationf("email and password are required")
	}
	return call(ctx, g, "sign_in", func(b Backend) (*models.Session, error) {
		return b.SignIn(ctx, email, password)
	})
}

// SignUp registers a user. A nil session with a nil error means the account
// needs email confirmation before signing in.
func (g *Gateway) SignUp(ctx context.Context, email, password, name string, role models.Role) (*models.Session, error) {
	return call(ctx, g, "sign_up", func(b Backend) (*models.Session, error) {
		return b.SignUp(ctx, email, password, name, role)
	})
}

func (g *Gateway) SignOut(ctx context.Context) error {
	return exec(ctx, g, "sign_out", func(b Backend) error {
		return b.SignOut(ctx)
	})
}

func (g *Gateway) GetSession(ctx context.Context) (*models.Session, error) {
	return call(ctx, g, "get_session", func(b Backend) (*models.Session, error) {
		return b.GetSession(ctx)
	})
}

func (g *Gateway) ResendConfirmation(ctx context.Context, email string) error {
	return exec(ctx, g, "resend_confirmation", func(b Backend) error {
		return b.ResendConfirmation(ctx, email)
	})
}

func (g *Gateway) Briefs(ctx context.Context) ([]models.Brief, error) {
	return call(ctx, g, "briefs", func(b Backend) ([]models.Brief, error) {
		return b.Briefs(ctx)
	})
}

func (g *Gateway) Directory(ctx context.Context) ([]models.Agency, error) {
	return call(ctx, g, "directory", func(b Backend) ([]models.Agency, error) {
		return b.Directory(ctx)
	})
}

func (g *Gateway) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	return call(ctx, g, "tracks", func(b Backend) ([]models.Track, error) {
		return b.Tracks(ctx, ownerID)
	})
}

func (g *Gateway) Track(ctx context.Context, id string) (*models.Track, error) {
	return call(ctx, g, "track", func(b Backend) (*models.Track, error) {
		return b.Track(ctx, id)
	})
}

func (g *Gateway) InsertTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	return call(ctx, g, "insert_track", func(b Backend) (*models.Track, error) {
		return b.InsertTrack(ctx, t)
	})
}

func (g *Gateway) UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return exec(ctx, g, "update_track", func(b Backend) error {
		return b.UpdateTrack(ctx, id, patch)
	})
}

func (g *Gateway) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	return call(ctx, g, "applications", func(b Backend) ([]models.Application, error) {
		return b.Applications(ctx, ownerID)
	})
}

func (g *Gateway) ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	return call(ctx, g, "applications_for_briefs", func(b Backend) ([]models.Application, error) {
		return b.ApplicationsForBriefs(ctx, briefIDs)
	})
}

func (g *Gateway) InsertApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	return call(ctx, g, "insert_application", func(b Backend) (*models.Application, error) {
		return b.InsertApplication(ctx, a)
	})
}

func (g *Gateway) UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error {
	return exec(ctx, g, "update_application_status", func(b Backend) error {
		return b.UpdateApplicationStatus(ctx, id, status)
	})
}

func (g *Gateway) Profile(ctx context.Context, id string) (*models.Profile, error) {
	return call(ctx, g, "profile", func(b Backend) (*models.Profile, error) {
		return b.Profile(ctx, id)
	})
}

func (g *Gateway) InsertProfile(ctx context.Context, p models.Profile) error {
	return exec(ctx, g, "insert_profile", func(b Backend) error {
		return b.InsertProfile(ctx, p)
	})
}

func (g *Gateway) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return exec(ctx, g, "update_profile", func(b Backend) error {
		return b.UpdateProfile(ctx, id, patch)
	})
}

func (g *Gateway) UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error) {
	return call(ctx, g, "upload_audio", func(b Backend) (string, error) {
		return b.UploadAudio(ctx, file, ownerID)
	})
}

func (g *Gateway) UploadAvatar(ctx context.Context, file models.File, ownerID string) (string, error) {
	return call(ctx, g, "upload_avatar", func(b Backend) (string, error) {
		return b.UploadAvatar(ctx, file, ownerID)
	})
}

func (g *Gateway) Watch(ctx context.Context, table, filter string, fn func(supabase.Change)) (func(), error) {
	return call(ctx, g, "watch", func(b Backend) (func(), error) {
		return b.Watch(ctx, table, filter, fn)
	})
}

var _ Backend = (*Gateway)(nil)
