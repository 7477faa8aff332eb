// Package localstore is the degraded-mode fallback store. It keeps every
// collection in one serialized blob: each mutation reads the whole blob,
// edits it in memory, writes it back, and then signals every listener
// synchronously. It has no cross-process consistency and is never reconciled
// with the remote.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/models"
)

// Storage keys.
const (
	DefaultKey        = "syncmaster_db"
	DefaultSessionKey = "syncmaster_mock_session"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Blob is the serialized shape of the store.
type Blob struct {
	Users        map[string]models.Profile `json:"users"`
	Tracks       []models.Track            `json:"tracks"`
	Applications []models.Application      `json:"applications"`
	CurrentUser  *models.Profile           `json:"currentUser"`
}

func emptyBlob() Blob {
	return Blob{
		Users:        map[string]models.Profile{},
		Tracks:       []models.Track{},
		Applications: []models.Application{},
	}
}

// Store is the fallback store. The zero value is not usable; use New.
type Store struct {
	backend    Backend
	key        string
	sessionKey string
	log        zerolog.Logger

	// mu serializes read-modify-write cycles.
	mu sync.Mutex

	lmu       sync.Mutex
	listeners map[uint64]func()
	nextID    uint64
}

// Option configures a Store.
type Option func(*Store)

// WithKeys overrides the blob and mock session keys.
func WithKeys(key, sessionKey string) Option {
	return func(s *Store) {
		s.key = key
		s.sessionKey = sessionKey
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		key:        DefaultKey,
		sessionKey: DefaultSessionKey,
		log:        zerolog.Nop(),
		listeners:  make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds the backend named by kind and wraps it in a Store.
// path is the directory (file) or database file (sqlite); empty means the
// user config directory.
func Open(kind, path, redisAddr, redisKey string, opts ...Option) (*Store, error) {
	var backend Backend
	switch kind {
	case "memory":
		backend = NewMemoryBackend()
	case "file", "":
		if path != "" {
			backend = NewFileBackend(path)
			break
		}
		fb, err := DefaultFileBackend()
		if err != nil {
			return nil, err
		}
		backend = fb
	case "sqlite":
		if path == "" {
			fb, err := DefaultFileBackend()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(fb.Dir(), "fallback.db")
		}
		sb, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		backend = sb
	case "redis":
		backend = NewRedisBackend(redis.NewClient(&redis.Options{Addr: redisAddr}), redisKey)
	default:
		return nil, fmt.Errorf("unknown fallback backend %q", kind)
	}
	return New(backend, opts...), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Listen registers fn to run after every mutation. fn runs synchronously on
// the mutating goroutine, after the store lock is released, so it may read the
// store. The returned cancel func is idempotent.
func (s *Store) Listen(fn func()) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// ListenerCount returns the number of registered listeners.
func (s *Store) ListenerCount() int {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return len(s.listeners)
}

func (s *Store) notify() {
	s.lmu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) load(ctx context.Context) (Blob, error) {
	data, err := s.backend.Load(ctx, s.key)
	if err != nil {
		return Blob{}, fmt.Errorf("loading fallback store: %w", err)
	}
	blob := emptyBlob()
	if len(data) == 0 {
		return blob, nil
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		// A corrupt blob is discarded rather than blocking the fallback path.
		s.log.Warn().Err(err).Msg("fallback store is corrupt, starting empty")
		return emptyBlob(), nil
	}
	if blob.Users == nil {
		blob.Users = map[string]models.Profile{}
	}
	return blob, nil
}

// Snapshot returns the whole blob.
func (s *Store) Snapshot(ctx context.Context) (Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// mutate runs fn on the loaded blob and writes the result back. Listeners
// are notified only when fn and the write succeed.
func (s *Store) mutate(ctx context.Context, fn func(*Blob) error) error {
	s.mu.Lock()
	blob, err := s.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(&blob); err != nil {
		s.mu.Unlock()
		return err
	}
	data, err := json.Marshal(blob)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encoding fallback store: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("saving fallback store: %w", err)
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Reset clears every collection.
func (s *Store) Reset(ctx context.Context) error {
	return s.mutate(ctx, func(b *Blob) error {
		*b = emptyBlob()
		return nil
	})
}

// User returns the stored profile with id.
func (s *Store) User(ctx context.Context, id string) (*models.Profile, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := blob.Users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// UserByEmail returns the stored profile with email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.Profile, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range blob.Users {
		if p.Email == email {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// Users returns every stored profile.
func (s *Store) Users(ctx context.Context) (map[string]models.Profile, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return blob.Users, nil
}

// SaveUser inserts or replaces a profile.
func (s *Store) SaveUser(ctx context.Context, p models.Profile) error {
	return s.mutate(ctx, func(b *Blob) error {
		b.Users[p.ID] = p
		if b.CurrentUser != nil && b.CurrentUser.ID == p.ID {
			cp := p
			b.CurrentUser = &cp
		}
		return nil
	})
}

// UpdateUser applies patch to the stored profile.
func (s *Store) UpdateUser(ctx context.Context, id string, patch models.ProfilePatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(b *Blob) error {
		p, ok := b.Users[id]
		if !ok {
			return ErrNotFound
		}
		patch.Apply(&p)
		b.Users[id] = p
		if b.CurrentUser != nil && b.CurrentUser.ID == id {
			cp := p
			b.CurrentUser = &cp
		}
		return nil
	})
}

// CurrentUser returns the signed-in offline user, or nil.
func (s *Store) CurrentUser(ctx context.Context) (*models.Profile, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return blob.CurrentUser, nil
}

// SetCurrentUser sets or, with nil, clears the current user.
func (s *Store) SetCurrentUser(ctx context.Context, p *models.Profile) error {
	return s.mutate(ctx, func(b *Blob) error {
		if p == nil {
			b.CurrentUser = nil
			return nil
		}
		cp := *p
		b.CurrentUser = &cp
		return nil
	})
}

// Tracks returns the tracks owned by ownerID in insertion order. An empty
// ownerID returns every track.
func (s *Store) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Track, 0, len(blob.Tracks))
	for _, t := range blob.Tracks {
		if ownerID == "" || t.UserID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Track returns one track by id.
func (s *Store) Track(ctx context.Context, id string) (*models.Track, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range blob.Tracks {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// AddTrack stores t under a freshly generated id and returns the stored copy.
// Any id on t is ignored, so two rapid adds never overwrite each other.
func (s *Store) AddTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	t.ID = uuid.NewString()
	if t.UploadDate == "" {
		t.UploadDate = models.Today()
	}
	t.Tags = models.NormalizeTags(t.Tags)

	err := s.mutate(ctx, func(b *Blob) error {
		b.Tracks = append(b.Tracks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTrack applies patch to the track with id.
func (s *Store) UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(b *Blob) error {
		for i := range b.Tracks {
			if b.Tracks[i].ID == id {
				patch.Apply(&b.Tracks[i])
				b.Tracks[i].Tags = models.NormalizeTags(b.Tracks[i].Tags)
				return nil
			}
		}
		return ErrNotFound
	})
}

// Applications returns the applications owned by ownerID. An empty ownerID
// returns every application.
func (s *Store) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Application, 0, len(blob.Applications))
	for _, a := range blob.Applications {
		if ownerID == "" || a.UserID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ApplicationsForBriefs returns every application against the given briefs.
func (s *Store) ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	blob, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Application, 0)
	for _, a := range blob.Applications {
		if slices.Contains(briefIDs, a.BriefID) {
			out = append(out, a)
		}
	}
	return out, nil
}

// AddApplication stores a under a freshly generated id.
func (s *Store) AddApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	a.ID = uuid.NewString()
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	if a.SubmittedDate == "" {
		a.SubmittedDate = models.Today()
	}

	err := s.mutate(ctx, func(b *Blob) error {
		b.Applications = append(b.Applications, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateApplicationStatus moves a pending application to a terminal status.
func (s *Store) UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error {
	return s.mutate(ctx, func(b *Blob) error {
		for i := range b.Applications {
			if b.Applications[i].ID != id {
				continue
			}
			if !b.Applications[i].Status.CanTransition(status) {
				return models.Validationf("cannot move application from %q to %q", b.Applications[i].Status, status)
			}
			b.Applications[i].Status = status
			return nil
		}
		return ErrNotFound
	})
}

// MockSession returns the offline session, or nil when signed out.
func (s *Store) MockSession(ctx context.Context) (*models.Session, error) {
	data, err := s.backend.Load(ctx, s.sessionKey)
	if err != nil {
		return nil, fmt.Errorf("loading mock session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing mock session: %w", err)
	}
	return &session, nil
}

// SetMockSession stores the offline session.
func (s *Store) SetMockSession(ctx context.Context, session models.Session) error {
	session.Offline = true
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding mock session: %w", err)
	}
	if err := s.backend.Save(ctx, s.sessionKey, data); err != nil {
		return fmt.Errorf("saving mock session: %w", err)
	}
	return nil
}

// ClearMockSession removes the offline session.
func (s *Store) ClearMockSession(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.sessionKey); err != nil {
		return fmt.Errorf("clearing mock session: %w", err)
	}
	return nil
}
