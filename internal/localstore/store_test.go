package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/syncmaster/internal/models"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqliteBackend, err := OpenSQLite(filepath.Join(t.TempDir(), "fallback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteBackend.Close() })

	mr := miniredis.RunT(t)
	redisBackend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { _ = redisBackend.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   NewFileBackend(t.TempDir()),
		"sqlite": sqliteBackend,
		"redis":  redisBackend,
	}
}

func TestBackends_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.Load(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, b.Save(ctx, "k", []byte(`{"a":1}`)))
			require.NoError(t, b.Save(ctx, "k", []byte(`{"a":2}`)))
			got, err = b.Load(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(got))

			require.NoError(t, b.Delete(ctx, "k"))
			require.NoError(t, b.Delete(ctx, "k"))
			got, err = b.Load(ctx, "k")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1 := New(NewFileBackend(dir))
	_, err := s1.AddTrack(ctx, models.Track{UserID: "u1", Title: "One"})
	require.NoError(t, err)

	s2 := New(NewFileBackend(dir))
	tracks, err := s2.Tracks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "One", tracks[0].Title)
}

func TestStore_RapidAddsAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	a, err := s.AddTrack(ctx, models.Track{ID: "same", UserID: "u1", Title: "First"})
	require.NoError(t, err)
	b, err := s.AddTrack(ctx, models.Track{ID: "same", UserID: "u1", Title: "Second"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	tracks, err := s.Tracks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "First", tracks[0].Title)
	assert.Equal(t, "Second", tracks[1].Title)
}

func TestStore_ListenersAreSynchronous(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	var seen []int
	cancel := s.Listen(func() {
		tracks, err := s.Tracks(ctx, "u1")
		require.NoError(t, err)
		seen = append(seen, len(tracks))
	})

	_, err := s.AddTrack(ctx, models.Track{UserID: "u1", Title: "A"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, seen, "listener ran before AddTrack returned")

	cancel()
	cancel()
	assert.Equal(t, 0, s.ListenerCount())

	_, err = s.AddTrack(ctx, models.Track{UserID: "u1", Title: "B"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, seen)
}

func TestStore_FailedMutationDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())
	calls := 0
	s.Listen(func() { calls++ })

	title := "x"
	err := s.UpdateTrack(ctx, "nope", models.TrackPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, calls)
}

func TestStore_UpdateTrack(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())
	tr, err := s.AddTrack(ctx, models.Track{UserID: "u1", Title: "Old", AudioURL: "https://a"})
	require.NoError(t, err)

	title := "New"
	bpm := 95
	require.NoError(t, s.UpdateTrack(ctx, tr.ID, models.TrackPatch{Title: &title, BPM: &bpm, Tags: []string{" x ", ""}}))

	got, err := s.Track(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, 95, *got.BPM)
	assert.Equal(t, []string{"x"}, got.Tags)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "https://a", got.AudioURL)
}

func TestStore_Applications(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	a, err := s.AddApplication(ctx, models.Application{UserID: "u1", BriefID: "brief-1", TrackID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.NotEmpty(t, a.SubmittedDate)

	_, err = s.AddApplication(ctx, models.Application{UserID: "u2", BriefID: "brief-2", TrackID: "t2"})
	require.NoError(t, err)

	mine, err := s.Applications(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	forBrief, err := s.ApplicationsForBriefs(ctx, []string{"brief-2"})
	require.NoError(t, err)
	require.Len(t, forBrief, 1)
	assert.Equal(t, "u2", forBrief[0].UserID)

	require.NoError(t, s.UpdateApplicationStatus(ctx, a.ID, models.StatusShortlisted))
	err = s.UpdateApplicationStatus(ctx, a.ID, models.StatusAccepted)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	p := models.NewProfile("u1", "a@b.c", "Ada", models.RoleArtist)
	require.NoError(t, s.SaveUser(ctx, p))
	require.NoError(t, s.SetCurrentUser(ctx, &p))

	name := "Ada L."
	require.NoError(t, s.UpdateUser(ctx, "u1", models.ProfilePatch{Name: &name}))

	cur, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "Ada L.", cur.Name)

	byEmail, err := s.UserByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "u1", byEmail.ID)

	require.NoError(t, s.SetCurrentUser(ctx, nil))
	cur, err = s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestStore_CorruptBlobStartsEmpty(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.Save(ctx, DefaultKey, []byte("{not json")))

	s := New(b)
	tracks, err := s.Tracks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, tracks)

	_, err = s.AddTrack(ctx, models.Track{UserID: "u1", Title: "A"})
	require.NoError(t, err)
}

func TestStore_MockSession(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend())

	got, err := s.MockSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetMockSession(ctx, models.Session{User: models.AuthUser{ID: "u1", Email: "a@b.c"}}))
	got, err = s.MockSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Offline)
	assert.Equal(t, "u1", got.User.ID)

	require.NoError(t, s.ClearMockSession(ctx))
	got, err = s.MockSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		kind    string
		path    string
		wantErr bool
	}{
		{kind: "memory"},
		{kind: "file", path: t.TempDir()},
		{kind: "sqlite", path: filepath.Join(t.TempDir(), "x.db")},
		{kind: "redis"},
		{kind: "etcd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, err := Open(tt.kind, tt.path, mr.Addr(), "syncmaster")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()

			_, err = s.AddTrack(context.Background(), models.Track{UserID: "u1", Title: "A"})
			require.NoError(t, err)
		})
	}
}
