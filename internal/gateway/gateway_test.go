package gateway

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/syncmaster/internal/localstore"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

var errDown = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// fakeRemote is a remote backed by its own in-memory store. Individual
// collections can be taken offline, and changes are pushed by the test.
type fakeRemote struct {
	*Local

	mu       sync.Mutex
	down     map[string]bool
	fetches  map[string]int
	watchers map[int]func(supabase.Change)
	nextID   int
	stops    atomic.Int32
	block    chan struct{}
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	return &fakeRemote{
		Local:    NewLocal(localstore.New(localstore.NewMemoryBackend()), WithMediaDir(t.TempDir())),
		down:     map[string]bool{},
		fetches:  map[string]int{},
		watchers: map[int]func(supabase.Change){},
	}
}

func (f *fakeRemote) setDown(table string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[table] = true
}

func (f *fakeRemote) hit(table string) error {
	f.mu.Lock()
	f.fetches[table]++
	down := f.down[table]
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if down {
		return errDown
	}
	return nil
}

func (f *fakeRemote) fetchCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[table]
}

func (f *fakeRemote) Briefs(ctx context.Context) ([]models.Brief, error) {
	if err := f.hit("briefs"); err != nil {
		return nil, err
	}
	return []models.Brief{{ID: "remote-brief", Title: "Remote"}}, nil
}

func (f *fakeRemote) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	if err := f.hit("tracks"); err != nil {
		return nil, err
	}
	return f.Local.Tracks(ctx, ownerID)
}

func (f *fakeRemote) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	if err := f.hit("applications"); err != nil {
		return nil, err
	}
	return f.Local.Applications(ctx, ownerID)
}

func (f *fakeRemote) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if err := f.hit("auth"); err != nil {
		return nil, err
	}
	return nil, supabase.ErrInvalidCredentials
}

func (f *fakeRemote) Watch(_ context.Context, _, _ string, fn func(supabase.Change)) (func(), error) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()
	return func() {
		f.stops.Add(1)
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}, nil
}

func (f *fakeRemote) push(n int) {
	f.mu.Lock()
	fns := make([]func(supabase.Change), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for i := 0; i < n; i++ {
		for _, fn := range fns {
			fn(supabase.Change{Type: "INSERT"})
		}
	}
}

func (f *fakeRemote) watcherCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

func newLocal(t *testing.T) *Local {
	t.Helper()
	return NewLocal(localstore.New(localstore.NewMemoryBackend()), WithMediaDir(t.TempDir()))
}

func TestIsNetwork(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"not configured", supabase.ErrNotConfigured, true},
		{"dial", errDown, true},
		{"pg connect", &pgconn.ConnectError{}, true},
		{"dns", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("dial tcp: lookup x: no such host")}, true},
		{"message", errors.New("read: connection reset by peer"), true},
		{"bad credentials", supabase.ErrInvalidCredentials, false},
		{"validation", models.Validationf("title is required"), false},
		{"storage", supabase.ErrStorageMisconfigured, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetwork(tt.err))
		})
	}
}

func TestGateway_FallsBackOnlyOnNetworkErrors(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	local := newLocal(t)
	g := New(remote, local)

	// Auth errors come back as they are.
	_, err := g.SignIn(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, supabase.ErrInvalidCredentials)

	// With auth down, offline sign-in only knows local accounts.
	remote.setDown("auth")
	_, err = g.SignIn(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, supabase.ErrInvalidCredentials)

	_, err = local.SignUp(ctx, "a@b.c", "pw", "Ada", models.RoleArtist)
	require.NoError(t, err)
	session, err := g.SignIn(ctx, "a@b.c", "pw")
	require.NoError(t, err)
	assert.True(t, session.Offline)
}

func TestGateway_FallbackIsolation(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	local := newLocal(t)
	g := New(remote, local)

	_, err := local.InsertTrack(ctx, models.Track{UserID: "u1", Title: "Offline take"})
	require.NoError(t, err)
	_, err = remote.Local.InsertApplication(ctx, models.Application{UserID: "u1", BriefID: "b1", TrackID: "t1"})
	require.NoError(t, err)

	remote.setDown("tracks")

	tracks, err := g.Tracks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "Offline take", tracks[0].Title)

	briefs, err := g.Briefs(ctx)
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, "remote-brief", briefs[0].ID)

	apps, err := g.Applications(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, apps, 1, "applications should still come from the remote")

	assert.Equal(t, 1, remote.fetchCount("tracks"))
	assert.Equal(t, 1, remote.fetchCount("briefs"))
	assert.Equal(t, 1, remote.fetchCount("applications"))
}

func TestGateway_NoRemote(t *testing.T) {
	g := New(nil, newLocal(t))
	briefs, err := g.Briefs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SeedBriefs(), briefs)
}

func TestGateway_ValidatesBeforeIO(t *testing.T) {
	remote := newFakeRemote(t)
	g := New(remote, newLocal(t))

	_, err := g.SignIn(context.Background(), "", "")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, remote.fetchCount("auth"))
}

func TestGateway_ForOfflineSessionUsesLocal(t *testing.T) {
	remote := newFakeRemote(t)
	g := New(remote, newLocal(t)).ForSession(&models.Session{Offline: true})

	assert.Nil(t, g.Remote())
	_, err := g.Briefs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remote.fetchCount("briefs"))
}

func TestGateway_DetachedDropsSession(t *testing.T) {
	client := supabase.New(supabase.Config{URL: "http://127.0.0.1:1", AnonKey: "anon"})
	t.Cleanup(func() { _ = client.Close() })

	user := New(NewRemote(client, nil), newLocal(t)).
		ForSession(&models.Session{AccessToken: "user-token", User: models.AuthUser{ID: "u1"}})
	detached := user.Detached()

	userRemote, ok := user.Remote().(*Remote)
	require.True(t, ok)
	detachedRemote, ok := detached.Remote().(*Remote)
	require.True(t, ok)

	assert.NotSame(t, userRemote.Client(), detachedRemote.Client())
	assert.Nil(t, detachedRemote.Client().CurrentSession())
	require.NotNil(t, userRemote.Client().CurrentSession())
	assert.Equal(t, "user-token", userRemote.Client().CurrentSession().AccessToken)
	assert.Same(t, user.Local(), detached.Local())
}

func TestSubscribe_UnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("remote", func(t *testing.T) {
		remote := newFakeRemote(t)
		g := New(remote, newLocal(t))

		unsubscribe, err := g.SubscribeBriefs(ctx, func([]models.Brief) {})
		require.NoError(t, err)
		assert.Equal(t, 1, remote.watcherCount())

		unsubscribe()
		unsubscribe()
		assert.Equal(t, 0, remote.watcherCount())
		assert.Equal(t, int32(1), remote.stops.Load())
	})

	t.Run("local", func(t *testing.T) {
		local := newLocal(t)
		g := New(nil, local)

		unsubscribe, err := g.SubscribeTracks(ctx, "u1", func([]models.Track) {})
		require.NoError(t, err)
		assert.Equal(t, 1, local.Store().ListenerCount())

		unsubscribe()
		unsubscribe()
		assert.Equal(t, 0, local.Store().ListenerCount())
	})
}

func TestSubscribe_LocalDeliversSynchronously(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	g := New(nil, local)

	var got [][]models.Track
	unsubscribe, err := g.SubscribeTracks(ctx, "u1", func(tracks []models.Track) {
		got = append(got, tracks)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.Len(t, got, 1)
	assert.Empty(t, got[0])

	_, err = g.InsertTrack(ctx, models.Track{UserID: "u1", Title: "One"})
	require.NoError(t, err)
	_, err = g.InsertTrack(ctx, models.Track{UserID: "u2", Title: "Not mine"})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Len(t, got[1], 1)
	assert.Len(t, got[2], 1, "other owners' tracks are filtered out")

	unsubscribe()
	_, err = g.InsertTrack(ctx, models.Track{UserID: "u1", Title: "Two"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSubscribe_RemoteCoalescesChanges(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	g := New(remote, newLocal(t))

	deliveries := make(chan []models.Brief, 16)
	unsubscribe, err := g.SubscribeBriefs(ctx, func(b []models.Brief) { deliveries <- b })
	require.NoError(t, err)
	defer unsubscribe()
	<-deliveries

	// Hold the first refetch so the burst collapses behind it.
	block := make(chan struct{})
	remote.mu.Lock()
	remote.block = block
	remote.mu.Unlock()

	remote.push(1)
	require.Eventually(t, func() bool { return remote.fetchCount("briefs") == 2 }, time.Second, 5*time.Millisecond)
	remote.push(10)

	remote.mu.Lock()
	remote.block = nil
	remote.mu.Unlock()
	close(block)

	require.Eventually(t, func() bool { return len(deliveries) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, remote.fetchCount("briefs"))
	for len(deliveries) > 0 {
		assert.Equal(t, "remote-brief", (<-deliveries)[0].ID)
	}
}

func TestSubscribe_StaysOnAnsweringBackend(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	local := newLocal(t)
	g := New(remote, local)
	remote.setDown("tracks")

	var mu sync.Mutex
	var got [][]models.Track
	unsubscribe, err := g.SubscribeTracks(ctx, "u1", func(tracks []models.Track) {
		mu.Lock()
		got = append(got, tracks)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, 0, remote.watcherCount(), "no remote watch for a local subscription")
	assert.Equal(t, 1, local.Store().ListenerCount())

	_, err = local.InsertTrack(ctx, models.Track{UserID: "u1", Title: "Local"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "Local", got[1][0].Title)
}

func TestSubscribe_InitialFetchFails(t *testing.T) {
	remote := newFakeRemote(t)
	local := NewLocal(localstore.New(failingBackend{}))
	g := New(remote, local)
	remote.setDown("tracks")

	called := false
	_, err := g.SubscribeTracks(context.Background(), "u1", func([]models.Track) { called = true })
	assert.Error(t, err)
	assert.False(t, called)
}

func TestLocal_RapidSavesAreDistinct(t *testing.T) {
	ctx := context.Background()
	g := New(nil, newLocal(t))

	a, err := g.InsertTrack(ctx, models.Track{UserID: "u1", Title: "First"})
	require.NoError(t, err)
	b, err := g.InsertTrack(ctx, models.Track{UserID: "u1", Title: "Second"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	tracks, err := g.Tracks(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
}

func TestLocal_SignUpThenSignOut(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)

	session, err := local.SignUp(ctx, "sam@example.com", "pw", "Sam", models.RoleSupervisor)
	require.NoError(t, err)
	assert.True(t, session.Offline)

	_, err = local.SignUp(ctx, "sam@example.com", "pw", "Sam", models.RoleSupervisor)
	assert.ErrorIs(t, err, models.ErrValidation)

	current, err := local.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, session.User.ID, current.User.ID)

	require.NoError(t, local.SignOut(ctx))
	current, err = local.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestLocal_UploadAudio(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)

	var progress int64
	u, err := local.UploadAudio(ctx, models.File{
		Name:     "my song.mp3",
		Body:     bytes.NewReader([]byte("ID3 fake audio")),
		Progress: func(n int64) { progress = n },
	}, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(len("ID3 fake audio")), progress)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "file", parsed.Scheme)
	data, err := os.ReadFile(parsed.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3 fake audio", string(data))

	_, err = local.UploadAudio(ctx, models.File{}, "u1")
	assert.ErrorIs(t, err, models.ErrValidation)
}

type failingBackend struct{}

func (failingBackend) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}
func (failingBackend) Save(context.Context, string, []byte) error { return errors.New("disk on fire") }
func (failingBackend) Delete(context.Context, string) error       { return errors.New("disk on fire") }
func (failingBackend) Close() error                               { return nil }

func TestTrace(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	g := New(remote, newLocal(t))

	tr := &Trace{}
	assert.False(t, tr.Only(SourceRemote))
	assert.Equal(t, Source(""), tr.Source())

	_, err := g.Briefs(WithTrace(ctx, tr))
	require.NoError(t, err)
	assert.True(t, tr.Only(SourceRemote))
	assert.Equal(t, SourceRemote, tr.Source())

	remote.setDown("tracks")
	_, err = g.Tracks(WithTrace(ctx, tr), "u1")
	require.NoError(t, err)
	assert.False(t, tr.Only(SourceRemote))
	assert.False(t, tr.Only(SourceLocal))
	assert.Equal(t, Source(""), tr.Source(), "split answers have no single source")

	local := &Trace{}
	_, err = g.Tracks(WithTrace(ctx, local), "u1")
	require.NoError(t, err)
	assert.True(t, local.Only(SourceLocal))

	_, err = g.Briefs(ctx)
	require.NoError(t, err, "untraced calls are unaffected")
}
