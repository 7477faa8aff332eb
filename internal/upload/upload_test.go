package upload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/localstore"
	"github.com/justestif/syncmaster/internal/models"
)

// stubStore wraps the offline backend, counting calls and injecting failures.
type stubStore struct {
	*gateway.Local

	mu        sync.Mutex
	uploads   int
	inserts   int
	uploadErr error
	delay     time.Duration
}

func newStubStore(t *testing.T) *stubStore {
	t.Helper()
	store := localstore.New(localstore.NewMemoryBackend())
	return &stubStore{Local: gateway.NewLocal(store, gateway.WithMediaDir(t.TempDir()))}
}

func (s *stubStore) UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error) {
	s.mu.Lock()
	s.uploads++
	err := s.uploadErr
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err != nil {
		return "", err
	}
	return s.Local.UploadAudio(ctx, file, ownerID)
}

func (s *stubStore) InsertApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	s.mu.Lock()
	s.inserts++
	s.mu.Unlock()
	return s.Local.InsertApplication(ctx, a)
}

type phaseRecorder struct {
	mu       sync.Mutex
	phases   []Phase
	percents []int
	sim      bool
}

func (r *phaseRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.phases); n == 0 || r.phases[n-1] != p.Phase {
		r.phases = append(r.phases, p.Phase)
	}
	if p.Phase == PhaseUploading {
		r.percents = append(r.percents, p.Percent)
	}
	r.sim = r.sim || p.Simulated
}

func audioFile(body []byte) models.File {
	return models.File{
		Name:        "night drive.mp3",
		ContentType: "audio/mpeg",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	}
}

var meta = Metadata{
	Title:  "Night Drive",
	Artist: "Nova",
	Genre:  "Synthwave",
	Tags:   []string{" Retro", "", "Driving "},
}

func TestSubmitNewTrack(t *testing.T) {
	ctx := context.Background()
	store := newStubStore(t)
	rec := &phaseRecorder{}
	flow := New(store, WithProgress(rec.record))

	body := bytes.Repeat([]byte("a"), 64*1024)
	track, err := flow.SubmitNewTrack(ctx, audioFile(body), meta, "u1")
	require.NoError(t, err)

	assert.NotEmpty(t, track.ID)
	assert.Equal(t, "u1", track.UserID)
	assert.Equal(t, []string{"Retro", "Driving"}, track.Tags)
	assert.Equal(t, models.Today(), track.UploadDate)
	assert.Contains(t, track.AudioURL, "file://")

	assert.Equal(t, []Phase{PhaseUploading, PhaseProcessing, PhaseSuccess}, rec.phases)
	assert.False(t, rec.sim)
	assert.True(t, len(rec.percents) > 1)
	assert.IsNonDecreasing(t, rec.percents)
	assert.Equal(t, PhaseSuccess, flow.Progress().Phase)

	// The returned track is immediately usable for an application.
	_, err = flow.SubmitApplication(ctx, "b1", track.ID, "u1")
	require.NoError(t, err)
}

func TestSubmitNewTrack_ValidatesBeforeIO(t *testing.T) {
	tests := []struct {
		name  string
		file  models.File
		meta  Metadata
		owner string
	}{
		{"no file", models.File{}, meta, "u1"},
		{"no title", audioFile([]byte("x")), Metadata{Artist: "Nova"}, "u1"},
		{"no artist", audioFile([]byte("x")), Metadata{Title: "T"}, "u1"},
		{"bad bpm", audioFile([]byte("x")), Metadata{Title: "T", Artist: "A", BPM: new(int)}, "u1"},
		{"signed out", audioFile([]byte("x")), meta, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStore(t)
			rec := &phaseRecorder{}
			flow := New(store, WithProgress(rec.record))

			_, err := flow.SubmitNewTrack(context.Background(), tt.file, tt.meta, tt.owner)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Zero(t, store.uploads)
			assert.Empty(t, rec.phases)
		})
	}
}

func TestSubmitNewTrack_FailureReturnsToIdle(t *testing.T) {
	store := newStubStore(t)
	store.uploadErr = errors.New("storage misconfigured")
	rec := &phaseRecorder{}
	flow := New(store, WithProgress(rec.record))

	_, err := flow.SubmitNewTrack(context.Background(), audioFile([]byte("x")), meta, "u1")
	require.Error(t, err)
	assert.Equal(t, []Phase{PhaseUploading, PhaseIdle}, rec.phases)
	assert.Equal(t, PhaseIdle, flow.Progress().Phase)

	tracks, err := store.Tracks(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestSubmitNewTrack_SimulatedProgressWithoutSize(t *testing.T) {
	store := newStubStore(t)
	store.delay = 60 * time.Millisecond
	rec := &phaseRecorder{}
	flow := New(store, WithProgress(rec.record), WithTick(5*time.Millisecond))

	file := audioFile([]byte("unknown length"))
	file.Size = 0
	_, err := flow.SubmitNewTrack(context.Background(), file, meta, "u1")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.sim)
	for _, pct := range rec.percents {
		assert.LessOrEqual(t, pct, 90)
	}
}

func TestSubmitApplication_Ownership(t *testing.T) {
	ctx := context.Background()
	store := newStubStore(t)
	flow := New(store)

	mine, err := store.InsertTrack(ctx, models.Track{UserID: "u1", Title: "Mine"})
	require.NoError(t, err)
	theirs, err := store.InsertTrack(ctx, models.Track{UserID: "u2", Title: "Theirs"})
	require.NoError(t, err)

	_, err = flow.SubmitApplication(ctx, "b1", theirs.ID, "u1")
	assert.ErrorIs(t, err, models.ErrTrackNotOwned)
	_, err = flow.SubmitApplication(ctx, "b1", "missing", "u1")
	assert.ErrorIs(t, err, models.ErrTrackNotOwned)
	assert.Zero(t, store.inserts)

	app, err := flow.SubmitApplication(ctx, "b1", mine.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, app.Status)

	apps, err := store.Applications(ctx, "u1")
	require.NoError(t, err)
	for _, a := range apps {
		owned, err := store.Track(ctx, a.TrackID)
		require.NoError(t, err)
		assert.Equal(t, a.UserID, owned.UserID)
	}
}

func TestSubmitApplication_DoesNotDeduplicate(t *testing.T) {
	ctx := context.Background()
	store := newStubStore(t)
	flow := New(store)
	track, err := store.InsertTrack(ctx, models.Track{UserID: "u1", Title: "Mine"})
	require.NoError(t, err)

	_, err = flow.SubmitApplication(ctx, "b1", track.ID, "u1")
	require.NoError(t, err)
	_, err = flow.SubmitApplication(ctx, "b1", track.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.inserts)
}

func TestSubmitNewTrackAndApply(t *testing.T) {
	store := newStubStore(t)
	flow := New(store)

	track, app, err := flow.SubmitNewTrackAndApply(context.Background(), audioFile([]byte("x")), meta, "u1", "b9")
	require.NoError(t, err)
	assert.Equal(t, track.ID, app.TrackID)
	assert.Equal(t, "b9", app.BriefID)

	_, _, err = flow.SubmitNewTrackAndApply(context.Background(), audioFile([]byte("x")), meta, "u1", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

// id3v23 builds a minimal ID3v2.3 tag with text frames followed by audio.
func id3v23(frames map[string]string, audio []byte) []byte {
	var body bytes.Buffer
	for _, id := range []string{"TIT2", "TPE1", "TCON"} {
		text, ok := frames[id]
		if !ok {
			continue
		}
		body.WriteString(id)
		_ = binary.Write(&body, binary.BigEndian, uint32(len(text)+1))
		body.Write([]byte{0, 0, 0})
		body.WriteString(text)
	}

	size := body.Len()
	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	out.Write([]byte{
		byte(size >> 21 & 0x7f),
		byte(size >> 14 & 0x7f),
		byte(size >> 7 & 0x7f),
		byte(size & 0x7f),
	})
	out.Write(body.Bytes())
	out.Write(audio)
	return out.Bytes()
}

func TestPrefill(t *testing.T) {
	data := id3v23(map[string]string{
		"TIT2": "Tagged Title",
		"TPE1": "Tagged Artist",
		"TCON": "Ambient",
	}, bytes.Repeat([]byte{0xff}, 128))
	file := audioFile(data)

	got, err := Prefill(file, Metadata{Artist: "Typed Artist"})
	require.NoError(t, err)
	assert.Equal(t, "Tagged Title", got.Title)
	assert.Equal(t, "Typed Artist", got.Artist, "typed values win")
	assert.Equal(t, "Ambient", got.Genre)
	assert.Equal(t, []string{"Ambient"}, got.Tags)

	pos, err := file.Body.Seek(0, 1)
	require.NoError(t, err)
	assert.Zero(t, pos, "file is rewound for upload")
}

func TestPrefill_NoTags(t *testing.T) {
	file := audioFile(bytes.Repeat([]byte{0}, 64))
	file.Name = "02_Late_Night.wav"

	got, err := Prefill(file, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "02 Late Night", got.Title)
	assert.Empty(t, got.Artist)
}
