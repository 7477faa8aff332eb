package player

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/syncmaster/internal/models"
)

// recordingMedia records commands and fails Load for URLs listed in bad.
type recordingMedia struct {
	loaded []string
	seeks  []time.Duration
	volume float64
	bad    map[string]bool
}

func (m *recordingMedia) Load(url string) error {
	m.loaded = append(m.loaded, url)
	if m.bad[url] {
		return errors.New("403 access denied")
	}
	return nil
}
func (m *recordingMedia) Play() error  { return nil }
func (m *recordingMedia) Pause() error { return nil }
func (m *recordingMedia) Seek(pos time.Duration) error {
	m.seeks = append(m.seeks, pos)
	return nil
}
func (m *recordingMedia) SetVolume(v float64) error {
	m.volume = v
	return nil
}

func queue(n int) []models.Track {
	tracks := make([]models.Track, n)
	for i := range tracks {
		tracks[i] = models.Track{
			ID:       fmt.Sprintf("t%d", i),
			Title:    fmt.Sprintf("Track %d", i),
			AudioURL: fmt.Sprintf("https://cdn.example.com/audio/t%d.mp3", i),
		}
	}
	return tracks
}

func TestPlay(t *testing.T) {
	media := &recordingMedia{}
	p := New(media)
	tracks := queue(3)

	require.NoError(t, p.Play(tracks[1], tracks))
	s := p.State()
	assert.True(t, s.IsPlaying)
	assert.Equal(t, "t1", s.CurrentTrack.ID)
	assert.Equal(t, 1, s.QueueIndex)
	assert.Len(t, s.Queue, 3)
	assert.Equal(t, []string{tracks[1].AudioURL}, media.loaded)

	// Same track toggles.
	require.NoError(t, p.Play(tracks[1], tracks))
	assert.False(t, p.State().IsPlaying)
	require.NoError(t, p.Play(tracks[1], tracks))
	assert.True(t, p.State().IsPlaying)
	assert.Len(t, media.loaded, 1)
}

func TestPlay_TrackOutsideView(t *testing.T) {
	p := New(nil)
	stray := models.Track{ID: "x", AudioURL: "https://cdn.example.com/x.mp3"}

	require.NoError(t, p.Play(stray, queue(3)))
	s := p.State()
	assert.Equal(t, []models.Track{stray}, s.Queue)
	assert.Equal(t, 0, s.QueueIndex)
}

func TestOnEnded(t *testing.T) {
	tests := []struct {
		name        string
		loop        LoopMode
		start       int
		wantTrack   string
		wantPlaying bool
	}{
		{"loop off stops at end of queue", LoopOff, 2, "t2", false},
		{"loop all wraps to first", LoopAll, 2, "t0", true},
		{"loop one repeats", LoopOne, 2, "t2", true},
		{"loop off advances mid queue", LoopOff, 0, "t1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := &recordingMedia{}
			p := New(media)
			p.SetLoop(tt.loop)
			tracks := queue(3)
			require.NoError(t, p.Play(tracks[tt.start], tracks))
			p.OnTimeTick(90*time.Second, 90*time.Second)

			require.NoError(t, p.OnEnded())

			s := p.State()
			assert.Equal(t, tt.wantTrack, s.CurrentTrack.ID)
			assert.Equal(t, tt.wantPlaying, s.IsPlaying)
			if tt.loop == LoopOne {
				assert.Zero(t, s.CurrentTime)
				assert.Equal(t, []time.Duration{0}, media.seeks)
			}
		})
	}
}

func TestAdvance_ManualWrapsWithLoopOff(t *testing.T) {
	p := New(nil)
	tracks := queue(3)
	require.NoError(t, p.Play(tracks[2], tracks))

	require.NoError(t, p.Advance(false))
	s := p.State()
	assert.Equal(t, 0, s.QueueIndex)
	assert.True(t, s.IsPlaying)
}

func TestAdvance_EmptyQueue(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Advance(true))
	require.NoError(t, p.Previous())
	assert.Nil(t, p.State().CurrentTrack)
}

// Previous goes back within the first RestartThreshold of a track and
// restarts it after that. A restart at 2s and a step back at 5s would be the
// inverse mapping; these cases pin the direction.
func TestPrevious(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		wantTrack string
		wantTime  time.Duration
	}{
		{"early goes back", 2 * time.Second, "t0", 0},
		{"at threshold goes back", RestartThreshold, "t0", 0},
		{"late restarts", 5 * time.Second, "t1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(nil)
			tracks := queue(3)
			require.NoError(t, p.Play(tracks[1], tracks))
			p.OnTimeTick(tt.elapsed, time.Minute)

			require.NoError(t, p.Previous())

			s := p.State()
			assert.Equal(t, tt.wantTrack, s.CurrentTrack.ID)
			assert.Equal(t, tt.wantTime, s.CurrentTime)
		})
	}
}

func TestPrevious_WrapsToLast(t *testing.T) {
	p := New(nil)
	tracks := queue(3)
	require.NoError(t, p.Play(tracks[0], tracks))

	require.NoError(t, p.Previous())
	assert.Equal(t, 2, p.State().QueueIndex)
}

func TestSeekDragTakesPrecedence(t *testing.T) {
	media := &recordingMedia{}
	p := New(media)
	tracks := queue(1)
	require.NoError(t, p.Play(tracks[0], tracks))
	p.OnTimeTick(10*time.Second, time.Minute)

	p.BeginSeek()
	p.DragSeek(40 * time.Second)
	p.OnTimeTick(11*time.Second, time.Minute)
	assert.Equal(t, 40*time.Second, p.State().CurrentTime)

	require.NoError(t, p.EndSeek(45*time.Second))
	assert.Equal(t, []time.Duration{45 * time.Second}, media.seeks)

	p.OnTimeTick(46*time.Second, time.Minute)
	assert.Equal(t, 46*time.Second, p.State().CurrentTime)
}

func TestMuteRoundTrip(t *testing.T) {
	media := &recordingMedia{}
	p := New(media)

	require.NoError(t, p.SetVolume(0.6))
	require.NoError(t, p.ToggleMute())
	assert.Zero(t, p.State().Volume)
	assert.True(t, p.State().Muted)

	require.NoError(t, p.ToggleMute())
	assert.Equal(t, 0.6, p.State().Volume)
	assert.Equal(t, 0.6, media.volume)
}

func TestSetVolume_Clamps(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.SetVolume(1.7))
	assert.Equal(t, 1.0, p.State().Volume)
	require.NoError(t, p.SetVolume(-2))
	assert.Equal(t, 0.0, p.State().Volume)
}

func TestCycleLoop(t *testing.T) {
	p := New(nil)
	assert.Equal(t, LoopAll, p.CycleLoop())
	assert.Equal(t, LoopOne, p.CycleLoop())
	assert.Equal(t, LoopOff, p.CycleLoop())
}

func TestPlaybackErrorStops(t *testing.T) {
	tracks := queue(2)
	media := &recordingMedia{bad: map[string]bool{tracks[1].AudioURL: true}}
	p := New(media)

	require.NoError(t, p.Play(tracks[0], tracks))
	err := p.Advance(false)
	require.ErrorIs(t, err, ErrPlayback)

	var d Diagnostic
	require.ErrorAs(t, err, &d)
	assert.Equal(t, "t1", d.TrackID)
	assert.Contains(t, d.Hint, "bucket is public")
	assert.False(t, p.State().IsPlaying)
	assert.Len(t, media.loaded, 2, "a failed load is not retried")
}

func TestOnError_Hints(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"", "no audio file"},
		{"file:///tmp/media/a.mp3", "saved offline"},
		{"not a url", "malformed"},
		{"https://x.supabase.co/storage/v1/object/public/audio/a.mp3", "bucket is public"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			p := New(nil)
			track := models.Track{ID: "a", AudioURL: tt.url}
			require.NoError(t, p.Play(track, nil))

			d := p.OnError(errors.New("MEDIA_ERR_SRC_NOT_SUPPORTED"))
			assert.Contains(t, d.Hint, tt.want)
			assert.Equal(t, "MEDIA_ERR_SRC_NOT_SUPPORTED", d.Message)
			assert.False(t, p.State().IsPlaying)
		})
	}
}

func TestQueueIndexStaysInBounds(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("queue index stays within the queue", prop.ForAll(
		func(size, start int, ops []int) bool {
			p := New(nil)
			tracks := queue(size)
			if err := p.Play(tracks[start%size], tracks); err != nil {
				return false
			}
			for _, op := range ops {
				switch op % 6 {
				case 0:
					_ = p.Advance(true)
				case 1:
					_ = p.Advance(false)
				case 2:
					_ = p.Previous()
				case 3:
					_ = p.OnEnded()
				case 4:
					p.CycleLoop()
				case 5:
					p.OnTimeTick(time.Duration(op)*time.Second, time.Minute)
				}
				s := p.State()
				if s.QueueIndex < 0 || s.QueueIndex >= len(s.Queue) {
					return false
				}
				if s.CurrentTrack.ID != s.Queue[s.QueueIndex].ID {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 7),
		gen.SliceOf(gen.IntRange(0, 120)),
	))

	properties.TestingRun(t)
}
