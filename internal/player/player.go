// Package player is the audio playback controller: one current track, a queue
// taken from the list the user played from, loop modes and volume. It drives
// a Media element and never retries a failed load on its own.
package player

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/models"
)

// RestartThreshold is how far into a track Previous restarts it instead of
// going back one.
const RestartThreshold = 3 * time.Second

// ErrPlayback wraps every media failure.
var ErrPlayback = errors.New("playback failed")

// LoopMode controls what happens at the end of a track.
type LoopMode string

const (
	LoopOff LoopMode = "off"
	LoopAll LoopMode = "all"
	LoopOne LoopMode = "one"
)

// Next returns the mode CycleLoop moves to.
func (m LoopMode) Next() LoopMode {
	switch m {
	case LoopOff:
		return LoopAll
	case LoopAll:
		return LoopOne
	default:
		return LoopOff
	}
}

// Media is the element that actually produces sound.
type Media interface {
	Load(url string) error
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	SetVolume(v float64) error
}

// NopMedia accepts every command.
type NopMedia struct{}

func (NopMedia) Load(string) error        { return nil }
func (NopMedia) Play() error              { return nil }
func (NopMedia) Pause() error             { return nil }
func (NopMedia) Seek(time.Duration) error { return nil }
func (NopMedia) SetVolume(float64) error  { return nil }

var _ Media = NopMedia{}

// State is a snapshot of the controller.
type State struct {
	CurrentTrack *models.Track  `json:"currentTrack"`
	IsPlaying    bool           `json:"isPlaying"`
	CurrentTime  time.Duration  `json:"currentTime"`
	Duration     time.Duration  `json:"duration"`
	Volume       float64        `json:"volume"`
	Muted        bool           `json:"muted"`
	LoopMode     LoopMode       `json:"loopMode"`
	Queue        []models.Track `json:"queue"`
	QueueIndex   int            `json:"queueIndex"`
	Seeking      bool           `json:"seeking"`
}

// Diagnostic explains a playback failure to the user.
type Diagnostic struct {
	TrackID string `json:"trackId,omitempty"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s", d.Message, d.Hint)
}

func (d Diagnostic) Unwrap() error {
	return ErrPlayback
}

// Player is safe for concurrent use.
type Player struct {
	mu    sync.Mutex
	media Media
	log   zerolog.Logger

	current    *models.Track
	playing    bool
	position   time.Duration
	duration   time.Duration
	volume     float64
	lastVolume float64
	loop       LoopMode
	queue      []models.Track
	index      int
	seeking    bool
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Player) {
		p.log = log
	}
}

// New creates a stopped player at full volume with looping off.
func New(media Media, opts ...Option) *Player {
	if media == nil {
		media = NopMedia{}
	}
	p := &Player{
		media:      media,
		log:        zerolog.Nop(),
		volume:     1,
		lastVolume: 1,
		loop:       LoopOff,
		index:      -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a copy of the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	var current *models.Track
	if p.current != nil {
		t := *p.current
		current = &t
	}
	return State{
		CurrentTrack: current,
		IsPlaying:    p.playing,
		CurrentTime:  p.position,
		Duration:     p.duration,
		Volume:       p.volume,
		Muted:        p.volume == 0,
		LoopMode:     p.loop,
		Queue:        slices.Clone(p.queue),
		QueueIndex:   p.index,
		Seeking:      p.seeking,
	}
}

// Play toggles play/pause when track is already current. Otherwise it makes
// track current, takes view as the queue and starts playing.
func (p *Player) Play(track models.Track, view []models.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.ID == track.ID {
		if p.playing {
			return p.pauseLocked()
		}
		return p.resumeLocked()
	}

	idx := slices.IndexFunc(view, func(t models.Track) bool { return t.ID == track.ID })
	if idx < 0 {
		p.queue = []models.Track{track}
		idx = 0
	} else {
		p.queue = slices.Clone(view)
	}
	return p.playAtLocked(idx)
}

// Pause stops playback, keeping the position.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	return p.pauseLocked()
}

func (p *Player) pauseLocked() error {
	p.playing = false
	if err := p.media.Pause(); err != nil {
		return p.diagnoseLocked(err)
	}
	return nil
}

func (p *Player) resumeLocked() error {
	if err := p.media.Play(); err != nil {
		return p.diagnoseLocked(err)
	}
	p.playing = true
	return nil
}

func (p *Player) playAtLocked(idx int) error {
	track := p.queue[idx]
	p.current = &track
	p.index = idx
	p.position = 0
	p.duration = 0
	p.seeking = false

	if err := p.media.Load(track.AudioURL); err != nil {
		return p.diagnoseLocked(err)
	}
	if err := p.media.Play(); err != nil {
		return p.diagnoseLocked(err)
	}
	p.playing = true
	p.log.Debug().Str("track_id", track.ID).Int("queue_index", idx).Msg("playing")
	return nil
}

func (p *Player) restartLocked() error {
	p.position = 0
	if err := p.media.Seek(0); err != nil {
		return p.diagnoseLocked(err)
	}
	if !p.playing {
		return p.resumeLocked()
	}
	return nil
}

// OnTimeTick records playback progress reported by the media element. Ticks
// are ignored while the user drags the seek control.
func (p *Player) OnTimeTick(elapsed, total time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seeking {
		return
	}
	p.position = elapsed
	p.duration = total
}

// BeginSeek marks the start of a seek drag.
func (p *Player) BeginSeek() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeking = true
}

// DragSeek moves the displayed position during a drag without seeking media.
func (p *Player) DragSeek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seeking {
		p.position = p.clampLocked(pos)
	}
}

// EndSeek finishes a drag by seeking the media to pos.
func (p *Player) EndSeek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeking = false
	p.position = p.clampLocked(pos)
	if p.current == nil {
		return nil
	}
	if err := p.media.Seek(p.position); err != nil {
		return p.diagnoseLocked(err)
	}
	return nil
}

func (p *Player) clampLocked(pos time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if p.duration > 0 && pos > p.duration {
		return p.duration
	}
	return pos
}

// OnEnded handles the media reaching the end of the current track.
func (p *Player) OnEnded() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	if p.loop == LoopOne {
		return p.restartLocked()
	}
	return p.advanceLocked(true)
}

// Advance moves to the next queued track. An automatic advance past the last
// track with looping off stops instead of wrapping.
func (p *Player) Advance(auto bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advanceLocked(auto)
}

func (p *Player) advanceLocked(auto bool) error {
	if len(p.queue) == 0 {
		return nil
	}
	if auto && p.loop == LoopOff && p.index == len(p.queue)-1 {
		return p.pauseLocked()
	}
	return p.playAtLocked((p.index + 1) % len(p.queue))
}

// Previous restarts the current track once it has played past
// RestartThreshold, and otherwise moves back one in the queue.
func (p *Player) Previous() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	if p.position > RestartThreshold {
		return p.restartLocked()
	}
	n := len(p.queue)
	return p.playAtLocked((p.index - 1 + n) % n)
}

// SetVolume sets the volume, clamped to [0, 1].
func (p *Player) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setVolumeLocked(v)
}

func (p *Player) setVolumeLocked(v float64) error {
	v = min(max(v, 0), 1)
	p.volume = v
	if v > 0 {
		p.lastVolume = v
	}
	if err := p.media.SetVolume(v); err != nil {
		return fmt.Errorf("setting volume: %w", err)
	}
	return nil
}

// ToggleMute mutes, or restores the volume in effect before muting.
func (p *Player) ToggleMute() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.volume > 0 {
		last := p.volume
		err := p.setVolumeLocked(0)
		p.lastVolume = last
		return err
	}
	return p.setVolumeLocked(p.lastVolume)
}

// CycleLoop moves off → all → one → off and returns the new mode.
func (p *Player) CycleLoop() LoopMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = p.loop.Next()
	return p.loop
}

// SetLoop sets the loop mode.
func (p *Player) SetLoop(m LoopMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = m
}

// Stop unloads the current track and clears the queue.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		_ = p.media.Pause()
	}
	p.current = nil
	p.playing = false
	p.position = 0
	p.duration = 0
	p.queue = nil
	p.index = -1
}

// OnError handles a failure reported by the media element: playback stops and
// the returned Diagnostic says what to check.
func (p *Player) OnError(err error) Diagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.diagnoseLocked(err)
}

func (p *Player) diagnoseLocked(err error) Diagnostic {
	p.playing = false

	d := Diagnostic{Message: "could not play track"}
	if err != nil {
		d.Message = err.Error()
	}
	if p.current != nil {
		d.TrackID = p.current.ID
		d.URL = p.current.AudioURL
	}
	d.Hint = hint(d.URL)

	p.log.Warn().Err(err).Str("track_id", d.TrackID).Str("url", d.URL).Msg("playback error")
	return d
}

func hint(audioURL string) string {
	if audioURL == "" {
		return "this track has no audio file; re-upload it"
	}
	u, err := url.Parse(audioURL)
	if err != nil || u.Scheme == "" {
		return "the audio URL is malformed; re-upload the track"
	}
	if u.Scheme == "file" {
		return "this track was saved offline and only plays on the machine that uploaded it"
	}
	return "check that the storage bucket is public and the file still exists"
}
