// Package upload coordinates the two-phase track write (binary, then metadata
// row) and application submission, reporting progress as a small state
// machine.
package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/models"
)

// Phase is the upload state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseSuccess    Phase = "success"
)

// Progress is reported on every phase change and while uploading. Simulated
// is set when the percentage comes from a timer because the transfer size is
// unknown.
type Progress struct {
	Phase     Phase `json:"phase"`
	Percent   int   `json:"percent"`
	Sent      int64 `json:"sent"`
	Total     int64 `json:"total"`
	Simulated bool  `json:"simulated"`
}

// Store is what the flow needs from the gateway.
type Store interface {
	UploadAudio(ctx context.Context, file models.File, ownerID string) (string, error)
	InsertTrack(ctx context.Context, t models.Track) (*models.Track, error)
	Track(ctx context.Context, id string) (*models.Track, error)
	InsertApplication(ctx context.Context, a models.Application) (*models.Application, error)
}

// Metadata is the user-entered description of a new track.
type Metadata struct {
	Title       string        `json:"title"`
	Artist      string        `json:"artist"`
	Genre       string        `json:"genre"`
	BPM         *int          `json:"bpm,omitempty"`
	Tags        []string      `json:"tags"`
	Description string        `json:"description,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Validate checks the required fields.
func (m Metadata) Validate() error {
	switch {
	case strings.TrimSpace(m.Title) == "":
		return models.Validationf("title is required")
	case strings.TrimSpace(m.Artist) == "":
		return models.Validationf("artist is required")
	case m.BPM != nil && *m.BPM <= 0:
		return models.Validationf("bpm must be a positive integer")
	}
	return nil
}

// Flow runs submissions against a Store.
type Flow struct {
	store    Store
	log      zerolog.Logger
	onChange func(Progress)
	tick     time.Duration

	mu       sync.Mutex
	progress Progress
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = log
	}
}

// WithProgress registers fn to receive every progress update.
func WithProgress(fn func(Progress)) Option {
	return func(f *Flow) {
		f.onChange = fn
	}
}

// WithTick sets the interval of simulated progress.
func WithTick(d time.Duration) Option {
	return func(f *Flow) {
		f.tick = d
	}
}

// New creates a Flow.
func New(store Store, opts ...Option) *Flow {
	f := &Flow{
		store:    store,
		log:      zerolog.Nop(),
		tick:     200 * time.Millisecond,
		progress: Progress{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Progress returns the latest progress.
func (f *Flow) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *Flow) set(p Progress) {
	f.mu.Lock()
	f.progress = p
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// SubmitNewTrack uploads file and inserts its metadata row. Nothing is sent
// when file or a required field is missing. On failure the flow returns to
// idle.
func (f *Flow) SubmitNewTrack(ctx context.Context, file models.File, meta Metadata, ownerID string) (*models.Track, error) {
	if file.Body == nil || file.Name == "" {
		return nil, models.Validationf("no file selected")
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, models.Validationf("sign in to upload")
	}

	f.set(Progress{Phase: PhaseUploading, Total: file.Size})
	audioURL, err := f.transfer(ctx, file, ownerID)
	if err != nil {
		f.set(Progress{Phase: PhaseIdle})
		return nil, fmt.Errorf("uploading audio: %w", err)
	}

	f.set(Progress{Phase: PhaseProcessing, Percent: 100, Sent: file.Size, Total: file.Size})
	track, err := f.store.InsertTrack(ctx, models.Track{
		UserID:      ownerID,
		Title:       strings.TrimSpace(meta.Title),
		ArtistName:  strings.TrimSpace(meta.Artist),
		Genre:       strings.TrimSpace(meta.Genre),
		BPM:         meta.BPM,
		Tags:        models.NormalizeTags(meta.Tags),
		UploadDate:  models.Today(),
		Duration:    models.FormatDuration(meta.Duration),
		Description: meta.Description,
		AudioURL:    audioURL,
	})
	if err != nil {
		f.set(Progress{Phase: PhaseIdle})
		return nil, fmt.Errorf("saving track: %w", err)
	}

	f.set(Progress{Phase: PhaseSuccess, Percent: 100, Sent: file.Size, Total: file.Size})
	f.log.Info().Str("track_id", track.ID).Str("owner_id", ownerID).Msg("track uploaded")
	return track, nil
}

// transfer uploads the binary. With a known size the percentage follows the
// bytes actually sent; otherwise a timer moves it towards 90%.
func (f *Flow) transfer(ctx context.Context, file models.File, ownerID string) (string, error) {
	userProgress := file.Progress
	if file.Size > 0 {
		file.Progress = func(sent int64) {
			pct := int(sent * 100 / file.Size)
			f.set(Progress{Phase: PhaseUploading, Percent: min(pct, 99), Sent: sent, Total: file.Size})
			if userProgress != nil {
				userProgress(sent)
			}
		}
		return f.store.UploadAudio(ctx, file, ownerID)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.simulate(done)
	}()
	audioURL, err := f.store.UploadAudio(ctx, file, ownerID)
	close(done)
	wg.Wait()
	return audioURL, err
}

func (f *Flow) simulate(done <-chan struct{}) {
	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()
	pct := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if pct < 90 {
				pct += 10
				f.set(Progress{Phase: PhaseUploading, Percent: pct, Simulated: true})
			}
		}
	}
}

// SubmitApplication pitches trackID to briefID. The track must be in ownerID's
// library. Duplicate applications are not checked here; callers check
// "already applied" first.
func (f *Flow) SubmitApplication(ctx context.Context, briefID, trackID, ownerID string) (*models.Application, error) {
	if briefID == "" || trackID == "" {
		return nil, models.Validationf("choose a brief and a track")
	}
	if ownerID == "" {
		return nil, models.Validationf("sign in to apply")
	}

	track, err := f.store.Track(ctx, trackID)
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, models.ErrTrackNotOwned
		}
		return nil, fmt.Errorf("loading track: %w", err)
	}
	if track.UserID != ownerID {
		return nil, models.ErrTrackNotOwned
	}

	app, err := f.store.InsertApplication(ctx, models.Application{
		UserID:        ownerID,
		BriefID:       briefID,
		TrackID:       trackID,
		Status:        models.StatusPending,
		SubmittedDate: models.Today(),
	})
	if err != nil {
		return nil, fmt.Errorf("submitting application: %w", err)
	}
	f.log.Info().Str("brief_id", briefID).Str("track_id", trackID).Msg("application submitted")
	return app, nil
}

// SubmitNewTrackAndApply uploads a new track and pitches it to briefID. If the
// application fails the uploaded track stays in the library.
func (f *Flow) SubmitNewTrackAndApply(ctx context.Context, file models.File, meta Metadata, ownerID, briefID string) (*models.Track, *models.Application, error) {
	if briefID == "" {
		return nil, nil, models.Validationf("choose a brief")
	}
	track, err := f.SubmitNewTrack(ctx, file, meta, ownerID)
	if err != nil {
		return nil, nil, err
	}
	app, err := f.SubmitApplication(ctx, briefID, track.ID, ownerID)
	if err != nil {
		return track, nil, err
	}
	return track, app, nil
}

// Reset returns the flow to idle, for example when a form is closed.
func (f *Flow) Reset() {
	f.set(Progress{Phase: PhaseIdle})
}
