// Package dashboard holds the artist and supervisor view-models: tab and
// filter state, live collections fed by gateway subscriptions, the player,
// and the actions each dashboard offers.
package dashboard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/matching"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/player"
	"github.com/justestif/syncmaster/internal/spotify"
	"github.com/justestif/syncmaster/internal/upload"
)

// Tab identifies a dashboard tab.
type Tab string

const (
	TabBriefs       Tab = "briefs"
	TabLibrary      Tab = "library"
	TabApplications Tab = "applications"
	TabProfile      Tab = "profile"
	TabReceived     Tab = "received"
	TabDirectory    Tab = "directory"
)

// Collections loaded on mount. Used as keys of LoadErrors.
const (
	sectionBriefs       = "briefs"
	sectionTracks       = "tracks"
	sectionApplications = "applications"
	sectionProfile      = "profile"
	sectionReceived     = "received"
	sectionDirectory    = "directory"
)

// ArtistLookup resolves a Spotify artist link.
type ArtistLookup interface {
	LookupArtist(ctx context.Context, link string) (*spotify.Artist, error)
}

// ApplicationRow is an application joined with its brief and track.
type ApplicationRow struct {
	models.Application
	BriefTitle string `json:"briefTitle"`
	ClientName string `json:"clientName"`
	TrackTitle string `json:"trackTitle"`
}

// ProfileResult reports what SaveProfile did beyond the update itself.
type ProfileResult struct {
	Spotify         *spotify.Artist `json:"spotify,omitempty"`
	SuggestedGenres []string        `json:"suggestedGenres,omitempty"`
}

// ArtistState is a point-in-time view of the artist dashboard.
type ArtistState struct {
	Tab          Tab               `json:"tab"`
	Search       string            `json:"search"`
	TagFilters   []string          `json:"tagFilters"`
	Briefs       []models.Brief    `json:"briefs"`
	Tracks       []models.Track    `json:"tracks"`
	Applications []ApplicationRow  `json:"applications"`
	Profile      *models.Profile   `json:"profile,omitempty"`
	Player       player.State      `json:"player"`
	Upload       upload.Progress   `json:"upload"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// Option configures a dashboard.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	player   *player.Player
	progress func(upload.Progress)
	lookup   ArtistLookup
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithPlayer sets the player. By default a player with no media output is used.
func WithPlayer(p *player.Player) Option {
	return func(o *options) {
		o.player = p
	}
}

// WithUploadProgress registers fn to receive upload progress updates.
func WithUploadProgress(fn func(upload.Progress)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithArtistLookup enables Spotify link checks on profile save.
func WithArtistLookup(l ArtistLookup) Option {
	return func(o *options) {
		o.lookup = l
	}
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.player == nil {
		o.player = player.New(player.NopMedia{}, player.WithLogger(o.log))
	}
	return o
}

// Artist is the artist dashboard view-model.
type Artist struct {
	gw     *gateway.Gateway
	userID string
	flow   *upload.Flow
	player *player.Player
	lookup ArtistLookup
	log    zerolog.Logger

	mu      sync.RWMutex
	mounted bool
	tab     Tab
	search  string
	tags    []string
	briefs  []models.Brief
	tracks  []models.Track
	apps    []models.Application
	profile *models.Profile
	errs    map[string]error
	unsubs  []gateway.Unsubscribe

	// Backends feeding the track and application subscriptions.
	tracksSrc gateway.Source
	appsSrc   gateway.Source

	// Briefs applied to through a backend other than appsSrc. Those
	// applications never show up in apps but still count as applied.
	appliedElsewhere map[string]bool
}

// NewArtist creates the dashboard for userID. gw should already be bound to
// the user's session.
func NewArtist(gw *gateway.Gateway, userID string, opts ...Option) *Artist {
	o := buildOptions(opts)
	log := o.log.With().Str("dashboard", "artist").Str("user_id", userID).Logger()

	flowOpts := []upload.Option{upload.WithLogger(log)}
	if o.progress != nil {
		flowOpts = append(flowOpts, upload.WithProgress(o.progress))
	}
	return &Artist{
		gw:     gw,
		userID: userID,
		flow:   upload.New(gw, flowOpts...),
		player: o.player,
		lookup: o.lookup,
		log:    log,
		tab:    TabBriefs,
		errs:   map[string]error{},

		appliedElsewhere: map[string]bool{},
	}
}

// Mount subscribes to briefs, the user's tracks and applications, and loads
// the profile. The loads run concurrently and fail independently: a failed
// collection stays empty, is reported by LoadErrors, and the others still
// load. The returned error joins all failures.
func (a *Artist) Mount(ctx context.Context) error {
	a.mu.Lock()
	if a.mounted {
		a.mu.Unlock()
		return nil
	}
	a.mounted = true
	a.mu.Unlock()

	p := pool.New().WithErrors()
	p.Go(func() error {
		unsub, err := a.gw.SubscribeBriefs(ctx, func(briefs []models.Brief) {
			a.mu.Lock()
			a.briefs = briefs
			a.mu.Unlock()
		})
		return a.track(sectionBriefs, unsub, err)
	})
	p.Go(func() error {
		tr := &gateway.Trace{}
		unsub, err := a.gw.SubscribeTracks(gateway.WithTrace(ctx, tr), a.userID, func(tracks []models.Track) {
			a.mu.Lock()
			a.tracks = tracks
			a.mu.Unlock()
		})
		a.mu.Lock()
		a.tracksSrc = tr.Source()
		a.mu.Unlock()
		return a.track(sectionTracks, unsub, err)
	})
	p.Go(func() error {
		tr := &gateway.Trace{}
		unsub, err := a.gw.SubscribeApplications(gateway.WithTrace(ctx, tr), a.userID, func(apps []models.Application) {
			a.mu.Lock()
			a.apps = apps
			a.mu.Unlock()
		})
		a.mu.Lock()
		a.appsSrc = tr.Source()
		a.mu.Unlock()
		return a.track(sectionApplications, unsub, err)
	})
	p.Go(func() error {
		profile, err := a.gw.Profile(ctx, a.userID)
		if err == nil {
			a.mu.Lock()
			a.profile = profile
			a.mu.Unlock()
		}
		return a.track(sectionProfile, nil, err)
	})
	return p.Wait()
}

// track records the outcome of one mount load.
func (a *Artist) track(section string, unsub gateway.Unsubscribe, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.errs[section] = err
		a.log.Warn().Err(err).Str("section", section).Msg("dashboard load failed")
		return fmt.Errorf("loading %s: %w", section, err)
	}
	delete(a.errs, section)
	if unsub != nil {
		a.unsubs = append(a.unsubs, unsub)
	}
	return nil
}

// Close ends every subscription and stops playback. It is safe to call more
// than once.
func (a *Artist) Close() {
	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	a.mounted = false
	a.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	a.player.Stop()
}

// LoadErrors returns the collections that failed to load on mount.
func (a *Artist) LoadErrors() map[string]error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]error, len(a.errs))
	for k, v := range a.errs {
		out[k] = v
	}
	return out
}

// Player returns the dashboard's player.
func (a *Artist) Player() *player.Player {
	return a.player
}

// UploadProgress returns the state of the current or last upload.
func (a *Artist) UploadProgress() upload.Progress {
	return a.flow.Progress()
}

// SetTab switches tabs.
func (a *Artist) SetTab(t Tab) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tab = t
}

// SetSearch sets the search text applied to briefs and tracks.
func (a *Artist) SetSearch(q string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.search = q
}

// ToggleTag adds tag to the tag filters, or removes it if present.
func (a *Artist) ToggleTag(tag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tags = toggle(a.tags, tag)
}

// ClearFilters resets the search text and tag filters.
func (a *Artist) ClearFilters() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.search = ""
	a.tags = nil
}

// FilteredBriefs returns the briefs matching the search text and carrying
// every selected tag.
func (a *Artist) FilteredBriefs() []models.Brief {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return filterBriefs(a.briefs, a.search, a.tags)
}

// FilteredTracks returns the library tracks matching the search text and
// carrying every selected tag.
func (a *Artist) FilteredTracks() []models.Track {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return filterTracks(a.tracks, a.search, a.tags)
}

// BriefTags returns the distinct tags across all briefs, for filter chips.
func (a *Artist) BriefTags() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var all []string
	for _, b := range a.briefs {
		all = append(all, b.Tags...)
	}
	return distinctTags(all)
}

// HasApplied reports whether the user already has an application for briefID.
func (a *Artist) HasApplied(briefID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hasAppliedLocked(briefID)
}

func (a *Artist) hasAppliedLocked(briefID string) bool {
	return a.appliedElsewhere[briefID] || slices.ContainsFunc(a.apps, func(app models.Application) bool {
		return app.BriefID == briefID
	})
}

// adopt reports whether the rows written under tr may be merged into a
// collection fed from src. Only rows from the same backend are merged, so a
// collection never mixes remote and local ids. Without a live subscription
// there is nothing to mix with.
func adopt(src gateway.Source, tr *gateway.Trace) bool {
	return src == "" || tr.Only(src)
}

// recordApplicationLocked merges app into the applications list, or, when it
// was written through another backend, remembers only its brief.
func (a *Artist) recordApplicationLocked(app models.Application, tr *gateway.Trace) {
	if adopt(a.appsSrc, tr) {
		a.apps = upsert(a.apps, app, func(x models.Application) string { return x.ID })
		return
	}
	a.appliedElsewhere[app.BriefID] = true
}

func (a *Artist) recordTrackLocked(track models.Track, tr *gateway.Trace) {
	if adopt(a.tracksSrc, tr) {
		a.tracks = upsert(a.tracks, track, func(x models.Track) string { return x.ID })
	}
}

// Apply pitches a library track to a brief. It refuses a second application
// to the same brief.
func (a *Artist) Apply(ctx context.Context, briefID, trackID string) (*models.Application, error) {
	if a.HasApplied(briefID) {
		return nil, models.ErrAlreadyApplied
	}
	tr := &gateway.Trace{}
	app, err := a.flow.SubmitApplication(gateway.WithTrace(ctx, tr), briefID, trackID, a.userID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.recordApplicationLocked(*app, tr)
	a.mu.Unlock()
	return app, nil
}

// ApplyWithUpload uploads a new track and pitches it to a brief.
func (a *Artist) ApplyWithUpload(ctx context.Context, file models.File, meta upload.Metadata, briefID string) (*models.Track, *models.Application, error) {
	if a.HasApplied(briefID) {
		return nil, nil, models.ErrAlreadyApplied
	}
	meta = a.prefill(file, meta)
	tr := &gateway.Trace{}
	track, app, err := a.flow.SubmitNewTrackAndApply(gateway.WithTrace(ctx, tr), file, meta, a.userID, briefID)

	a.mu.Lock()
	if track != nil {
		a.recordTrackLocked(*track, tr)
	}
	if app != nil {
		a.recordApplicationLocked(*app, tr)
	}
	a.mu.Unlock()
	return track, app, err
}

// UploadTrack adds a new track to the library. Blank title, artist and genre
// are filled from the file's tags or the profile name.
func (a *Artist) UploadTrack(ctx context.Context, file models.File, meta upload.Metadata) (*models.Track, error) {
	meta = a.prefill(file, meta)
	tr := &gateway.Trace{}
	track, err := a.flow.SubmitNewTrack(gateway.WithTrace(ctx, tr), file, meta, a.userID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.recordTrackLocked(*track, tr)
	a.mu.Unlock()
	return track, nil
}

func (a *Artist) prefill(file models.File, meta upload.Metadata) upload.Metadata {
	if file.Body == nil {
		return meta
	}
	filled, err := upload.Prefill(file, meta)
	if err != nil {
		a.log.Debug().Err(err).Str("file", file.Name).Msg("tag prefill skipped")
		return meta
	}
	if filled.Artist == "" {
		a.mu.RLock()
		if a.profile != nil {
			filled.Artist = a.profile.Name
		}
		a.mu.RUnlock()
	}
	return filled
}

// SaveTrackMetadata edits a track in the user's library.
func (a *Artist) SaveTrackMetadata(ctx context.Context, id string, patch models.TrackPatch) error {
	if patch.Tags != nil {
		patch.Tags = models.NormalizeTags(patch.Tags)
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	a.mu.RLock()
	owned := slices.ContainsFunc(a.tracks, func(t models.Track) bool { return t.ID == id })
	a.mu.RUnlock()
	if !owned {
		return fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}

	if err := a.gw.UpdateTrack(ctx, id, patch); err != nil {
		return fmt.Errorf("saving track: %w", err)
	}

	a.mu.Lock()
	if i := slices.IndexFunc(a.tracks, func(t models.Track) bool { return t.ID == id }); i >= 0 {
		t := a.tracks[i]
		patch.Apply(&t)
		a.tracks = slices.Clone(a.tracks)
		a.tracks[i] = t
	}
	a.mu.Unlock()
	return nil
}

// SaveProfile updates the user's profile. A non-nil avatar is uploaded first.
// When a Spotify link is set and lookups are enabled, the link must name a
// real artist; the artist's genres are returned as suggestions. A lookup that
// fails for any other reason does not block the save.
func (a *Artist) SaveProfile(ctx context.Context, patch models.ProfilePatch, avatar *models.File) (*ProfileResult, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	res := &ProfileResult{}

	if a.lookup != nil && patch.Socials != nil && patch.Socials.Spotify != "" {
		artist, err := a.lookup.LookupArtist(ctx, patch.Socials.Spotify)
		switch {
		case errors.Is(err, spotify.ErrNotArtistLink), errors.Is(err, spotify.ErrArtistNotFound):
			return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
		case err != nil:
			a.log.Warn().Err(err).Msg("spotify lookup failed, saving link unchecked")
		default:
			res.Spotify = artist
			res.SuggestedGenres = artist.Genres
		}
	}

	if avatar != nil {
		url, err := a.gw.UploadAvatar(ctx, *avatar, a.userID)
		if err != nil {
			return nil, fmt.Errorf("uploading avatar: %w", err)
		}
		patch.AvatarURL = &url
	}

	if err := a.gw.UpdateProfile(ctx, a.userID, patch); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}

	a.mu.Lock()
	if a.profile != nil {
		p := *a.profile
		patch.Apply(&p)
		a.profile = &p
	}
	a.mu.Unlock()
	return res, nil
}

// Profile returns the loaded profile, or nil.
func (a *Artist) Profile() *models.Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.profile == nil {
		return nil
	}
	p := *a.profile
	return &p
}

// ApplicationRows returns the user's applications joined with brief and
// track titles, newest first.
func (a *Artist) ApplicationRows() []ApplicationRow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	briefs := make(map[string]models.Brief, len(a.briefs))
	for _, b := range a.briefs {
		briefs[b.ID] = b
	}
	tracks := make(map[string]models.Track, len(a.tracks))
	for _, t := range a.tracks {
		tracks[t.ID] = t
	}

	rows := make([]ApplicationRow, 0, len(a.apps))
	for _, app := range a.apps {
		row := ApplicationRow{Application: app, BriefTitle: "Unknown brief", TrackTitle: "Unknown track"}
		if b, ok := briefs[app.BriefID]; ok {
			row.BriefTitle = b.Title
			row.ClientName = b.ClientName
		}
		if t, ok := tracks[app.TrackID]; ok {
			row.TrackTitle = t.Title
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(x, y ApplicationRow) int {
		return cmp.Compare(y.SubmittedDate, x.SubmittedDate)
	})
	return rows
}

// Suggestions ranks the user's library against a brief.
func (a *Artist) Suggestions(briefID string) ([]matching.Match, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := slices.IndexFunc(a.briefs, func(b models.Brief) bool { return b.ID == briefID })
	if i < 0 {
		return nil, fmt.Errorf("%w: brief %s", gateway.ErrNotFound, briefID)
	}
	return matching.Rank(a.tracks, a.briefs[i]), nil
}

// PlayTrack plays a library track with the filtered library as the queue.
func (a *Artist) PlayTrack(trackID string) error {
	view := a.FilteredTracks()
	i := slices.IndexFunc(view, func(t models.Track) bool { return t.ID == trackID })
	if i < 0 {
		a.mu.RLock()
		j := slices.IndexFunc(a.tracks, func(t models.Track) bool { return t.ID == trackID })
		var t models.Track
		if j >= 0 {
			t = a.tracks[j]
		}
		a.mu.RUnlock()
		if j < 0 {
			return fmt.Errorf("%w: track %s", gateway.ErrNotFound, trackID)
		}
		return a.player.Play(t, view)
	}
	return a.player.Play(view[i], view)
}

// State returns a snapshot for rendering.
func (a *Artist) State() ArtistState {
	a.mu.RLock()
	st := ArtistState{
		Tab:        a.tab,
		Search:     a.search,
		TagFilters: slices.Clone(a.tags),
		Briefs:     filterBriefs(a.briefs, a.search, a.tags),
		Tracks:     filterTracks(a.tracks, a.search, a.tags),
		Errors:     errorStrings(a.errs),
	}
	if a.profile != nil {
		p := *a.profile
		st.Profile = &p
	}
	a.mu.RUnlock()

	st.Applications = a.ApplicationRows()
	st.Player = a.player.State()
	st.Upload = a.flow.Progress()
	return st
}
