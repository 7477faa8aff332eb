package dashboard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/matching"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/player"
)

// Submission is a received application with its brief and, when readable,
// its track.
type Submission struct {
	models.Application
	BriefTitle string        `json:"briefTitle"`
	Track      *models.Track `json:"track,omitempty"`
}

// SupervisorState is a point-in-time view of the supervisor dashboard.
type SupervisorState struct {
	Tab       Tab                  `json:"tab"`
	Search    string               `json:"search"`
	Briefs    []models.Brief       `json:"briefs"`
	Received  []models.Application `json:"received"`
	Directory []models.Agency      `json:"directory"`
	Player    player.State         `json:"player"`
	Errors    map[string]string    `json:"errors,omitempty"`
}

// Supervisor is the supervisor dashboard view-model.
type Supervisor struct {
	gw     *gateway.Gateway
	userID string
	player *player.Player
	log    zerolog.Logger

	mu        sync.RWMutex
	mounted   bool
	tab       Tab
	search    string
	briefs    []models.Brief
	received  []models.Application
	directory []models.Agency
	errs      map[string]error
	unsubs    []gateway.Unsubscribe
	recvUnsub gateway.Unsubscribe
}

// NewSupervisor creates the dashboard for userID.
func NewSupervisor(gw *gateway.Gateway, userID string, opts ...Option) *Supervisor {
	o := buildOptions(opts)
	return &Supervisor{
		gw:     gw,
		userID: userID,
		player: o.player,
		log:    o.log.With().Str("dashboard", "supervisor").Str("user_id", userID).Logger(),
		tab:    TabBriefs,
		errs:   map[string]error{},
	}
}

// Mount subscribes to briefs, then concurrently to the applications received
// for them and loads the directory. Failures are independent, as for Artist.
func (s *Supervisor) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = true
	s.mu.Unlock()

	unsub, err := s.gw.SubscribeBriefs(ctx, func(briefs []models.Brief) {
		s.mu.Lock()
		s.briefs = briefs
		s.mu.Unlock()
	})
	briefsErr := s.record(sectionBriefs, err)
	if err == nil {
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}

	p := pool.New().WithErrors()
	p.Go(func() error {
		return s.subscribeReceived(ctx)
	})
	p.Go(func() error {
		dir, err := s.gw.Directory(ctx)
		if err == nil {
			s.mu.Lock()
			s.directory = dir
			s.mu.Unlock()
		}
		return s.record(sectionDirectory, err)
	})
	return errors.Join(briefsErr, p.Wait())
}

// subscribeReceived (re)subscribes to applications for the current briefs.
func (s *Supervisor) subscribeReceived(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.briefs))
	for _, b := range s.briefs {
		ids = append(ids, b.ID)
	}
	s.mu.RUnlock()

	unsub, err := s.gw.SubscribeReceived(ctx, ids, func(apps []models.Application) {
		s.mu.Lock()
		s.received = apps
		s.mu.Unlock()
	})
	if err != nil {
		return s.record(sectionReceived, err)
	}

	s.mu.Lock()
	old := s.recvUnsub
	s.recvUnsub = unsub
	s.mu.Unlock()
	if old != nil {
		old()
	}
	return s.record(sectionReceived, nil)
}

// Refresh resubscribes to received applications, picking up briefs that
// appeared since mount.
func (s *Supervisor) Refresh(ctx context.Context) error {
	return s.subscribeReceived(ctx)
}

func (s *Supervisor) record(section string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errs[section] = err
		s.log.Warn().Err(err).Str("section", section).Msg("dashboard load failed")
		return fmt.Errorf("loading %s: %w", section, err)
	}
	delete(s.errs, section)
	return nil
}

// Close ends every subscription and stops playback.
func (s *Supervisor) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	if s.recvUnsub != nil {
		unsubs = append(unsubs, s.recvUnsub)
	}
	s.unsubs = nil
	s.recvUnsub = nil
	s.mounted = false
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.player.Stop()
}

// LoadErrors returns the collections that failed to load.
func (s *Supervisor) LoadErrors() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]error, len(s.errs))
	for k, v := range s.errs {
		out[k] = v
	}
	return out
}

// Player returns the dashboard's player.
func (s *Supervisor) Player() *player.Player {
	return s.player
}

// SetTab switches tabs.
func (s *Supervisor) SetTab(t Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tab = t
}

// SetSearch sets the search text applied to briefs and the directory.
func (s *Supervisor) SetSearch(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = q
}

// Briefs returns the briefs matching the search text.
func (s *Supervisor) Briefs() []models.Brief {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterBriefs(s.briefs, s.search, nil)
}

// Received returns the received applications, optionally only those for
// briefID, newest first.
func (s *Supervisor) Received(briefID string) []models.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Application, 0, len(s.received))
	for _, a := range s.received {
		if briefID == "" || a.BriefID == briefID {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(x, y models.Application) int {
		return cmp.Compare(y.SubmittedDate, x.SubmittedDate)
	})
	return out
}

// Directory returns directory entries matching the search text and, when
// kind is set, of that type.
func (s *Supervisor) Directory(kind models.AgencyType) []models.Agency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterDirectory(s.directory, s.search, kind)
}

// SetStatus moves a received application out of pending. Applications that
// are already shortlisted, rejected or accepted do not move.
func (s *Supervisor) SetStatus(ctx context.Context, appID string, status models.Status) error {
	s.mu.RLock()
	i := slices.IndexFunc(s.received, func(a models.Application) bool { return a.ID == appID })
	var current models.Status
	if i >= 0 {
		current = s.received[i].Status
	}
	s.mu.RUnlock()

	if i < 0 {
		return fmt.Errorf("%w: application %s", gateway.ErrNotFound, appID)
	}
	if !current.CanTransition(status) {
		return models.Validationf("cannot move application from %q to %q", current, status)
	}

	if err := s.gw.UpdateApplicationStatus(ctx, appID, status); err != nil {
		return fmt.Errorf("updating application status: %w", err)
	}

	s.mu.Lock()
	if j := slices.IndexFunc(s.received, func(a models.Application) bool { return a.ID == appID }); j >= 0 {
		s.received = slices.Clone(s.received)
		s.received[j].Status = status
	}
	s.mu.Unlock()
	s.log.Info().Str("application_id", appID).Str("status", string(status)).Msg("application status updated")
	return nil
}

// Submissions loads the tracks behind the received applications for briefID,
// or all briefs when empty. Track loads run concurrently; an unreadable track
// leaves Track nil.
func (s *Supervisor) Submissions(ctx context.Context, briefID string) []Submission {
	apps := s.Received(briefID)

	s.mu.RLock()
	titles := make(map[string]string, len(s.briefs))
	for _, b := range s.briefs {
		titles[b.ID] = b.Title
	}
	s.mu.RUnlock()

	return iter.Map(apps, func(a *models.Application) Submission {
		sub := Submission{Application: *a, BriefTitle: titles[a.BriefID]}
		track, err := s.gw.Track(ctx, a.TrackID)
		if err != nil {
			s.log.Debug().Err(err).Str("track_id", a.TrackID).Msg("submission track unavailable")
			return sub
		}
		sub.Track = track
		return sub
	})
}

// RankSubmissions scores the tracks submitted to briefID against it.
func (s *Supervisor) RankSubmissions(ctx context.Context, briefID string) ([]matching.Match, error) {
	s.mu.RLock()
	i := slices.IndexFunc(s.briefs, func(b models.Brief) bool { return b.ID == briefID })
	var brief models.Brief
	if i >= 0 {
		brief = s.briefs[i]
	}
	s.mu.RUnlock()
	if i < 0 {
		return nil, fmt.Errorf("%w: brief %s", gateway.ErrNotFound, briefID)
	}
	return matching.Rank(submittedTracks(s.Submissions(ctx, briefID)), brief), nil
}

// GroupSubmissions clusters every submitted track by tags.
func (s *Supervisor) GroupSubmissions(ctx context.Context, cfg matching.GroupConfig) ([]matching.Group, []models.Track) {
	return matching.GroupLibrary(submittedTracks(s.Submissions(ctx, "")), cfg)
}

// submittedTracks returns the distinct loaded tracks of subs.
func submittedTracks(subs []Submission) []models.Track {
	seen := make(map[string]bool, len(subs))
	var tracks []models.Track
	for _, sub := range subs {
		if sub.Track == nil || seen[sub.Track.ID] {
			continue
		}
		seen[sub.Track.ID] = true
		tracks = append(tracks, *sub.Track)
	}
	return tracks
}

// PlaySubmission plays the track of a received application, queueing the
// other loaded submissions for the same brief.
func (s *Supervisor) PlaySubmission(ctx context.Context, appID string) error {
	s.mu.RLock()
	i := slices.IndexFunc(s.received, func(a models.Application) bool { return a.ID == appID })
	var app models.Application
	if i >= 0 {
		app = s.received[i]
	}
	s.mu.RUnlock()
	if i < 0 {
		return fmt.Errorf("%w: application %s", gateway.ErrNotFound, appID)
	}

	queue := submittedTracks(s.Submissions(ctx, app.BriefID))
	j := slices.IndexFunc(queue, func(t models.Track) bool { return t.ID == app.TrackID })
	if j < 0 {
		return fmt.Errorf("%w: track %s", gateway.ErrNotFound, app.TrackID)
	}
	return s.player.Play(queue[j], queue)
}

// State returns a snapshot for rendering.
func (s *Supervisor) State() SupervisorState {
	s.mu.RLock()
	st := SupervisorState{
		Tab:       s.tab,
		Search:    s.search,
		Briefs:    filterBriefs(s.briefs, s.search, nil),
		Directory: filterDirectory(s.directory, s.search, ""),
		Errors:    errorStrings(s.errs),
	}
	s.mu.RUnlock()
	st.Received = s.Received("")
	st.Player = s.player.State()
	return st
}
