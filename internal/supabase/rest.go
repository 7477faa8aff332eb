package supabase

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/justestif/syncmaster/internal/models"
)

// Remote table names.
const (
	TableProfiles     = "profiles"
	TableBriefs       = "briefs"
	TableTracks       = "tracks"
	TableApplications = "applications"
	TableAgencies     = "agencies"
)

var returnRepresentation = map[string]string{"Prefer": "return=representation"}

func (c *Client) selectRows(ctx context.Context, op, table string, filter url.Values, out any) error {
	q := url.Values{"select": {"*"}}
	for k, v := range filter {
		q[k] = v
	}
	return c.do(ctx, request{
		op:      op,
		service: "rest",
		method:  http.MethodGet,
		path:    "/rest/v1/" + table,
		query:   q,
	}, out)
}

func eq(v string) string { return "eq." + v }

// inList renders a PostgREST in.(...) filter.
func inList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

// Briefs returns every brief.
func (c *Client) Briefs(ctx context.Context) ([]models.Brief, error) {
	var rows []briefRow
	if err := c.selectRows(ctx, "fetching briefs", TableBriefs, nil, &rows); err != nil {
		return nil, err
	}
	briefs := make([]models.Brief, len(rows))
	for i, r := range rows {
		briefs[i] = r.model()
	}
	return briefs, nil
}

// Tracks returns the tracks owned by ownerID.
func (c *Client) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	var rows []trackRow
	filter := url.Values{"user_id": {eq(ownerID)}, "order": {"upload_date.desc"}}
	if err := c.selectRows(ctx, "fetching tracks", TableTracks, filter, &rows); err != nil {
		return nil, err
	}
	tracks := make([]models.Track, len(rows))
	for i, r := range rows {
		tracks[i] = r.model()
	}
	return tracks, nil
}

// Track returns one track by id.
func (c *Client) Track(ctx context.Context, id string) (*models.Track, error) {
	var rows []trackRow
	if err := c.selectRows(ctx, "fetching track", TableTracks, url.Values{"id": {eq(id)}}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &Error{Kind: KindNotFound, Op: "fetching track", sentinel: ErrNotFound}
	}
	t := rows[0].model()
	return &t, nil
}

// Applications returns the applications submitted by ownerID.
func (c *Client) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	var rows []applicationRow
	filter := url.Values{"user_id": {eq(ownerID)}, "order": {"submitted_date.desc"}}
	if err := c.selectRows(ctx, "fetching applications", TableApplications, filter, &rows); err != nil {
		return nil, err
	}
	return applicationModels(rows), nil
}

// ApplicationsForBriefs returns every application pitched against the given
// briefs, for the supervisor view.
func (c *Client) ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	if len(briefIDs) == 0 {
		return []models.Application{}, nil
	}
	var rows []applicationRow
	filter := url.Values{"brief_id": {inList(briefIDs)}, "order": {"submitted_date.desc"}}
	if err := c.selectRows(ctx, "fetching brief applications", TableApplications, filter, &rows); err != nil {
		return nil, err
	}
	return applicationModels(rows), nil
}

func applicationModels(rows []applicationRow) []models.Application {
	apps := make([]models.Application, len(rows))
	for i, r := range rows {
		apps[i] = r.model()
	}
	return apps
}

// Profile returns the profile with the given id.
func (c *Client) Profile(ctx context.Context, id string) (*models.Profile, error) {
	var rows []profileRow
	if err := c.selectRows(ctx, "fetching profile", TableProfiles, url.Values{"id": {eq(id)}}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &Error{Kind: KindNotFound, Op: "fetching profile", sentinel: ErrNotFound}
	}
	p := rows[0].model()
	return &p, nil
}

// Directory returns the agency directory.
func (c *Client) Directory(ctx context.Context) ([]models.Agency, error) {
	var rows []agencyRow
	if err := c.selectRows(ctx, "fetching directory", TableAgencies, url.Values{"order": {"name.asc"}}, &rows); err != nil {
		return nil, err
	}
	agencies := make([]models.Agency, len(rows))
	for i, r := range rows {
		agencies[i] = r.model()
	}
	return agencies, nil
}

// InsertProfile creates a profile row.
func (c *Client) InsertProfile(ctx context.Context, p models.Profile) error {
	return c.do(ctx, request{
		op:      "inserting profile",
		service: "rest",
		method:  http.MethodPost,
		path:    "/rest/v1/" + TableProfiles,
		body:    profileToRow(p),
	}, nil)
}

// InsertTrack creates a track row and returns it as stored.
func (c *Client) InsertTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	var rows []trackRow
	err := c.do(ctx, request{
		op:      "inserting track",
		service: "rest",
		method:  http.MethodPost,
		path:    "/rest/v1/" + TableTracks,
		body:    trackToRow(t),
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &t, nil
	}
	stored := rows[0].model()
	return &stored, nil
}

// UpdateTrack applies patch to the track with the given id.
func (c *Client) UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return c.do(ctx, request{
		op:      "updating track",
		service: "rest",
		method:  http.MethodPatch,
		path:    "/rest/v1/" + TableTracks,
		query:   url.Values{"id": {eq(id)}},
		body:    trackPatchRow(patch),
	}, nil)
}

// InsertApplication creates an application row and returns it as stored.
func (c *Client) InsertApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	var rows []applicationRow
	err := c.do(ctx, request{
		op:      "inserting application",
		service: "rest",
		method:  http.MethodPost,
		path:    "/rest/v1/" + TableApplications,
		body:    applicationToRow(a),
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &a, nil
	}
	stored := rows[0].model()
	return &stored, nil
}

// UpdateApplicationStatus moves a pending application to a terminal status.
func (c *Client) UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error {
	if !models.StatusPending.CanTransition(status) {
		return models.Validationf("cannot move an application to %q", status)
	}

	var rows []applicationRow
	err := c.do(ctx, request{
		op:      "updating application status",
		service: "rest",
		method:  http.MethodPatch,
		path:    "/rest/v1/" + TableApplications,
		query:   url.Values{"id": {eq(id)}, "status": {eq(string(models.StatusPending))}},
		body:    map[string]any{"status": status},
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return models.Validationf("application %s is not pending", id)
	}
	return nil
}

// UpdateProfile applies patch to the profile with the given id.
func (c *Client) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return c.do(ctx, request{
		op:      "updating profile",
		service: "rest",
		method:  http.MethodPatch,
		path:    "/rest/v1/" + TableProfiles,
		query:   url.Values{"id": {eq(id)}},
		body:    profilePatchRow(patch),
	}, nil)
}
