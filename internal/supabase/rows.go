package supabase

import (
	"strings"

	"github.com/justestif/syncmaster/internal/models"
)

// Row types mirror the remote schema. They never leave this package.

type profileRow struct {
	ID            string      `json:"id"`
	Email         string      `json:"email"`
	Name          string      `json:"name"`
	Role          models.Role `json:"role"`
	SpotifyURL    string      `json:"spotify_url,omitempty"`
	AppleMusicURL string      `json:"apple_music_url,omitempty"`
	InstagramURL  string      `json:"instagram_url,omitempty"`
	WebsiteURL    string      `json:"website_url,omitempty"`
	Tier          models.Tier `json:"subscription_tier"`
	Credits       int         `json:"credits"`
	AvatarURL     string      `json:"avatar_url,omitempty"`
}

func profileToRow(p models.Profile) profileRow {
	return profileRow{
		ID:            p.ID,
		Email:         p.Email,
		Name:          p.Name,
		Role:          p.Role,
		SpotifyURL:    p.Socials.Spotify,
		AppleMusicURL: p.Socials.AppleMusic,
		InstagramURL:  p.Socials.Instagram,
		WebsiteURL:    p.Socials.Website,
		Tier:          p.Tier,
		Credits:       p.Credits,
		AvatarURL:     p.AvatarURL,
	}
}

func (r profileRow) model() models.Profile {
	tier := r.Tier
	if tier == "" {
		tier = models.TierFree
	}
	return models.Profile{
		ID:    r.ID,
		Email: r.Email,
		Name:  r.Name,
		Role:  r.Role,
		Socials: models.Socials{
			Spotify:    r.SpotifyURL,
			AppleMusic: r.AppleMusicURL,
			Instagram:  r.InstagramURL,
			Website:    r.WebsiteURL,
		},
		Tier:      tier,
		Credits:   r.Credits,
		AvatarURL: r.AvatarURL,
	}
}

// profilePatchRow only carries set fields so PATCH leaves the rest untouched.
func profilePatchRow(p models.ProfilePatch) map[string]any {
	m := map[string]any{}
	if p.Name != nil {
		m["name"] = *p.Name
	}
	if p.Socials != nil {
		m["spotify_url"] = p.Socials.Spotify
		m["apple_music_url"] = p.Socials.AppleMusic
		m["instagram_url"] = p.Socials.Instagram
		m["website_url"] = p.Socials.Website
	}
	if p.AvatarURL != nil {
		m["avatar_url"] = *p.AvatarURL
	}
	if p.Tier != nil {
		m["subscription_tier"] = *p.Tier
	}
	if p.Credits != nil {
		m["credits"] = *p.Credits
	}
	return m
}

type briefRow struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ClientName  string   `json:"client_name"`
	Budget      string   `json:"budget"`
	Genre       string   `json:"genre"`
	Deadline    string   `json:"deadline"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (r briefRow) model() models.Brief {
	return models.Brief{
		ID:          r.ID,
		Title:       r.Title,
		ClientName:  r.ClientName,
		Budget:      r.Budget,
		Genre:       r.Genre,
		Deadline:    r.Deadline,
		Description: r.Description,
		Tags:        models.NormalizeTags(r.Tags),
	}
}

type trackRow struct {
	ID          string   `json:"id,omitempty"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	ArtistName  string   `json:"artist_name"`
	Genre       string   `json:"genre"`
	BPM         *int     `json:"bpm"`
	Tags        []string `json:"tags"`
	UploadDate  string   `json:"upload_date"`
	Duration    string   `json:"duration"`
	Description string   `json:"description,omitempty"`
	AudioURL    string   `json:"audio_url"`
}

func trackToRow(t models.Track) trackRow {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return trackRow{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		ArtistName:  t.ArtistName,
		Genre:       t.Genre,
		BPM:         t.BPM,
		Tags:        tags,
		UploadDate:  t.UploadDate,
		Duration:    t.Duration,
		Description: t.Description,
		AudioURL:    t.AudioURL,
	}
}

func (r trackRow) model() models.Track {
	return models.Track{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		ArtistName:  r.ArtistName,
		Genre:       r.Genre,
		BPM:         r.BPM,
		Tags:        models.NormalizeTags(r.Tags),
		UploadDate:  r.UploadDate,
		Duration:    r.Duration,
		Description: r.Description,
		AudioURL:    r.AudioURL,
	}
}

// trackPatchRow never includes user_id or audio_url: both are fixed at upload.
func trackPatchRow(p models.TrackPatch) map[string]any {
	m := map[string]any{}
	if p.Title != nil {
		m["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Genre != nil {
		m["genre"] = *p.Genre
	}
	switch {
	case p.ClearBPM:
		m["bpm"] = nil
	case p.BPM != nil:
		m["bpm"] = *p.BPM
	}
	if p.Tags != nil {
		m["tags"] = p.Tags
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	return m
}

type applicationRow struct {
	ID            string        `json:"id,omitempty"`
	UserID        string        `json:"user_id"`
	BriefID       string        `json:"brief_id"`
	TrackID       string        `json:"track_id"`
	Status        models.Status `json:"status"`
	SubmittedDate string        `json:"submitted_date"`
}

func applicationToRow(a models.Application) applicationRow {
	return applicationRow{
		ID:            a.ID,
		UserID:        a.UserID,
		BriefID:       a.BriefID,
		TrackID:       a.TrackID,
		Status:        a.Status,
		SubmittedDate: a.SubmittedDate,
	}
}

func (r applicationRow) model() models.Application {
	status := r.Status
	if status == "" {
		status = models.StatusPending
	}
	return models.Application{
		ID:            r.ID,
		UserID:        r.UserID,
		BriefID:       r.BriefID,
		TrackID:       r.TrackID,
		Status:        status,
		SubmittedDate: r.SubmittedDate,
	}
}

type agencyRow struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Location         string   `json:"location"`
	ContactEmail     string   `json:"contact_email"`
	Website          string   `json:"website"`
	Credits          []string `json:"credits"`
	LogoURL          string   `json:"logo_url"`
	Description      string   `json:"description"`
	SubmissionPolicy string   `json:"submission_policy"`
	SpotifyURL       string   `json:"spotify_url,omitempty"`
	InstagramURL     string   `json:"instagram_url,omitempty"`
}

func (r agencyRow) model() models.Agency {
	return models.Agency{
		ID:               r.ID,
		Name:             r.Name,
		Type:             models.AgencyType(r.Type),
		Location:         r.Location,
		ContactEmail:     r.ContactEmail,
		Website:          r.Website,
		Credits:          r.Credits,
		LogoURL:          r.LogoURL,
		Description:      r.Description,
		SubmissionPolicy: r.SubmissionPolicy,
		Socials: models.Socials{
			Spotify:   r.SpotifyURL,
			Instagram: r.InstagramURL,
			Website:   r.Website,
		},
	}
}
