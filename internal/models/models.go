// Package models defines the SyncMaster entities shared by every layer above the
// remote gateway. Field names follow Go conventions; the remote snake_case schema
// is only known to the gateway packages.
package models

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrValidation is wrapped by every input check that runs before I/O.
var ErrValidation = errors.New("validation failed")

var (
	// ErrAlreadyApplied is returned when a user pitches a second track to the
	// same brief.
	ErrAlreadyApplied = fmt.Errorf("%w: already applied to this brief", ErrValidation)

	// ErrTrackNotOwned is returned when an application references a track the
	// applicant does not own.
	ErrTrackNotOwned = fmt.Errorf("%w: track is not in the applicant's library", ErrValidation)
)

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Role is the account type chosen at registration.
type Role string

const (
	RoleArtist     Role = "artist"
	RoleSupervisor Role = "supervisor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleArtist || r == RoleSupervisor
}

// Tier is the subscription tier of a profile.
type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierAgency Tier = "agency"
)

// Socials holds optional outbound links for a profile or directory entry.
type Socials struct {
	Spotify    string `json:"spotify,omitempty"`
	AppleMusic string `json:"appleMusic,omitempty"`
	Instagram  string `json:"instagram,omitempty"`
	Website    string `json:"website,omitempty"`
}

// Profile is a registered user.
type Profile struct {
	ID        string  `json:"uid"`
	Email     string  `json:"email"`
	Name      string  `json:"displayName"`
	Role      Role    `json:"role"`
	Socials   Socials `json:"socials"`
	Tier      Tier    `json:"subscriptionTier"`
	Credits   int     `json:"credits"`
	AvatarURL string  `json:"avatarUrl,omitempty"`
}

// ProfilePatch carries the editable profile fields. Nil fields are left unchanged.
type ProfilePatch struct {
	Name      *string  `json:"displayName,omitempty"`
	Socials   *Socials `json:"socials,omitempty"`
	AvatarURL *string  `json:"avatarUrl,omitempty"`
	Tier      *Tier    `json:"subscriptionTier,omitempty"`
	Credits   *int     `json:"credits,omitempty"`
}

// Apply copies the set fields of p onto profile.
func (p ProfilePatch) Apply(profile *Profile) {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Socials != nil {
		profile.Socials = *p.Socials
	}
	if p.AvatarURL != nil {
		profile.AvatarURL = *p.AvatarURL
	}
	if p.Tier != nil {
		profile.Tier = *p.Tier
	}
	if p.Credits != nil {
		profile.Credits = *p.Credits
	}
}

// Validate checks the patch before it is sent anywhere.
func (p ProfilePatch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return Validationf("display name is required")
	}
	if p.Credits != nil && *p.Credits < 0 {
		return Validationf("credits cannot be negative")
	}
	if p.Tier != nil {
		switch *p.Tier {
		case TierFree, TierPro, TierAgency:
		default:
			return Validationf("unknown subscription tier %q", *p.Tier)
		}
	}
	return nil
}

// Brief is a sync-licensing opportunity. Deadline is a display label such as
// "Urgent" or "5 Days Left", not a machine date.
type Brief struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ClientName  string   `json:"clientName"`
	Budget      string   `json:"budget"`
	Genre       string   `json:"genre"`
	Deadline    string   `json:"deadline"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Track is an artist-owned audio asset. UserID and AudioURL never change after
// creation.
type Track struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Title       string   `json:"title"`
	ArtistName  string   `json:"artist"`
	Genre       string   `json:"genre"`
	BPM         *int     `json:"bpm,omitempty"`
	Tags        []string `json:"tags"`
	UploadDate  string   `json:"uploadDate"`
	Duration    string   `json:"duration"`
	Description string   `json:"description,omitempty"`
	AudioURL    string   `json:"audioUrl"`
}

// TrackPatch carries the editable track metadata. Nil fields are left
// unchanged; ClearBPM unsets the tempo.
type TrackPatch struct {
	Title       *string  `json:"title,omitempty"`
	Genre       *string  `json:"genre,omitempty"`
	BPM         *int     `json:"bpm,omitempty"`
	ClearBPM    bool     `json:"clearBpm,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// Validate checks the patch before it is sent anywhere.
func (p TrackPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Validationf("title is required")
	}
	if p.BPM != nil && *p.BPM <= 0 {
		return Validationf("bpm must be a positive integer")
	}
	if p.BPM != nil && p.ClearBPM {
		return Validationf("bpm cannot be both set and cleared")
	}
	return nil
}

// Apply copies the set fields of p onto track.
func (p TrackPatch) Apply(track *Track) {
	if p.Title != nil {
		track.Title = strings.TrimSpace(*p.Title)
	}
	if p.Genre != nil {
		track.Genre = *p.Genre
	}
	switch {
	case p.ClearBPM:
		track.BPM = nil
	case p.BPM != nil:
		bpm := *p.BPM
		track.BPM = &bpm
	}
	if p.Tags != nil {
		track.Tags = append([]string(nil), p.Tags...)
	}
	if p.Description != nil {
		track.Description = *p.Description
	}
}

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending     Status = "pending"
	StatusShortlisted Status = "shortlisted"
	StatusRejected    Status = "rejected"
	StatusAccepted    Status = "accepted"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusShortlisted || s == StatusRejected || s == StatusAccepted
}

// CanTransition reports whether an application may move from s to next.
// Only pending applications move, and never back to pending.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// Application is a pitch of one track against one brief.
type Application struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	BriefID       string `json:"briefId"`
	TrackID       string `json:"trackId"`
	Status        Status `json:"status"`
	SubmittedDate string `json:"submittedDate"`
}

// AgencyType classifies a directory entry.
type AgencyType string

const (
	AgencyTypeAgency     AgencyType = "Agency"
	AgencyTypeSupervisor AgencyType = "Supervisor"
	AgencyTypeLibrary    AgencyType = "Library"
)

// Agency is a read-only directory entry.
type Agency struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             AgencyType `json:"type"`
	Location         string     `json:"location"`
	ContactEmail     string     `json:"contactEmail"`
	Website          string     `json:"website"`
	Credits          []string   `json:"credits"`
	LogoURL          string     `json:"logoUrl"`
	Description      string     `json:"description"`
	SubmissionPolicy string     `json:"submissionPolicy"`
	Socials          Socials    `json:"socials"`
}

// UserMetadata is the free-form metadata attached to an auth user at sign-up.
type UserMetadata struct {
	Name string `json:"name,omitempty"`
	Role Role   `json:"role,omitempty"`
}

// AuthUser is the identity carried by a session.
type AuthUser struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	Metadata UserMetadata `json:"user_metadata"`
}

// Session is an authenticated session. Offline sessions have no tokens.
type Session struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         AuthUser  `json:"user"`
	Offline      bool      `json:"offline,omitempty"`
}

// Expired reports whether the access token is past its expiry.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// NewProfile builds the profile created alongside a new account.
func NewProfile(id, email, name string, role Role) Profile {
	return Profile{
		ID:    id,
		Email: email,
		Name:  name,
		Role:  role,
		Tier:  TierFree,
	}
}

// Today returns the current date in the ISO format used for upload and
// submission dates.
func Today() string {
	return time.Now().UTC().Format(time.DateOnly)
}

// File is a binary to be stored in object storage. Body must be seekable so
// that an upload can be replayed against an alternate bucket.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadSeeker

	// Progress, when set, is called with the cumulative number of bytes sent.
	Progress func(sent int64)
}
