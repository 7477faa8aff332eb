package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
)

var (
	// ErrNotArtistLink is returned for links that do not name a Spotify artist.
	ErrNotArtistLink = errors.New("not a Spotify artist link")

	// ErrArtistNotFound is returned when the artist ID does not exist.
	ErrArtistNotFound = errors.New("Spotify artist not found")
)

// Artist is the public summary of a Spotify artist.
type Artist struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Followers uint     `json:"followers"`
	Genres    []string `json:"genres"`
	URL       string   `json:"url"`
}

// ParseArtistLink extracts the artist ID from an open.spotify.com artist URL,
// with or without a locale segment or query string, or a spotify:artist: URI.
func ParseArtistLink(link string) (spotify.ID, error) {
	link = strings.TrimSpace(link)
	if rest, ok := strings.CutPrefix(link, "spotify:artist:"); ok {
		if validID(rest) {
			return spotify.ID(rest), nil
		}
		return "", fmt.Errorf("%w: %q", ErrNotArtistLink, link)
	}

	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil || u.Hostname() != "open.spotify.com" {
		return "", fmt.Errorf("%w: %q", ErrNotArtistLink, link)
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) > 0 && strings.HasPrefix(segs[0], "intl-") {
		segs = segs[1:]
	}
	if len(segs) != 2 || segs[0] != "artist" || !validID(segs[1]) {
		return "", fmt.Errorf("%w: %q", ErrNotArtistLink, link)
	}
	return spotify.ID(segs[1]), nil
}

// Spotify IDs are base62.
func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// LookupArtist resolves an artist link to the artist's name, follower count
// and genres.
func (c *Client) LookupArtist(ctx context.Context, link string) (*Artist, error) {
	id, err := ParseArtistLink(link)
	if err != nil {
		return nil, err
	}

	full, err := c.api.GetArtist(ctx, id)
	if err != nil {
		var apiErr spotify.Error
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", ErrArtistNotFound, id)
		}
		return nil, fmt.Errorf("getting artist %s: %w", id, err)
	}
	return convertArtist(full), nil
}

func convertArtist(full *spotify.FullArtist) *Artist {
	genres := full.Genres
	if genres == nil {
		genres = []string{}
	}
	return &Artist{
		ID:        full.ID.String(),
		Name:      full.Name,
		Followers: uint(full.Followers.Count),
		Genres:    genres,
		URL:       full.ExternalURLs["spotify"],
	}
}
