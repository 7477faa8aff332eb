// Package matching scores tracks against briefs by tag and genre overlap and
// groups a library into tag clusters.
package matching

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/justestif/syncmaster/internal/models"
)

// Fold lowercases s, strips diacritics and collapses whitespace, so that
// "Épico  Dark" and "epico dark" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Contains reports whether haystack contains needle, ignoring case and
// diacritics.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

func terms(genre string, tags []string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	add := func(s string) {
		if f := Fold(s); f != "" {
			if _, ok := out[f]; !ok {
				out[f] = strings.TrimSpace(s)
			}
		}
	}
	add(genre)
	for _, t := range tags {
		add(t)
	}
	return out
}

// Match is a track scored against a brief.
type Match struct {
	Track  models.Track `json:"track"`
	Score  float64      `json:"score"`
	Shared []string     `json:"shared"`
}

// Score returns the share of the brief's genre and tags that the track also
// carries, in [0, 1], and the shared terms as the brief spells them. Order and
// case do not matter.
func Score(track models.Track, brief models.Brief) (float64, []string) {
	want := terms(brief.Genre, brief.Tags)
	if len(want) == 0 {
		return 0, nil
	}
	have := terms(track.Genre, track.Tags)

	var shared []string
	for key, label := range want {
		if _, ok := have[key]; ok {
			shared = append(shared, label)
		}
	}
	slices.Sort(shared)
	return float64(len(shared)) / float64(len(want)), shared
}

// Rank scores every track in library against brief, best first. Tracks that
// share nothing with the brief are left out.
func Rank(library []models.Track, brief models.Brief) []Match {
	var matches []Match
	for _, t := range library {
		score, shared := Score(t, brief)
		if score == 0 {
			continue
		}
		matches = append(matches, Match{Track: t, Score: score, Shared: shared})
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(Fold(a.Track.Title), Fold(b.Track.Title))
	})
	return matches
}
