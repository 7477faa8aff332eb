package matching

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/syncmaster/internal/models"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Épico  Dark", "epico dark"},
		{"  Beyoncé ", "beyonce"},
		{"HIP-HOP", "hip-hop"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), tt.in)
	}
	assert.True(t, Contains("Café Tacvba - Live", "cafe tac"))
	assert.False(t, Contains("Nightcall", "daycall"))
}

func TestScore(t *testing.T) {
	brief := models.Brief{Genre: "Electronic", Tags: []string{"Dark", "Pulsing", "Trailer"}}

	tests := []struct {
		name       string
		track      models.Track
		wantScore  float64
		wantShared []string
	}{
		{
			name:       "full overlap in another order and case",
			track:      models.Track{Genre: "electronic", Tags: []string{"trailer", "PULSING", "dark"}},
			wantScore:  1,
			wantShared: []string{"Dark", "Electronic", "Pulsing", "Trailer"},
		},
		{
			name:       "partial",
			track:      models.Track{Genre: "Rock", Tags: []string{"Dark"}},
			wantScore:  0.25,
			wantShared: []string{"Dark"},
		},
		{
			name:      "none",
			track:     models.Track{Genre: "Folk", Tags: []string{"Warm"}},
			wantScore: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, shared := Score(tt.track, brief)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantShared, shared)
		})
	}

	score, _ := Score(models.Track{Tags: []string{"Dark"}}, models.Brief{})
	assert.Zero(t, score)
}

func TestRank(t *testing.T) {
	brief := models.Brief{Genre: "Hip Hop", Tags: []string{"Gritty", "Urban"}}
	library := []models.Track{
		{ID: "1", Title: "Beta", Genre: "Hip Hop"},
		{ID: "2", Title: "Gamma", Genre: "Jazz"},
		{ID: "3", Title: "Alpha", Genre: "Hip Hop", Tags: []string{"urban", "gritty"}},
		{ID: "4", Title: "alpha two", Tags: []string{"Gritty"}},
	}

	got := Rank(library, brief)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Track.ID)
	assert.Equal(t, "4", got[1].Track.ID, "ties sort by title")
	assert.Equal(t, "1", got[2].Track.ID)
}

func TestScoreIsOrderInsensitive(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("shuffling tags does not change the score", prop.ForAll(
		func(tags []string, shift int) bool {
			brief := models.Brief{Tags: tags}
			rotated := make([]string, len(tags))
			for i := range tags {
				rotated[i] = tags[(i+shift)%len(tags)]
			}
			a, _ := Score(models.Track{Tags: tags}, brief)
			b, _ := Score(models.Track{Tags: rotated}, brief)
			return a == b && (a == 1 || len(terms("", tags)) == 0)
		},
		gen.SliceOfN(5, gen.AlphaString()),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func libraryOf(prefix string, n int, genre string, tags ...string) []models.Track {
	out := make([]models.Track, n)
	for i := range out {
		out[i] = models.Track{
			ID:    fmt.Sprintf("%s%d", prefix, i),
			Title: fmt.Sprintf("%s %d", prefix, i),
			Genre: genre,
			Tags:  tags,
		}
	}
	return out
}

func TestGroupLibrary(t *testing.T) {
	var library []models.Track
	library = append(library, libraryOf("synth", 4, "Synthwave", "Retro", "Night")...)
	library = append(library, libraryOf("folk", 4, "Folk", "Acoustic", "Warm")...)
	library = append(library, models.Track{ID: "bare", Title: "No tags"})

	groups, ungrouped := GroupLibrary(library, GroupConfig{NumGroups: 2, MinGroupSize: 2})

	seen := map[string]int{}
	for _, g := range groups {
		assert.GreaterOrEqual(t, len(g.Tracks), 2)
		assert.NotEmpty(t, g.TopTags)
		assert.Contains(t, g.Name, "tracks)")
		for _, tr := range g.Tracks {
			seen[tr.ID]++
		}
	}
	for _, tr := range ungrouped {
		seen[tr.ID]++
	}
	assert.Len(t, seen, len(library), "every track is placed")
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Contains(t, ungrouped, models.Track{ID: "bare", Title: "No tags"})
}

func TestGroupLibrary_TooFewTracks(t *testing.T) {
	library := libraryOf("x", 2, "Pop")
	groups, ungrouped := GroupLibrary(library, GroupConfig{NumGroups: 3})
	assert.Nil(t, groups)
	assert.Len(t, ungrouped, 2)

	groups, ungrouped = GroupLibrary(nil, DefaultGroupConfig())
	assert.Nil(t, groups)
	assert.Nil(t, ungrouped)
}
