package matching

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/justestif/syncmaster/internal/models"
)

// GroupConfig holds tag clustering parameters.
type GroupConfig struct {
	NumGroups    int // Number of clusters to create (default: 3)
	MinGroupSize int // Smaller clusters become ungrouped
	MaxTags      int // Vocabulary size (default: 50)
}

// DefaultGroupConfig returns the recommended default configuration.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		NumGroups:    3,
		MinGroupSize: 2,
		MaxTags:      50,
	}
}

// Group is a set of library tracks with similar tags.
type Group struct {
	Name    string         `json:"name"`
	TopTags []string       `json:"topTags"`
	Tracks  []models.Track `json:"tracks"`
}

type trackObservation struct {
	track  *models.Track
	coords clusters.Coordinates
}

func (o trackObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o trackObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

// GroupLibrary clusters tracks by tag and genre similarity with k-means. It
// returns the groups, largest first, and the tracks that fit none of them.
// Tracks without tags or genre are always ungrouped.
func GroupLibrary(tracks []models.Track, cfg GroupConfig) ([]Group, []models.Track) {
	if len(tracks) == 0 {
		return nil, nil
	}
	def := DefaultGroupConfig()
	if cfg.NumGroups <= 0 {
		cfg.NumGroups = def.NumGroups
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = def.MaxTags
	}

	var tagged []*models.Track
	var ungrouped []models.Track
	for i := range tracks {
		t := &tracks[i]
		if len(terms(t.Genre, t.Tags)) > 0 {
			tagged = append(tagged, t)
		} else {
			ungrouped = append(ungrouped, *t)
		}
	}

	if len(tagged) < cfg.NumGroups {
		for _, t := range tagged {
			ungrouped = append(ungrouped, *t)
		}
		return nil, ungrouped
	}

	vocabulary := buildVocabulary(tagged, cfg.MaxTags)
	var obs clusters.Observations
	for _, t := range tagged {
		obs = append(obs, trackObservation{track: t, coords: buildVector(t, vocabulary)})
	}

	result, err := kmeans.New().Partition(obs, cfg.NumGroups)
	if err != nil {
		for _, t := range tagged {
			ungrouped = append(ungrouped, *t)
		}
		return nil, ungrouped
	}

	var groups []Group
	for _, c := range result {
		var members []models.Track
		for _, o := range c.Observations {
			if to, ok := o.(trackObservation); ok {
				members = append(members, *to.track)
			}
		}
		if len(members) == 0 {
			continue
		}
		if len(members) < cfg.MinGroupSize {
			ungrouped = append(ungrouped, members...)
			continue
		}

		slices.SortFunc(members, func(a, b models.Track) int {
			return cmp.Compare(Fold(a.Title), Fold(b.Title))
		})
		top := topTags(c.Center, vocabulary, 3)
		groups = append(groups, Group{
			Name:    groupName(top, len(members)),
			TopTags: top,
			Tracks:  members,
		})
	}

	slices.SortStableFunc(groups, func(a, b Group) int {
		if c := cmp.Compare(len(b.Tracks), len(a.Tracks)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return groups, ungrouped
}

// buildVocabulary returns the maxTags most frequent folded terms.
func buildVocabulary(tracks []*models.Track, maxTags int) []string {
	counts := make(map[string]int)
	for _, t := range tracks {
		for term := range terms(t.Genre, t.Tags) {
			counts[term]++
		}
	}

	vocab := make([]string, 0, len(counts))
	for term := range counts {
		vocab = append(vocab, term)
	}
	slices.SortFunc(vocab, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return vocab[:min(maxTags, len(vocab))]
}

// buildVector marks each vocabulary term the track carries with 1.
func buildVector(t *models.Track, vocabulary []string) clusters.Coordinates {
	have := terms(t.Genre, t.Tags)
	v := make(clusters.Coordinates, len(vocabulary))
	for i, term := range vocabulary {
		if _, ok := have[term]; ok {
			v[i] = 1
		}
	}
	return v
}

// topTags returns the n heaviest terms of a centroid.
func topTags(center clusters.Coordinates, vocabulary []string, n int) []string {
	idx := make([]int, 0, len(vocabulary))
	for i := range vocabulary {
		if i < len(center) && center[i] > 0 {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(center[b], center[a])
	})

	out := make([]string, 0, n)
	for _, i := range idx[:min(n, len(idx))] {
		out = append(out, vocabulary[i])
	}
	return out
}

func groupName(top []string, size int) string {
	label := "Mixed"
	if len(top) > 0 {
		label = strings.Join(top, " & ")
	}
	return fmt.Sprintf("%s (%d tracks)", label, size)
}
