package dashboard

import (
	"slices"

	"github.com/justestif/syncmaster/internal/matching"
	"github.com/justestif/syncmaster/internal/models"
)

// hasAllTags reports whether have contains every tag in want, ignoring case
// and diacritics.
func hasAllTags(have []string, want []string) bool {
	for _, w := range want {
		fw := matching.Fold(w)
		if !slices.ContainsFunc(have, func(h string) bool { return matching.Fold(h) == fw }) {
			return false
		}
	}
	return true
}

func anyContains(needle string, fields ...string) bool {
	for _, f := range fields {
		if matching.Contains(f, needle) {
			return true
		}
	}
	return false
}

func filterBriefs(briefs []models.Brief, search string, tags []string) []models.Brief {
	out := make([]models.Brief, 0, len(briefs))
	for _, b := range briefs {
		if !hasAllTags(b.Tags, tags) {
			continue
		}
		fields := append([]string{b.Title, b.ClientName, b.Genre, b.Description}, b.Tags...)
		if search != "" && !anyContains(search, fields...) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func filterTracks(tracks []models.Track, search string, tags []string) []models.Track {
	out := make([]models.Track, 0, len(tracks))
	for _, t := range tracks {
		if !hasAllTags(append([]string{t.Genre}, t.Tags...), tags) {
			continue
		}
		fields := append([]string{t.Title, t.ArtistName, t.Genre, t.Description}, t.Tags...)
		if search != "" && !anyContains(search, fields...) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func filterDirectory(entries []models.Agency, search string, kind models.AgencyType) []models.Agency {
	out := make([]models.Agency, 0, len(entries))
	for _, e := range entries {
		if kind != "" && e.Type != kind {
			continue
		}
		fields := append([]string{e.Name, e.Location, e.Description}, e.Credits...)
		if search != "" && !anyContains(search, fields...) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// toggle removes tag from tags if present, ignoring case, or appends it.
func toggle(tags []string, tag string) []string {
	f := matching.Fold(tag)
	if f == "" {
		return tags
	}
	if i := slices.IndexFunc(tags, func(t string) bool { return matching.Fold(t) == f }); i >= 0 {
		return slices.Delete(slices.Clone(tags), i, i+1)
	}
	return append(slices.Clone(tags), tag)
}

// distinctTags returns tags deduplicated by folded form, keeping the first
// spelling, sorted by folded form.
func distinctTags(all []string) []string {
	seen := make(map[string]string)
	for _, t := range models.NormalizeTags(all) {
		f := matching.Fold(t)
		if _, ok := seen[f]; !ok {
			seen[f] = t
		}
	}
	keys := make([]string, 0, len(seen))
	for f := range seen {
		keys = append(keys, f)
	}
	slices.Sort(keys)
	out := make([]string, len(keys))
	for i, f := range keys {
		out[i] = seen[f]
	}
	return out
}

// upsert replaces the element of items with the same key as item, or appends
// it. items is not modified.
func upsert[T any](items []T, item T, key func(T) string) []T {
	out := slices.Clone(items)
	if i := slices.IndexFunc(out, func(x T) bool { return key(x) == key(item) }); i >= 0 {
		out[i] = item
		return out
	}
	return append(out, item)
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for k, v := range errs {
		out[k] = v.Error()
	}
	return out
}
