package merge

import (
	"sort"
	"strings"

	"castkeep/internal/domain"
)

// Lookup resolves locally stored playback state for an episode id. The second
// return reports whether any state is stored.
type Lookup func(episodeID string) (domain.PlaybackState, bool)

// Episodes collapses a raw fetch result into the canonical episode list for a
// podcast: records without a podcast id are dropped, duplicate ids keep the
// first occurrence, title collisions are resolved in favour of the more
// recently published record, and playback state is overlaid per id. The result
// is sorted newest first with dateless episodes at the end ordered by title.
//
// The function is pure: the same raw list and lookup always yield the same
// output, and the input slice is not modified.
func Episodes(raw []domain.EpisodeRecord, lookup Lookup) []domain.EpisodeRecord {
	canonical := make([]domain.EpisodeRecord, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	byTitle := make(map[string]int, len(raw))

	for _, rec := range raw {
		if strings.TrimSpace(rec.PodcastID) == "" || strings.TrimSpace(rec.ID) == "" {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}

		key := rec.PodcastID + "\x00" + rec.Title
		if at, collides := byTitle[key]; collides {
			if newerRecord(rec, canonical[at]) {
				canonical[at] = rec
			}
			continue
		}
		byTitle[key] = len(canonical)
		canonical = append(canonical, rec)
	}

	if lookup != nil {
		for i := range canonical {
			state, ok := lookup(canonical[i].ID)
			if !ok {
				continue
			}
			// Additive overlay: stored progress never regresses.
			if state.Played {
				canonical[i].Played = true
			}
			if state.ResumePosition > 0 {
				canonical[i].ResumePosition = state.ResumePosition
			}
		}
	}

	sort.SliceStable(canonical, func(i, j int) bool {
		a, b := canonical[i], canonical[j]
		if a.HasPublish != b.HasPublish {
			return a.HasPublish
		}
		if !a.HasPublish {
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
		return a.PublishedAt.After(b.PublishedAt)
	})

	return canonical
}

// newerRecord reports whether challenger should replace incumbent when both
// share a (podcast, title) key. A dated record always beats a dateless one;
// between two dated records the later publication wins. Two dateless records
// keep the first seen.
func newerRecord(challenger, incumbent domain.EpisodeRecord) bool {
	if challenger.HasPublish != incumbent.HasPublish {
		return challenger.HasPublish
	}
	if !challenger.HasPublish {
		return false
	}
	return challenger.PublishedAt.After(incumbent.PublishedAt)
}
