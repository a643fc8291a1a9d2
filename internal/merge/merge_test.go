package merge_test

import (
	"testing"
	"time"

	"castkeep/internal/domain"
	"castkeep/internal/merge"
)

func date(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func dated(id, title, day string) domain.EpisodeRecord {
	return domain.EpisodeRecord{
		ID:          id,
		PodcastID:   "pod-1",
		Title:       title,
		PublishedAt: date(day),
		HasPublish:  true,
	}
}

func dateless(id, title string) domain.EpisodeRecord {
	return domain.EpisodeRecord{ID: id, PodcastID: "pod-1", Title: title}
}

func noState(string) (domain.PlaybackState, bool) {
	return domain.PlaybackState{}, false
}

func TestMergeDedupByID(t *testing.T) {
	raw := []domain.EpisodeRecord{
		dated("ep-1", "First Title", "2024-01-01"),
		dated("ep-1", "Second Title", "2024-02-01"),
	}

	result := merge.Episodes(raw, noState)
	if len(result) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result))
	}
	if result[0].Title != "First Title" {
		t.Errorf("first occurrence should win, got title %q", result[0].Title)
	}
}

func TestMergeDedupByTitleKeepsNewer(t *testing.T) {
	raw := []domain.EpisodeRecord{
		dated("ep-old", "Same Title", "2024-01-01"),
		dated("ep-new", "Same Title", "2024-02-01"),
	}

	result := merge.Episodes(raw, noState)
	if len(result) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result))
	}
	if result[0].ID != "ep-new" {
		t.Errorf("newer record should win, got %s", result[0].ID)
	}

	// Same outcome regardless of insertion order.
	reversed := merge.Episodes([]domain.EpisodeRecord{raw[1], raw[0]}, noState)
	if len(reversed) != 1 || reversed[0].ID != "ep-new" {
		t.Errorf("reversed order changed the winner: %+v", reversed)
	}
}

func TestMergeDatelessTieBreak(t *testing.T) {
	withDate := dated("ep-dated", "Shared", "2024-03-01")
	without := dateless("ep-dateless", "Shared")

	for _, raw := range [][]domain.EpisodeRecord{
		{withDate, without},
		{without, withDate},
	} {
		result := merge.Episodes(raw, noState)
		if len(result) != 1 {
			t.Fatalf("expected 1 record, got %d", len(result))
		}
		if result[0].ID != "ep-dated" {
			t.Errorf("dated record should survive, got %s", result[0].ID)
		}
	}
}

func TestMergeDatelessCollisionKeepsFirstSeen(t *testing.T) {
	raw := []domain.EpisodeRecord{
		dateless("ep-a", "Shared"),
		dateless("ep-b", "Shared"),
	}

	result := merge.Episodes(raw, noState)
	if len(result) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result))
	}
	if result[0].ID != "ep-a" {
		t.Errorf("first seen should survive, got %s", result[0].ID)
	}
}

func TestMergeDropsRecordsWithoutPodcastID(t *testing.T) {
	raw := []domain.EpisodeRecord{
		{ID: "ep-orphan", Title: "Orphan"},
		dated("ep-ok", "Kept", "2024-01-05"),
	}

	result := merge.Episodes(raw, noState)
	if len(result) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result))
	}
	if result[0].ID != "ep-ok" {
		t.Errorf("expected ep-ok, got %s", result[0].ID)
	}
}

func TestMergePlaybackOverlayIsAdditive(t *testing.T) {
	raw := []domain.EpisodeRecord{
		dated("ep-x", "Played Elsewhere", "2024-01-01"),
		dated("ep-y", "Untouched", "2024-01-02"),
	}
	lookup := func(id string) (domain.PlaybackState, bool) {
		if id == "ep-x" {
			return domain.PlaybackState{Played: true, ResumePosition: 90 * time.Second}, true
		}
		return domain.PlaybackState{}, false
	}

	result := merge.Episodes(raw, lookup)
	if len(result) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result))
	}

	byID := make(map[string]domain.EpisodeRecord)
	for _, rec := range result {
		byID[rec.ID] = rec
	}
	if !byID["ep-x"].Played {
		t.Error("stored played=true must survive the merge")
	}
	if byID["ep-x"].ResumePosition != 90*time.Second {
		t.Errorf("resume position = %v, want 90s", byID["ep-x"].ResumePosition)
	}
	if byID["ep-y"].Played {
		t.Error("record without stored state should default to unplayed")
	}
	if byID["ep-y"].ResumePosition != 0 {
		t.Errorf("resume position without state = %v, want 0", byID["ep-y"].ResumePosition)
	}
}

func TestMergeSortOrder(t *testing.T) {
	raw := []domain.EpisodeRecord{
		dateless("ep-z", "zeta"),
		dated("ep-jan", "January", "2024-01-10"),
		dateless("ep-a", "Alpha"),
		dated("ep-mar", "March", "2024-03-10"),
	}

	result := merge.Episodes(raw, noState)
	want := []string{"ep-mar", "ep-jan", "ep-a", "ep-z"}
	if len(result) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(result))
	}
	for i, id := range want {
		if result[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, result[i].ID, id)
		}
	}
}

func TestMergeEmptyFetchYieldsEmptyList(t *testing.T) {
	result := merge.Episodes(nil, noState)
	if len(result) != 0 {
		t.Fatalf("expected empty result, got %d records", len(result))
	}
}

func TestMergeEndToEndScenario(t *testing.T) {
	raw := []domain.EpisodeRecord{
		dated("1", "Ep1", "2024-01-01"),
		dated("2", "Ep1", "2024-02-01"),
		dateless("3", "Ep2"),
	}
	lookup := func(id string) (domain.PlaybackState, bool) {
		if id == "2" {
			return domain.PlaybackState{Played: true}, true
		}
		return domain.PlaybackState{}, false
	}

	result := merge.Episodes(raw, lookup)
	if len(result) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result))
	}
	if result[0].ID != "2" || !result[0].Played {
		t.Errorf("first record = %s played=%v, want id 2 played", result[0].ID, result[0].Played)
	}
	if result[1].ID != "3" || result[1].Played {
		t.Errorf("second record = %s played=%v, want id 3 unplayed", result[1].ID, result[1].Played)
	}
}
