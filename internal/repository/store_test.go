package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"castkeep/internal/domain"
	"castkeep/internal/repository"
	"castkeep/internal/storage"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repository.New(db)
}

func TestSavePodcastUpsertsAndLists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.SavePodcast(ctx, domain.Podcast{
		ID:      "pod-1",
		Title:   "Zebra Talk",
		FeedURL: "https://example.com/zebra.xml",
	})
	if err != nil {
		t.Fatalf("SavePodcast: %v", err)
	}
	err = store.SavePodcast(ctx, domain.Podcast{
		ID:      "pod-2",
		Title:   "Aardvark Hour",
		FeedURL: "https://example.com/aardvark.xml",
	})
	if err != nil {
		t.Fatalf("SavePodcast: %v", err)
	}

	// Re-saving the same id updates title and feed URL in place.
	err = store.SavePodcast(ctx, domain.Podcast{
		ID:      "pod-1",
		Title:   "Zebra Talk Weekly",
		FeedURL: "https://example.com/zebra-v2.xml",
	})
	if err != nil {
		t.Fatalf("SavePodcast upsert: %v", err)
	}

	podcasts, err := store.ListPodcasts(ctx)
	if err != nil {
		t.Fatalf("ListPodcasts: %v", err)
	}
	if len(podcasts) != 2 {
		t.Fatalf("expected 2 podcasts, got %d", len(podcasts))
	}
	if podcasts[0].Title != "Aardvark Hour" || podcasts[1].Title != "Zebra Talk Weekly" {
		t.Errorf("unexpected order or titles: %q, %q", podcasts[0].Title, podcasts[1].Title)
	}

	feedURL, err := store.FeedURL(ctx, "pod-1")
	if err != nil {
		t.Fatalf("FeedURL: %v", err)
	}
	if feedURL != "https://example.com/zebra-v2.xml" {
		t.Errorf("feed URL = %q, want updated URL", feedURL)
	}
}

func TestFeedURLForUnknownPodcast(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.FeedURL(ctx, "missing")
	if !errors.Is(err, repository.ErrUnknownPodcast) {
		t.Fatalf("expected ErrUnknownPodcast, got %v", err)
	}
}

func TestDeletePodcast(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SavePodcast(ctx, domain.Podcast{ID: "pod-1", Title: "Show", FeedURL: "https://example.com/feed.xml"}); err != nil {
		t.Fatalf("SavePodcast: %v", err)
	}

	deleted, err := store.DeletePodcast(ctx, "pod-1")
	if err != nil {
		t.Fatalf("DeletePodcast: %v", err)
	}
	if !deleted {
		t.Error("expected deletion to report true")
	}

	deleted, err = store.DeletePodcast(ctx, "pod-1")
	if err != nil {
		t.Fatalf("DeletePodcast second call: %v", err)
	}
	if deleted {
		t.Error("second deletion should report false")
	}

	exists, _, err := store.PodcastExists(ctx, "pod-1")
	if err != nil {
		t.Fatalf("PodcastExists: %v", err)
	}
	if exists {
		t.Error("podcast should be gone")
	}
}

func TestPlaybackStateIsAdditive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, found, err := store.GetPlayback(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetPlayback: %v", err)
	}
	if found {
		t.Fatal("no playback state should exist yet")
	}

	if err := store.MarkPlayed(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPlayed: %v", err)
	}
	if err := store.SetResumePosition(ctx, "ep-1", 95*time.Second); err != nil {
		t.Fatalf("SetResumePosition: %v", err)
	}

	state, found, err := store.GetPlayback(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetPlayback: %v", err)
	}
	if !found {
		t.Fatal("playback state should exist")
	}
	if !state.Played {
		t.Error("setting a resume position must not clear the played flag")
	}
	if state.ResumePosition != 95*time.Second {
		t.Errorf("resume position = %s, want 95s", state.ResumePosition)
	}

	// Marking played again leaves the resume position alone.
	if err := store.MarkPlayed(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPlayed again: %v", err)
	}
	state, _, err = store.GetPlayback(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetPlayback: %v", err)
	}
	if state.ResumePosition != 95*time.Second {
		t.Errorf("resume position after re-mark = %s, want 95s", state.ResumePosition)
	}
}

func TestSetResumePositionClampsNegative(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetResumePosition(ctx, "ep-1", -5*time.Second); err != nil {
		t.Fatalf("SetResumePosition: %v", err)
	}
	state, _, err := store.GetPlayback(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetPlayback: %v", err)
	}
	if state.ResumePosition != 0 {
		t.Errorf("resume position = %s, want 0", state.ResumePosition)
	}
}

func TestQueueSnapshotRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	loaded, err := store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(loaded.EpisodeIDs) != 0 || loaded.Cursor != -1 {
		t.Fatalf("empty database should yield empty snapshot with cursor -1, got %+v", loaded)
	}

	saved := domain.QueueSnapshot{
		EpisodeIDs: []string{"ep-3", "ep-1", "ep-2"},
		Cursor:     1,
	}
	if err := store.SaveQueue(ctx, saved); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	loaded, err = store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(loaded.EpisodeIDs) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(loaded.EpisodeIDs))
	}
	for i, id := range saved.EpisodeIDs {
		if loaded.EpisodeIDs[i] != id {
			t.Errorf("position %d = %q, want %q", i, loaded.EpisodeIDs[i], id)
		}
	}
	if loaded.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", loaded.Cursor)
	}

	// Saving again replaces the previous queue wholesale.
	if err := store.SaveQueue(ctx, domain.QueueSnapshot{EpisodeIDs: []string{"ep-9"}, Cursor: -1}); err != nil {
		t.Fatalf("SaveQueue replace: %v", err)
	}
	loaded, err = store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(loaded.EpisodeIDs) != 1 || loaded.EpisodeIDs[0] != "ep-9" || loaded.Cursor != -1 {
		t.Fatalf("replacement snapshot mismatch: %+v", loaded)
	}
}

func TestListPodcastExports(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, podcast := range []domain.Podcast{
		{ID: "pod-1", Title: "Beta Cast", FeedURL: "https://example.com/beta.xml"},
		{ID: "pod-2", Title: "alpha cast", FeedURL: "https://example.com/alpha.xml"},
	} {
		if err := store.SavePodcast(ctx, podcast); err != nil {
			t.Fatalf("SavePodcast: %v", err)
		}
	}

	exports, err := store.ListPodcastExports(ctx)
	if err != nil {
		t.Fatalf("ListPodcastExports: %v", err)
	}
	if len(exports) != 2 {
		t.Fatalf("expected 2 exports, got %d", len(exports))
	}
	if exports[0].Title != "alpha cast" {
		t.Errorf("exports should sort case-insensitively, got %q first", exports[0].Title)
	}

	has, err := store.HasPodcastByFeedURL(ctx, "https://example.com/beta.xml")
	if err != nil {
		t.Fatalf("HasPodcastByFeedURL: %v", err)
	}
	if !has {
		t.Error("expected feed URL to be known")
	}
}
