package feeds_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"castkeep/internal/feeds"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Testing Hour</title>
    <description>A show about testing.</description>
    <itunes:image href="https://example.com/cover.jpg"/>
    <item>
      <guid>guid-1</guid>
      <title>Episode One</title>
      <description>First.</description>
      <pubDate>Mon, 02 Jan 2023 15:04:05 +0000</pubDate>
      <enclosure url="https://example.com/ep1.mp3" length="1" type="audio/mpeg"/>
      <itunes:image href="https://example.com/ep1.jpg"/>
    </item>
    <item>
      <title>No Guid</title>
      <pubDate>not a date</pubDate>
      <enclosure url="https://example.com/ep2.mp3" length="1" type="audio/mpeg"/>
    </item>
    <item>
      <title>Links Only</title>
      <link>https://example.com/ep3</link>
    </item>
    <item>
      <title>Bare Item</title>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchURLParsesFeed(t *testing.T) {
	server := newFeedServer(t)

	channel, episodes, err := feeds.FetchURL(context.Background(), server.Client(), server.URL+"/feed.xml", "castkeep/test")
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}

	if channel.Title != "Testing Hour" {
		t.Errorf("channel title = %q", channel.Title)
	}
	if channel.ArtworkRef != "https://example.com/cover.jpg" {
		t.Errorf("channel artwork = %q", channel.ArtworkRef)
	}
	if len(episodes) != 4 {
		t.Fatalf("expected 4 episodes, got %d", len(episodes))
	}

	first := episodes[0]
	if first.ID != "guid-1" {
		t.Errorf("id = %q, want guid", first.ID)
	}
	if !first.HasPublish {
		t.Error("expected parsed publish date")
	}
	want := time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("published = %s, want %s", first.PublishedAt, want)
	}
	if first.ArtworkRef != "https://example.com/ep1.jpg" {
		t.Errorf("item artwork = %q, want item-level image", first.ArtworkRef)
	}
	if first.AudioRef != "https://example.com/ep1.mp3" {
		t.Errorf("audio = %q", first.AudioRef)
	}
}

func TestFetchURLIDFallbackChain(t *testing.T) {
	server := newFeedServer(t)

	_, episodes, err := feeds.FetchURL(context.Background(), server.Client(), server.URL+"/feed.xml", "")
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}

	// Missing guid falls back to the enclosure URL, then the link, then a
	// channel:title token.
	if episodes[1].ID != "https://example.com/ep2.mp3" {
		t.Errorf("enclosure fallback id = %q", episodes[1].ID)
	}
	if episodes[2].ID != "https://example.com/ep3" {
		t.Errorf("link fallback id = %q", episodes[2].ID)
	}
	if episodes[3].ID != "Testing Hour:Bare Item" {
		t.Errorf("title fallback id = %q", episodes[3].ID)
	}
	if episodes[1].HasPublish {
		t.Error("unparseable pubDate should leave the episode dateless")
	}
	// Items without their own image inherit the channel artwork.
	if episodes[1].ArtworkRef != "https://example.com/cover.jpg" {
		t.Errorf("inherited artwork = %q", episodes[1].ArtworkRef)
	}
}

type staticResolver map[string]string

func (r staticResolver) FeedURL(_ context.Context, podcastID string) (string, error) {
	url, ok := r[podcastID]
	if !ok {
		return "", errors.New("unknown podcast")
	}
	return url, nil
}

func TestRSSFetcherStampsPodcastID(t *testing.T) {
	server := newFeedServer(t)
	fetcher := feeds.NewRSS(server.Client(), staticResolver{"pod-1": server.URL + "/feed.xml"}, "castkeep/test")

	episodes, err := fetcher.Fetch(context.Background(), "pod-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(episodes) != 4 {
		t.Fatalf("expected 4 episodes, got %d", len(episodes))
	}
	for _, episode := range episodes {
		if episode.PodcastID != "pod-1" {
			t.Fatalf("episode %q has podcast id %q", episode.ID, episode.PodcastID)
		}
	}
}

func TestRSSFetcherWrapsHTTPFailure(t *testing.T) {
	server := newFeedServer(t)
	fetcher := feeds.NewRSS(server.Client(), staticResolver{"pod-1": server.URL + "/missing.xml"}, "")

	_, err := fetcher.Fetch(context.Background(), "pod-1")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	var fetchErr *feeds.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %T", err)
	}
	if fetchErr.PodcastID != "pod-1" {
		t.Errorf("error podcast id = %q", fetchErr.PodcastID)
	}
	if fetchErr.Reason == "" {
		t.Error("expected a reason on fetch failure")
	}
}
