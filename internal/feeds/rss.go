package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"castkeep/internal/domain"
)

// FeedURLResolver maps a podcast id to its feed URL, typically backed by the
// subscription store.
type FeedURLResolver interface {
	FeedURL(ctx context.Context, podcastID string) (string, error)
}

// RSS fetches episode records by downloading and parsing a podcast's RSS feed.
type RSS struct {
	client    *http.Client
	resolver  FeedURLResolver
	userAgent string
}

func NewRSS(client *http.Client, resolver FeedURLResolver, userAgent string) *RSS {
	if client == nil {
		client = http.DefaultClient
	}
	return &RSS{client: client, resolver: resolver, userAgent: userAgent}
}

func (f *RSS) Fetch(ctx context.Context, podcastID string) ([]domain.EpisodeRecord, error) {
	feedURL, err := f.resolver.FeedURL(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	_, episodes, err := FetchURL(ctx, f.client, feedURL, f.userAgent)
	if err != nil {
		return nil, &FetchError{PodcastID: podcastID, Reason: err.Error(), Err: err}
	}
	for i := range episodes {
		episodes[i].PodcastID = podcastID
	}
	return episodes, nil
}

// Channel describes feed-level metadata.
type Channel struct {
	Title       string
	Description string
	ArtworkRef  string
}

// FetchURL retrieves and parses an RSS feed. Episode ids fall back from guid
// to enclosure URL to link to a title-derived token, matching common feed
// practice where guids are absent.
func FetchURL(ctx context.Context, client *http.Client, url, userAgent string) (Channel, []domain.EpisodeRecord, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Channel{}, nil, err
	}
	if strings.TrimSpace(userAgent) != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Channel{}, nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Channel{}, nil, fmt.Errorf("fetch feed failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Channel{}, nil, fmt.Errorf("read feed: %w", err)
	}

	var rss rssDocument
	if err := xml.Unmarshal(data, &rss); err != nil {
		return Channel{}, nil, fmt.Errorf("parse feed: %w", err)
	}

	channelArt := strings.TrimSpace(rss.Channel.Image.Href)
	episodes := make([]domain.EpisodeRecord, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		guid := strings.TrimSpace(item.GUID.Value)
		if guid == "" {
			guid = strings.TrimSpace(item.Enclosure.URL)
		}
		if guid == "" {
			guid = strings.TrimSpace(item.Link)
		}
		if guid == "" {
			guid = fmt.Sprintf("%s:%s", rss.Channel.Title, item.Title)
		}

		artwork := strings.TrimSpace(item.Image.Href)
		if artwork == "" {
			artwork = channelArt
		}

		var published time.Time
		var hasPublish bool
		if t, err := parseTime(item.PubDate); err == nil {
			published = t
			hasPublish = true
		}

		episodes = append(episodes, domain.EpisodeRecord{
			ID:          guid,
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			PublishedAt: published,
			HasPublish:  hasPublish,
			AudioRef:    strings.TrimSpace(item.Enclosure.URL),
			ArtworkRef:  artwork,
		})
	}

	return Channel{
		Title:       strings.TrimSpace(rss.Channel.Title),
		Description: strings.TrimSpace(rss.Channel.Description),
		ArtworkRef:  channelArt,
	}, episodes, nil
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %s", value)
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string   `xml:"title"`
	Description string   `xml:"description"`
	Image       rssImage `xml:"image"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	GUID        rssGUID      `xml:"guid"`
	Title       string       `xml:"title"`
	Description string       `xml:"description"`
	Link        string       `xml:"link"`
	PubDate     string       `xml:"pubDate"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	Image       rssImage     `xml:"image"`
}

type rssGUID struct {
	Value string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type rssImage struct {
	Href string `xml:"href,attr"`
}
