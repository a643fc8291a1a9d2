package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client interacts with the iTunes lookup API to resolve podcast metadata.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client using the provided HTTP client. The baseURL can be
// overridden for testing; if empty the public API endpoint is used.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://itunes.apple.com"
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// Podcast represents a podcast returned by the iTunes API.
type Podcast struct {
	ID      string
	Title   string
	Author  string
	FeedURL string
	Artwork string
}

// LookupPodcast retrieves metadata for a single podcast by its collection ID.
func (c *Client) LookupPodcast(ctx context.Context, id string) (Podcast, error) {
	endpoint, err := url.Parse(c.baseURL + "/lookup")
	if err != nil {
		return Podcast{}, err
	}
	q := endpoint.Query()
	q.Set("id", id)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Podcast{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Podcast{}, fmt.Errorf("itunes lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Podcast{}, fmt.Errorf("itunes lookup failed: %s", resp.Status)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Podcast{}, fmt.Errorf("decode lookup response: %w", err)
	}
	if len(payload.Results) == 0 {
		return Podcast{}, fmt.Errorf("podcast not found")
	}

	item := payload.Results[0]
	return Podcast{
		ID:      strconv.FormatInt(item.CollectionID, 10),
		Title:   item.CollectionName,
		Author:  item.ArtistName,
		FeedURL: item.FeedURL,
		Artwork: item.ArtworkURL100,
	}, nil
}

type lookupResponse struct {
	Results []podcastResult `json:"results"`
}

type podcastResult struct {
	CollectionID   int64  `json:"collectionId"`
	CollectionName string `json:"collectionName"`
	ArtistName     string `json:"artistName"`
	FeedURL        string `json:"feedUrl"`
	ArtworkURL100  string `json:"artworkUrl100"`
}
