package domain

import "time"

// CacheState describes the lifecycle of a per-podcast cache entry.
type CacheState string

const (
	CacheStateEmpty   CacheState = "EMPTY"
	CacheStateLoading CacheState = "LOADING"
	CacheStateFresh   CacheState = "FRESH"
	CacheStateStale   CacheState = "STALE"
	CacheStateFailed  CacheState = "FAILED"
)

// EpisodeRecord is the canonical episode representation. Played and
// ResumePosition are owned by the playback store and only overlaid onto
// fetched records; the fetch pipeline never writes them back.
type EpisodeRecord struct {
	ID             string
	PodcastID      string
	Title          string
	Description    string
	PublishedAt    time.Time
	HasPublish     bool
	Played         bool
	ResumePosition time.Duration
	AudioRef       string
	ArtworkRef     string
}

// PlaybackState is the locally persisted per-episode progress.
type PlaybackState struct {
	Played         bool
	ResumePosition time.Duration
}

// CacheStatus is the displayable state of a podcast's cache entry.
type CacheStatus struct {
	State       CacheState
	LastUpdated time.Time
	Reason      string
}

type Podcast struct {
	ID           string
	Title        string
	FeedURL      string
	ArtworkRef   string
	SubscribedAt time.Time
}

// QueueSnapshot is the persisted queue layout: ordered episode ids plus the
// cursor index, -1 when nothing is playing.
type QueueSnapshot struct {
	EpisodeIDs []string
	Cursor     int
}

type PodcastExport struct {
	Title   string
	FeedURL string
}
